package api

import (
	"encoding/json"
	"errors"
	"net/http"

	domainlog "github.com/wndlink/wndlink/pkg/domain/logbook"
	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/logger"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// decodeBody reads a JSON body of at most maxBodyBytes into v. On failure it
// writes the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid JSON payload")
	return false
}

// GET /api/logs: every stored container keyed by category code.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Logs.Containers())
}

// POST /api/logs: {"category": "CRT", "details": "..."}
//
// A duplicate of the previous entry, or any entry while logging is
// disabled, is accepted and dropped.
func (s *Server) handleAddLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		Details  string `json:"details"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.app.AddLog(req.Category, req.Details)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
	case errors.Is(err, domainlog.ErrDuplicate), errors.Is(err, domainlog.ErrDisabled):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "dropped", "reason": err.Error()})
	case errors.Is(err, domainlog.ErrUnknownCategory), errors.Is(err, domainlog.ErrEmptyDetails):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.ErrorCF("api", "Adding log failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// DELETE /api/logs/{logId}: the remote store confirms a processed batch.
func (s *Server) handleRemoveLog(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("logId")
	if !s.app.Logs.RemoveLogByID(logID) {
		writeError(w, http.StatusNotFound, "no container with that logId")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "logId": logID})
}

// POST /api/messages: {"type": "prefsChangedMsg", "payload": {...}}
// enqueues a request for the companion.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string      `json:"type"`
		Payload interface{} `json:"payload"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, message.ErrEmptyType.Error())
		return
	}

	id, err := s.app.SendToCompanion(r.Context(), message.Type(req.Type), req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.DebugCF("api", "Request queued for companion", map[string]interface{}{"type": req.Type, "id": id})
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id, "type": req.Type})
}
