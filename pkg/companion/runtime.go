// Package companion is the companion side of the link: it answers the app's
// heartbeats by stamping the account record, persists preference changes,
// and announces itself with the ready handshake.
package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wndlink/wndlink/pkg/domain"
	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/recordapi"
	"github.com/wndlink/wndlink/pkg/wndmsg"
)

// Options names the account record the companion writes to.
type Options struct {
	AccountTarget    string
	AccountID        string
	HeartbeatField   string
	PreferencesField string
}

// ReadyPayload identifies a companion instance in its ready request.
type ReadyPayload struct {
	Instance string `json:"instance"`
	Route    string `json:"route,omitempty"`
}

// LogsCleanedPayload tells the app which shipped batch the store processed.
type LogsCleanedPayload struct {
	LogID string `json:"logId"`
}

// ServerErrorPayload forwards a failed record API call to the app.
type ServerErrorPayload struct {
	Status  int    `json:"status"`
	Details string `json:"details"`
}

// Runtime handles requests on the companion's queue.
type Runtime struct {
	opts     Options
	queue    *wndmsg.Service
	writer   recordapi.Writer
	clock    domain.Clock
	instance string
	route    string
}

// NewRuntime registers the companion handlers on queue.
func NewRuntime(queue *wndmsg.Service, writer recordapi.Writer, opts Options, clock domain.Clock, route string) *Runtime {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	r := &Runtime{
		opts:     opts,
		queue:    queue,
		writer:   writer,
		clock:    clock,
		instance: domain.NewID().String(),
		route:    route,
	}
	queue.RegisterHandler(message.TypeHeartbeat, r.handleHeartbeat)
	queue.RegisterHandler(message.TypePrefsChanged, r.handlePrefsChanged)
	queue.RegisterHandler(message.TypeFiltersSync, r.handleFiltersSync)
	return r
}

// Instance returns this companion's id.
func (r *Runtime) Instance() string { return r.instance }

// Start runs the queue and sends the ready request, which the queue retries
// until the app acknowledges it.
func (r *Runtime) Start(ctx context.Context) error {
	r.queue.Start(ctx)
	_, err := r.queue.Request(ctx, message.TypeReady, message.EndpointApp, ReadyPayload{
		Instance: r.instance,
		Route:    r.route,
	})
	if err != nil {
		return fmt.Errorf("send ready: %w", err)
	}
	logger.InfoCF("companion", "Companion started", map[string]interface{}{"instance": r.instance})
	return nil
}

// Stop halts the queue.
func (r *Runtime) Stop() {
	r.queue.Stop()
}

// NotifyLogsCleaned tells the app the store processed a shipped batch.
func (r *Runtime) NotifyLogsCleaned(ctx context.Context, logID string) (int64, error) {
	return r.queue.Request(ctx, message.TypeLogsCleaned, message.EndpointApp, LogsCleanedPayload{LogID: logID})
}

func (r *Runtime) handleHeartbeat(ctx context.Context, env message.Envelope) error {
	if r.opts.AccountID == "" {
		return nil
	}
	stamp := r.clock.Now().UTC().Format(time.RFC3339)
	fields := map[string]interface{}{r.opts.HeartbeatField: stamp}
	if _, err := r.writer.Write(ctx, r.opts.AccountTarget, r.opts.AccountID, fields, ""); err != nil {
		r.forwardServerError(ctx, err)
		return fmt.Errorf("write heartbeat: %w", err)
	}
	logger.DebugCF("companion", "Heartbeat recorded", map[string]interface{}{"id": env.ID, "at": stamp})
	return nil
}

func (r *Runtime) handlePrefsChanged(ctx context.Context, env message.Envelope) error {
	if env.Payload == nil {
		return message.ErrEmptyPayload
	}
	if r.opts.AccountID == "" {
		return nil
	}
	blob, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	fields := map[string]interface{}{r.opts.PreferencesField: string(blob)}
	if _, err := r.writer.Write(ctx, r.opts.AccountTarget, r.opts.AccountID, fields, ""); err != nil {
		r.forwardServerError(ctx, err)
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

func (r *Runtime) handleFiltersSync(_ context.Context, env message.Envelope) error {
	logger.DebugCF("companion", "Filters synchronized", map[string]interface{}{"id": env.ID})
	return nil
}

// forwardServerError reports record API rejections to the app, which logs
// them under SVR.
func (r *Runtime) forwardServerError(ctx context.Context, err error) {
	var status int
	var apiErr *recordapi.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	r.queue.Request(ctx, message.TypeServerError, message.EndpointApp, ServerErrorPayload{
		Status:  status,
		Details: err.Error(),
	})
}
