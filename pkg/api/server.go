// wndlink gateway: REST endpoints for logs and messages, the companion
// websocket, and a live event stream for dashboards.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/wndlink/wndlink/pkg/app"
	"github.com/wndlink/wndlink/pkg/logger"
)

// Server is the HTTP gateway of an app context.
type Server struct {
	app         *app.Container
	apiKey      string
	dashboard   *DashboardHub
	eventBridge *EventBridge
	server      *http.Server
	handler     http.Handler
}

// NewServer creates a gateway for c. When no API key is configured a random
// session key is generated and printed once.
func NewServer(c *app.Container) *Server {
	key := c.Config.Gateway.APIKey
	if key == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			key = hex.EncodeToString(raw)
			c.Config.Gateway.APIKey = key
			fmt.Println()
			fmt.Println("WNDLINK API KEY (session token)")
			fmt.Printf("  %s\n", key)
			fmt.Println("Set gateway.api_key or WNDLINK_GATEWAY_API_KEY to make it permanent.")
			fmt.Println()
		}
	}

	s := &Server{app: c, apiKey: key}
	s.dashboard = NewDashboardHub(s)
	s.eventBridge = NewEventBridge(c, s.dashboard)
	s.handler = corsMiddleware(authMiddleware(key, s.routes()))
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/system/info", s.handleSystemInfo)

	mux.HandleFunc("GET /api/logs", s.handleListLogs)
	mux.HandleFunc("POST /api/logs", s.handleAddLog)
	mux.HandleFunc("DELETE /api/logs/{logId}", s.handleRemoveLog)

	mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/messages/pending", s.handlePending)

	mux.HandleFunc("GET /api/ws", s.dashboard.HandleWebSocket)
	if s.app.Hub != nil {
		mux.HandleFunc("GET /ws/companion", s.app.Hub.HandleWebSocket)
	}
	return mux
}

// Handler returns the wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening on the configured host:port.
func (s *Server) Start(ctx context.Context) error {
	addr := s.app.Config.GatewayAddr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "Gateway starting", map[string]interface{}{
		"addr": addr,
		"mode": s.app.Config.Companion.Mode,
	})

	go s.dashboard.Run(ctx)
	s.eventBridge.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is a trusted localhost address.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Status())
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	hostname, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname":     hostname,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"goroutines":   runtime.NumGoroutine(),
		"memory_mb":    float64(m.Alloc) / 1024 / 1024,
		"uptime_human": formatDuration(s.app.Uptime()),
		"gateway_addr": s.app.Config.GatewayAddr(),
		"storage":      s.app.Config.Storage.Driver,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Queue.Pending())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
