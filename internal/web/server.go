package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"zigbee-go-converters/internal/automation"
	"zigbee-go-converters/internal/coordinator"
	"zigbee-go-converters/internal/schedule"
	"zigbee-go-converters/internal/store"
)

// Converter is the coordinator surface the HTTP API drives.
type Converter interface {
	Events() *coordinator.EventBus
	Devices() *coordinator.DeviceManager
	Store() store.Store

	SendIRCode(ctx context.Context, name, code string) (uint16, error)
	LearnIRCode(ctx context.Context, name string) error
	PendingTransfer(name string) (*store.Session, bool)
	LearnedCodes() ([]*store.LearnedCode, error)
	ReadSchedule(ctx context.Context, name string) (schedule.Schedule, error)
	WriteSchedule(ctx context.Context, name string, s schedule.Schedule) error
	ReadScheduleEnabled(ctx context.Context, name string) (bool, error)
	SetScheduleEnabled(ctx context.Context, name string, enabled bool) error
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the version string reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP API and event stream.
type Server struct {
	conv           Converter
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server and starts its WebSocket hub.
func NewServer(conv Converter, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		conv:   conv,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = conv.Events().OnAll(s.wsHub.Broadcast)

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("GET /api/devices/{name}", s.handleAPIGetDevice)
	s.mux.HandleFunc("GET /api/devices/{name}/schedule", s.handleAPIGetSchedule)
	s.mux.HandleFunc("PUT /api/devices/{name}/schedule", s.handleAPIPutSchedule)
	s.mux.HandleFunc("PUT /api/devices/{name}/schedule/enabled", s.handleAPISetScheduleEnabled)
	s.mux.HandleFunc("POST /api/devices/{name}/ir/send", s.handleAPISendIR)
	s.mux.HandleFunc("POST /api/devices/{name}/ir/learn", s.handleAPILearnIR)
	s.mux.HandleFunc("GET /api/codes", s.handleAPIListCodes)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Mutating requests from a browser must come from an allowed origin.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket upgrade cannot carry custom headers, so only /api/ is keyed.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
