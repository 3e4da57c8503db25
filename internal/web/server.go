// Package web serves the JSON API and the event WebSocket.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"znp-host/internal/automation"
	"znp-host/internal/coordinator"
	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

const maxBodyBytes = 1 << 20

// Requester sends MT commands. *znp.Driver implements it.
type Requester interface {
	Request(ctx context.Context, sub unpi.Subsystem, name string, params znp.Params, opts ...znp.RequestOption) (*znp.Message, error)
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey requires the X-API-Key header on /api/ endpoints.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

// WithAllowedOrigins sets the allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithAutomation enables the script endpoints.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.engine = engine
		s.scripts = mgr
	}
}

// WithVersion sets the version reported by /api/info.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithRequester overrides the coordinator's driver for raw MT requests.
func WithRequester(r Requester) ServerOption {
	return func(s *Server) { s.req = r }
}

// WithCommands sets the command registry listed by /api/commands.
func WithCommands(reg *znp.Registry) ServerOption {
	return func(s *Server) { s.commands = reg }
}

// Server is the HTTP API server.
type Server struct {
	coord          *coordinator.Coordinator
	req            Requester
	commands       *znp.Registry
	metrics        http.Handler
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scripts        *automation.Manager
	engine         *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the server and starts broadcasting coordinator events
// to WebSocket clients.
func NewServer(coord *coordinator.Coordinator, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coord:  coord,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}
	if drv := coord.Driver(); drv != nil {
		s.req = drv
		s.commands = drv.Registry()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.commands == nil {
		s.commands = znp.DefaultRegistry()
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()
	s.unsubEvents = coord.Events().OnAll(s.wsHub.Broadcast)

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for it.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/info", s.handleInfo)
	s.mux.HandleFunc("GET /api/commands", s.handleCommands)
	s.mux.HandleFunc("POST /api/request/{subsys}/{cmd}", s.handleRequest)
	s.mux.HandleFunc("POST /api/permit-join", s.handlePermitJoin)

	s.mux.HandleFunc("GET /api/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /api/devices/{ieee}", s.handleGetDevice)
	s.mux.HandleFunc("DELETE /api/devices/{ieee}", s.handleDeleteDevice)
	s.mux.HandleFunc("POST /api/devices/{ieee}/read", s.handleReadAttributes)
	s.mux.HandleFunc("POST /api/devices/{ieee}/command", s.handleSendCommand)

	s.mux.HandleFunc("GET /api/scripts", s.handleListScripts)
	s.mux.HandleFunc("POST /api/scripts", s.handleCreateScript)
	s.mux.HandleFunc("POST /api/scripts/run", s.handleRunCode)
	s.mux.HandleFunc("GET /api/scripts/{id}", s.handleGetScript)
	s.mux.HandleFunc("PUT /api/scripts/{id}", s.handleUpdateScript)
	s.mux.HandleFunc("DELETE /api/scripts/{id}", s.handleDeleteScript)
	s.mux.HandleFunc("POST /api/scripts/{id}/run", s.handleRunScript)

	s.mux.HandleFunc("GET /ws", s.handleWS)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// ServeHTTP applies CORS and API key checks before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedOrigins) > 0 {
		if origin := r.Header.Get("Origin"); origin != "" {
			if r.Method == http.MethodOptions {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
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

	// Browsers cannot set headers on a WebSocket upgrade, so only /api/ is
	// key protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
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

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
