package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/dispatch"
	"github.com/MeKo-Tech/qrbridge/internal/results"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	det         *detector.Detector
	pool        *dispatch.Dispatcher
	logger      *slog.Logger
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	rateLimiter *RateLimiter
}

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int

	// Per-client request limits. Zero disables a limit.
	RequestsPerMinute int
	RequestsPerHour   int

	// Pool is reported by /health. It should be the detector's dispatcher.
	Pool   *dispatch.Dispatcher
	Logger *slog.Logger
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string          `json:"status"`
	Version    string          `json:"version,omitempty"`
	Time       string          `json:"time"`
	Dispatcher *dispatch.Stats `json:"dispatcher,omitempty"`
}

// DetectResponse is returned by the detect endpoints.
type DetectResponse struct {
	Success   bool            `json:"success"`
	RequestID string          `json:"request_id,omitempty"`
	Result    *results.Report `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewServer creates a server that detects through det. The server does not
// own det; the caller closes it after the HTTP server has shut down.
func NewServer(cfg Config, det *detector.Detector) (*Server, error) {
	if det == nil {
		return nil, errors.New("server requires a detector")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}

	s := &Server{
		det:         det,
		pool:        cfg.Pool,
		logger:      logger,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
	}
	if cfg.RequestsPerMinute > 0 || cfg.RequestsPerHour > 0 {
		s.rateLimiter = NewRateLimiter(cfg.RequestsPerMinute, cfg.RequestsPerHour)
	}
	return s, nil
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.metricsMiddleware, s.corsMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/detect", s.rateLimitMiddleware(s.detectHandler)).
		Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/detect/pixels", s.rateLimitMiddleware(s.detectPixelsHandler)).
		Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/ws", s.websocketHandler).Methods(http.MethodGet)

	return r
}
