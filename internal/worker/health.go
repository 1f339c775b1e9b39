package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthServer provides an HTTP health check endpoint for a worker.
// The server runs in a background goroutine and can be gracefully shut down.
type HealthServer struct {
	pinger   grid.Pinger
	status   func() Status
	addr     string
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// HealthResponse represents the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status string  `json:"status"`
	Worker *Status `json:"worker,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// NewHealthServer creates a new health check HTTP server listening on port.
// The server listens on all interfaces, as required inside a container.
func NewHealthServer(port int, pinger grid.Pinger, status func() Status, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{
		pinger: pinger,
		status: status,
		addr:   fmt.Sprintf(":%d", port),
		logger: logger,
	}
}

// Handler returns the mux serving /healthz and /metrics.
func (hs *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", hs.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server in a background goroutine.
// Returns once the listener is bound.
func (hs *HealthServer) Start() error {
	ln, err := net.Listen("tcp", hs.addr)
	if err != nil {
		return fmt.Errorf("failed to bind health server on %s: %w", hs.addr, err)
	}
	hs.listener = ln
	hs.server = &http.Server{
		Handler:      hs.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := hs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Error("Health server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (hs *HealthServer) Addr() string {
	if hs.listener == nil {
		return hs.addr
	}
	return hs.listener.Addr().String()
}

// Shutdown gracefully stops the HTTP server.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// handleHealthz returns 200 when the grid answers a ping and 503 otherwise.
func (hs *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy"}
	if hs.status != nil {
		s := hs.status()
		resp.Worker = &s
	}

	code := http.StatusOK
	if hs.pinger != nil {
		if err := hs.pinger.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = fmt.Sprintf("grid ping failed: %v", err)
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
