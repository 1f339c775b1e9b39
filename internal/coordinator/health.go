package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/genegrid/internal/population"
	"github.com/dyluth/genegrid/pkg/grid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultHealthAddr is where the health server listens unless configured.
const DefaultHealthAddr = ":8080"

// HealthServer provides HTTP health check and metrics endpoints.
type HealthServer struct {
	pinger   grid.Pinger
	status   func() population.Generation
	addr     string
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// NewHealthServer creates a new health check server. pinger and status may be nil.
func NewHealthServer(addr string, pinger grid.Pinger, status func() population.Generation, logger *slog.Logger) *HealthServer {
	if addr == "" {
		addr = DefaultHealthAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{
		pinger: pinger,
		status: status,
		addr:   addr,
		logger: logger,
	}
}

// Handler returns the mux serving /healthz and /metrics.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the listener and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.listener = ln

	h.server = &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Health server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (h *HealthServer) Addr() string {
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// Shutdown gracefully shuts down the health check server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if the grid is reachable, 503 Service Unavailable otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Grid: "connected"}
	if h.status != nil {
		gen := h.status()
		response.Generation = &gen.Number
		response.State = string(gen.State)
	}

	code := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Grid = "disconnected"
			response.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status     string `json:"status"`
	Grid       string `json:"grid,omitempty"`
	Generation *int   `json:"generation,omitempty"`
	State      string `json:"state,omitempty"`
	Error      string `json:"error,omitempty"`
}
