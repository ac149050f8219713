package web

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/logging"
	"github.com/hpungsan/beacon/internal/metrics"
	"github.com/hpungsan/beacon/internal/ops"
)

// Deps holds what the HTTP API needs.
type Deps struct {
	Env      *ops.Env
	Sessions ops.SessionSource
	Logger   *zap.Logger
}

// newHandlers builds handlers with a no-op logger and wall clock by default.
func newHandlers(deps Deps) *Handlers {
	now := time.Now
	if deps.Env != nil && deps.Env.Now != nil {
		now = deps.Env.Now
	}
	return &Handlers{
		env:      deps.Env,
		sessions: deps.Sessions,
		logger:   logging.OrNop(deps.Logger),
		now:      now,
		closing:  make(chan struct{}),
	}
}

// closeStreams tells open websocket streams to close. Hijacked connections
// are not closed by http.Server.Shutdown.
func (h *Handlers) closeStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// routes registers the API on a new mux.
func (h *Handlers) routes() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, fn))
	}

	// Routes using Go 1.22+ pattern syntax
	handle("GET /healthz", h.HandleHealth)
	handle("GET /users/{id}/context", h.HandleGetContext)
	handle("PATCH /users/{id}/context", h.HandleUpdateContext)
	handle("GET /users/{id}/history", h.HandleListHistory)
	handle("DELETE /users/{id}/history", h.HandlePurgeHistory)
	handle("GET /users/{id}/hooks", h.HandleListHooks)
	handle("POST /users/{id}/hooks", h.HandleCreateHook)
	handle("GET /hooks/{id}", h.HandleGetHook)
	handle("PATCH /hooks/{id}", h.HandleUpdateHook)
	handle("DELETE /hooks/{id}", h.HandleDeleteHook)
	handle("POST /hooks/{id}/test", h.HandleTestHook)

	// Not instrumented: the upgrade needs the raw ResponseWriter.
	mux.HandleFunc("GET /users/{id}/ws", h.HandleStream)
	mux.Handle("GET /metrics", promhttp.Handler())

	return securityHeaders(mux)
}

// NewServer creates and configures the HTTP server for the Beacon API.
func NewServer(deps Deps, bind string, port int) *http.Server {
	h := newHandlers(deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(h.closeStreams)
	return srv
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument counts requests per route pattern and status code.
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM
// or when ctx is cancelled.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	logger = logging.OrNop(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("Beacon API running", zap.String("addr", "http://"+srv.Addr))

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
