package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iptv-kiosk/work/catalog"
	"iptv-kiosk/work/engine"
	"iptv-kiosk/work/history"
	"iptv-kiosk/work/logger"
	"iptv-kiosk/work/middleware"
)

// recentAttemptCount bounds how much history the status endpoint returns.
const recentAttemptCount = 25

// Server exposes a small read-only status surface for the kiosk: what the
// engine is doing, what was recently attempted, and Prometheus metrics. It
// is observability plumbing only; nothing here drives the player.
type Server struct {
	engine  *engine.Engine
	catalog *catalog.Catalog
	store   *history.Store
	http    *http.Server
}

// statusResponse is the /status payload.
type statusResponse struct {
	Engine         engine.Snapshot   `json:"engine"`
	CatalogStreams int               `json:"catalog_streams"`
	RecentAttempts []history.Attempt `json:"recent_attempts,omitempty"`
}

// New builds the status server. store may be nil.
func New(addr string, eng *engine.Engine, cat *catalog.Catalog, store *history.Store) *Server {
	s := &Server{
		engine:  eng,
		catalog: cat,
		store:   store,
	}

	router := mux.NewRouter()
	router.HandleFunc("/status", middleware.GzipMiddleware(s.handleStatus)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
// Listen failures are logged, not fatal: the kiosk keeps playing without its
// status endpoint.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	logger.Info("{monitor - Start} status server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("{monitor - Start} status server failed: %v", err)
	}
}

// handleStatus writes the engine snapshot plus recent attempt history.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Engine:         s.engine.Snapshot(),
		CatalogStreams: s.catalog.Len(),
	}

	attempts, err := s.store.RecentAttempts(recentAttemptCount)
	if err != nil {
		logger.Warn("{monitor - handleStatus} could not read history: %v", err)
	} else {
		resp.RecentAttempts = attempts
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn("{monitor - handleStatus} encode failed: %v", err)
	}
}
