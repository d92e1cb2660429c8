package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/gamestate"
	"github.com/cuemby/gamefeed/pkg/log"
	"github.com/cuemby/gamefeed/pkg/metrics"
	"github.com/cuemby/gamefeed/pkg/recorder"
	"github.com/cuemby/gamefeed/pkg/storage"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// BusStats reports event bus counters
type BusStats interface {
	Stats() events.Stats
}

// StoreStats reports event store counters
type StoreStats interface {
	Stats() storage.Stats
}

// RecorderStatus reports the recorder state
type RecorderStatus interface {
	Status() recorder.Status
}

// PhaseStatus reports the game phase machine state
type PhaseStatus interface {
	Status() gamestate.Status
}

// Sources are the components reported on /status. Nil sources are omitted.
type Sources struct {
	Bus      BusStats
	Store    StoreStats
	Recorder RecorderStatus
	Phases   PhaseStatus
}

// StatusResponse is the /status body
type StatusResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Bus       *events.Stats     `json:"bus,omitempty"`
	Store     *storage.Stats    `json:"store,omitempty"`
	Recorder  *recorder.Status  `json:"recorder,omitempty"`
	Game      *gamestate.Status `json:"game,omitempty"`
}

// HealthServer provides the HTTP health, readiness, status and metrics endpoints
type HealthServer struct {
	sources Sources
	mux     *http.ServeMux
	logger  zerolog.Logger
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(sources Sources) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		sources: sources,
		mux:     mux,
		logger:  log.WithComponent("api"),
	}

	mux.HandleFunc("/health", getOnly(metrics.HealthHandler()))
	mux.HandleFunc("/ready", getOnly(metrics.ReadyHandler()))
	mux.HandleFunc("/status", getOnly(hs.statusHandler))
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Serve listens on addr until ctx is done, then shuts the server down
func (hs *HealthServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hs.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done
func (hs *HealthServer) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	hs.logger.Info().Str("addr", ln.Addr().String()).Msg("health server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// statusHandler implements the /status endpoint
func (hs *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{Timestamp: time.Now()}

	if hs.sources.Bus != nil {
		stats := hs.sources.Bus.Stats()
		response.Bus = &stats
	}
	if hs.sources.Store != nil {
		stats := hs.sources.Store.Stats()
		response.Store = &stats
	}
	if hs.sources.Recorder != nil {
		status := hs.sources.Recorder.Status()
		response.Recorder = &status
	}
	if hs.sources.Phases != nil {
		status := hs.sources.Phases.Status()
		response.Game = &status
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
