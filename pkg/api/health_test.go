package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/gamefeed/pkg/events"
	"github.com/cuemby/gamefeed/pkg/gamestate"
	"github.com/cuemby/gamefeed/pkg/metrics"
	"github.com/cuemby/gamefeed/pkg/recorder"
	"github.com/cuemby/gamefeed/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct{ stats events.Stats }

func (f fakeBus) Stats() events.Stats { return f.stats }

type fakeStore struct{ stats storage.Stats }

func (f fakeStore) Stats() storage.Stats { return f.stats }

type fakeRecorder struct{ status recorder.Status }

func (f fakeRecorder) Status() recorder.Status { return f.status }

type fakePhases struct{ status gamestate.Status }

func (f fakePhases) Status() gamestate.Status { return f.status }

// registerCritical marks the critical components healthy for one test
func registerCritical(t *testing.T) {
	t.Helper()
	for _, name := range metrics.CriticalComponents {
		metrics.UpdateComponent(name, true, "")
	}
	t.Cleanup(func() {
		for _, name := range metrics.CriticalComponents {
			metrics.RemoveComponent(name)
		}
	})
}

func TestRoutes(t *testing.T) {
	hs := NewHealthServer(Sources{})

	tests := []struct {
		path           string
		method         string
		expectedStatus int
	}{
		{path: "/health", method: http.MethodGet, expectedStatus: http.StatusOK},
		{path: "/ready", method: http.MethodGet, expectedStatus: http.StatusServiceUnavailable},
		{path: "/status", method: http.MethodGet, expectedStatus: http.StatusOK},
		{path: "/metrics", method: http.MethodGet, expectedStatus: http.StatusOK},
		{path: "/nonexistent", method: http.MethodGet, expectedStatus: http.StatusNotFound},
		{path: "/health", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{path: "/ready", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
		{path: "/status", method: http.MethodDelete, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			hs.GetHandler().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestReadyWhenCriticalComponentsHealthy(t *testing.T) {
	registerCritical(t)
	hs := NewHealthServer(Sources{})

	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "ready", response.Components[metrics.ComponentEventStore])
}

func TestHealthReportsUnhealthyComponent(t *testing.T) {
	metrics.UpdateComponent(metrics.ComponentIntegrity, false, "TICK_GAP")
	t.Cleanup(func() { metrics.RemoveComponent(metrics.ComponentIntegrity) })
	hs := NewHealthServer(Sources{})

	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "unhealthy: TICK_GAP", response.Components[metrics.ComponentIntegrity])
}

func TestStatusHandler(t *testing.T) {
	hs := NewHealthServer(Sources{
		Bus:      fakeBus{events.Stats{SubscriberCount: 3, EventsPublished: 42}},
		Store:    fakeStore{storage.Stats{SessionID: "s1", Buffered: 7, NextSeq: 8}},
		Recorder: fakeRecorder{recorder.Status{State: recorder.StateRecording, CurrentGameID: "g1"}},
		Phases:   fakePhases{gamestate.Status{Phase: gamestate.PhaseActiveGameplay, CurrentGameID: "g1", LastTickCount: 12}},
	})

	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.False(t, response.Timestamp.IsZero())

	require.NotNil(t, response.Bus)
	assert.Equal(t, 3, response.Bus.SubscriberCount)
	assert.Equal(t, uint64(42), response.Bus.EventsPublished)

	require.NotNil(t, response.Store)
	assert.Equal(t, 7, response.Store.Buffered)

	require.NotNil(t, response.Recorder)
	assert.Equal(t, recorder.StateRecording, response.Recorder.State)

	require.NotNil(t, response.Game)
	assert.Equal(t, gamestate.PhaseActiveGameplay, response.Game.Phase)
	assert.Equal(t, 12, response.Game.LastTickCount)
}

func TestStatusOmitsMissingSources(t *testing.T) {
	hs := NewHealthServer(Sources{Bus: fakeBus{}})

	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body, "bus")
	assert.NotContains(t, body, "store")
	assert.NotContains(t, body, "recorder")
	assert.NotContains(t, body, "game")
}

func TestServeListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hs := NewHealthServer(Sources{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hs.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("server did not shut down")
	}
}

func TestServeInvalidAddr(t *testing.T) {
	hs := NewHealthServer(Sources{})
	err := hs.Serve(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
}

func TestHealthServerConcurrency(t *testing.T) {
	hs := NewHealthServer(Sources{Bus: fakeBus{}})

	done := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		path := "/health"
		if i%2 == 1 {
			path = "/status"
		}
		go func() {
			w := httptest.NewRecorder()
			hs.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}

func BenchmarkStatusHandler(b *testing.B) {
	hs := NewHealthServer(Sources{Bus: fakeBus{}, Store: fakeStore{}})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		hs.GetHandler().ServeHTTP(w, req)
	}
}
