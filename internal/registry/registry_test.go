package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storywall/api-gateway/internal/httpx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func healthyBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"UP","service":"stub"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRegistry(t *testing.T, targets map[string]Target, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithHTTPClient(&http.Client{Timeout: 500 * time.Millisecond})}, opts...)
	return New(testLogger(), targets, opts...)
}

func TestInitialStatusUnknown(t *testing.T) {
	reg := newTestRegistry(t, map[string]Target{
		"user-service":     {BaseURL: "http://localhost:3000"},
		"timeline-service": {BaseURL: "http://localhost:3001"},
	})

	statuses := reg.ServicesStatus()
	if len(statuses) != 2 {
		t.Fatalf("got %d services, want 2", len(statuses))
	}
	for name, status := range statuses {
		if status != StatusUnknown {
			t.Errorf("%s = %s, want UNKNOWN before first check", name, status)
		}
	}
}

func TestCheckServiceHealthy(t *testing.T) {
	backend := healthyBackend(t)
	reg := newTestRegistry(t, map[string]Target{
		"user-service": {BaseURL: backend.URL},
	})

	if !reg.CheckService(context.Background(), "user-service") {
		t.Fatal("CheckService = false against healthy backend")
	}
	if got := reg.ServicesStatus()["user-service"]; got != StatusUp {
		t.Errorf("status = %s, want UP", got)
	}

	cfg := reg.ServicesConfig()["user-service"]
	if cfg.LastChecked.IsZero() {
		t.Error("LastChecked not updated by check")
	}
}

func TestCheckServiceUnhealthy(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "200 with wrong status field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"DEGRADED"}`))
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
		},
		{
			name: "slower than the probe timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(2 * time.Second)
				w.Write([]byte(`{"status":"UP"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := httptest.NewServer(tt.handler)
			defer backend.Close()

			reg := newTestRegistry(t, map[string]Target{
				"user-service": {BaseURL: backend.URL},
			})

			if reg.CheckService(context.Background(), "user-service") {
				t.Fatal("CheckService = true, want false")
			}
			if got := reg.ServicesStatus()["user-service"]; got != StatusDown {
				t.Errorf("status = %s, want DOWN", got)
			}
		})
	}
}

func TestCheckServiceConnectionRefused(t *testing.T) {
	// Grab a port that nothing is listening on.
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	reg := newTestRegistry(t, map[string]Target{
		"user-service": {BaseURL: url},
	})

	if reg.CheckService(context.Background(), "user-service") {
		t.Fatal("CheckService = true against closed backend")
	}
	if got := reg.ServicesStatus()["user-service"]; got != StatusDown {
		t.Errorf("status = %s, want DOWN", got)
	}
}

func TestCheckServiceUnknownName(t *testing.T) {
	reg := newTestRegistry(t, map[string]Target{})
	if reg.CheckService(context.Background(), "ghost-service") {
		t.Error("CheckService for unknown service should return false")
	}
}

func TestCheckServicePropagatesRequestID(t *testing.T) {
	var got string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{"status":"UP"}`))
	}))
	defer backend.Close()

	reg := newTestRegistry(t, map[string]Target{
		"user-service": {BaseURL: backend.URL},
	})

	ctx := httpx.WithRequestID(context.Background(), "corr-123")
	reg.CheckService(ctx, "user-service")
	if got != "corr-123" {
		t.Errorf("upstream X-Request-ID = %q, want corr-123", got)
	}
}

func TestMarkDown(t *testing.T) {
	backend := healthyBackend(t)
	reg := newTestRegistry(t, map[string]Target{
		"user-service": {BaseURL: backend.URL},
	})

	reg.CheckService(context.Background(), "user-service")
	if got := reg.ServicesStatus()["user-service"]; got != StatusUp {
		t.Fatalf("precondition: status = %s, want UP", got)
	}

	reg.MarkDown("user-service")
	if got := reg.ServicesStatus()["user-service"]; got != StatusDown {
		t.Errorf("status after MarkDown = %s, want DOWN", got)
	}

	// Unknown names must not panic.
	reg.MarkDown("ghost-service")
}

func TestCheckAllFailureIsolation(t *testing.T) {
	healthy := healthyBackend(t)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	reg := newTestRegistry(t, map[string]Target{
		"user-service":     {BaseURL: healthy.URL},
		"timeline-service": {BaseURL: failing.URL},
	})

	reg.CheckAll(context.Background())

	statuses := reg.ServicesStatus()
	if statuses["user-service"] != StatusUp {
		t.Errorf("user-service = %s, want UP", statuses["user-service"])
	}
	if statuses["timeline-service"] != StatusDown {
		t.Errorf("timeline-service = %s, want DOWN", statuses["timeline-service"])
	}
}

func TestMonitoringLifecycle(t *testing.T) {
	backend := healthyBackend(t)
	reg := newTestRegistry(t,
		map[string]Target{"user-service": {BaseURL: backend.URL}},
		WithCheckInterval(10*time.Millisecond),
	)

	// Stop before start is a no-op.
	reg.StopMonitoring()

	reg.StartMonitoring()
	// Idempotent: a second start must not spawn a second monitor.
	reg.StartMonitoring()

	deadline := time.After(2 * time.Second)
	for reg.ServicesStatus()["user-service"] != StatusUp {
		select {
		case <-deadline:
			t.Fatal("monitor never recorded UP status")
		case <-time.After(5 * time.Millisecond):
		}
	}

	reg.StopMonitoring()
	reg.StopMonitoring()

	// After stop, a manual downgrade must not be overwritten by a stray tick.
	reg.MarkDown("user-service")
	time.Sleep(50 * time.Millisecond)
	if got := reg.ServicesStatus()["user-service"]; got != StatusDown {
		t.Errorf("status = %s after StopMonitoring, want DOWN to stick", got)
	}
}
