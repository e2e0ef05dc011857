// Package registry tracks the live health state of every backend service
// the gateway fronts. It is written to by two independent paths: the
// periodic health monitor and the reverse proxy's error handler. Health
// state is advisory; it never gates traffic.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/storywall/api-gateway/internal/httpx"
)

// Status is the last-known health of a backend service.
type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "UNKNOWN"
)

// Service is one registry entry. Entries are created at startup and live
// for the process lifetime; only Status and LastChecked mutate.
type Service struct {
	Name        string    `json:"name"`
	BaseURL     string    `json:"url"`
	HealthPath  string    `json:"healthPath"`
	Status      Status    `json:"status"`
	LastChecked time.Time `json:"lastChecked"`
}

// Registry owns the in-memory health state of all backends and runs the
// recurring health monitor. Both writers (monitor and proxy error path)
// go through the same lock; last write wins, which is acceptable because
// the state is informational only.
type Registry struct {
	logger   *slog.Logger
	client   *http.Client
	interval time.Duration

	mu       sync.RWMutex
	services map[string]*Service

	monitorMu sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient replaces the health-check HTTP client. The client's
// timeout bounds each probe; the default is 5 seconds.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.client = c }
}

// WithCheckInterval sets the monitoring period (default 30s).
func WithCheckInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

// Target describes a backend to register: its base URL and the relative
// path the monitor probes for liveness.
type Target struct {
	BaseURL    string
	HealthPath string
}

// New builds a registry with every service in the UNKNOWN state.
func New(logger *slog.Logger, targets map[string]Target, opts ...Option) *Registry {
	r := &Registry{
		logger:   logger,
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: 30 * time.Second,
		services: make(map[string]*Service, len(targets)),
	}
	for name, t := range targets {
		healthPath := t.HealthPath
		if healthPath == "" {
			healthPath = "/health"
		}
		r.services[name] = &Service{
			Name:       name,
			BaseURL:    strings.TrimSuffix(t.BaseURL, "/"),
			HealthPath: healthPath,
			Status:     StatusUnknown,
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServicesStatus returns the last-known status of every registered
// service. It never triggers a new check.
func (r *Registry) ServicesStatus() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Status, len(r.services))
	for name, svc := range r.services {
		out[name] = svc.Status
	}
	return out
}

// ServicesConfig returns a full copy of every entry, URLs and timestamps
// included. Intended for the non-production debug surface.
func (r *Registry) ServicesConfig() map[string]Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Service, len(r.services))
	for name, svc := range r.services {
		out[name] = *svc
	}
	return out
}

// MarkDown immediately records a service as DOWN, ahead of the next poll.
// Called by the proxy layer when a forwarding attempt fails. Unknown
// names are logged and ignored.
func (r *Registry) MarkDown(name string) {
	if !r.setStatus(name, StatusDown) {
		r.logger.Error("cannot mark unknown service down", slog.String("service", name))
	}
}

// CheckService probes one backend's health endpoint and records the
// outcome. Healthy means HTTP 200 with a JSON body whose status field is
// "UP"; everything else, timeouts and transport errors included, is
// DOWN. It never returns an error to the caller.
func (r *Registry) CheckService(ctx context.Context, name string) bool {
	r.mu.RLock()
	svc, ok := r.services[name]
	if !ok {
		r.mu.RUnlock()
		r.logger.Error("health check for unknown service", slog.String("service", name))
		return false
	}
	url := svc.BaseURL + svc.HealthPath
	r.mu.RUnlock()

	healthy := r.probe(ctx, url)

	if healthy {
		r.setStatus(name, StatusUp)
	} else {
		r.setStatus(name, StatusDown)
	}
	return healthy
}

func (r *Registry) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logger.Error("building health check request",
			slog.String("url", url), slog.String("error", err.Error()))
		return false
	}
	httpx.SetRequestIDHeader(ctx, req.Header)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("health check failed",
			slog.String("url", url), slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("health check returned non-200",
			slog.String("url", url), slog.Int("status", resp.StatusCode))
		return false
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		r.logger.Warn("health check body unreadable",
			slog.String("url", url), slog.String("error", err.Error()))
		return false
	}
	return body.Status == string(StatusUp)
}

// setStatus records a status transition. Returns false for unknown names.
func (r *Registry) setStatus(name string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[name]
	if !ok {
		return false
	}
	svc.Status = status
	svc.LastChecked = time.Now()
	return true
}

// CheckAll probes every registered service concurrently. A slow or
// failing check never delays or cancels another's. Logs an aggregate
// summary once all probes complete.
func (r *Registry) CheckAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	results := make([]bool, len(names))
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = r.CheckService(ctx, name)
		}(i, name)
	}
	wg.Wait()

	var down []string
	for i, healthy := range results {
		if !healthy {
			down = append(down, names[i])
		}
	}
	if len(down) == 0 {
		r.logger.Info("all services healthy", slog.Int("count", len(names)))
	} else {
		r.logger.Warn("services unhealthy",
			slog.Any("down", down), slog.Int("total", len(names)))
	}
}

// StartMonitoring runs one immediate sweep, then checks all services on
// the configured interval until StopMonitoring is called. Calling it
// while monitoring is already running is a no-op.
func (r *Registry) StartMonitoring() {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()

	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	r.logger.Info("service monitoring started", slog.Duration("interval", r.interval))

	go func(stop, done chan struct{}) {
		defer close(done)

		r.CheckAll(context.Background())

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.CheckAll(context.Background())
			case <-stop:
				return
			}
		}
	}(r.stop, r.done)
}

// StopMonitoring cancels the recurring checks and waits for the monitor
// goroutine to exit. Safe to call when monitoring was never started.
func (r *Registry) StopMonitoring() {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()

	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
	r.stop = nil
	r.done = nil

	r.logger.Info("service monitoring stopped")
}
