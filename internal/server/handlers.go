package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/storywall/api-gateway/internal/httpx"
	"github.com/storywall/api-gateway/internal/registry"
)

const serviceName = "api-gateway"

// Version is the gateway release reported by the banner endpoint.
const Version = "1.0.0"

// handleRoot is the liveness/identity banner. Always 200, independent of
// backend health.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": Version,
		"status":  "UP",
	})
}

// handleHealth reports aggregate gateway health: DEGRADED (503) when any
// registered backend is DOWN, UP (200) otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.ServicesStatus()

	var down []string
	for name, status := range statuses {
		if status == registry.StatusDown {
			down = append(down, name)
		}
	}

	if len(down) > 0 {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "DEGRADED",
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"service":      serviceName,
			"servicesDown": down,
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "UP",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   serviceName,
		"services":  statuses,
	})
}

// handleServices exposes the per-service status map. Always 200.
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"services": s.registry.ServicesStatus(),
	})
}

// handleDebug returns process diagnostics, including backend URLs. Only
// registered outside production.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"environment": s.env,
		"runtime":     runtime.Version(),
		"requestId":   httpx.RequestID(r.Context()),
		"uptime":      time.Since(s.started).String(),
		"memory": map[string]uint64{
			"allocBytes":      mem.Alloc,
			"totalAllocBytes": mem.TotalAlloc,
			"sysBytes":        mem.Sys,
			"numGC":           uint64(mem.NumGC),
		},
		"services": s.registry.ServicesConfig(),
	})
}

// handleNotFound answers unmatched paths with the uniform envelope.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound,
		"The requested resource was not found")
}
