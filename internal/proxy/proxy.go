// Package proxy implements the per-backend reverse proxy rules. Each rule
// forwards everything under one external path prefix to its backend,
// carrying the correlation ID along, and reports transport failures back
// into the service registry.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/storywall/api-gateway/internal/httpx"
)

// Downer is the slice of the registry the proxy needs: the immediate
// failure write-path.
type Downer interface {
	MarkDown(name string)
}

// RuleConfig describes one routing rule. Label is the logging name;
// Service is the registry key. Multiple rules may share a Service.
type RuleConfig struct {
	Label   string
	Prefix  string
	Service string
	Target  string
	// Protected routes require a verified bearer token before forwarding.
	Protected bool
}

// Rule forwards requests under Prefix to the backend. The path prefix is
// preserved 1:1 (the backends mount the same prefixes the gateway
// exposes) and the Host header is rewritten to the target's.
type Rule struct {
	Label     string
	Prefix    string
	Service   string
	Protected bool

	logger *slog.Logger
	rp     *httputil.ReverseProxy

	// BeforeForward runs on the outbound request after the default
	// rewrite; OnProxyError replaces the default failure handling.
	// Both are optional extension points, nil by default.
	BeforeForward func(*httputil.ProxyRequest)
	OnProxyError  func(http.ResponseWriter, *http.Request, error)
}

// NewRule builds a rule for the given backend target URL.
func NewRule(cfg RuleConfig, reg Downer, logger *slog.Logger) (*Rule, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("parsing target for route %s: %w", cfg.Label, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("route %s: target %q must be an absolute URL", cfg.Label, cfg.Target)
	}

	rule := &Rule{
		Label:     cfg.Label,
		Prefix:    cfg.Prefix,
		Service:   cfg.Service,
		Protected: cfg.Protected,
		logger:    logger,
	}

	rule.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// SetURL keeps the inbound path intact, so the prefix
			// survives unchanged, and leaves Out.Host empty so the
			// transport uses the target host (changeOrigin).
			pr.SetURL(target)
			httpx.SetRequestIDHeader(pr.In.Context(), pr.Out.Header)
			if rule.BeforeForward != nil {
				rule.BeforeForward(pr)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if rule.OnProxyError != nil {
				rule.OnProxyError(w, r, err)
				return
			}
			rule.handleError(w, r, err, reg)
		},
	}

	return rule, nil
}

// ServeHTTP forwards the request to the backend and relays the response.
func (rule *Rule) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rule.rp.ServeHTTP(w, r)
}

// handleError is the default transport-failure path: log with the
// correlation ID, mark the backend DOWN ahead of the next poll, and
// answer 503 without leaking backend internals.
func (rule *Rule) handleError(w http.ResponseWriter, r *http.Request, err error, reg Downer) {
	rule.logger.Error("proxy error",
		slog.String("route", rule.Label),
		slog.String("service", rule.Service),
		slog.String("request_id", httpx.RequestID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	reg.MarkDown(rule.Service)

	httpx.WriteError(w, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable,
		fmt.Sprintf("%s is temporarily unavailable", rule.Service))
}

// Build turns the config routing table into rules, resolving each route's
// target through the service map.
func Build(routes []Route, reg Downer, logger *slog.Logger) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(routes))
	for _, rt := range routes {
		rule, err := NewRule(RuleConfig{
			Label:     rt.Label,
			Prefix:    rt.Prefix,
			Service:   rt.Service,
			Target:    rt.Target,
			Protected: rt.Protected,
		}, reg, logger)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Route is one resolved entry of the routing table.
type Route struct {
	Label   string
	Prefix  string
	Service string
	Target  string
	// Protected routes require a verified bearer token before forwarding.
	Protected bool
}
