// Package server assembles the gateway's middleware pipeline, mounts the
// reverse proxy rules, and exposes the operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/storywall/api-gateway/internal/httpx"
	"github.com/storywall/api-gateway/internal/proxy"
	"github.com/storywall/api-gateway/internal/registry"
)

// Options configure the HTTP server and its middleware pipeline.
type Options struct {
	Port           int
	Env            string
	Production     bool
	AllowedOrigins []string
	JWTSecret      string

	RateLimitMax    int
	RateLimitWindow time.Duration

	// RequestTimeout bounds every request, proxied ones included.
	// Zero selects the 30s default.
	RequestTimeout time.Duration
}

// Server is the gateway's HTTP surface.
type Server struct {
	logger   *slog.Logger
	registry *registry.Registry
	http     *http.Server
	router   chi.Router
	env      string
	started  time.Time
}

// New wires the middleware pipeline in its fixed order: security headers,
// CORS, request-ID assignment, access logging, panic recovery, rate
// limiting, then routing (with token verification on protected routes).
func New(opts Options, logger *slog.Logger, reg *registry.Registry, rules []*proxy.Rule) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		logger:   logger,
		registry: reg,
		env:      opts.Env,
		started:  time.Now(),
	}

	r := chi.NewRouter()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "no-referrer",
	})
	r.Use(secureMiddleware.Handler)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", httpx.RequestIDHeader},
		ExposedHeaders: []string{httpx.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(Recoverer(logger))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))

	r.Use(httprate.Limit(
		opts.RateLimitMax,
		opts.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteError(w, http.StatusTooManyRequests, httpx.CodeTooManyRequests,
				"Too many requests, please try again later")
		}),
	))

	r.NotFound(handleNotFound)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/services", s.handleServices)
	if !opts.Production {
		r.Get("/debug", s.handleDebug)
	}

	// Proxy rules. Protected prefixes get the token verifier; the rest
	// forward as-is.
	r.Group(func(gr chi.Router) {
		gr.Use(AuthMiddleware(opts.JWTSecret, logger))
		for _, rule := range rules {
			if rule.Protected {
				gr.Mount(rule.Prefix, rule)
			}
		}
	})
	for _, rule := range rules {
		if !rule.Protected {
			r.Mount(rule.Prefix, rule)
		}
	}

	s.router = r
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           otelhttp.NewHandler(r, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the composed pipeline, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening",
		slog.String("addr", s.http.Addr),
		slog.String("env", s.env),
	)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits for in-flight
// requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
