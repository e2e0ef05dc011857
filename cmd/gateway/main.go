package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/storywall/api-gateway/internal/config"
	"github.com/storywall/api-gateway/internal/proxy"
	"github.com/storywall/api-gateway/internal/registry"
	"github.com/storywall/api-gateway/internal/server"
	"github.com/storywall/api-gateway/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.Init("storywall-api-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	targets := make(map[string]registry.Target, len(cfg.Services))
	for name, svc := range cfg.Services {
		targets[name] = registry.Target{BaseURL: svc.URL, HealthPath: svc.HealthPath}
	}
	reg := registry.New(logger, targets,
		registry.WithCheckInterval(cfg.CheckInterval()),
	)

	routes := make([]proxy.Route, 0, len(cfg.Routes))
	for _, rt := range cfg.Routes {
		routes = append(routes, proxy.Route{
			Label:     rt.Label,
			Prefix:    rt.Prefix,
			Service:   rt.Service,
			Target:    cfg.Services[rt.Service].URL,
			Protected: rt.Protected,
		})
	}
	rules, err := proxy.Build(routes, reg, logger)
	if err != nil {
		log.Fatalf("Failed to build proxy rules: %v", err)
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set; protected routes will reject all traffic")
	}

	srv := server.New(server.Options{
		Port:            cfg.Server.Port,
		Env:             cfg.Env,
		Production:      cfg.IsProduction(),
		AllowedOrigins:  cfg.Origins(),
		JWTSecret:       cfg.Auth.JWTSecret,
		RateLimitMax:    cfg.RateLimit.Max,
		RateLimitWindow: cfg.RateLimitWindow(),
	}, logger, reg, rules)

	reg.StartMonitoring()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping gateway")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	reg.StopMonitoring()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gateway shutdown complete")
}

// newLogger builds the process logger: JSON in production, human-readable
// text otherwise, with LOG_LEVEL selecting the minimum severity.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
