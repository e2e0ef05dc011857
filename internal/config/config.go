// Package config loads gateway configuration from defaults, an optional
// YAML file, and the environment. Environment variables win over the file,
// which wins over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Env       string          `koanf:"env"`
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Registry  RegistryConfig  `koanf:"registry"`

	// Services maps registry keys (e.g. "user-service") to backend
	// locations. Routes map external path prefixes onto those keys.
	Services map[string]ServiceConfig `koanf:"services"`
	Routes   []RouteConfig            `koanf:"routes"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// AllowedOrigins is a comma-separated CORS allow-list. Empty means
	// all origins.
	AllowedOrigins string `koanf:"allowed_origins"`
}

type AuthConfig struct {
	// JWTSecret is the HMAC secret for verifying bearer tokens. When
	// empty, protected routes reject all traffic.
	JWTSecret string `koanf:"jwt_secret"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type RateLimitConfig struct {
	Max      int `koanf:"max"`
	WindowMS int `koanf:"window_ms"`
}

type RegistryConfig struct {
	// CheckIntervalMS is the health-poll period in milliseconds.
	CheckIntervalMS int `koanf:"check_interval_ms"`
}

type ServiceConfig struct {
	URL        string `koanf:"url"`
	HealthPath string `koanf:"health_path"`
}

type RouteConfig struct {
	// Label names the route in logs; distinct routes may share a Service.
	Label     string `koanf:"label"`
	Prefix    string `koanf:"prefix"`
	Service   string `koanf:"service"`
	Protected bool   `koanf:"protected"`
}

// envKeys maps the flat environment variable names the gateway consumes
// onto config keys. Unlisted variables are ignored.
var envKeys = map[string]string{
	"PORT":                   "server.port",
	"ALLOWED_ORIGINS":        "server.allowed_origins",
	"USER_SERVICE_URL":       "services.user-service.url",
	"TIMELINE_SERVICE_URL":   "services.timeline-service.url",
	"SERVICE_CHECK_INTERVAL": "registry.check_interval_ms",
	"JWT_SECRET":             "auth.jwt_secret",
	"NODE_ENV":               "env",
	"LOG_LEVEL":              "log.level",
}

// Load builds the configuration. configPath is the optional YAML file
// (usually from GATEWAY_CONFIG); empty means no file.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	// Environment variables override the file.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"env":                        "development",
		"server.port":                3002,
		"log.level":                  "info",
		"rate_limit.max":             100,
		"rate_limit.window_ms":       15 * 60 * 1000,
		"registry.check_interval_ms": 30000,
		"services.user-service.url":  "http://localhost:3000",
		"services.user-service.health_path":     "/health",
		"services.timeline-service.url":         "http://localhost:3001",
		"services.timeline-service.health_path": "/health",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Routes) == 0 {
		cfg.Routes = defaultRoutes()
	}
	for name, svc := range cfg.Services {
		if svc.HealthPath == "" {
			svc.HealthPath = "/health"
			cfg.Services[name] = svc
		}
	}
	for _, rt := range cfg.Routes {
		if _, ok := cfg.Services[rt.Service]; !ok {
			return nil, fmt.Errorf("route %s references unknown service %q", rt.Prefix, rt.Service)
		}
	}

	return &cfg, nil
}

// LoadFromEnv is the composition-root entry point: it resolves the config
// file path from GATEWAY_CONFIG before loading.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("GATEWAY_CONFIG"))
}

func defaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Label: "users", Prefix: "/api/users", Service: "user-service", Protected: true},
		{Label: "auth", Prefix: "/api/auth", Service: "user-service"},
		{Label: "timelines", Prefix: "/api/timelines", Service: "timeline-service"},
		{Label: "events", Prefix: "/api/events", Service: "timeline-service"},
	}
}

// IsProduction reports whether the gateway runs with production settings;
// it gates the /debug endpoint and selects the JSON log format.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Origins returns the CORS allow-list, or ["*"] when unrestricted.
func (c *Config) Origins() []string {
	if strings.TrimSpace(c.Server.AllowedOrigins) == "" {
		return []string{"*"}
	}
	parts := strings.Split(c.Server.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// CheckInterval returns the health-poll period as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Registry.CheckIntervalMS) * time.Millisecond
}

// RateLimitWindow returns the fixed rate-limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMS) * time.Millisecond
}
