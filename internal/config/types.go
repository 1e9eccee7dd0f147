package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every bootstrap option for the service. Routing catalogue
// content lives with the provider, not here.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Provider ProviderConfig `koanf:"provider"`
	Cache    CacheConfig    `koanf:"cache"`
	Session  SessionConfig  `koanf:"session"`
	Admin    AdminConfig    `koanf:"admin"`
}

// ServerConfig collects the HTTP listener and gate endpoint knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Gate    GateConfig    `koanf:"gate"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// GateConfig places the forward-auth endpoint and bounds each decision.
type GateConfig struct {
	Path           string `koanf:"path"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// ProviderConfig selects the configuration backend.
type ProviderConfig struct {
	Backend     string `koanf:"backend"`
	File        string `koanf:"file"`
	DatabaseURL string `koanf:"databaseUrl"`
}

// CacheConfig controls the session cache.
type CacheConfig struct {
	Enabled bool             `koanf:"enabled"`
	Backend string           `koanf:"backend"`
	Redis   RedisCacheConfig `koanf:"redis"`
}

// RedisCacheConfig locates the shared cache. URL takes precedence over the
// discrete fields when both are set.
type RedisCacheConfig struct {
	URL      string         `koanf:"url"`
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// SessionConfig bounds the outbound client used to resolve sessions.
type SessionConfig struct {
	TimeoutSeconds        int `koanf:"timeoutSeconds"`
	ConnectTimeoutSeconds int `koanf:"connectTimeoutSeconds"`
}

// AdminConfig controls the management API. SessionRoles is a comma-joined
// list so it can be supplied through a single environment variable.
type AdminConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Token         string `koanf:"token"`
	SessionCookie string `koanf:"sessionCookie"`
	SessionRoles  string `koanf:"sessionRoles"`
}

// Roles splits the comma-joined role list, dropping empty entries.
func (a AdminConfig) Roles() []string {
	var roles []string
	for _, role := range strings.Split(a.SessionRoles, ",") {
		role = strings.TrimSpace(role)
		if role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// DefaultConfig returns the built-in baseline the loader layers files and
// environment variables over.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    4181,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Gate: GateConfig{
				Path:           "/auth",
				TimeoutSeconds: 5,
			},
		},
		Provider: ProviderConfig{
			Backend: "json",
			File:    "authgate.json",
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
		},
		Session: SessionConfig{
			TimeoutSeconds:        5,
			ConnectTimeoutSeconds: 2,
		},
		Admin: AdminConfig{
			Enabled: false,
		},
	}
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if !strings.HasPrefix(c.Server.Gate.Path, "/") {
		return fmt.Errorf("config: gate.path must start with /: %q", c.Server.Gate.Path)
	}
	if c.Server.Gate.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: gate.timeoutSeconds invalid: %d", c.Server.Gate.TimeoutSeconds)
	}

	switch strings.TrimSpace(strings.ToLower(c.Provider.Backend)) {
	case "json":
		if strings.TrimSpace(c.Provider.File) == "" {
			return errors.New("config: provider.file required for json backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Provider.DatabaseURL) == "" {
			return errors.New("config: provider.databaseUrl required for postgres backend")
		}
	default:
		return fmt.Errorf("config: provider.backend unsupported: %s", c.Provider.Backend)
	}

	switch strings.TrimSpace(strings.ToLower(c.Cache.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.URL) == "" && strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.url or cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}

	if c.Session.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: session.timeoutSeconds invalid: %d", c.Session.TimeoutSeconds)
	}
	if c.Session.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("config: session.connectTimeoutSeconds invalid: %d", c.Session.ConnectTimeoutSeconds)
	}
	return nil
}
