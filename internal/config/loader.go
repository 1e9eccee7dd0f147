// Package config hydrates the bootstrap configuration with env > file >
// default precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader assembles the effective configuration from defaults, optional
// files, and environment variables.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator. Files are layered in order; the
// environment wins over all of them.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load builds and validates the effective configuration.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		if err := k.Load(env.Provider(l.envPrefix, ".", l.envTransform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	// PORT and DATABASE_URL are honored unprefixed for proxy-platform
	// deployments.
	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: PORT invalid: %q", raw)
		}
		if err := k.Set("server.listen.port", port); err != nil {
			return Config{}, fmt.Errorf("config: set port: %w", err)
		}
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		if err := k.Set("provider.databaseUrl", raw); err != nil {
			return Config{}, fmt.Errorf("config: set database url: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envTransform maps environment variable names onto config keys. Double
// underscores signal nesting (SERVER__LISTEN__PORT -> server.listen.port);
// the flat aliases of the deployment contract map through the canonical
// table.
func (l *Loader) envTransform(s string) string {
	canonical := map[string]string{
		"config_backend":      "provider.backend",
		"config":              "provider.file",
		"database_url":        "provider.databaseUrl",
		"cache_enabled":       "cache.enabled",
		"cache_backend":       "cache.backend",
		"redis_url":           "cache.redis.url",
		"enable_admin_api":    "admin.enabled",
		"admin_token":         "admin.token",
		"session_cookie":      "admin.sessionCookie",
		"admin_session_roles": "admin.sessionRoles",

		"server.logging.correlationheader": "server.logging.correlationHeader",
		"server.gate.timeoutseconds":       "server.gate.timeoutSeconds",
		"provider.databaseurl":             "provider.databaseUrl",
		"cache.redis.tls.cafile":           "cache.redis.tls.caFile",
		"session.timeoutseconds":           "session.timeoutSeconds",
		"session.connecttimeoutseconds":    "session.connectTimeoutSeconds",
		"admin.sessioncookie":              "admin.sessionCookie",
		"admin.sessionroles":               "admin.sessionRoles",
	}
	key := strings.TrimPrefix(s, l.envPrefix+"_")
	key = strings.ReplaceAll(key, "__", ".")
	lower := strings.ToLower(key)
	if mapped, ok := canonical[lower]; ok {
		return mapped
	}
	// Single underscores are removed so GATE_PATH collapses into gatepath
	// when callers choose not to use double underscores for nesting.
	key = strings.ReplaceAll(key, "_", "")
	return strings.ToLower(key)
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return yaml.Parser()
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"gate": map[string]any{
				"path":           cfg.Server.Gate.Path,
				"timeoutSeconds": cfg.Server.Gate.TimeoutSeconds,
			},
		},
		"provider": map[string]any{
			"backend":     cfg.Provider.Backend,
			"file":        cfg.Provider.File,
			"databaseUrl": cfg.Provider.DatabaseURL,
		},
		"cache": map[string]any{
			"enabled": cfg.Cache.Enabled,
			"backend": cfg.Cache.Backend,
			"redis": map[string]any{
				"url":      cfg.Cache.Redis.URL,
				"address":  cfg.Cache.Redis.Address,
				"username": cfg.Cache.Redis.Username,
				"password": cfg.Cache.Redis.Password,
				"db":       cfg.Cache.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Redis.TLS.Enabled,
					"caFile":  cfg.Cache.Redis.TLS.CAFile,
				},
			},
		},
		"session": map[string]any{
			"timeoutSeconds":        cfg.Session.TimeoutSeconds,
			"connectTimeoutSeconds": cfg.Session.ConnectTimeoutSeconds,
		},
		"admin": map[string]any{
			"enabled":       cfg.Admin.Enabled,
			"token":         cfg.Admin.Token,
			"sessionCookie": cfg.Admin.SessionCookie,
			"sessionRoles":  cfg.Admin.SessionRoles,
		},
	}
}
