package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/l0p7/authgate/internal/session"
	valkey "github.com/valkey-io/valkey-go"
)

// keyPrefix namespaces session entries in a shared store.
const keyPrefix = "authgate:session:"

// RedisTLSConfig controls TLS towards the redis-protocol store.
type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

// RedisConfig describes the shared cache connection. URL, when set, takes
// precedence over the discrete fields.
type RedisConfig struct {
	URL      string
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

type redisCache struct {
	client valkey.Client
}

// NewRedis connects to a redis-protocol store and verifies it with a ping.
func NewRedis(cfg RedisConfig) (session.Cache, error) {
	option, err := buildClientOption(cfg)
	if err != nil {
		return nil, err
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &redisCache{client: client}, nil
}

func buildClientOption(cfg RedisConfig) (valkey.ClientOption, error) {
	if cfg.URL != "" {
		option, err := valkey.ParseURL(cfg.URL)
		if err != nil {
			return valkey.ClientOption{}, fmt.Errorf("cache: redis url: %w", err)
		}
		option.AlwaysRESP2 = true
		option.ForceSingleClient = true
		option.DisableCache = true
		return option, nil
	}

	if cfg.Address == "" {
		return valkey.ClientOption{}, errors.New("cache: redis address required")
	}
	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return valkey.ClientOption{}, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return valkey.ClientOption{}, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}
	return option, nil
}

func (c *redisCache) Get(ctx context.Context, token string) (*session.Session, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(keyPrefix+token).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var sess session.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	return &sess, true, nil
}

func (c *redisCache) Set(ctx context.Context, token string, sess *session.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(keyPrefix + token).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, token string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(keyPrefix+token).Build()).Error(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

func (c *redisCache) Close(context.Context) error {
	c.client.Close()
	return nil
}
