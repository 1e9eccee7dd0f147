package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/l0p7/authgate/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Resolution outcomes. The distinction is load-bearing: Unauthenticated
// sends the caller to login, Upstream surfaces as a 502.
var (
	// ErrUnauthenticated means the session endpoint rejected the cookie or
	// returned a body that is not a session payload.
	ErrUnauthenticated = errors.New("session: unauthenticated")
	// ErrUpstream means the session endpoint could not be reached or failed
	// server-side; the cookie's validity is unknown.
	ErrUpstream = errors.New("session: upstream unavailable")
)

// Cache is the read-through store the resolver consults before fetching.
// Implementations live in the cache subpackage; errors degrade to misses
// and never fail a resolution.
type Cache interface {
	Get(ctx context.Context, token string) (*Session, bool, error)
	Set(ctx context.Context, token string, sess *Session, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
	Close(ctx context.Context) error
}

// ResolverOptions tunes the outbound HTTP client and caching behavior.
type ResolverOptions struct {
	Cache          Cache
	CacheEnabled   bool
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Metrics        *metrics.Recorder
}

// Resolver turns a session cookie into a Session by consulting the cache
// and, on a miss, the external session endpoint. Concurrent resolutions of
// the same cookie share one upstream fetch.
type Resolver struct {
	client  *http.Client
	cache   Cache
	enabled bool
	logger  *slog.Logger
	metrics *metrics.Recorder
	group   singleflight.Group
}

// NewResolver builds a resolver with a keep-alive client bounded by the
// configured connect and total timeouts.
func NewResolver(logger *slog.Logger, opts ResolverOptions) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ExpectContinueTimeout: time.Second,
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		cache:   opts.Cache,
		enabled: opts.CacheEnabled && opts.Cache != nil,
		logger:  logger.With(slog.String("agent", "session_resolver")),
		metrics: opts.Metrics,
	}
}

// Resolve returns the session behind a cookie value or one of the sentinel
// errors. Successful fetches are cached with a TTL derived from the cookie's
// JWT expiry.
func (r *Resolver) Resolve(ctx context.Context, sessionURL, cookieName, token string) (*Session, error) {
	if r.enabled {
		start := time.Now()
		sess, ok, err := r.cache.Get(ctx, token)
		switch {
		case err != nil:
			// A broken cache backend degrades to a miss.
			r.logger.Warn("session cache lookup failed", slog.Any("error", err))
			r.metrics.ObserveSessionCacheLookup(metrics.CacheLookupError, time.Since(start))
		case ok:
			r.metrics.ObserveSessionCacheLookup(metrics.CacheLookupHit, time.Since(start))
			return sess, nil
		default:
			r.metrics.ObserveSessionCacheLookup(metrics.CacheLookupMiss, time.Since(start))
		}
	}

	// Coalesce concurrent fetches for the same cookie. A failed flight
	// propagates its error to every waiter.
	value, err, _ := r.group.Do(token, func() (any, error) {
		return r.fetch(ctx, sessionURL, cookieName, token)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Session), nil
}

func (r *Resolver) fetch(ctx context.Context, sessionURL, cookieName, token string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sessionURL, nil)
	if err != nil {
		return nil, fmt.Errorf("session: build request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})

	resp, err := r.client.Do(req)
	if err != nil {
		r.observeFetch("upstream_error")
		r.logger.Warn("session endpoint unreachable", slog.String("url", sessionURL), slog.Any("error", err))
		return nil, fmt.Errorf("session: fetch: %w", ErrUpstream)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		r.observeFetch("upstream_error")
		r.logger.Warn("session endpoint failed", slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("session: endpoint status %d: %w", resp.StatusCode, ErrUpstream)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		r.observeFetch("rejected")
		return nil, fmt.Errorf("session: endpoint status %d: %w", resp.StatusCode, ErrUnauthenticated)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		r.observeFetch("rejected")
		r.logger.Warn("session payload unparseable", slog.Any("error", err))
		return nil, fmt.Errorf("session: decode payload: %w", ErrUnauthenticated)
	}
	r.observeFetch("ok")

	if r.enabled {
		ttl := TokenTTL(token, time.Now())
		start := time.Now()
		if err := r.cache.Set(ctx, token, &sess, ttl); err != nil {
			r.logger.Warn("session cache store failed", slog.Any("error", err))
			r.metrics.ObserveSessionCacheStore(metrics.CacheStoreError, time.Since(start))
		} else {
			r.metrics.ObserveSessionCacheStore(metrics.CacheStoreStored, time.Since(start))
		}
	}
	return &sess, nil
}

func (r *Resolver) observeFetch(result string) {
	r.metrics.ObserveSessionFetch(result)
}

// Close releases the cache backend, if any.
func (r *Resolver) Close(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close(ctx)
}
