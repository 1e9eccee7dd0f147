package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL applies when the cookie is not a JWT or carries no usable
	// expiry claim.
	DefaultTTL = 5 * time.Minute

	minTTL = time.Second
	maxTTL = 24 * time.Hour
)

// TokenTTL derives the cache lifetime for a session keyed by the given
// cookie value. When the value is a JWT with an `exp` claim in the future
// the TTL is exp-now clamped to [1s, 24h]; anything else falls back to
// DefaultTTL. The token signature is deliberately not verified: the session
// endpoint already vouched for the cookie, the claim only bounds caching.
func TokenTTL(token string, now time.Time) time.Duration {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return DefaultTTL
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return DefaultTTL
	}
	ttl := exp.Time.Sub(now)
	if ttl <= 0 {
		return DefaultTTL
	}
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}
