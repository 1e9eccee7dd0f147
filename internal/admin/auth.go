package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/l0p7/authgate/internal/gate"
	"github.com/l0p7/authgate/internal/provider"
)

// authResult is the verdict of one authenticator attempt.
type authResult struct {
	ok        bool
	status    int
	challenge bool
}

// snapshotFunc supplies the active configuration on demand so the bearer
// path never touches the provider before the caller is authenticated.
type snapshotFunc func() (*provider.Snapshot, error)

// authenticator is one way to prove admin access. Authenticators are tried
// in order; the first success wins.
type authenticator interface {
	authenticate(r *http.Request, snap snapshotFunc) authResult
}

// bearerAuth accepts a shared secret presented as a bearer token.
type bearerAuth struct {
	token string
}

func (b bearerAuth) authenticate(r *http.Request, _ snapshotFunc) authResult {
	header := r.Header.Get("Authorization")
	presented, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return authResult{status: http.StatusUnauthorized, challenge: true}
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(b.token)) != 1 {
		return authResult{status: http.StatusUnauthorized, challenge: true}
	}
	return authResult{ok: true}
}

// sessionAuth accepts a session cookie whose user holds at least one of
// the configured admin roles.
type sessionAuth struct {
	resolver     gate.SessionResolver
	cookieName   string
	allowedRoles []string
}

func (s sessionAuth) authenticate(r *http.Request, snap snapshotFunc) authResult {
	current, err := snap()
	if err != nil {
		return authResult{status: http.StatusServiceUnavailable}
	}
	cookieName := s.cookieName
	if cookieName == "" {
		cookieName = current.CookieName
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return authResult{status: http.StatusUnauthorized}
	}
	sess, err := s.resolver.Resolve(r.Context(), current.SessionURL, cookieName, cookie.Value)
	if err != nil {
		return authResult{status: http.StatusUnauthorized}
	}
	for _, have := range sess.User.Roles {
		for _, want := range s.allowedRoles {
			if have == want {
				return authResult{ok: true}
			}
		}
	}
	// The user is known but not an admin.
	return authResult{status: http.StatusForbidden}
}

// authorize runs the authenticator chain. With no authenticators
// configured the surface is inaccessible. The configuration snapshot is
// fetched at most once, and only when an authenticator asks for it.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if len(h.auths) == 0 {
		writeError(w, http.StatusUnauthorized, "no admin authentication configured")
		return false
	}
	snap := sync.OnceValues(func() (*provider.Snapshot, error) {
		current, err := h.provider.Current(r.Context())
		if err != nil {
			h.logger.Error("configuration unavailable", slog.Any("error", err))
		}
		return current, err
	})
	status := http.StatusUnauthorized
	challenge := false
	for _, auth := range h.auths {
		result := auth.authenticate(r, snap)
		if result.ok {
			return true
		}
		switch result.status {
		case http.StatusServiceUnavailable:
			status = http.StatusServiceUnavailable
		case http.StatusForbidden:
			if status != http.StatusServiceUnavailable {
				status = http.StatusForbidden
			}
		}
		challenge = challenge || result.challenge
	}
	if status == http.StatusUnauthorized && challenge {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	message := "admin authentication failed"
	if status == http.StatusServiceUnavailable {
		message = "configuration unavailable"
	}
	writeError(w, status, message)
	return false
}
