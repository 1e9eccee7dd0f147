// Package gate implements the forward-auth decision endpoint a reverse
// proxy delegates to. Every response is one of allow (2xx), redirect to
// login (3xx), or deny (4xx/5xx); bodies are advisory because proxies act
// on the status code alone.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/authgate/internal/metrics"
	"github.com/l0p7/authgate/internal/policy"
	"github.com/l0p7/authgate/internal/provider"
	"github.com/l0p7/authgate/internal/session"
)

// Identity headers emitted on allowed responses.
const (
	HeaderUserID      = "X-Auth-User-Id"
	HeaderUserEmail   = "X-Auth-User-Email"
	HeaderRoles       = "X-Auth-User-Roles"
	HeaderPermissions = "X-Auth-User-Permissions"
	HeaderDenyReason  = "X-Auth-Deny-Reason"
)

// ConfigSource yields the snapshot a single decision operates on.
type ConfigSource interface {
	Current(ctx context.Context) (*provider.Snapshot, error)
}

// SessionResolver resolves a cookie value into a session.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionURL, cookieName, token string) (*session.Session, error)
}

// Handler serves the forward-auth endpoint.
type Handler struct {
	source   ConfigSource
	sessions SessionResolver
	logger   *slog.Logger
	metrics  *metrics.Recorder
	timeout  time.Duration
}

// NewHandler wires the decision pipeline. A non-positive timeout falls
// back to five seconds.
func NewHandler(logger *slog.Logger, source ConfigSource, sessions SessionResolver, timeout time.Duration, rec *metrics.Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		source:   source,
		sessions: sessions,
		logger:   logger.With(slog.String("agent", "gate")),
		metrics:  rec,
		timeout:  timeout,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.source.Current(ctx)
	if err != nil {
		h.logger.Error("configuration unavailable", slog.Any("error", err))
		h.finish(w, start, "unmatched", "error", http.StatusServiceUnavailable, "configuration unavailable")
		return
	}

	rawHost := forwardedHost(r)
	host := stripPort(rawHost)
	uri := forwardedURI(r)
	proto := forwardedProto(r)

	route, matched := policy.Match(host, matchablePath(uri), snap.Routes)
	if !matched {
		// Uncovered requests pass through without identity.
		h.finish(w, start, "unmatched", "allow", http.StatusOK, "")
		return
	}
	routeLabel := route.Host + route.Path

	originalURL := proto + "://" + rawHost + uri
	cookie, err := r.Cookie(snap.CookieName)
	if err != nil || cookie.Value == "" {
		h.redirect(w, snap.LoginRedirect, originalURL)
		h.finish(w, start, routeLabel, "redirect", 0, "")
		return
	}

	sess, err := h.sessions.Resolve(ctx, snap.SessionURL, snap.CookieName, cookie.Value)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrUnauthenticated):
		h.redirect(w, snap.LoginRedirect, originalURL)
		h.finish(w, start, routeLabel, "redirect", 0, "")
		return
	default:
		// Upstream trouble is not the caller's fault; no login redirect.
		h.logger.Warn("session resolution failed",
			slog.String("route", routeLabel), slog.Any("error", err))
		h.finish(w, start, routeLabel, "error", http.StatusBadGateway, "session service unavailable")
		return
	}

	decision := policy.Evaluate(sess, route.Require)
	if !decision.Allowed {
		h.logger.Info("request denied",
			slog.String("route", routeLabel),
			slog.String("user", sess.User.ID),
			slog.String("reason", decision.Reason.Kind),
			slog.String("detail", decision.Reason.Detail))
		w.Header().Set(HeaderDenyReason, decision.Reason.Kind)
		h.finish(w, start, routeLabel, "deny", http.StatusForbidden, "forbidden")
		return
	}

	setIdentityHeaders(w.Header(), sess)
	h.finish(w, start, routeLabel, "allow", http.StatusOK, "")
}

func (h *Handler) redirect(w http.ResponseWriter, login, original string) {
	separator := "?"
	if strings.Contains(login, "?") {
		separator = "&"
	}
	w.Header().Set("Location", login+separator+"redirect="+url.QueryEscape(original))
	w.WriteHeader(http.StatusFound)
}

// finish writes the response status (redirects pass 0 because they already
// wrote theirs) and records the decision.
func (h *Handler) finish(w http.ResponseWriter, start time.Time, route, outcome string, status int, body string) {
	recorded := status
	if status != 0 {
		if body != "" {
			http.Error(w, body, status)
		} else {
			w.WriteHeader(status)
		}
	} else {
		recorded = http.StatusFound
	}
	h.metrics.ObserveDecision(route, outcome, recorded, time.Since(start))
}

func forwardedHost(r *http.Request) string {
	if host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); host != "" {
		// Some proxy chains append hops; the first entry is the client-facing host.
		if idx := strings.IndexByte(host, ','); idx >= 0 {
			host = strings.TrimSpace(host[:idx])
		}
		return host
	}
	return r.Host
}

func forwardedURI(r *http.Request) string {
	if uri := r.Header.Get("X-Forwarded-Uri"); uri != "" {
		return uri
	}
	if uri := r.Header.Get("X-Forwarded-Path"); uri != "" {
		return uri
	}
	return "/"
}

func forwardedProto(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// matchablePath strips query and fragment so matching sees the path alone.
func matchablePath(uri string) string {
	if idx := strings.IndexAny(uri, "?#"); idx >= 0 {
		uri = uri[:idx]
	}
	if uri == "" {
		return "/"
	}
	return uri
}

func setIdentityHeaders(header http.Header, sess *session.Session) {
	header.Set(HeaderUserID, encodeHeaderElement(sess.User.ID))
	header.Set(HeaderUserEmail, encodeHeaderElement(sess.User.Email))
	header.Set(HeaderRoles, joinHeaderList(sess.User.Roles))
	header.Set(HeaderPermissions, joinHeaderList(sess.User.Permissions))
}

// joinHeaderList comma-joins list values. An empty list still emits the
// header with an empty value so downstream services can tell "no roles"
// from "header stripped".
func joinHeaderList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	encoded := make([]string, len(values))
	for i, value := range values {
		encoded[i] = encodeHeaderElement(value)
	}
	return strings.Join(encoded, ",")
}

// encodeHeaderElement escapes values that would corrupt a comma-joined
// header or violate header value syntax.
func encodeHeaderElement(value string) string {
	for i := 0; i < len(value); i++ {
		if !isTokenChar(value[i]) {
			return url.QueryEscape(value)
		}
	}
	return value
}

// isTokenChar reports whether c may appear in an HTTP token (RFC 7230).
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
