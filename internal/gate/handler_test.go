package gate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/l0p7/authgate/internal/policy"
	"github.com/l0p7/authgate/internal/provider"
	"github.com/l0p7/authgate/internal/session"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	snap *provider.Snapshot
	err  error
}

func (s staticSource) Current(context.Context) (*provider.Snapshot, error) {
	return s.snap, s.err
}

type stubResolver struct {
	sess  *session.Session
	err   error
	calls int
}

func (r *stubResolver) Resolve(_ context.Context, _, _, _ string) (*session.Session, error) {
	r.calls++
	return r.sess, r.err
}

func testSnapshot(routes ...policy.RouteDef) *provider.Snapshot {
	return &provider.Snapshot{
		SessionURL:    "https://id.example.com/api/session",
		LoginRedirect: "https://id.example.com/login",
		CookieName:    "session",
		Routes:        routes,
	}
}

func adminRoute() policy.RouteDef {
	return policy.RouteDef{
		Host:    "app.example.com",
		Path:    "/admin/*",
		Require: policy.RequireBlock{Roles: []string{"admin"}},
	}
}

func gateRequest(host, uri, cookie string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth", nil)
	req.Header.Set("X-Forwarded-Host", host)
	req.Header.Set("X-Forwarded-Uri", uri)
	req.Header.Set("X-Forwarded-Proto", "https")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: cookie})
	}
	return req
}

func adminSession() *session.Session {
	return &session.Session{
		User: session.User{
			ID:          "u1",
			Email:       "user@example.com",
			Roles:       []string{"admin", "user"},
			Permissions: []string{"read"},
		},
	}
}

func TestUnmatchedRequestAllowsWithoutIdentity(t *testing.T) {
	resolver := &stubResolver{sess: adminSession()}
	handler := NewHandler(nil, staticSource{snap: testSnapshot(adminRoute())}, resolver, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("other.example.com", "/anything", "tok"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Values(HeaderUserID))
	require.Empty(t, rec.Header().Values(HeaderRoles))
	require.Zero(t, resolver.calls, "no session fetch for uncovered requests")
}

func TestMissingCookieRedirectsToLogin(t *testing.T) {
	handler := NewHandler(nil, staticSource{snap: testSnapshot(adminRoute())}, &stubResolver{}, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com", "/admin/users", ""))

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	require.Equal(t,
		"https://id.example.com/login?redirect="+url.QueryEscape("https://app.example.com/admin/users"),
		location)
}

func TestUnauthenticatedSessionRedirectsToLogin(t *testing.T) {
	resolver := &stubResolver{err: session.ErrUnauthenticated}
	handler := NewHandler(nil, staticSource{snap: testSnapshot(adminRoute())}, resolver, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com", "/admin/users", "stale"))

	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "https://id.example.com/login?redirect=")
}

func TestLoginURLWithQueryAppendsWithAmpersand(t *testing.T) {
	snap := testSnapshot(adminRoute())
	snap.LoginRedirect = "https://id.example.com/login?tenant=acme"
	handler := NewHandler(nil, staticSource{snap: snap}, &stubResolver{}, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com", "/admin/users", ""))

	require.Contains(t, rec.Header().Get("Location"), "?tenant=acme&redirect=")
}

func TestUpstreamFailureReturnsBadGateway(t *testing.T) {
	resolver := &stubResolver{err: session.ErrUpstream}
	handler := NewHandler(nil, staticSource{snap: testSnapshot(adminRoute())}, resolver, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com", "/admin/users", "tok"))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Empty(t, rec.Header().Get("Location"))
}

func TestDenySetsReasonHeader(t *testing.T) {
	resolver := &stubResolver{sess: &session.Session{User: session.User{ID: "u2", Roles: []string{"user"}}}}
	handler := NewHandler(nil, staticSource{snap: testSnapshot(adminRoute())}, resolver, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com", "/admin/users", "tok"))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, policy.ReasonMissingRole, rec.Header().Get(HeaderDenyReason))
}

func TestAllowSetsIdentityHeaders(t *testing.T) {
	resolver := &stubResolver{sess: adminSession()}
	handler := NewHandler(nil, staticSource{snap: testSnapshot(adminRoute())}, resolver, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com", "/admin/users", "tok"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u1", rec.Header().Get(HeaderUserID))
	require.Equal(t, "user%40example.com", rec.Header().Get(HeaderUserEmail))
	require.Equal(t, "admin,user", rec.Header().Get(HeaderRoles))
	require.Equal(t, "read", rec.Header().Get(HeaderPermissions))
}

func TestAllowWithEmptyListsEmitsEmptyHeaders(t *testing.T) {
	resolver := &stubResolver{sess: &session.Session{User: session.User{ID: "u3"}}}
	snap := testSnapshot(policy.RouteDef{Host: "app.example.com", Path: "/", Require: policy.RequireBlock{}})
	handler := NewHandler(nil, staticSource{snap: snap}, resolver, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com", "/", "tok"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header(), http.CanonicalHeaderKey(HeaderRoles))
	require.Equal(t, "", rec.Header().Get(HeaderRoles))
	require.Equal(t, "", rec.Header().Get(HeaderPermissions))
}

func TestWildcardHostWithTeamScope(t *testing.T) {
	route := policy.RouteDef{
		Host: "*.client.example.com",
		Path: "/",
		Require: policy.RequireBlock{Teams: []policy.TeamReq{{
			ID:     "T1",
			Scopes: []policy.ScopeReq{{ResourceType: "client", Action: "access"}},
		}}},
	}
	resolver := &stubResolver{sess: &session.Session{User: session.User{
		ID: "u1",
		Teams: []session.Team{{
			ID:     "T1",
			Scopes: []session.Scope{{ResourceType: "client", Action: "access", ResourceID: "c42"}},
		}},
	}}}
	handler := NewHandler(nil, staticSource{snap: testSnapshot(route)}, resolver, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("acme.client.example.com", "/", "tok"))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMatchingStripsQueryAndPort(t *testing.T) {
	resolver := &stubResolver{sess: adminSession()}
	handler := NewHandler(nil, staticSource{snap: testSnapshot(adminRoute())}, resolver, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com:8443", "/admin/users?page=2", "tok"))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigUnavailableReturnsServiceUnavailable(t *testing.T) {
	handler := NewHandler(nil, staticSource{err: errors.New("db down")}, &stubResolver{}, time.Second, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gateRequest("app.example.com", "/admin/users", "tok"))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHostHeaderFallback(t *testing.T) {
	resolver := &stubResolver{sess: adminSession()}
	handler := NewHandler(nil, staticSource{snap: testSnapshot(adminRoute())}, resolver, time.Second, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth", nil)
	req.Host = "app.example.com"
	req.Header.Set("X-Forwarded-Uri", "/admin/users")
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
