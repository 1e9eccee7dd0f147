package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchHostPatterns(t *testing.T) {
	routes := []RouteDef{
		{ID: "exact", Host: "app.example.com", Path: "/*"},
		{ID: "wild", Host: "*.client.example.com", Path: "/*"},
	}

	tests := []struct {
		name   string
		host   string
		wantID string
		wantOK bool
	}{
		{name: "exact host", host: "app.example.com", wantID: "exact", wantOK: true},
		{name: "exact host case-insensitive", host: "APP.Example.COM", wantID: "exact", wantOK: true},
		{name: "wildcard single label", host: "acme.client.example.com", wantID: "wild", wantOK: true},
		{name: "wildcard does not match bare suffix", host: "client.example.com"},
		{name: "wildcard strips exactly one label", host: "a.b.client.example.com"},
		{name: "unrelated host", host: "other.example.com"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			route, ok := Match(tc.host, "/anything", routes)
			require.Equal(t, tc.wantOK, ok)
			if ok {
				require.Equal(t, tc.wantID, route.ID)
			}
		})
	}
}

func TestMatchPathPatterns(t *testing.T) {
	routes := []RouteDef{{Host: "app.example.com", Path: "/admin/*"}}

	for path, want := range map[string]bool{
		"/admin":        true,
		"/admin/":       true,
		"/admin/users":  true,
		"/adminx":       false,
		"/Admin/users":  false,
		"/other/admin":  false,
		"/admin/u/sers": true,
	} {
		_, ok := Match("app.example.com", path, routes)
		require.Equal(t, want, ok, "path %q", path)
	}
}

func TestMatchExactPathBeatsWildcard(t *testing.T) {
	routes := []RouteDef{
		{ID: "wide", Host: "app.example.com", Path: "/admin/*"},
		{ID: "narrow", Host: "app.example.com", Path: "/admin/users"},
	}

	route, ok := Match("app.example.com", "/admin/users", routes)
	require.True(t, ok)
	require.Equal(t, "narrow", route.ID, "longest literal prefix wins regardless of order")

	route, ok = Match("app.example.com", "/admin/other", routes)
	require.True(t, ok)
	require.Equal(t, "wide", route.ID)
}

func TestMatchLongerWildcardPrefixWins(t *testing.T) {
	routes := []RouteDef{
		{ID: "root", Host: "app.example.com", Path: "/*"},
		{ID: "admin", Host: "app.example.com", Path: "/admin/*"},
	}
	route, ok := Match("app.example.com", "/admin/users", routes)
	require.True(t, ok)
	require.Equal(t, "admin", route.ID)
}

func TestMatchExactHostBreaksTies(t *testing.T) {
	routes := []RouteDef{
		{ID: "wildhost", Host: "*.example.com", Path: "/admin/*"},
		{ID: "exacthost", Host: "app.example.com", Path: "/admin/*"},
	}
	route, ok := Match("app.example.com", "/admin/users", routes)
	require.True(t, ok)
	require.Equal(t, "exacthost", route.ID)
}

func TestMatchCatalogueOrderBreaksRemainingTies(t *testing.T) {
	routes := []RouteDef{
		{ID: "first", Host: "app.example.com", Path: "/admin/*"},
		{ID: "second", Host: "app.example.com", Path: "/admin/*"},
	}
	route, ok := Match("app.example.com", "/admin/users", routes)
	require.True(t, ok)
	require.Equal(t, "first", route.ID)
}

func TestMatchDeterministic(t *testing.T) {
	routes := []RouteDef{
		{ID: "a", Host: "*.example.com", Path: "/*"},
		{ID: "b", Host: "app.example.com", Path: "/api/*"},
		{ID: "c", Host: "app.example.com", Path: "/api/v1"},
	}
	first, ok := Match("app.example.com", "/api/v1", routes)
	require.True(t, ok)
	for range 50 {
		again, ok := Match("app.example.com", "/api/v1", routes)
		require.True(t, ok)
		require.Equal(t, first.ID, again.ID)
	}
}

func TestMatchNoRoutes(t *testing.T) {
	_, ok := Match("app.example.com", "/", nil)
	require.False(t, ok)
}
