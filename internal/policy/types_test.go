package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequireTolerant(t *testing.T) {
	doc := []byte(`{"roles":["admin"],"future_field":{"x":1}}`)

	block, err := ParseRequire(doc, false)
	require.NoError(t, err)
	require.Equal(t, []string{"admin"}, block.Roles)
}

func TestParseRequireStrictRejectsUnknownFields(t *testing.T) {
	doc := []byte(`{"roles":["admin"],"future_field":true}`)

	_, err := ParseRequire(doc, true)
	require.Error(t, err)
}

func TestParseRequireEmptyDocument(t *testing.T) {
	block, err := ParseRequire(nil, true)
	require.NoError(t, err)
	require.True(t, block.Empty())
}

func TestParseRequireFullShape(t *testing.T) {
	doc := []byte(`{
		"roles": ["admin"],
		"permissions": ["read"],
		"scopes": [{"resource_type":"client","action":"access","resource_id":"c42"}],
		"teams": [{"id":"T1","scopes":[{"resource_type":"client","action":"access"}]}]
	}`)

	block, err := ParseRequire(doc, true)
	require.NoError(t, err)
	require.Len(t, block.Scopes, 1)
	require.Equal(t, "c42", block.Scopes[0].ResourceID)
	require.Len(t, block.Teams, 1)
	require.Equal(t, "T1", block.Teams[0].ID)
}

func TestRouteDefValidate(t *testing.T) {
	tests := []struct {
		name    string
		route   RouteDef
		wantErr bool
	}{
		{
			name:  "valid",
			route: RouteDef{Host: "app.example.com", Path: "/admin/*", Require: RequireBlock{Roles: []string{"admin"}}},
		},
		{
			name:    "missing host",
			route:   RouteDef{Path: "/"},
			wantErr: true,
		},
		{
			name:    "relative path",
			route:   RouteDef{Host: "app.example.com", Path: "admin"},
			wantErr: true,
		},
		{
			name: "scope without action",
			route: RouteDef{Host: "a.example.com", Path: "/", Require: RequireBlock{
				Scopes: []ScopeReq{{ResourceType: "client"}},
			}},
			wantErr: true,
		},
		{
			name: "team without identifier",
			route: RouteDef{Host: "a.example.com", Path: "/", Require: RequireBlock{
				Teams: []TeamReq{{Scopes: []ScopeReq{{ResourceType: "client", Action: "access"}}}},
			}},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.route.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
