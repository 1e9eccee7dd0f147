package policy

import (
	"testing"

	"github.com/l0p7/authgate/internal/session"
	"github.com/stretchr/testify/require"
)

func testSession() *session.Session {
	return &session.Session{
		User: session.User{
			ID:          "u1",
			Email:       "user@example.com",
			Roles:       []string{"admin", "user"},
			Permissions: []string{"read", "write"},
			Teams: []session.Team{
				{
					ID:   "T1",
					Name: "platform",
					Scopes: []session.Scope{
						{ResourceType: "client", ResourceID: "c42", Action: "access"},
						{ResourceType: "report", ResourceID: "r1", Action: "view"},
					},
				},
				{
					ID:   "T2",
					Name: "ops",
					Scopes: []session.Scope{
						{ResourceType: "cluster", ResourceID: "prod", Action: "deploy"},
					},
				},
			},
		},
		TenantID:  "tenant-1",
		Authority: "sessions.example.com",
	}
}

func TestEvaluateEmptyBlockAllows(t *testing.T) {
	dec := Evaluate(testSession(), RequireBlock{})
	require.True(t, dec.Allowed)
}

func TestEvaluateRoles(t *testing.T) {
	sess := testSession()

	dec := Evaluate(sess, RequireBlock{Roles: []string{"admin"}})
	require.True(t, dec.Allowed)

	dec = Evaluate(sess, RequireBlock{Roles: []string{"owner", "auditor"}})
	require.False(t, dec.Allowed)
	require.Equal(t, ReasonMissingRole, dec.Reason.Kind)
}

func TestEvaluatePermissions(t *testing.T) {
	sess := testSession()

	dec := Evaluate(sess, RequireBlock{Permissions: []string{"write"}})
	require.True(t, dec.Allowed)

	dec = Evaluate(sess, RequireBlock{Permissions: []string{"delete"}})
	require.False(t, dec.Allowed)
	require.Equal(t, ReasonMissingPermission, dec.Reason.Kind)
}

func TestEvaluateFieldsCombineWithAND(t *testing.T) {
	dec := Evaluate(testSession(), RequireBlock{
		Roles:       []string{"admin"},
		Permissions: []string{"delete"},
	})
	require.False(t, dec.Allowed)
	require.Equal(t, ReasonMissingPermission, dec.Reason.Kind)
}

func TestEvaluateScopesAllOfAcrossTeams(t *testing.T) {
	sess := testSession()

	// One scope from each team: the pool is the union.
	dec := Evaluate(sess, RequireBlock{Scopes: []ScopeReq{
		{ResourceType: "client", Action: "access"},
		{ResourceType: "cluster", Action: "deploy"},
	}})
	require.True(t, dec.Allowed)

	dec = Evaluate(sess, RequireBlock{Scopes: []ScopeReq{
		{ResourceType: "client", Action: "access"},
		{ResourceType: "billing", Action: "manage"},
	}})
	require.False(t, dec.Allowed)
	require.Equal(t, ReasonMissingScope, dec.Reason.Kind)
	require.Contains(t, dec.Reason.Detail, "billing:manage")
}

func TestEvaluateScopeResourceIDPinning(t *testing.T) {
	sess := testSession()

	dec := Evaluate(sess, RequireBlock{Scopes: []ScopeReq{
		{ResourceType: "client", Action: "access", ResourceID: "c42"},
	}})
	require.True(t, dec.Allowed)

	dec = Evaluate(sess, RequireBlock{Scopes: []ScopeReq{
		{ResourceType: "client", Action: "access", ResourceID: "c99"},
	}})
	require.False(t, dec.Allowed)
	require.Equal(t, ReasonMissingScope, dec.Reason.Kind)
}

func TestEvaluateDirectUserScopes(t *testing.T) {
	sess := testSession()
	sess.User.Scopes = []session.Scope{{ResourceType: "billing", ResourceID: "b1", Action: "manage"}}

	dec := Evaluate(sess, RequireBlock{Scopes: []ScopeReq{
		{ResourceType: "billing", Action: "manage"},
	}})
	require.True(t, dec.Allowed)
}

func TestEvaluateTeamsByIDAndName(t *testing.T) {
	sess := testSession()

	dec := Evaluate(sess, RequireBlock{Teams: []TeamReq{{ID: "T1"}}})
	require.True(t, dec.Allowed)

	dec = Evaluate(sess, RequireBlock{Teams: []TeamReq{{Name: "ops"}}})
	require.True(t, dec.Allowed)

	dec = Evaluate(sess, RequireBlock{Teams: []TeamReq{{ID: "T9"}, {Name: "nobody"}}})
	require.False(t, dec.Allowed)
	require.Equal(t, ReasonMissingTeam, dec.Reason.Kind)
}

func TestEvaluateTeamScopesConfinedToThatTeam(t *testing.T) {
	sess := testSession()

	dec := Evaluate(sess, RequireBlock{Teams: []TeamReq{{
		ID:     "T1",
		Scopes: []ScopeReq{{ResourceType: "client", Action: "access"}},
	}}})
	require.True(t, dec.Allowed)

	// T1 exists but the cluster scope lives on T2; containment is per-team.
	dec = Evaluate(sess, RequireBlock{Teams: []TeamReq{{
		ID:     "T1",
		Scopes: []ScopeReq{{ResourceType: "cluster", Action: "deploy"}},
	}}})
	require.False(t, dec.Allowed)
	require.Equal(t, ReasonMissingTeamScope, dec.Reason.Kind)
	require.Contains(t, dec.Reason.Detail, "team T1")
	require.Contains(t, dec.Reason.Detail, "cluster:deploy")
}

func TestEvaluateTeamsAnyOf(t *testing.T) {
	// First requirement fails its scopes, the second succeeds.
	dec := Evaluate(testSession(), RequireBlock{Teams: []TeamReq{
		{ID: "T1", Scopes: []ScopeReq{{ResourceType: "cluster", Action: "deploy"}}},
		{ID: "T2", Scopes: []ScopeReq{{ResourceType: "cluster", Action: "deploy"}}},
	}})
	require.True(t, dec.Allowed)
}
