package policy

import (
	"strings"

	"github.com/l0p7/authgate/internal/session"
)

// Deny reason kinds surfaced to the proxy via X-Auth-Deny-Reason and to the
// logs in full detail.
const (
	ReasonMissingRole       = "MissingRole"
	ReasonMissingPermission = "MissingPermission"
	ReasonMissingScope      = "MissingScope"
	ReasonMissingTeam       = "MissingTeam"
	ReasonMissingTeamScope  = "MissingTeamScope"
)

// Decision is the outcome of evaluating a requirement block against a
// session.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// DenyReason names the first unsatisfied predicate. Kind is one of the
// enumerated reason constants; Detail carries the offending requirement for
// logging and never echoes session contents.
type DenyReason struct {
	Kind   string
	Detail string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(kind, detail string) Decision {
	return Decision{Reason: DenyReason{Kind: kind, Detail: detail}}
}

// Evaluate decides whether a session satisfies a route's requirement block.
// Every active field must be satisfied. A block with no active fields allows
// any valid session. The evaluator performs no I/O.
func Evaluate(sess *session.Session, req RequireBlock) Decision {
	if len(req.Roles) > 0 && !intersects(sess.User.Roles, req.Roles) {
		return deny(ReasonMissingRole, "roles "+strings.Join(req.Roles, ","))
	}
	if len(req.Permissions) > 0 && !intersects(sess.User.Permissions, req.Permissions) {
		return deny(ReasonMissingPermission, "permissions "+strings.Join(req.Permissions, ","))
	}
	if len(req.Scopes) > 0 {
		pool := sessionScopes(sess)
		for _, want := range req.Scopes {
			if !scopeSatisfied(want, pool) {
				return deny(ReasonMissingScope, "scope "+want.String())
			}
		}
	}
	if len(req.Teams) > 0 {
		if dec := evaluateTeams(sess.User.Teams, req.Teams); !dec.Allowed {
			return dec
		}
	}
	return allow()
}

// evaluateTeams passes when any requirement is fully satisfied by a single
// team. When a team matched by identifier fails its scope containment the
// deny reports the team and the first missing scope; otherwise no team
// matched at all.
func evaluateTeams(teams []session.Team, reqs []TeamReq) Decision {
	var scopeFailure *DenyReason
	for _, req := range reqs {
		for _, team := range teams {
			if !teamIdentified(team, req) {
				continue
			}
			missing, ok := containsScopes(team.Scopes, req.Scopes)
			if ok {
				return allow()
			}
			if scopeFailure == nil {
				scopeFailure = &DenyReason{
					Kind:   ReasonMissingTeamScope,
					Detail: "team " + team.ID + " scope " + missing.String(),
				}
			}
		}
	}
	if scopeFailure != nil {
		return Decision{Reason: *scopeFailure}
	}
	names := make([]string, 0, len(reqs))
	for _, req := range reqs {
		if req.ID != "" {
			names = append(names, req.ID)
		} else {
			names = append(names, req.Name)
		}
	}
	return deny(ReasonMissingTeam, "teams "+strings.Join(names, ","))
}

func teamIdentified(team session.Team, req TeamReq) bool {
	if req.ID != "" && req.ID == team.ID {
		return true
	}
	return req.Name != "" && req.Name == team.Name
}

// containsScopes checks that every required scope is satisfied within the
// team's own scope list; it returns the first missing requirement otherwise.
func containsScopes(have []session.Scope, want []ScopeReq) (ScopeReq, bool) {
	for _, req := range want {
		if !scopeSatisfied(req, have) {
			return req, false
		}
	}
	return ScopeReq{}, true
}

func scopeSatisfied(req ScopeReq, scopes []session.Scope) bool {
	for _, scope := range scopes {
		if scope.ResourceType != req.ResourceType || scope.Action != req.Action {
			continue
		}
		if req.ResourceID == "" || req.ResourceID == scope.ResourceID {
			return true
		}
	}
	return false
}

// sessionScopes unions every team's scope list with any direct user scopes.
func sessionScopes(sess *session.Session) []session.Scope {
	pool := append([]session.Scope(nil), sess.User.Scopes...)
	for _, team := range sess.User.Teams {
		pool = append(pool, team.Scopes...)
	}
	return pool
}

func intersects(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
