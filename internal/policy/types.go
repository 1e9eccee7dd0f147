package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RouteDef describes a protected surface: a host/path pattern plus the
// authorization requirements a session must satisfy to pass it. The ID is
// assigned by the database provider; file-backed routes carry none.
type RouteDef struct {
	ID      string       `json:"id,omitempty"`
	Host    string       `json:"host"`
	Path    string       `json:"path"`
	Require RequireBlock `json:"require"`
}

// RequireBlock is the authorization predicate attached to a route. Top-level
// fields combine with AND; roles and permissions are any-of, scopes are
// all-of, teams are any-of with per-team all-of scope containment.
type RequireBlock struct {
	Roles       []string   `json:"roles,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	Scopes      []ScopeReq `json:"scopes,omitempty"`
	Teams       []TeamReq  `json:"teams,omitempty"`
}

// ScopeReq names an action on a resource class, optionally pinned to a
// specific resource instance.
type ScopeReq struct {
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	ResourceID   string `json:"resource_id,omitempty"`
}

// TeamReq identifies a team by id or name and optionally demands scopes that
// must all be present within that team's scope list.
type TeamReq struct {
	ID     string     `json:"id,omitempty"`
	Name   string     `json:"name,omitempty"`
	Scopes []ScopeReq `json:"scopes,omitempty"`
}

// Empty reports whether no requirement field is active. Such a block still
// demands a valid session but applies no authorization predicate.
func (b RequireBlock) Empty() bool {
	return len(b.Roles) == 0 && len(b.Permissions) == 0 && len(b.Scopes) == 0 && len(b.Teams) == 0
}

// ParseRequire decodes a requirement document. Strict mode rejects unknown
// fields and is used for admin writes; the file and database read paths use
// tolerant mode so older gateways survive newer documents.
func ParseRequire(data []byte, strict bool) (RequireBlock, error) {
	var block RequireBlock
	if len(bytes.TrimSpace(data)) == 0 {
		return block, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&block); err != nil {
		return RequireBlock{}, fmt.Errorf("policy: parse require: %w", err)
	}
	return block, nil
}

// Validate enforces the invariants a route must satisfy before it enters the
// catalogue.
func (r RouteDef) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return errors.New("policy: route host required")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("policy: route path %q must begin with /", r.Path)
	}
	for i, scope := range r.Require.Scopes {
		if err := scope.validate(); err != nil {
			return fmt.Errorf("policy: require.scopes[%d]: %w", i, err)
		}
	}
	for i, team := range r.Require.Teams {
		if team.ID == "" && team.Name == "" {
			return fmt.Errorf("policy: require.teams[%d] needs an id or a name", i)
		}
		for j, scope := range team.Scopes {
			if err := scope.validate(); err != nil {
				return fmt.Errorf("policy: require.teams[%d].scopes[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func (s ScopeReq) validate() error {
	if s.ResourceType == "" {
		return errors.New("resource_type required")
	}
	if s.Action == "" {
		return errors.New("action required")
	}
	return nil
}

// String renders the requirement the way deny details report it.
func (s ScopeReq) String() string {
	if s.ResourceID != "" {
		return s.ResourceType + ":" + s.Action + ":" + s.ResourceID
	}
	return s.ResourceType + ":" + s.Action
}
