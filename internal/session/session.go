// Package session resolves session cookies against the external session
// endpoint and carries the payload types the authorization evaluator
// consumes.
package session

// Session is the payload returned by the session endpoint for a valid
// cookie.
type Session struct {
	User        User   `json:"user"`
	TenantID    string `json:"tenant_id"`
	Authority   string `json:"authority"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// User describes the authenticated caller. Scopes holds direct grants some
// session services emit alongside team scopes; it is empty for the rest.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Teams       []Team   `json:"teams"`
	Scopes      []Scope  `json:"scopes,omitempty"`
}

// Team is a named collection of scopes attached to a user.
type Team struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	IsOwner bool    `json:"is_owner"`
	Scopes  []Scope `json:"scopes"`
}

// Scope grants an action on a specific resource instance.
type Scope struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Action       string `json:"action"`
}

// Clone returns a deep copy so cached sessions stay isolated from callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.User.Roles = append([]string(nil), s.User.Roles...)
	out.User.Permissions = append([]string(nil), s.User.Permissions...)
	out.User.Scopes = append([]Scope(nil), s.User.Scopes...)
	if s.User.Teams != nil {
		out.User.Teams = make([]Team, len(s.User.Teams))
		for i, team := range s.User.Teams {
			copied := team
			copied.Scopes = append([]Scope(nil), team.Scopes...)
			out.User.Teams[i] = copied
		}
	}
	return &out
}
