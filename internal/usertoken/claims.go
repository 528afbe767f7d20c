package usertoken

import (
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"

	"fileinasnap/pkg/domain"
)

// Claims is the verified token payload. It covers the Auth0 shape
// (permissions, scope) and the Supabase shape (role, user_metadata).
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Name         string         `json:"name,omitempty"`
	Picture      string         `json:"picture,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Permissions  []string       `json:"permissions,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Scopes splits the space-delimited scope claim.
func (c Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// DisplayName prefers the name claim and falls back to Supabase user metadata.
func (c Claims) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	for _, key := range []string{"full_name", "name"} {
		if v, ok := c.UserMetadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Identity converts the claims into the domain caller identity.
func (c Claims) Identity() domain.Identity {
	id := domain.Identity{
		Subject:     strings.TrimSpace(c.Subject),
		Email:       strings.TrimSpace(c.Email),
		Name:        c.DisplayName(),
		Permissions: append([]string(nil), c.Permissions...),
		Scopes:      c.Scopes(),
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}
