package usertoken

import (
	"fmt"
	"strings"
	"time"
)

// Provider names a supported identity provider.
type Provider string

const (
	ProviderAuth0    Provider = "auth0"
	ProviderSupabase Provider = "supabase"
)

const supabaseDefaultAudience = "authenticated"

// ProviderSettings selects the identity provider and its endpoints.
// JWKSURL, Issuer and Audience override the provider preset when set.
type ProviderSettings struct {
	Provider    Provider
	Auth0Domain string
	SupabaseURL string
	JWKSURL     string
	Issuer      string
	Audience    string
	Leeway      time.Duration
}

// VerifierConfig resolves the settings into a verifier configuration.
func (s ProviderSettings) VerifierConfig() (Config, error) {
	var cfg Config
	switch Provider(strings.ToLower(strings.TrimSpace(string(s.Provider)))) {
	case ProviderAuth0:
		domain := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s.Auth0Domain), "https://"), "/")
		if domain == "" && strings.TrimSpace(s.JWKSURL) == "" {
			return Config{}, fmt.Errorf("auth0 provider requires auth0Domain")
		}
		if domain != "" {
			cfg.JWKSURL = "https://" + domain + "/.well-known/jwks.json"
			cfg.Issuer = "https://" + domain + "/"
		}
	case ProviderSupabase:
		base := strings.TrimSuffix(strings.TrimSpace(s.SupabaseURL), "/")
		if base == "" && strings.TrimSpace(s.JWKSURL) == "" {
			return Config{}, fmt.Errorf("supabase provider requires supabaseURL")
		}
		if base != "" {
			cfg.JWKSURL = base + "/auth/v1/.well-known/jwks.json"
			cfg.Issuer = base + "/auth/v1"
		}
		cfg.Audience = supabaseDefaultAudience
	default:
		return Config{}, fmt.Errorf("unsupported auth provider %q", s.Provider)
	}

	if v := strings.TrimSpace(s.JWKSURL); v != "" {
		cfg.JWKSURL = v
	}
	if v := strings.TrimSpace(s.Issuer); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(s.Audience); v != "" {
		cfg.Audience = v
	}
	if cfg.Audience == "" {
		return Config{}, fmt.Errorf("%s provider requires an audience", s.Provider)
	}
	if cfg.Issuer == "" {
		return Config{}, fmt.Errorf("%s provider requires an issuer", s.Provider)
	}
	cfg.Leeway = s.Leeway
	return cfg, nil
}
