package usertoken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"fileinasnap/pkg/domain"
)

const defaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken covers every rejection of the token itself.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	// ErrKeySetUnavailable means the signing keys could not be fetched.
	ErrKeySetUnavailable = fmt.Errorf("%w: token verification unavailable", domain.ErrUnavailable)
)

var signingMethods = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodES256.Alg(),
	jwt.SigningMethodES384.Alg(),
	jwt.SigningMethodES512.Alg(),
}

// Config configures user access-token verification.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// Verifier validates bearer tokens issued by the identity provider (RS*/ES* + JWKS).
type Verifier struct {
	issuer   string
	audience string
	leeway   time.Duration
	keys     *KeySet
}

// NewVerifier creates a token verifier. It performs no network I/O; keys are
// fetched on first use or by Prefetch.
func NewVerifier(cfg Config) (*Verifier, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errors.New("token verifier requires issuer")
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errors.New("token verifier requires audience")
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	keys, err := NewKeySet(cfg.JWKSURL, cfg.HTTPClient, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
		keys:     keys,
	}, nil
}

// Prefetch warms the key cache.
func (v *Verifier) Prefetch(ctx context.Context) error {
	return v.keys.Refresh(ctx)
}

// Validate verifies signature, expiry, issuer and audience and returns the claims.
func (v *Verifier) Validate(ctx context.Context, token string) (Claims, error) {
	var claims Claims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return Claims{}, err
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: token subject missing", ErrInvalidToken)
	}
	return claims, nil
}
