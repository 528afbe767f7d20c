package usertoken

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"fileinasnap/pkg/domain"
)

const (
	testIssuer   = "https://tenant.example.com/"
	testAudience = "https://api.fileinasnap.test"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{Issuer: testIssuer, Audience: testAudience}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestNewVerifierRequiresIssuerAndAudience(t *testing.T) {
	if _, err := NewVerifier(Config{JWKSURL: "http://example.invalid", Audience: testAudience}); err == nil {
		t.Fatalf("expected missing issuer to fail")
	}
	if _, err := NewVerifier(Config{JWKSURL: "http://example.invalid", Issuer: testIssuer}); err == nil {
		t.Fatalf("expected missing audience to fail")
	}
}

func TestValidateReturnsClaims(t *testing.T) {
	key := mustRSAKey(t)
	srv := newJWKSServer(t, func() []map[string]string { return []map[string]string{toJWK("kid-1", key.PublicKey)} })
	v := mustVerifier(t, srv.URL)

	signed := signRS256(t, key, "kid-1", Claims{
		RegisteredClaims: validRegistered("auth0|user-a"),
		Email:            "a@example.com",
		Name:             "Alice",
		Scope:            "openid read:files",
		Permissions:      []string{"write:files"},
	})

	claims, err := v.Validate(context.Background(), signed)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "auth0|user-a" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	id := claims.Identity()
	if id.Name != "Alice" || len(id.Scopes) != 2 || id.Permissions[0] != "write:files" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry on identity")
	}
}

func TestValidateRefreshesOnUnknownKid(t *testing.T) {
	key1 := mustRSAKey(t)
	key2 := mustRSAKey(t)

	var mu sync.Mutex
	active := "kid-1"
	srv := newJWKSServer(t, func() []map[string]string {
		mu.Lock()
		defer mu.Unlock()
		if active == "kid-2" {
			return []map[string]string{toJWK("kid-2", key2.PublicKey)}
		}
		return []map[string]string{toJWK("kid-1", key1.PublicKey)}
	})
	v := mustVerifier(t, srv.URL)
	v.keys.minRefetch = 10 * time.Millisecond

	signed1 := signRS256(t, key1, "kid-1", Claims{RegisteredClaims: validRegistered("user-a")})
	if claims, err := v.Validate(context.Background(), signed1); err != nil || claims.Subject != "user-a" {
		t.Fatalf("verify token1 failed: claims=%+v err=%v", claims, err)
	}

	// Rotate to kid-2; once the refetch wait has passed the unknown kid forces a refetch.
	mu.Lock()
	active = "kid-2"
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	signed2 := signRS256(t, key2, "kid-2", Claims{RegisteredClaims: validRegistered("user-b")})
	if claims, err := v.Validate(context.Background(), signed2); err != nil || claims.Subject != "user-b" {
		t.Fatalf("verify token2 failed: claims=%+v err=%v", claims, err)
	}
}

func TestValidateRejectsAlteredSignature(t *testing.T) {
	key := mustRSAKey(t)
	srv := newJWKSServer(t, func() []map[string]string { return []map[string]string{toJWK("kid-1", key.PublicKey)} })
	v := mustVerifier(t, srv.URL)

	signed := signRS256(t, key, "kid-1", Claims{RegisteredClaims: validRegistered("user-a")})
	parts := strings.Split(signed, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err := v.Validate(context.Background(), tampered)
	if !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestValidateRejectsForgedKey(t *testing.T) {
	trusted := mustRSAKey(t)
	attacker := mustRSAKey(t)
	srv := newJWKSServer(t, func() []map[string]string { return []map[string]string{toJWK("kid-1", trusted.PublicKey)} })
	v := mustVerifier(t, srv.URL)

	signed := signRS256(t, attacker, "kid-1", Claims{RegisteredClaims: validRegistered("user-a")})
	if _, err := v.Validate(context.Background(), signed); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestValidateRejectsBadClaims(t *testing.T) {
	key := mustRSAKey(t)
	srv := newJWKSServer(t, func() []map[string]string { return []map[string]string{toJWK("kid-1", key.PublicKey)} })
	v := mustVerifier(t, srv.URL)

	cases := map[string]jwt.RegisteredClaims{
		"expired": func() jwt.RegisteredClaims {
			c := validRegistered("user-a")
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			return c
		}(),
		"wrong audience": func() jwt.RegisteredClaims {
			c := validRegistered("user-a")
			c.Audience = jwt.ClaimStrings{"someone-else"}
			return c
		}(),
		"wrong issuer": func() jwt.RegisteredClaims {
			c := validRegistered("user-a")
			c.Issuer = "https://evil.example.com/"
			return c
		}(),
		"future iat": func() jwt.RegisteredClaims {
			c := validRegistered("user-a")
			c.IssuedAt = jwt.NewNumericDate(time.Now().Add(2 * time.Minute))
			return c
		}(),
		"no expiry": func() jwt.RegisteredClaims {
			c := validRegistered("user-a")
			c.ExpiresAt = nil
			return c
		}(),
		"no subject": validRegistered(""),
	}
	for name, rc := range cases {
		signed := signRS256(t, key, "kid-1", Claims{RegisteredClaims: rc})
		if _, err := v.Validate(context.Background(), signed); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("%s: expected unauthenticated, got %v", name, err)
		}
	}
}

func TestValidateRejectsMalformedAndUnknownKid(t *testing.T) {
	key := mustRSAKey(t)
	srv := newJWKSServer(t, func() []map[string]string { return []map[string]string{toJWK("kid-1", key.PublicKey)} })
	v := mustVerifier(t, srv.URL)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := v.Validate(context.Background(), token); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("token %q: expected unauthenticated, got %v", token, err)
		}
	}

	signed := signRS256(t, key, "kid-missing", Claims{RegisteredClaims: validRegistered("user-a")})
	if _, err := v.Validate(context.Background(), signed); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("unknown kid: expected unauthenticated, got %v", err)
	}
}

func TestValidateRejectsHS256Downgrade(t *testing.T) {
	key := mustRSAKey(t)
	srv := newJWKSServer(t, func() []map[string]string { return []map[string]string{toJWK("kid-1", key.PublicKey)} })
	v := mustVerifier(t, srv.URL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: validRegistered("user-a")})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Validate(context.Background(), signed); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestValidateAcceptsES256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ec key: %v", err)
	}
	srv := newJWKSServer(t, func() []map[string]string {
		return []map[string]string{{
			"kty": "EC",
			"kid": "ec-1",
			"use": "sig",
			"crv": "P-256",
			"x":   base64.RawURLEncoding.EncodeToString(key.X.FillBytes(make([]byte, 32))),
			"y":   base64.RawURLEncoding.EncodeToString(key.Y.FillBytes(make([]byte, 32))),
		}}
	})
	v := mustVerifier(t, srv.URL)

	token := jwt.NewWithClaims(jwt.SigningMethodES256, Claims{RegisteredClaims: validRegistered("user-ec")})
	token.Header["kid"] = "ec-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if claims, err := v.Validate(context.Background(), signed); err != nil || claims.Subject != "user-ec" {
		t.Fatalf("validate es256: claims=%+v err=%v", claims, err)
	}
}

func TestValidateUnavailableWhenJWKSDown(t *testing.T) {
	key := mustRSAKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	v := mustVerifier(t, srv.URL)

	signed := signRS256(t, key, "kid-1", Claims{RegisteredClaims: validRegistered("user-a")})
	_, err := v.Validate(context.Background(), signed)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("unavailable must not be reported as unauthenticated")
	}
}

func TestConcurrentValidationCoalescesRefresh(t *testing.T) {
	key := mustRSAKey(t)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer srv.Close()
	v := mustVerifier(t, srv.URL)

	signed := signRS256(t, key, "kid-1", Claims{RegisteredClaims: validRegistered("user-a")})
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.Validate(context.Background(), signed); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent validate: %v", err)
	}
	if n := fetches.Load(); n > 2 {
		t.Fatalf("expected coalesced fetches, got %d", n)
	}
}

func TestUnknownKidDoesNotRefetchFreshKeySet(t *testing.T) {
	key := mustRSAKey(t)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer srv.Close()
	v := mustVerifier(t, srv.URL)

	good := signRS256(t, key, "kid-1", Claims{RegisteredClaims: validRegistered("user-a")})
	if _, err := v.Validate(context.Background(), good); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for i := 0; i < 10; i++ {
		bogus := signRS256(t, key, fmt.Sprintf("kid-unknown-%d", i), Claims{RegisteredClaims: validRegistered("user-a")})
		if _, err := v.Validate(context.Background(), bogus); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("unknown kid expected unauthenticated, got %v", err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("unknown kids within the refetch wait must reuse the cache, got %d fetches", n)
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, max-age=120"); got != 2*time.Minute {
		t.Fatalf("unexpected ttl: %v", got)
	}
	if got := parseCacheMaxAge("no-store"); got != 0 {
		t.Fatalf("unexpected ttl: %v", got)
	}
}

func mustVerifier(t *testing.T, url string) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		JWKSURL:  url,
		Issuer:   testIssuer,
		Audience: testAudience,
		Leeway:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func newJWKSServer(t *testing.T, keys func() []map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys()})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func validRegistered(subject string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    testIssuer,
		Audience:  jwt.ClaimStrings{testAudience},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
	}
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
