package usertoken

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultJWKSCacheTTL   = 5 * time.Minute
	defaultMinRefetchWait = 30 * time.Second
)

var errUnknownKey = errors.New("unknown token key")

// KeySet caches the identity provider's published signing keys.
// Concurrent refreshes are coalesced into a single fetch.
type KeySet struct {
	url        string
	httpClient *http.Client
	defaultTTL time.Duration
	// minRefetch bounds how often an unknown kid may trigger a fetch while
	// the cached set is still fresh.
	minRefetch time.Duration

	mu        sync.RWMutex
	keys      map[string]any
	expires   time.Time
	fetchedAt time.Time

	group singleflight.Group
}

// NewKeySet creates an empty key cache for the given JWKS URL.
func NewKeySet(url string, httpClient *http.Client, ttl time.Duration) (*KeySet, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("key set requires jwksURL")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}
	return &KeySet{url: url, httpClient: httpClient, defaultTTL: ttl, minRefetch: defaultMinRefetchWait}, nil
}

// Key returns the public key for kid, fetching the key set when the cache
// is empty, expired, or does not know kid.
func (k *KeySet) Key(ctx context.Context, kid string) (any, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errUnknownKey
	}
	key, found, fresh := k.lookup(kid)
	if found && fresh {
		return key, nil
	}
	if !found && fresh && k.recentlyFetched() {
		return nil, errUnknownKey
	}
	if err := k.Refresh(ctx); err != nil {
		if found {
			slog.Warn("jwks refresh failed, using cached key", "kid", kid, "err", err)
			return key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	key, found, _ = k.lookup(kid)
	if !found {
		return nil, errUnknownKey
	}
	return key, nil
}

// Refresh fetches the key set and replaces the cache.
func (k *KeySet) Refresh(ctx context.Context) error {
	ch := k.group.DoChan("jwks", func() (any, error) {
		return nil, k.fetch(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *KeySet) lookup(kid string) (key any, found, fresh bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, found = k.keys[kid]
	return key, found, time.Now().UTC().Before(k.expires)
}

func (k *KeySet) recentlyFetched() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return !k.fetchedAt.IsZero() && time.Since(k.fetchedAt) < k.minRefetch
}

func (k *KeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]any, len(payload.Keys))
	for _, raw := range payload.Keys {
		kid := strings.TrimSpace(raw.Kid)
		if kid == "" {
			continue
		}
		if use := strings.TrimSpace(raw.Use); use != "" && use != "sig" {
			continue
		}
		pub, err := raw.publicKey()
		if err != nil {
			slog.Debug("skip jwk", "kid", kid, "err", err)
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable signing keys")
	}

	ttl := parseCacheMaxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = k.defaultTTL
	}

	k.mu.Lock()
	k.keys = keys
	k.fetchedAt = time.Now()
	k.expires = k.fetchedAt.UTC().Add(ttl)
	k.mu.Unlock()
	return nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (j jwk) publicKey() (any, error) {
	switch strings.ToUpper(strings.TrimSpace(j.Kty)) {
	case "RSA":
		return parseRSAPublicKey(j.N, j.E)
	case "EC":
		return parseECPublicKey(j.Crv, j.X, j.Y)
	default:
		return nil, fmt.Errorf("unsupported kty %q", j.Kty)
	}
}

func parseRSAPublicKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	eBig := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !eBig.IsInt64() {
		return nil, errors.New("invalid rsa key")
	}
	e := int(eBig.Int64())
	if e <= 0 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func parseECPublicKey(crv, xRaw, yRaw string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch strings.TrimSpace(crv) {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(xRaw))
	if err != nil {
		return nil, err
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(yRaw))
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(xBytes)
	y := new(big.Int).SetBytes(yBytes)
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("ec point not on curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func parseCacheMaxAge(cacheControl string) time.Duration {
	cacheControl = strings.TrimSpace(cacheControl)
	if cacheControl == "" {
		return 0
	}
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		secs, err := time.ParseDuration(strings.TrimPrefix(part, "max-age=") + "s")
		if err != nil {
			return 0
		}
		return secs
	}
	return 0
}
