package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// KeySource resolves the verification key for a parsed but not yet
// verified token.
type KeySource interface {
	Key(ctx context.Context, t *jwt.Token) (any, error)
}

var (
	errNoKey          = errors.New("no verification key for token")
	errUnexpectedAlgo = errors.New("unexpected signing method")
)

// HMACKey verifies HS256/384/512 tokens against a shared secret.
type HMACKey []byte

func (k HMACKey) Key(_ context.Context, t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errUnexpectedAlgo
	}
	return []byte(k), nil
}

// JWKS verifies asymmetric tokens with the issuer's published key set.
// Keys are cached by kid; an unknown kid triggers a refetch, rate limited
// by minRefresh. Concurrent refetches share one download, and lookups of
// cached keys never wait for it.
type JWKS struct {
	url        string
	client     *http.Client
	minRefresh time.Duration
	fetches    singleflight.Group

	mu        sync.RWMutex
	keys      map[string]any
	fetchedAt time.Time
}

// NewJWKS returns a key source reading url. A nil client uses a client
// with a 10 second timeout.
func NewJWKS(url string, client *http.Client, minRefresh time.Duration) *JWKS {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKS{url: url, client: client, minRefresh: minRefresh}
}

func (j *JWKS) Key(ctx context.Context, t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA, *jwt.SigningMethodRSAPSS:
	default:
		return nil, errUnexpectedAlgo
	}
	kid, _ := t.Header["kid"].(string)

	if k, ok := j.cached(kid); ok {
		return k, nil
	}
	if j.recentlyFetched() {
		return nil, fmt.Errorf("%w: kid %q", errNoKey, kid)
	}
	// the shared download must not die with whichever request started it
	fetchCtx := context.WithoutCancel(ctx)
	if _, err, _ := j.fetches.Do("jwks", func() (any, error) {
		if j.recentlyFetched() {
			return nil, nil
		}
		return nil, j.refresh(fetchCtx)
	}); err != nil {
		return nil, err
	}
	if k, ok := j.cached(kid); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q", errNoKey, kid)
}

func (j *JWKS) cached(kid string) (any, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lookup(kid)
}

func (j *JWKS) recentlyFetched() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.keys != nil && time.Since(j.fetchedAt) < j.minRefresh
}

// lookup finds kid in the cache. A token without kid is accepted only when
// the set holds exactly one key. Caller holds mu for reading.
func (j *JWKS) lookup(kid string) (any, bool) {
	if kid == "" && len(j.keys) == 1 {
		for _, k := range j.keys {
			return k, true
		}
	}
	k, ok := j.keys[kid]
	return k, ok
}

// refresh downloads the key set without holding mu, then swaps it in.
func (j *JWKS) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("jwks: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: fetch: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("jwks: decode: %w", err)
	}
	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		if !k.Valid() {
			continue
		}
		keys[k.KeyID] = k.Key
	}
	j.mu.Lock()
	j.keys = keys
	j.fetchedAt = time.Now()
	j.mu.Unlock()
	return nil
}

// KeyChain tries each source in order and returns the first key found.
type KeyChain []KeySource

func (c KeyChain) Key(ctx context.Context, t *jwt.Token) (any, error) {
	var errs []error
	for _, s := range c {
		k, err := s.Key(ctx, t)
		if err == nil {
			return k, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errNoKey
	}
	return nil, errors.Join(errs...)
}

// Sources selects the signing material the service trusts.
type Sources struct {
	Secret      string        // HS256 shared secret
	JWKSURL     string        // explicit key set location
	Issuer      string        // discovered when JWKSURL is empty
	JWKSRefresh time.Duration // minimum interval between key set downloads
}

// NewKeySource builds the key source for s: the shared secret, the issuer
// key set, or both as a KeyChain.
func NewKeySource(ctx context.Context, s Sources) (KeySource, error) {
	var chain KeyChain
	if s.Secret != "" {
		chain = append(chain, HMACKey(s.Secret))
	}
	url := s.JWKSURL
	if url == "" && s.Issuer != "" {
		discovered, err := DiscoverJWKSURL(ctx, s.Issuer)
		if err != nil {
			return nil, err
		}
		url = discovered
	}
	if url != "" {
		chain = append(chain, NewJWKS(url, nil, s.JWKSRefresh))
	}

	switch len(chain) {
	case 0:
		return nil, errors.New("no signing material configured")
	case 1:
		return chain[0], nil
	}
	return chain, nil
}
