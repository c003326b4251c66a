// Package authtest mints tokens for tests: HS256 tokens signed with a
// shared secret and RS256 tokens from a throwaway issuer that serves its
// key set and discovery document over httptest.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// HS256Token builds and signs an HS256 JWT carrying sub and perms. A
// negative ttl produces an already expired token.
func HS256Token(secret, sub string, perms []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":         sub,
		"permissions": perms,
		"exp":         now.Add(ttl).Unix(),
		"iat":         now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// MustHS256 is HS256Token for tests.
func MustHS256(tb testing.TB, secret, sub string, perms []string) string {
	tb.Helper()
	tok, err := HS256Token(secret, sub, perms, time.Hour)
	if err != nil {
		tb.Fatalf("sign token: %v", err)
	}
	return tok
}

// Issuer is a fake identity provider.
type Issuer struct {
	Server *httptest.Server
	Key    *rsa.PrivateKey
	KID    string

	jwksHits atomic.Int32
}

// NewIssuer starts an issuer; it is shut down when the test ends.
func NewIssuer(tb testing.TB) *Issuer {
	tb.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generate key: %v", err)
	}
	iss := &Issuer{Key: key, KID: "test-key-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 base,
			"jwks_uri":               base + "/.well-known/jwks.json",
			"authorization_endpoint": base + "/authorize",
			"token_endpoint":         base + "/oauth/token",
		})
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		iss.jwksHits.Add(1)
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &iss.Key.PublicKey,
			KeyID:     iss.KID,
			Algorithm: "RS256",
			Use:       "sig",
		}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
	iss.Server = httptest.NewServer(mux)
	tb.Cleanup(iss.Server.Close)
	return iss
}

// URL is the issuer identifier (the iss claim).
func (i *Issuer) URL() string { return i.Server.URL }

// JWKSURL is where the public key set is served.
func (i *Issuer) JWKSURL() string { return i.Server.URL + "/.well-known/jwks.json" }

// JWKSHits counts key set downloads.
func (i *Issuer) JWKSHits() int { return int(i.jwksHits.Load()) }

// Sign signs arbitrary claims with the issuer key under kid.
func (i *Issuer) Sign(tb testing.TB, claims jwt.Claims, kid string) string {
	tb.Helper()
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		t.Header["kid"] = kid
	}
	s, err := t.SignedString(i.Key)
	if err != nil {
		tb.Fatalf("sign token: %v", err)
	}
	return s
}

// Token returns an RS256 token for sub with perms, issued by i for
// audience and valid for ttl.
func (i *Issuer) Token(tb testing.TB, sub, audience string, perms []string, ttl time.Duration) string {
	tb.Helper()
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":         i.URL(),
		"sub":         sub,
		"aud":         audience,
		"permissions": perms,
		"iat":         now.Unix(),
		"exp":         now.Add(ttl).Unix(),
	}
	return i.Sign(tb, claims, i.KID)
}
