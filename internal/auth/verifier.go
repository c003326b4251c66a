// Package auth verifies bearer tokens issued by the trusted identity
// provider and exposes the decoded permission claims.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/casting-agency/internal/apperr"
)

// Options constrains which tokens the Verifier accepts. Empty Issuer or
// Audience disables that check.
type Options struct {
	Algorithms []string
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// Verifier turns a raw bearer token into Claims or an *apperr.AuthError.
type Verifier struct {
	keys   KeySource
	parser *jwt.Parser
}

// NewVerifier builds a verifier. Algorithms defaults to RS256; "none" is
// always rejected by the parser.
func NewVerifier(keys KeySource, opts Options) *Verifier {
	algs := opts.Algorithms
	if len(algs) == 0 {
		algs = []string{jwt.SigningMethodRS256.Alg()}
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		popts = append(popts, jwt.WithAudience(opts.Audience))
	}
	return &Verifier{keys: keys, parser: jwt.NewParser(popts...)}
}

// Verify checks signature, expiry and claims of raw.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.keys.Key(ctx, t)
	})
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// classify maps jwt parser errors onto the auth error codes. Expiry is
// checked first because an expired token also carries ErrTokenInvalidClaims.
func classify(err error) *apperr.AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.NewAuthError(apperr.CodeExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperr.NewAuthError(apperr.CodeInvalidSignature, err)
	}
	return apperr.NewAuthError(apperr.CodeInvalidClaims, err)
}
