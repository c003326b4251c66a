package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// DiscoverJWKSURL resolves the issuer's key set location through its
// OpenID Connect discovery document.
func DiscoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("failed to parse discovery document: %w", err)
	}
	if meta.JWKSURL == "" {
		return "", fmt.Errorf("discovery document for %s has no jwks_uri", issuer)
	}
	return meta.JWKSURL, nil
}
