package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// OIDCProvider validates externally issued JWTs using the issuer's JWKS.
// Tenant grants come from a configurable claim; login stays with the
// builtin service.
type OIDCProvider struct {
	issuer       string
	tenantsClaim string
	jwks         keyfunc.Keyfunc
}

// NewOIDCProvider creates a provider that fetches JWKS from the issuer.
func NewOIDCProvider(issuer, tenantsClaim string) (*OIDCProvider, error) {
	if issuer == "" {
		return nil, fmt.Errorf("oidc issuer URL is required")
	}
	if tenantsClaim == "" {
		tenantsClaim = "tenants"
	}

	jwksURL := strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &OIDCProvider{
		issuer:       issuer,
		tenantsClaim: tenantsClaim,
		jwks:         jwks,
	}, nil
}

// ValidateToken parses an external JWT and returns an Identity.
func (p *OIDCProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}

	username := sub
	switch {
	case claimStr(claims, "preferred_username") != "":
		username = claimStr(claims, "preferred_username")
	case claimStr(claims, "name") != "":
		username = claimStr(claims, "name")
	case claimStr(claims, "email") != "":
		username = claimStr(claims, "email")
	}

	return &Identity{
		ID:       sub,
		Username: username,
		Tenants:  tenantsFromClaim(claims[p.tenantsClaim]),
	}, nil
}

// tenantsFromClaim accepts either a JSON array of strings or a
// comma-separated string.
func tenantsFromClaim(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

// Name returns the provider name.
func (p *OIDCProvider) Name() string { return "oidc" }
