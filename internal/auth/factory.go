package auth

import (
	"fmt"

	"github.com/lookout-fleet/lookout/internal/config"
)

// NewProvider creates the token verifier based on configuration. The builtin
// service doubles as the login provider either way.
func NewProvider(cfg config.AuthConfig, svc *Service) (Provider, error) {
	switch cfg.Provider {
	case "", "builtin":
		return svc, nil
	case "oidc":
		return NewOIDCProvider(cfg.OIDCIssuer, cfg.OIDCTenantsClaim)
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
