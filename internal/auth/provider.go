package auth

import "context"

// Identity is the authenticated admin as seen by every surface: REST
// handlers, stream endpoints, and the admin WebSocket.
type Identity struct {
	ID       string
	Username string
	Tenants  []string // tenant codes, or "*" for the whole fleet
}

// Provider validates bearer tokens and returns identities. The same
// provider serves Authorization headers and token query parameters.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Name() string
}

// LoginProvider is implemented by providers that support username/password
// login. External token providers do not.
type LoginProvider interface {
	Login(ctx context.Context, username, password string) (string, *Identity, error)
}

// AgentAuthenticator checks the opaque key a desktop agent presents when it
// opens its WebSocket. Admin identity never goes through this path.
type AgentAuthenticator interface {
	VerifyAgentKey(token string) bool
}
