package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lookout-fleet/lookout/internal/config"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestLoginSeededRoster(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, identity, err := svc.Login(ctx, "adminCLA", "@ims1234!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatal("Login returned empty token")
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected JWT with 3 parts, got %d", len(parts))
	}
	if identity.Username != "adminCLA" {
		t.Errorf("Username: got %q, want %q", identity.Username, "adminCLA")
	}
	if len(identity.Tenants) != 2 || identity.Tenants[0] != "CLA1" || identity.Tenants[1] != "CLA2" {
		t.Errorf("Tenants: got %v, want [CLA1 CLA2]", identity.Tenants)
	}
}

func TestLoginMasterAdmin(t *testing.T) {
	svc := newTestAuthService(t)

	_, identity, err := svc.Login(context.Background(), "admin", "@ims1234!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(identity.Tenants) != 1 || identity.Tenants[0] != "*" {
		t.Errorf("Tenants: got %v, want [*]", identity.Tenants)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestAuthService(t)

	_, _, err := svc.Login(context.Background(), "adminCLA", "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginNonexistentUser(t *testing.T) {
	svc := newTestAuthService(t)

	_, _, err := svc.Login(context.Background(), "nobody", "password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestConfigAdminsExtendRoster(t *testing.T) {
	svc, err := NewService(config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
		Admins: []config.AdminSeed{
			{Username: "ops", Password: "ops-password", Tenants: []string{"DLA2"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, identity, err := svc.Login(context.Background(), "ops", "ops-password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(identity.Tenants) != 1 || identity.Tenants[0] != "DLA2" {
		t.Errorf("Tenants: got %v, want [DLA2]", identity.Tenants)
	}

	// The compiled-in roster still works.
	if _, _, err := svc.Login(context.Background(), "admin", "@ims1234!"); err != nil {
		t.Errorf("seeded admin login: %v", err)
	}
}

func TestConfigAdminOverridesSeed(t *testing.T) {
	svc, err := NewService(config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
		Admins: []config.AdminSeed{
			{Username: "admin", Password: "rotated-password", Tenants: []string{"*"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.Login(context.Background(), "admin", "@ims1234!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old seed password should be rejected, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "admin", "rotated-password"); err != nil {
		t.Errorf("overridden password should work: %v", err)
	}
}

func TestValidateToken(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "adminDLA", "@ims1234!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	identity, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if identity.Username != "adminDLA" {
		t.Errorf("Username: got %q, want %q", identity.Username, "adminDLA")
	}
	if len(identity.Tenants) != 2 || identity.Tenants[0] != "DLA1" {
		t.Errorf("Tenants: got %v, want [DLA1 DLA2]", identity.Tenants)
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	svc := newTestAuthService(t)

	_, err := svc.ValidateToken(context.Background(), "not-a-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	svc, err := NewService(config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: -1 * time.Hour}, // expired 1h ago
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "admin", "@ims1234!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestTokenFromDifferentSecret(t *testing.T) {
	svc := newTestAuthService(t)
	other, err := NewService(config.AuthConfig{
		JWTSecret: "another-secret-at-least-32-chars-xx",
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
	})
	if err != nil {
		t.Fatal(err)
	}

	token, _, err := other.Login(context.Background(), "admin", "@ims1234!")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for foreign token, got %v", err)
	}
}

func TestVerifyAgentKey(t *testing.T) {
	open := newTestAuthService(t)
	if !open.VerifyAgentKey("agent") || !open.VerifyAgentKey("") {
		t.Error("with no key configured every agent token should pass")
	}

	keyed, err := NewService(config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
		AgentKey:  "fleet-key",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !keyed.VerifyAgentKey("fleet-key") {
		t.Error("matching agent key should pass")
	}
	if keyed.VerifyAgentKey("wrong") || keyed.VerifyAgentKey("") {
		t.Error("wrong agent key should fail")
	}
}

func TestNewProvider(t *testing.T) {
	svc := newTestAuthService(t)

	p, err := NewProvider(config.AuthConfig{}, svc)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Name() != "builtin" {
		t.Errorf("Name() = %q, want builtin", p.Name())
	}

	if _, err := NewProvider(config.AuthConfig{Provider: "saml"}, svc); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestTenantsFromClaim(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int
	}{
		{"array", []any{"CLA1", "CLA2"}, 2},
		{"array with junk", []any{"CLA1", 7, ""}, 1},
		{"comma string", "CLA1, DLA1", 2},
		{"empty string", "", 0},
		{"nil", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tenantsFromClaim(tc.in); len(got) != tc.want {
				t.Errorf("tenantsFromClaim(%v) = %v, want %d entries", tc.in, got, tc.want)
			}
		})
	}
}
