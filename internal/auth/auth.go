// Package auth provides authentication and authorization for the hub.
package auth

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lookout-fleet/lookout/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

// seedAdmins is the compiled-in administrator roster. Config may append or
// override entries via auth.admins.
var seedAdmins = []config.AdminSeed{
	{Username: "admin", Password: "@ims1234!", Tenants: []string{"*"}},
	{Username: "adminCLA", Password: "@ims1234!", Tenants: []string{"CLA1", "CLA2"}},
	{Username: "adminDLA", Password: "@ims1234!", Tenants: []string{"DLA1", "DLA2"}},
}

// Claims represents the JWT token claims.
type Claims struct {
	Username string   `json:"usr"`
	Tenants  []string `json:"tenants"`
	jwt.RegisteredClaims
}

type account struct {
	username     string
	passwordHash []byte
	tenants      []string
}

// Service is the builtin auth provider. Admin accounts are the compiled-in
// roster plus config extras; passwords are bcrypt-hashed at construction.
// It implements Provider and LoginProvider.
type Service struct {
	accounts  map[string]*account
	jwtSecret []byte
	jwtExpiry time.Duration
	agentKey  string
}

// NewService creates the builtin auth service.
func NewService(cfg config.AuthConfig) (*Service, error) {
	s := &Service{
		accounts:  make(map[string]*account),
		jwtSecret: []byte(cfg.JWTSecret),
		jwtExpiry: cfg.JWTExpiry.Duration,
		agentKey:  cfg.AgentKey,
	}

	for _, seed := range seedAdmins {
		if err := s.addAccount(seed); err != nil {
			return nil, err
		}
	}
	for _, extra := range cfg.Admins {
		if err := s.addAccount(extra); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) addAccount(seed config.AdminSeed) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", seed.Username, err)
	}
	s.accounts[seed.Username] = &account{
		username:     seed.Username,
		passwordHash: hash,
		tenants:      append([]string(nil), seed.Tenants...),
	}
	return nil
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// Login authenticates an admin and returns a signed token plus the identity.
func (s *Service) Login(ctx context.Context, username, password string) (string, *Identity, error) {
	acct, ok := s.accounts[username]
	if !ok {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.generateToken(acct)
	if err != nil {
		return "", nil, err
	}
	return token, identityOf(acct), nil
}

// ValidateToken validates a bearer token and returns the admin identity.
// This implements the Provider interface.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	return &Identity{
		ID:       claims.Username,
		Username: claims.Username,
		Tenants:  claims.Tenants,
	}, nil
}

// VerifyAgentKey checks the opaque token an agent presents on its WebSocket
// connect. With no key configured every agent is admitted.
func (s *Service) VerifyAgentKey(token string) bool {
	if s.agentKey == "" {
		return true
	}
	return hmac.Equal([]byte(s.agentKey), []byte(token))
}

func (s *Service) generateToken(acct *account) (string, error) {
	claims := &Claims{
		Username: acct.username,
		Tenants:  acct.tenants,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func identityOf(acct *account) *Identity {
	return &Identity{
		ID:       acct.username,
		Username: acct.username,
		Tenants:  append([]string(nil), acct.tenants...),
	}
}
