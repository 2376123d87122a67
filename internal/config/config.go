// Package config handles hub configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lookout-fleet/lookout/internal/tenant"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level hub configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Tenancy   TenancyConfig   `json:"tenancy,omitempty"`
	Presence  PresenceConfig  `json:"presence,omitempty"`
	Stream    StreamConfig    `json:"stream,omitempty"`
	Session   SessionConfig   `json:"session,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":3001"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	StaticDir      string   `json:"static_dir,omitempty"`      // path to built admin UI files
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider         string      `json:"provider,omitempty"`           // "builtin" (default) or "oidc"
	OIDCIssuer       string      `json:"oidc_issuer,omitempty"`        // e.g. "https://auth.example.com"
	OIDCTenantsClaim string      `json:"oidc_tenants_claim,omitempty"` // claim holding allowed tenants; default "tenants"
	JWTSecret        string      `json:"jwt_secret"`
	JWTExpiry        Duration    `json:"jwt_expiry,omitempty"`
	AgentKey         string      `json:"agent_key,omitempty"` // shared key agents present as token=; empty admits any
	Admins           []AdminSeed `json:"admins,omitempty"`    // extra admin accounts beyond the built-in roster

	// EphemeralSecret is set when Default generated the secret at startup.
	EphemeralSecret bool `json:"-"`
}

// AdminSeed is an extra admin account defined in the config file.
// The password is hashed at startup and never kept in plain text.
type AdminSeed struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Tenants  []string `json:"tenants"`
}

// TenancyConfig defines the closed tenant set.
type TenancyConfig struct {
	Tenants       []string `json:"tenants,omitempty"`        // default CLA1,CLA2,DLA1,DLA2
	DefaultTenant string   `json:"default_tenant,omitempty"` // tenant assumed when an agent omits one
}

// PresenceConfig defines liveness sweep behavior.
type PresenceConfig struct {
	TTL           Duration `json:"ttl,omitempty"`            // silence before a device is marked offline; default 15s
	SweepInterval Duration `json:"sweep_interval,omitempty"` // default 3s
}

// StreamConfig defines frame ingest and delivery behavior.
type StreamConfig struct {
	MinFrameInterval Duration `json:"min_frame_interval,omitempty"` // ingest throttle; default 250ms
	ViewerTick       Duration `json:"viewer_tick,omitempty"`        // MJPEG part cadence; default 250ms
}

// SessionConfig defines per-connection behavior.
type SessionConfig struct {
	SendTimeout     Duration `json:"send_timeout,omitempty"`      // mailbox enqueue deadline; default 5s
	MaxMessageBytes int64    `json:"max_message_bytes,omitempty"` // max WebSocket message; default 8MB (base64 frames)
	MailboxSize     int      `json:"mailbox_size,omitempty"`      // outbound queue depth; default 64
}

// StorageConfig defines where the hub keeps its state.
type StorageConfig struct {
	DataDir string      `json:"data_dir,omitempty"` // aliases + compliance log; default "data"
	Audit   AuditConfig `json:"audit,omitempty"`
}

// AuditConfig defines the audit trail database.
type AuditConfig struct {
	Driver    string   `json:"driver,omitempty"`    // "sqlite" (default), "postgres", or "disabled"
	DSN       string   `json:"dsn,omitempty"`       // default <data_dir>/audit.db for sqlite
	Retention Duration `json:"retention,omitempty"` // default 720h
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `json:"level,omitempty"`
	Format   string `json:"format,omitempty"`    // "json" or "text"
	RingSize int    `json:"ring_size,omitempty"` // entries kept for GET /api/logs; default 500
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // per authenticated user; default 10
	Burst             int     `json:"burst,omitempty"`               // default 20
	LoginPerMinute    int     `json:"login_per_minute,omitempty"`    // per client IP; default 5
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads a config file, applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a runnable configuration without a config file. The JWT
// secret comes from the JWT_SECRET environment variable; when that is unset
// an ephemeral secret is generated and sessions do not survive restarts.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.applyEnv()
	if cfg.Auth.JWTSecret == "" {
		secret, err := GenerateRandomSecret()
		if err != nil {
			return nil, err
		}
		cfg.Auth.JWTSecret = secret
		cfg.Auth.EphemeralSecret = true
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if t := os.Getenv("LOOKOUT_DEFAULT_TENANT"); t != "" {
		c.Tenancy.DefaultTenant = t
	}
	if dir := os.Getenv("LOOKOUT_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if dir := os.Getenv("LOOKOUT_STATIC_DIR"); dir != "" {
		c.Server.StaticDir = dir
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set JWT_SECRET)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret; generate a new one")
	}
	switch c.Auth.Provider {
	case "", "builtin":
	case "oidc":
		if c.Auth.OIDCIssuer == "" {
			return fmt.Errorf("auth.oidc_issuer is required when provider is oidc")
		}
	default:
		return fmt.Errorf("auth.provider %q is not supported", c.Auth.Provider)
	}
	switch c.Storage.Audit.Driver {
	case "", "sqlite", "postgres", "disabled":
	default:
		return fmt.Errorf("storage.audit.driver %q is not supported", c.Storage.Audit.Driver)
	}
	if c.Storage.Audit.Driver == "postgres" && c.Storage.Audit.DSN == "" {
		return fmt.Errorf("storage.audit.dsn is required for the postgres driver")
	}
	for i, a := range c.Auth.Admins {
		if a.Username == "" || a.Password == "" {
			return fmt.Errorf("auth.admins[%d]: username and password are required", i)
		}
		if len(a.Tenants) == 0 {
			return fmt.Errorf("auth.admins[%d]: at least one tenant grant is required", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3001"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 1 * time.Hour
	}
	if c.Auth.OIDCTenantsClaim == "" {
		c.Auth.OIDCTenantsClaim = "tenants"
	}
	if len(c.Tenancy.Tenants) == 0 {
		c.Tenancy.Tenants = tenant.DefaultTenants()
	}
	if c.Tenancy.DefaultTenant == "" {
		c.Tenancy.DefaultTenant = "CLA1"
	}
	if c.Presence.TTL.Duration == 0 {
		c.Presence.TTL.Duration = 15 * time.Second
	}
	if c.Presence.SweepInterval.Duration == 0 {
		c.Presence.SweepInterval.Duration = 3 * time.Second
	}
	if c.Stream.MinFrameInterval.Duration == 0 {
		c.Stream.MinFrameInterval.Duration = 250 * time.Millisecond
	}
	if c.Stream.ViewerTick.Duration == 0 {
		c.Stream.ViewerTick.Duration = 250 * time.Millisecond
	}
	if c.Session.SendTimeout.Duration == 0 {
		c.Session.SendTimeout.Duration = 5 * time.Second
	}
	if c.Session.MaxMessageBytes == 0 {
		c.Session.MaxMessageBytes = 8 * 1024 * 1024 // 8MB; base64 frames are large
	}
	if c.Session.MailboxSize == 0 {
		c.Session.MailboxSize = 64
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.Audit.Driver == "" {
		c.Storage.Audit.Driver = "sqlite"
	}
	if c.Storage.Audit.DSN == "" && c.Storage.Audit.Driver == "sqlite" {
		c.Storage.Audit.DSN = filepath.Join(c.Storage.DataDir, "audit.db")
	}
	if c.Storage.Audit.Retention.Duration == 0 {
		c.Storage.Audit.Retention.Duration = 30 * 24 * time.Hour // 30 days
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.RingSize == 0 {
		c.Logging.RingSize = 500
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.LoginPerMinute == 0 {
		c.RateLimit.LoginPerMinute = 5
	}
}
