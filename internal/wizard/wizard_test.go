package wizard

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lookout-fleet/lookout/internal/config"
	"github.com/lookout-fleet/lookout/pkg/cli"
)

func TestWizardInteractive(t *testing.T) {
	input := strings.Join([]string{
		"70000",       // listen port: out of range, re-prompted
		"9090",        // listen port
		"",            // static dir (skip)
		"2",           // default tenant: CLA2
		"./state",     // data directory
		"1",           // audit driver: sqlite
		"",            // agent key: no
		"y",           // extra admin: yes
		"ops",         // username
		"opspassword", // password
		"DLA1, DLA2",  // tenants
	}, "\n") + "\n"

	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(input), Out: out}

	outputPath := filepath.Join(t.TempDir(), "lookout-hub.json")
	if err := New(p).Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q, want :9090", cfg.Server.Addr)
	}
	if !strings.Contains(out.String(), "between 1 and 65535") {
		t.Error("out-of-range port was not re-prompted")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		t.Errorf("auth.jwt_secret length = %d, want >= 32", len(cfg.Auth.JWTSecret))
	}
	if cfg.Tenancy.DefaultTenant != "CLA2" {
		t.Errorf("tenancy.default_tenant = %q, want CLA2", cfg.Tenancy.DefaultTenant)
	}
	if cfg.Storage.DataDir != "./state" {
		t.Errorf("storage.data_dir = %q, want ./state", cfg.Storage.DataDir)
	}
	if cfg.Storage.Audit.Driver != "sqlite" {
		t.Errorf("audit.driver = %q, want sqlite", cfg.Storage.Audit.Driver)
	}
	if cfg.Auth.AgentKey != "" {
		t.Errorf("auth.agent_key = %q, want empty", cfg.Auth.AgentKey)
	}
	if len(cfg.Auth.Admins) != 1 {
		t.Fatalf("auth.admins = %d entries, want 1", len(cfg.Auth.Admins))
	}
	admin := cfg.Auth.Admins[0]
	if admin.Username != "ops" || admin.Password != "opspassword" {
		t.Errorf("admin = %+v, want ops account", admin)
	}
	if len(admin.Tenants) != 2 || admin.Tenants[0] != "DLA1" || admin.Tenants[1] != "DLA2" {
		t.Errorf("admin.tenants = %v, want [DLA1 DLA2]", admin.Tenants)
	}

	// The generated file must load cleanly.
	loaded, err := config.Load(outputPath)
	if err != nil {
		t.Fatalf("config.Load of wizard output: %v", err)
	}
	if loaded.Server.Addr != ":9090" {
		t.Errorf("loaded addr = %q, want :9090", loaded.Server.Addr)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config mode = %o, want 600", info.Mode().Perm())
	}
}

func TestWizardDefaults(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "lookout-hub.json")

	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(""), Out: out}
	if err := New(p).RunDefaults(outputPath); err != nil {
		t.Fatalf("wizard.RunDefaults() error: %v", err)
	}

	cfg, err := config.Load(outputPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if cfg.Server.Addr != ":3001" {
		t.Errorf("addr = %q, want :3001", cfg.Server.Addr)
	}
	if cfg.Storage.Audit.Driver != "sqlite" {
		t.Errorf("audit driver = %q, want sqlite", cfg.Storage.Audit.Driver)
	}
	if cfg.Tenancy.DefaultTenant != "CLA1" {
		t.Errorf("default tenant = %q, want CLA1 (applied default)", cfg.Tenancy.DefaultTenant)
	}
}
