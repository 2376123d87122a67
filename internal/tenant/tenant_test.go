package tenant

import "testing"

func TestCanAccess(t *testing.T) {
	p := NewPolicy(DefaultTenants())

	cases := []struct {
		name         string
		adminTenants []string
		deviceTenant string
		want         bool
	}{
		{"member tenant", []string{"CLA1", "CLA2"}, "CLA1", true},
		{"second member tenant", []string{"CLA1", "CLA2"}, "CLA2", true},
		{"non-member tenant", []string{"CLA1", "CLA2"}, "DLA1", false},
		{"wildcard sees known tenant", []string{"*"}, "DLA2", true},
		{"wildcard denied unknown tenant", []string{"*"}, "ACME", false},
		{"member denied unknown tenant", []string{"CLA1"}, "ACME", false},
		{"empty grants", nil, "CLA1", false},
		{"empty device tenant", []string{"*"}, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.CanAccess(tc.adminTenants, tc.deviceTenant)
			if got != tc.want {
				t.Errorf("CanAccess(%v, %q) = %v, want %v", tc.adminTenants, tc.deviceTenant, got, tc.want)
			}
		})
	}
}

func TestKnown(t *testing.T) {
	p := NewPolicy([]string{"CLA1", " CLA2 ", "", "*"})

	if !p.Known("CLA1") {
		t.Error("CLA1 should be known")
	}
	if !p.Known("CLA2") {
		t.Error("CLA2 should be known after trimming")
	}
	if p.Known("") {
		t.Error("empty tenant should not be known")
	}
	if p.Known("*") {
		t.Error("wildcard is a grant, not a tenant")
	}
}

func TestHasWildcard(t *testing.T) {
	if !HasWildcard([]string{"CLA1", "*"}) {
		t.Error("expected wildcard to be detected")
	}
	if HasWildcard([]string{"CLA1", "CLA2"}) {
		t.Error("unexpected wildcard")
	}
	if HasWildcard(nil) {
		t.Error("nil list has no wildcard")
	}
}

func TestTenants(t *testing.T) {
	p := NewPolicy([]string{"CLA1", "CLA1", "DLA1"})
	got := p.Tenants()
	if len(got) != 2 {
		t.Fatalf("expected 2 tenants after dedup, got %d: %v", len(got), got)
	}
}
