// Package tenant implements the access policy that scopes admins to the
// devices of the tenants they manage.
package tenant

import "strings"

// Wildcard grants an admin access to every known tenant.
const Wildcard = "*"

// DefaultTenants returns the tenant identifiers provisioned out of the box.
func DefaultTenants() []string {
	return []string{"CLA1", "CLA2", "DLA1", "DLA2"}
}

// Policy answers access questions against a closed set of known tenants.
// Devices claiming a tenant outside the set are invisible to every admin,
// wildcard or not.
type Policy struct {
	known map[string]struct{}
}

// NewPolicy builds a policy over the given tenant set. Empty and duplicate
// entries are ignored.
func NewPolicy(tenants []string) *Policy {
	p := &Policy{known: make(map[string]struct{}, len(tenants))}
	for _, t := range tenants {
		t = strings.TrimSpace(t)
		if t == "" || t == Wildcard {
			continue
		}
		p.known[t] = struct{}{}
	}
	return p
}

// Known reports whether the tenant is part of the configured set.
func (p *Policy) Known(tenant string) bool {
	_, ok := p.known[tenant]
	return ok
}

// Tenants returns the configured tenant set, order unspecified.
func (p *Policy) Tenants() []string {
	out := make([]string, 0, len(p.known))
	for t := range p.known {
		out = append(out, t)
	}
	return out
}

// CanAccess reports whether an admin holding adminTenants may see a device
// pinned to deviceTenant. An unknown device tenant is denied for everyone.
func (p *Policy) CanAccess(adminTenants []string, deviceTenant string) bool {
	if !p.Known(deviceTenant) {
		return false
	}
	for _, t := range adminTenants {
		if t == Wildcard || t == deviceTenant {
			return true
		}
	}
	return false
}

// HasWildcard reports whether the tenant list carries the wildcard grant.
func HasWildcard(tenants []string) bool {
	for _, t := range tenants {
		if t == Wildcard {
			return true
		}
	}
	return false
}
