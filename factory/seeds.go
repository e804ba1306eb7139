package factory

import (
	"embed"
	"fmt"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

//go:embed seeds/*.json
var seeds embed.FS

// SeedPolicies loads a bundled policy set by name ("nes") and assigns it
// to tenant. Policy IDs are prefixed with the tenant ID.
func (f *PolicyFactory) SeedPolicies(name string, tenant generic.TenantID) ([]timeoff.LeavePolicy, error) {
	data, err := seeds.ReadFile("seeds/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown policy seed %q: %w", name, err)
	}
	return f.ForTenant(data, tenant)
}

// ForTenant parses a policy file and assigns every policy to tenant.
func (f *PolicyFactory) ForTenant(data []byte, tenant generic.TenantID) ([]timeoff.LeavePolicy, error) {
	policies, err := f.ParsePolicies(data)
	if err != nil {
		return nil, err
	}
	for i := range policies {
		policies[i].TenantID = tenant
		if policies[i].ID != "" {
			policies[i].ID = string(tenant) + "-" + policies[i].ID
		}
	}
	return policies, nil
}
