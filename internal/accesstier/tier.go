// Package accesstier defines the ordered privilege levels used across the
// authorization engine.
package accesstier

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a privilege level. The numeric codes are persisted and must not
// change; they are not consecutive, so ordering always goes through rank.
type Tier int

const (
	None                Tier = 0
	OrganizationManager Tier = 1
	TenantManager       Tier = 2
	ApplicationManager  Tier = 4
	Developer           Tier = 8
)

var ErrUnknownTier = errors.New("unknown_access_tier")

// rank maps the persisted code onto the declared total order.
var rank = map[Tier]int{
	None:                0,
	OrganizationManager: 1,
	TenantManager:       2,
	ApplicationManager:  3,
	Developer:           4,
}

var names = map[Tier]string{
	None:                "NONE",
	OrganizationManager: "ORGANIZATION_MANAGER",
	TenantManager:       "TENANT_MANAGER",
	ApplicationManager:  "APPLICATION_MANAGER",
	Developer:           "DEVELOPER",
}

func (t Tier) Valid() bool {
	_, ok := rank[t]
	return ok
}

func (t Tier) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Compare reports -1, 0 or 1 according to the declared order. Unknown tiers
// rank below None so that a corrupted value never grants anything.
func Compare(a, b Tier) int {
	ra, rb := rankOf(a), rankOf(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether t meets threshold under the declared order.
func AtLeast(t, threshold Tier) bool {
	return Compare(t, threshold) >= 0
}

func rankOf(t Tier) int {
	if r, ok := rank[t]; ok {
		return r
	}
	return -1
}

// Parse resolves a tier from its persisted name.
func Parse(s string) (Tier, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	for tier, name := range names {
		if name == normalized {
			return tier, nil
		}
	}
	return None, ErrUnknownTier
}

// All returns the tiers in ascending order.
func All() []Tier {
	return []Tier{None, OrganizationManager, TenantManager, ApplicationManager, Developer}
}
