// Package domain contains the capability graph: security keys, grants,
// modules and packages.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SentinelKeyID is the reserved "no access" key. Resolution never yields an
// empty set; a principal without any grant holds exactly this key so that
// IN (...) predicates built from the result stay well-formed.
const SentinelKeyID = snowflake.ID(0)

// SecurityKey is the atomic capability unit. Names are unique per owner,
// case-insensitively; NameLower carries the uniqueness index.
type SecurityKey struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	OwnerID     snowflake.ID  `gorm:"column:owner_id;not null;index;uniqueIndex:ux_security_keys_owner_name,priority:1" json:"owner_id"`
	Name        string        `gorm:"type:text;not null" json:"name"`
	NameLower   string        `gorm:"column:name_lower;type:text;not null;uniqueIndex:ux_security_keys_owner_name,priority:2" json:"-"`
	Description string        `gorm:"type:text" json:"description"`
	ModuleID    *snowflake.ID `gorm:"column:module_id;index" json:"module_id"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (SecurityKey) TableName() string { return "security_keys" }

// SubjectKind discriminates what a grant is attached to.
type SubjectKind string

const (
	SubjectGroup   SubjectKind = "group"
	SubjectUserOrg SubjectKind = "user_org"
)

// GrantSubject identifies the holder of a grant: a group or a
// user-organization link, never both.
type GrantSubject struct {
	Kind SubjectKind
	ID   snowflake.ID
}

func ForGroup(id snowflake.ID) GrantSubject {
	return GrantSubject{Kind: SubjectGroup, ID: id}
}

func ForUserOrg(id snowflake.ID) GrantSubject {
	return GrantSubject{Kind: SubjectUserOrg, ID: id}
}

// UserRight is a grant or denial of one key to one subject. Exactly one of
// GroupID / UserOrgID is set; the repository enforces the shape when mapping
// from GrantSubject.
type UserRight struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	KeyID     snowflake.ID  `gorm:"column:key_id;not null;index" json:"key_id"`
	GroupID   *snowflake.ID `gorm:"column:group_id;index" json:"group_id"`
	UserOrgID *snowflake.ID `gorm:"column:user_org_id;index" json:"user_org_id"`
	Denied    bool          `gorm:"not null;default:false" json:"denied"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UserRight) TableName() string { return "user_rights" }

// Subject reconstructs the sum type from the persisted columns.
func (r UserRight) Subject() GrantSubject {
	if r.GroupID != nil {
		return ForGroup(*r.GroupID)
	}
	if r.UserOrgID != nil {
		return ForUserOrg(*r.UserOrgID)
	}
	return GrantSubject{}
}

// Module is a reusable bundle of capability.
type Module struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null;uniqueIndex:ux_modules_name" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Module) TableName() string { return "modules" }

// OwnerModule assigns a module to an owner for the half-open window
// [start_date, end_date); a null end_date is unbounded.
type OwnerModule struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID   snowflake.ID `gorm:"column:owner_id;not null;index" json:"owner_id"`
	ModuleID  snowflake.ID `gorm:"column:module_id;not null;index" json:"module_id"`
	StartDate time.Time    `gorm:"column:start_date;not null" json:"start_date"`
	EndDate   *time.Time   `gorm:"column:end_date" json:"end_date"`
}

// TableName sets the database table name.
func (OwnerModule) TableName() string { return "owner_modules" }

// Package is a named bundle of modules.
type Package struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_packages_name" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Package) TableName() string { return "packages" }

// PackageModule joins a module into a package.
type PackageModule struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	PackageID snowflake.ID `gorm:"column:package_id;not null;index" json:"package_id"`
	ModuleID  snowflake.ID `gorm:"column:module_id;not null;index" json:"module_id"`
}

// TableName sets the database table name.
func (PackageModule) TableName() string { return "package_modules" }

// OwnerPackage assigns a package to an owner with its own validity window.
type OwnerPackage struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID   snowflake.ID `gorm:"column:owner_id;not null;index" json:"owner_id"`
	PackageID snowflake.ID `gorm:"column:package_id;not null;index" json:"package_id"`
	StartDate time.Time    `gorm:"column:start_date;not null" json:"start_date"`
	EndDate   *time.Time   `gorm:"column:end_date" json:"end_date"`
}

// TableName sets the database table name.
func (OwnerPackage) TableName() string { return "owner_packages" }

// WindowContains reports whether the half-open window [start, end) covers t.
// end == nil means unbounded; end exactly equal to t is already expired.
func WindowContains(start time.Time, end *time.Time, t time.Time) bool {
	if t.Before(start) {
		return false
	}
	if end == nil {
		return true
	}
	return t.Before(*end)
}
