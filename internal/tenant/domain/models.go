// Package domain contains persistence models for tenant entities.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/accesstier"
	"gorm.io/datatypes"
)

// ZeroOwnerID is the system owner. Rows bound to it are visible to every
// tenant (global security keys, shared modules).
const ZeroOwnerID = snowflake.ID(0)

// Owner is the tenant root. It owns organizations, users, groups, modules
// and security keys.
type Owner struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name         string            `gorm:"type:text;not null;uniqueIndex:ux_owners_name" json:"name"`
	DBBinding    string            `gorm:"column:db_binding;type:text;not null" json:"db_binding"`
	FilterField  string            `gorm:"column:filter_field;type:text;not null;default:organization_id" json:"filter_field"`
	LicenseCount int               `gorm:"column:license_count;not null;default:0" json:"license_count"`
	ContentHash  string            `gorm:"column:content_hash;type:text" json:"-"`
	RegisteredAt time.Time         `gorm:"column:registered_at;not null" json:"registered_at"`
	ActivatedAt  *time.Time        `gorm:"column:activated_at" json:"activated_at"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Owner) TableName() string { return "owners" }

// Organization is a sub-tenant unit within an Owner.
type Organization struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID   snowflake.ID `gorm:"column:owner_id;not null;index;uniqueIndex:ux_organizations_owner_name,priority:1" json:"owner_id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_organizations_owner_name,priority:2" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// User is a principal. Organization membership, group membership and direct
// grants all hang off UserOrganizationLink rows, never off the bare user.
type User struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	OwnerID    snowflake.ID    `gorm:"column:owner_id;not null;index;uniqueIndex:ux_users_owner_name,priority:1" json:"owner_id"`
	Name       string          `gorm:"type:text;not null;uniqueIndex:ux_users_owner_name,priority:2" json:"name"`
	Email      string          `gorm:"type:text" json:"email"`
	AccessTier accesstier.Tier `gorm:"column:access_tier;not null;default:0" json:"access_tier"`
	Locked     bool            `gorm:"not null;default:false" json:"locked"`
	LockedAt   *time.Time      `gorm:"column:locked_at" json:"locked_at"`
	Active     bool            `gorm:"not null;default:true" json:"active"`
	Deleted    bool            `gorm:"not null;default:false" json:"deleted"`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Group bundles user-organization links and key grants.
type Group struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID   snowflake.ID `gorm:"column:owner_id;not null;index;uniqueIndex:ux_groups_owner_name,priority:1" json:"owner_id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_groups_owner_name,priority:2" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Group) TableName() string { return "groups" }

// UserOrganizationLink joins a user to an organization. Capabilities are
// scoped to this link so the same user can hold different keys per
// organization.
type UserOrganizationLink struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID `gorm:"column:user_id;not null;index;uniqueIndex:ux_user_org,priority:1" json:"user_id"`
	OrganizationID snowflake.ID `gorm:"column:organization_id;not null;index;uniqueIndex:ux_user_org,priority:2" json:"organization_id"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UserOrganizationLink) TableName() string { return "user_organization_links" }

// GroupMember joins a user-organization link into a group.
type GroupMember struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	GroupID   snowflake.ID `gorm:"column:group_id;not null;index;uniqueIndex:ux_group_member,priority:1" json:"group_id"`
	UserOrgID snowflake.ID `gorm:"column:user_org_id;not null;index;uniqueIndex:ux_group_member,priority:2" json:"user_org_id"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (GroupMember) TableName() string { return "group_members" }
