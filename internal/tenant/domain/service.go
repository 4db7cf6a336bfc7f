package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/accesstier"
)

type Service interface {
	CreateOwner(ctx context.Context, req CreateOwnerRequest) (*Owner, error)
	GetOwner(ctx context.Context, id snowflake.ID) (*Owner, error)
	GetOwnerByName(ctx context.Context, name string) (*Owner, error)

	CreateOrganization(ctx context.Context, ownerID snowflake.ID, name string) (*Organization, error)
	DeleteOrganization(ctx context.Context, orgID snowflake.ID) error

	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	LockUser(ctx context.Context, userID snowflake.ID) error
	UnlockUser(ctx context.Context, userID snowflake.ID) error

	CreateGroup(ctx context.Context, ownerID snowflake.ID, name string) (*Group, error)

	AddUserToOrganization(ctx context.Context, userID, orgID snowflake.ID) (*UserOrganizationLink, error)
	AddLinkToGroup(ctx context.Context, groupID, userOrgID snowflake.ID) error
}

type CreateOwnerRequest struct {
	Name         string
	DBBinding    string
	FilterField  string
	LicenseCount int
}

type CreateUserRequest struct {
	OwnerID    snowflake.ID
	Name       string
	Email      string
	AccessTier accesstier.Tier
}

var (
	ErrInvalidName       = errors.New("invalid_name")
	ErrNameTaken         = errors.New("name_taken")
	ErrOwnerNotFound     = errors.New("owner_not_found")
	ErrOrgNotFound       = errors.New("organization_not_found")
	ErrUserNotFound      = errors.New("user_not_found")
	ErrGroupNotFound     = errors.New("group_not_found")
	ErrLinkNotFound      = errors.New("user_organization_link_not_found")
	ErrInvalidAccessTier = errors.New("invalid_access_tier")
	ErrLicenseLimit      = errors.New("license_limit_reached")
	ErrAlreadyMember     = errors.New("already_member")
)
