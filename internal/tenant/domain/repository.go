package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOwner(ctx context.Context, owner Owner) error
	FindOwner(ctx context.Context, id snowflake.ID) (*Owner, error)
	FindOwnerByName(ctx context.Context, name string) (*Owner, error)
	UpdateOwnerContentHash(ctx context.Context, id snowflake.ID, hash string) error

	CreateOrganization(ctx context.Context, org Organization) error
	FindOrganization(ctx context.Context, id snowflake.ID) (*Organization, error)
	DeleteOrganizationCascade(ctx context.Context, orgID snowflake.ID) error

	CreateUser(ctx context.Context, user User) error
	FindUser(ctx context.Context, id snowflake.ID) (*User, error)
	CountActiveUsers(ctx context.Context, ownerID snowflake.ID) (int64, error)
	SetUserLocked(ctx context.Context, userID snowflake.ID, locked bool) error

	CreateGroup(ctx context.Context, group Group) error
	FindGroup(ctx context.Context, id snowflake.ID) (*Group, error)

	CreateLink(ctx context.Context, link UserOrganizationLink) error
	FindLink(ctx context.Context, userID, orgID snowflake.ID) (*UserOrganizationLink, error)
	CreateGroupMember(ctx context.Context, member GroupMember) error
}
