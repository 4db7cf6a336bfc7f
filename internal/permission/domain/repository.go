package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateKey(ctx context.Context, key SecurityKey) error
	FindKey(ctx context.Context, id snowflake.ID) (*SecurityKey, error)
	FindKeyByName(ctx context.Context, ownerID snowflake.ID, name string) (*SecurityKey, error)

	Grant(ctx context.Context, right UserRight) error
	Revoke(ctx context.Context, keyID snowflake.ID, subject GrantSubject) error

	// Resolution reads. All of them see the raw tables; row filters are
	// bypassed so membership can be resolved before filters exist.
	GroupIDsForLink(ctx context.Context, userOrgID snowflake.ID) ([]snowflake.ID, error)
	RightsForUserOrg(ctx context.Context, userOrgID snowflake.ID) ([]UserRight, error)
	RightsForGroups(ctx context.Context, groupIDs []snowflake.ID) ([]UserRight, error)
	ModuleKeyIDs(ctx context.Context, ownerID snowflake.ID, now time.Time) ([]snowflake.ID, error)
	PackageKeyIDs(ctx context.Context, ownerID snowflake.ID, now time.Time) ([]snowflake.ID, error)

	CreateModule(ctx context.Context, mod Module) error
	AssignModule(ctx context.Context, om OwnerModule) error
	CreatePackage(ctx context.Context, pkg Package) error
	AddModuleToPackage(ctx context.Context, pm PackageModule) error
	AssignPackage(ctx context.Context, op OwnerPackage) error
}
