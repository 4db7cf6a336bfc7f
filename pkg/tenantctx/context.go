// Package tenantctx carries tenant scoping identifiers through context.
package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type keyType string

const (
	ownerIDKey   keyType = "owner_id"
	orgIDKey     keyType = "organization_id"
	userOrgIDKey keyType = "user_organization_link_id"
)

func WithOwnerID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, ownerIDKey, id)
}

func OwnerID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(ownerIDKey).(snowflake.ID)
	return id, ok
}

func WithOrganizationID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, orgIDKey, id)
}

func OrganizationID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(orgIDKey).(snowflake.ID)
	return id, ok
}

func WithUserOrgID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, userOrgIDKey, id)
}

func UserOrgID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(userOrgIDKey).(snowflake.ID)
	return id, ok
}
