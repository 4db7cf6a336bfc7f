package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Resolver computes the effective key set for a principal inside one
// organization. Resolve is a pure function of the grant rows, the group
// memberships, the module/package assignments and the clock.
type Resolver interface {
	Resolve(ctx context.Context, userID, orgID snowflake.ID) (KeySet, error)
	HasKey(ctx context.Context, userID, orgID snowflake.ID, keyName string) (bool, error)
	KeysForQuery(ctx context.Context, userID, orgID snowflake.ID) ([]snowflake.ID, error)
}

var (
	ErrKeyNotFound    = errors.New("security_key_not_found")
	ErrKeyNameTaken   = errors.New("security_key_name_taken")
	ErrInvalidSubject = errors.New("invalid_grant_subject")
	ErrNotMember      = errors.New("user_not_member_of_organization")
)
