package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// CurrentRecord returns the latest record still open at now (end_date
	// null or in the future), or ErrNoCurrentPassword.
	CurrentRecord(ctx context.Context, userID snowflake.ID, now time.Time) (*PasswordRecord, error)

	// RecentRecords returns the most recent n records ordered by start_date
	// descending.
	RecentRecords(ctx context.Context, userID snowflake.ID, n int) ([]PasswordRecord, error)

	CloseRecord(ctx context.Context, recordID snowflake.ID, endDate time.Time) error
	InsertRecord(ctx context.Context, record PasswordRecord) error

	// HasOpenRecord reports whether any record has end_date null or later
	// than now.
	HasOpenRecord(ctx context.Context, userID snowflake.ID, now time.Time) (bool, error)

	CreateAttempt(ctx context.Context, attempt LoginAttempt) error
	SetLogout(ctx context.Context, attemptID string, at time.Time) error

	// ConsecutiveFailures counts failed attempts since the last success.
	ConsecutiveFailures(ctx context.Context, userID snowflake.ID) (int, error)
}
