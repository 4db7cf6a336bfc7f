// Package domain contains persistence models and contracts for password
// policy and login auditing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PasswordRecord is one entry in a user's append-only password history. At
// most one record per user has a null end_date; that record is the current
// password.
type PasswordRecord struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index" json:"user_id"`
	StartDate        time.Time    `gorm:"column:start_date;not null;index" json:"start_date"`
	EndDate          *time.Time   `gorm:"column:end_date" json:"end_date"`
	Salt             string       `gorm:"type:text;not null" json:"-"`
	Hash             string       `gorm:"type:text;not null" json:"-"`
	IterationVersion int          `gorm:"column:iteration_version;not null;default:0" json:"iteration_version"`
}

// TableName sets the database table name.
func (PasswordRecord) TableName() string { return "password_records" }

// LoginAttempt is an audit row for one credential check. IDs are ULIDs so
// the rows sort by time without an extra index.
type LoginAttempt struct {
	ID       string       `gorm:"primaryKey;type:text" json:"id"`
	UserID   snowflake.ID `gorm:"column:user_id;not null;index" json:"user_id"`
	At       time.Time    `gorm:"column:at;not null" json:"at"`
	Success  bool         `gorm:"not null" json:"success"`
	Reason   string       `gorm:"type:text" json:"reason"`
	LogoutAt *time.Time   `gorm:"column:logout_at" json:"logout_at"`
}

// TableName sets the database table name.
func (LoginAttempt) TableName() string { return "login_attempts" }

// Login failure reasons recorded on attempts.
const (
	ReasonBadPassword = "bad_password"
	ReasonLocked      = "locked"
	ReasonExpired     = "expired"
	ReasonInactive    = "inactive"
)
