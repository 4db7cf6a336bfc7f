// Package policy reads tenant-scoped configuration values such as password
// rule thresholds. The engine only ever reads these values; writing them is
// the hosting application's concern.
package policy

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Policy value names consulted by the engine.
const (
	PasswordMinLength              = "password.min_length"
	PasswordMaxLength              = "password.max_length"
	PasswordRequireLettersAndDigit = "password.require_letters_and_digits"
	PasswordUsernamePrefixLength   = "password.username_prefix_length"
	PasswordReuseWindow            = "password.reuse_window"
	PasswordRenewalDays            = "password.renewal_days"
	LoginLockoutThreshold          = "login.lockout_threshold"
)

// Store reads policy values scoped to an owner. A missing value is not an
// error; callers fall back to their defaults.
type Store interface {
	Value(ctx context.Context, ownerID snowflake.ID, name string) (string, bool, error)
	IntValue(ctx context.Context, ownerID snowflake.ID, name string, def int) (int, error)
	BoolValue(ctx context.Context, ownerID snowflake.ID, name string, def bool) (bool, error)
}

// OwnerSetting is one policy value row.
type OwnerSetting struct {
	ID      snowflake.ID `gorm:"primaryKey"`
	OwnerID snowflake.ID `gorm:"column:owner_id;not null;index;uniqueIndex:ux_owner_settings,priority:1"`
	Name    string       `gorm:"type:text;not null;uniqueIndex:ux_owner_settings,priority:2"`
	Value   string       `gorm:"type:text;not null"`
}

// TableName sets the database table name.
func (OwnerSetting) TableName() string { return "owner_settings" }

type store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

func (s *store) Value(ctx context.Context, ownerID snowflake.ID, name string) (string, bool, error) {
	var setting OwnerSetting
	err := s.db.WithContext(ctx).
		First(&setting, "owner_id = ? AND name = ?", ownerID, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return setting.Value, true, nil
}

func (s *store) IntValue(ctx context.Context, ownerID snowflake.ID, name string, def int) (int, error) {
	raw, ok, err := s.Value(ctx, ownerID, name)
	if err != nil || !ok {
		return def, err
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def, nil
	}
	return parsed, nil
}

func (s *store) BoolValue(ctx context.Context, ownerID snowflake.ID, name string, def bool) (bool, error) {
	raw, ok, err := s.Value(ctx, ownerID, name)
	if err != nil || !ok {
		return def, err
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return def, nil
	}
}

var Module = fx.Module("policy",
	fx.Provide(NewStore),
)
