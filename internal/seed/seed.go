// Package seed bootstraps the system rows the engine relies on.
package seed

import (
	"context"
	"errors"
	"time"

	permdomain "github.com/smallbiznis/clavis/internal/permission/domain"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	"gorm.io/gorm"
)

const (
	systemOwnerName  = "system"
	sentinelKeyName  = "no.access"
	sentinelKeyLower = "no.access"
)

// EnsureSystemRows creates the zero owner and the sentinel "no access" key
// when missing. Both carry id 0 on purpose: the zero owner marks globally
// visible rows and the sentinel key is what empty resolutions collapse to.
func EnsureSystemRows(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSystemOwner(ctx, tx); err != nil {
			return err
		}
		return ensureSentinelKey(ctx, tx)
	})
}

func ensureSystemOwner(ctx context.Context, tx *gorm.DB) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&tenantdomain.Owner{}).
		Where("id = ?", tenantdomain.ZeroOwnerID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	return tx.WithContext(ctx).Exec(
		`INSERT INTO owners (id, name, db_binding, filter_field, license_count, registered_at, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		int64(tenantdomain.ZeroOwnerID), systemOwnerName, systemOwnerName, "organization_id", 0, now, now, now,
	).Error
}

func ensureSentinelKey(ctx context.Context, tx *gorm.DB) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&permdomain.SecurityKey{}).
		Where("id = ?", permdomain.SentinelKeyID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO security_keys (id, owner_id, name, name_lower, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		int64(permdomain.SentinelKeyID), int64(tenantdomain.ZeroOwnerID),
		sentinelKeyName, sentinelKeyLower, "reserved no-access key", time.Now().UTC(),
	).Error
}
