// Package integrity detects out-of-band edits to the security tables by
// comparing a stored digest against a freshly computed one. It is advisory:
// it catches drift, not a motivated attacker with write access to the digest
// column.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/clavis/internal/config"
	"github.com/smallbiznis/clavis/internal/observability/metrics"
	"github.com/smallbiznis/clavis/internal/rowfilter"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SecurityTables is the fixed set the digest covers.
var SecurityTables = []string{
	"users",
	"groups",
	"group_members",
	"organizations",
	"user_organization_links",
	"security_keys",
	"user_rights",
	"modules",
	"owner_modules",
	"packages",
	"package_modules",
	"owner_packages",
	"filter_rules",
}

// volatileColumns change legitimately and are excluded from hashing.
var volatileColumns = map[string]struct{}{
	"content_hash": {},
	"updated_at":   {},
}

type Guard struct {
	db      *gorm.DB
	log     *zap.Logger
	tenants tenantdomain.Repository
	enabled bool
	metrics *metrics.AuthzMetrics
}

func NewGuard(db *gorm.DB, log *zap.Logger, tenants tenantdomain.Repository, cfg config.Config, m *metrics.AuthzMetrics) *Guard {
	return &Guard{
		db:      db,
		log:     log.Named("integrity.guard"),
		tenants: tenants,
		enabled: cfg.IntegrityGuardEnabled,
		metrics: m,
	}
}

// Compute hashes each table's rows deterministically and folds the per-table
// digests into one. This walks whole tables; call it at session start or on
// demand, not per query.
func (g *Guard) Compute(ctx context.Context, tables []string) (string, error) {
	final := sha256.New()
	for _, table := range tables {
		digest, err := g.hashTable(ctx, table)
		if err != nil {
			return "", fmt.Errorf("hash table %s: %w", table, err)
		}
		final.Write([]byte(digest))
	}
	return hex.EncodeToString(final.Sum(nil)), nil
}

// Verify recomputes the digest and compares it with the one stored on the
// owner record. It reports true unconditionally when the guard is disabled.
func (g *Guard) Verify(ctx context.Context, ownerName string) (bool, error) {
	if !g.enabled {
		return true, nil
	}
	owner, err := g.tenants.FindOwnerByName(ctx, ownerName)
	if err != nil {
		return false, err
	}
	computed, err := g.Compute(ctx, SecurityTables)
	if err != nil {
		return false, err
	}

	match := computed == owner.ContentHash
	g.metrics.IntegrityCheck(match)
	if !match {
		g.log.Warn("integrity digest mismatch",
			zap.String("owner", ownerName),
		)
	}
	return match, nil
}

// Update recomputes the digest and persists it on the owner record.
func (g *Guard) Update(ctx context.Context, ownerName string) error {
	owner, err := g.tenants.FindOwnerByName(ctx, ownerName)
	if err != nil {
		return err
	}
	computed, err := g.Compute(ctx, SecurityTables)
	if err != nil {
		return err
	}
	return g.tenants.UpdateOwnerContentHash(ctx, owner.ID, computed)
}

func (g *Guard) hashTable(ctx context.Context, table string) (string, error) {
	var rows []map[string]any
	err := rowfilter.Skip(g.db.WithContext(ctx)).
		Table(table).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, row := range rows {
		columns := make([]string, 0, len(row))
		for col := range row {
			if _, volatile := volatileColumns[col]; volatile {
				continue
			}
			columns = append(columns, col)
		}
		sort.Strings(columns)

		parts := make([]string, len(columns))
		for i, col := range columns {
			parts[i] = fmt.Sprintf("%s=%v", col, normalize(row[col]))
		}
		h.Write([]byte(strings.Join(parts, "|")))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalize keeps the serialization stable across drivers.
func normalize(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case nil:
		return ""
	default:
		return value
	}
}

var Module = fx.Module("integrity",
	fx.Provide(NewGuard),
)
