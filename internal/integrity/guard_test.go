package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/config"
	"github.com/smallbiznis/clavis/internal/observability/metrics"
	permdomain "github.com/smallbiznis/clavis/internal/permission/domain"
	"github.com/smallbiznis/clavis/internal/rowfilter"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/clavis/internal/tenant/repository"
	"github.com/smallbiznis/clavis/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// The test digest covers a subset of SecurityTables; the fixture only
// migrates what the scenarios touch.
var testTables = []string{"users", "groups", "security_keys", "user_rights"}

func setupGuard(t *testing.T, enabled bool) (*Guard, *gorm.DB, *snowflake.Node, tenantdomain.Owner) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&tenantdomain.Owner{},
		&tenantdomain.Organization{},
		&tenantdomain.User{},
		&tenantdomain.Group{},
		&tenantdomain.UserOrganizationLink{},
		&tenantdomain.GroupMember{},
		&permdomain.SecurityKey{},
		&permdomain.UserRight{},
		&permdomain.Module{},
		&permdomain.OwnerModule{},
		&permdomain.Package{},
		&permdomain.PackageModule{},
		&permdomain.OwnerPackage{},
		&rowfilter.FilterRule{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	owner := tenantdomain.Owner{
		ID:           node.Generate(),
		Name:         "acme",
		DBBinding:    "acme",
		FilterField:  "organization_id",
		RegisteredAt: clk.Now(),
	}
	require.NoError(t, conn.Create(&owner).Error)

	cfg := config.Config{IntegrityGuardEnabled: enabled}
	guard := NewGuard(conn, zap.NewNop(), tenantrepo.NewRepository(conn, clk), cfg, metrics.NewNop())
	return guard, conn, node, owner
}

func TestComputeIsDeterministic(t *testing.T) {
	guard, conn, node, owner := setupGuard(t, true)
	ctx := context.Background()

	require.NoError(t, conn.Create(&tenantdomain.User{
		ID: node.Generate(), OwnerID: owner.ID, Name: "alice", Active: true,
	}).Error)

	first, err := guard.Compute(ctx, testTables)
	require.NoError(t, err)
	second, err := guard.Compute(ctx, testTables)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64, "hex sha-256")
}

func TestComputeChangesWhenRowsChange(t *testing.T) {
	guard, conn, node, owner := setupGuard(t, true)
	ctx := context.Background()

	base, err := guard.Compute(ctx, testTables)
	require.NoError(t, err)

	user := tenantdomain.User{ID: node.Generate(), OwnerID: owner.ID, Name: "alice", Active: true}
	require.NoError(t, conn.Create(&user).Error)
	afterInsert, err := guard.Compute(ctx, testTables)
	require.NoError(t, err)
	assert.NotEqual(t, base, afterInsert)

	require.NoError(t, conn.Model(&tenantdomain.User{}).Where("id = ?", user.ID).Update("name", "mallory").Error)
	afterEdit, err := guard.Compute(ctx, testTables)
	require.NoError(t, err)
	assert.NotEqual(t, afterInsert, afterEdit)
}

func TestVerifyDetectsTampering(t *testing.T) {
	guard, conn, node, owner := setupGuard(t, true)
	ctx := context.Background()

	user := tenantdomain.User{ID: node.Generate(), OwnerID: owner.ID, Name: "alice", Active: true}
	require.NoError(t, conn.Create(&user).Error)
	require.NoError(t, guard.Update(ctx, owner.Name))

	ok, err := guard.Verify(ctx, owner.Name)
	require.NoError(t, err)
	assert.True(t, ok)

	// An edit that bypasses the engine invalidates the stored digest.
	require.NoError(t, conn.Exec("UPDATE users SET name = 'mallory' WHERE id = ?", user.ID).Error)

	ok, err = guard.Verify(ctx, owner.Name)
	require.NoError(t, err)
	assert.False(t, ok)

	// Updating the digest acknowledges the current state.
	require.NoError(t, guard.Update(ctx, owner.Name))
	ok, err = guard.Verify(ctx, owner.Name)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyIgnoresVolatileColumns(t *testing.T) {
	guard, conn, node, owner := setupGuard(t, true)
	ctx := context.Background()

	user := tenantdomain.User{ID: node.Generate(), OwnerID: owner.ID, Name: "alice", Active: true}
	require.NoError(t, conn.Create(&user).Error)
	require.NoError(t, guard.Update(ctx, owner.Name))

	require.NoError(t, conn.Exec("UPDATE users SET updated_at = ? WHERE id = ?",
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), user.ID).Error)

	ok, err := guard.Verify(ctx, owner.Name)
	require.NoError(t, err)
	assert.True(t, ok, "updated_at churn is not drift")
}

func TestVerifyDisabledAlwaysPasses(t *testing.T) {
	guard, conn, node, owner := setupGuard(t, false)
	ctx := context.Background()

	require.NoError(t, conn.Create(&tenantdomain.User{
		ID: node.Generate(), OwnerID: owner.ID, Name: "alice", Active: true,
	}).Error)

	// No digest was ever stored, yet the disabled guard reports success.
	ok, err := guard.Verify(ctx, owner.Name)
	require.NoError(t, err)
	assert.True(t, ok)
}
