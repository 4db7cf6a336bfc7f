package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/observability/metrics"
	"github.com/smallbiznis/clavis/internal/permission/domain"
	permissionrepo "github.com/smallbiznis/clavis/internal/permission/repository"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/clavis/internal/tenant/repository"
	"github.com/smallbiznis/clavis/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type resolverFixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clk      *clock.FakeClock
	repo     domain.Repository
	resolver domain.Resolver
	owner    tenantdomain.Owner
	org      tenantdomain.Organization
	user     tenantdomain.User
	link     tenantdomain.UserOrganizationLink
}

func setupResolver(t *testing.T) *resolverFixture {
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
		&domain.SecurityKey{},
		&domain.UserRight{},
		&domain.Module{},
		&domain.OwnerModule{},
		&domain.Package{},
		&domain.PackageModule{},
		&domain.OwnerPackage{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	f := &resolverFixture{db: conn, node: node, clk: clk}
	f.repo = permissionrepo.NewRepository(conn)
	f.resolver = NewResolver(zap.NewNop(), f.repo, tenantrepo.NewRepository(conn, clk), clk, metrics.NewNop())

	f.owner = tenantdomain.Owner{
		ID:           node.Generate(),
		Name:         "acme",
		DBBinding:    "acme",
		FilterField:  "organization_id",
		RegisteredAt: clk.Now(),
	}
	require.NoError(t, conn.Create(&f.owner).Error)

	f.org = tenantdomain.Organization{ID: node.Generate(), OwnerID: f.owner.ID, Name: "hq"}
	require.NoError(t, conn.Create(&f.org).Error)

	f.user = tenantdomain.User{ID: node.Generate(), OwnerID: f.owner.ID, Name: "alice", Active: true}
	require.NoError(t, conn.Create(&f.user).Error)

	f.link = tenantdomain.UserOrganizationLink{ID: node.Generate(), UserID: f.user.ID, OrganizationID: f.org.ID}
	require.NoError(t, conn.Create(&f.link).Error)

	return f
}

func (f *resolverFixture) newKey(t *testing.T, name string) domain.SecurityKey {
	t.Helper()
	key := domain.SecurityKey{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: name}
	require.NoError(t, f.repo.CreateKey(context.Background(), key))
	return key
}

func (f *resolverFixture) newGroup(t *testing.T, name string) tenantdomain.Group {
	t.Helper()
	group := tenantdomain.Group{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: name}
	require.NoError(t, f.db.Create(&group).Error)
	return group
}

func (f *resolverFixture) join(t *testing.T, groupID snowflake.ID) {
	t.Helper()
	member := tenantdomain.GroupMember{ID: f.node.Generate(), GroupID: groupID, UserOrgID: f.link.ID}
	require.NoError(t, f.db.Create(&member).Error)
}

func (f *resolverFixture) grantGroup(t *testing.T, keyID, groupID snowflake.ID, denied bool) {
	t.Helper()
	require.NoError(t, f.repo.Grant(context.Background(), domain.UserRight{
		ID: f.node.Generate(), KeyID: keyID, GroupID: &groupID, Denied: denied,
	}))
}

func (f *resolverFixture) grantDirect(t *testing.T, keyID snowflake.ID, denied bool) {
	t.Helper()
	linkID := f.link.ID
	require.NoError(t, f.repo.Grant(context.Background(), domain.UserRight{
		ID: f.node.Generate(), KeyID: keyID, UserOrgID: &linkID, Denied: denied,
	}))
}

// newModule creates a module holding the given keys and assigns it to the
// fixture owner for the window [start, end).
func (f *resolverFixture) newModule(t *testing.T, start time.Time, end *time.Time, keys ...domain.SecurityKey) domain.Module {
	t.Helper()
	ctx := context.Background()
	mod := domain.Module{ID: f.node.Generate(), Name: "mod-" + f.node.Generate().String()}
	require.NoError(t, f.repo.CreateModule(ctx, mod))
	for _, key := range keys {
		require.NoError(t, f.db.Model(&domain.SecurityKey{}).
			Where("id = ?", key.ID).Update("module_id", mod.ID).Error)
	}
	require.NoError(t, f.repo.AssignModule(ctx, domain.OwnerModule{
		ID: f.node.Generate(), OwnerID: f.owner.ID, ModuleID: mod.ID, StartDate: start, EndDate: end,
	}))
	return mod
}

func TestResolveWithoutGrantsYieldsSentinel(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()

	keys, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NewKeySet(domain.SentinelKeyID), keys)
	assert.Equal(t, "0", keys.LiteralList())

	ids, err := f.resolver.KeysForQuery(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{domain.SentinelKeyID}, ids)
}

func TestResolveNonMember(t *testing.T) {
	f := setupResolver(t)

	stranger := tenantdomain.User{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: "bob", Active: true}
	require.NoError(t, f.db.Create(&stranger).Error)

	_, err := f.resolver.Resolve(context.Background(), stranger.ID, f.org.ID)
	assert.ErrorIs(t, err, domain.ErrNotMember)
}

func TestResolveGroupGrants(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()

	read := f.newKey(t, "ledger.read")
	write := f.newKey(t, "ledger.write")
	other := f.newKey(t, "admin.panel")

	group := f.newGroup(t, "accounting")
	f.join(t, group.ID)
	f.grantGroup(t, read.ID, group.ID, false)
	f.grantGroup(t, write.ID, group.ID, false)

	// A grant on a group the user is not a member of contributes nothing.
	foreign := f.newGroup(t, "admins")
	f.grantGroup(t, other.ID, foreign.ID, false)

	keys, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NewKeySet(read.ID, write.ID), keys)
}

func TestDirectGrantOverridesGroupDenial(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()

	key := f.newKey(t, "ledger.read")
	group := f.newGroup(t, "restricted")
	f.join(t, group.ID)
	f.grantGroup(t, key.ID, group.ID, true)
	f.grantDirect(t, key.ID, false)

	keys, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.True(t, keys.Contains(key.ID))
}

func TestDirectDenialOverridesEveryPath(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()

	key := f.newKey(t, "ledger.read")

	// Grant the key through every path at once.
	group := f.newGroup(t, "accounting")
	f.join(t, group.ID)
	f.grantGroup(t, key.ID, group.ID, false)
	f.newModule(t, f.clk.Now().Add(-time.Hour), nil, key)
	f.grantDirect(t, key.ID, false)

	// Then deny it directly.
	f.grantDirect(t, key.ID, true)

	keys, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.False(t, keys.Contains(key.ID))
	assert.Equal(t, domain.NewKeySet(domain.SentinelKeyID), keys)
}

func TestGroupDenialBlocksGroupAndModulePaths(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()

	blocked := f.newKey(t, "ledger.write")
	allowed := f.newKey(t, "ledger.read")
	f.newModule(t, f.clk.Now().Add(-time.Hour), nil, blocked, allowed)

	deny := f.newGroup(t, "readonly")
	f.join(t, deny.ID)
	f.grantGroup(t, blocked.ID, deny.ID, true)

	// Another group granting the same key does not undo the denial.
	grant := f.newGroup(t, "writers")
	f.join(t, grant.ID)
	f.grantGroup(t, blocked.ID, grant.ID, false)

	keys, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NewKeySet(allowed.ID), keys)
}

func TestModuleWindowEdges(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()
	now := f.clk.Now()

	startsNow := f.newKey(t, "starts.now")
	endsNow := f.newKey(t, "ends.now")
	future := f.newKey(t, "starts.later")

	end := now
	f.newModule(t, now, nil, startsNow)
	f.newModule(t, now.Add(-time.Hour), &end, endsNow)
	f.newModule(t, now.Add(time.Hour), nil, future)

	keys, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.True(t, keys.Contains(startsNow.ID), "window starting exactly now is active")
	assert.False(t, keys.Contains(endsNow.ID), "window ending exactly now is expired")
	assert.False(t, keys.Contains(future.ID))
}

func TestPackageKeys(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()
	now := f.clk.Now()

	granted := f.newKey(t, "reports.view")
	denied := f.newKey(t, "reports.export")

	// The module itself is not assigned to the owner; only the package is.
	mod := domain.Module{ID: f.node.Generate(), Name: "reports"}
	require.NoError(t, f.repo.CreateModule(ctx, mod))
	for _, key := range []domain.SecurityKey{granted, denied} {
		require.NoError(t, f.db.Model(&domain.SecurityKey{}).
			Where("id = ?", key.ID).Update("module_id", mod.ID).Error)
	}

	pkg := domain.Package{ID: f.node.Generate(), Name: "analytics"}
	require.NoError(t, f.repo.CreatePackage(ctx, pkg))
	require.NoError(t, f.repo.AddModuleToPackage(ctx, domain.PackageModule{
		ID: f.node.Generate(), PackageID: pkg.ID, ModuleID: mod.ID,
	}))
	require.NoError(t, f.repo.AssignPackage(ctx, domain.OwnerPackage{
		ID: f.node.Generate(), OwnerID: f.owner.ID, PackageID: pkg.ID, StartDate: now.Add(-time.Hour),
	}))

	group := f.newGroup(t, "limited")
	f.join(t, group.ID)
	f.grantGroup(t, denied.ID, group.ID, true)

	keys, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.True(t, keys.Contains(granted.ID))
	assert.False(t, keys.Contains(denied.ID), "group denial blocks package-reachable keys")
}

func TestResolveIsRepeatable(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()

	key := f.newKey(t, "ledger.read")
	group := f.newGroup(t, "accounting")
	f.join(t, group.ID)
	f.grantGroup(t, key.ID, group.ID, false)
	f.newModule(t, f.clk.Now().Add(-time.Hour), nil, f.newKey(t, "ledger.write"))

	first, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	second, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHasKeyMatchesCaseInsensitively(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()

	key := f.newKey(t, "Ledger.Read")
	f.grantDirect(t, key.ID, false)

	ok, err := f.resolver.HasKey(ctx, f.user.ID, f.org.ID, "ledger.read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.resolver.HasKey(ctx, f.user.ID, f.org.ID, "LEDGER.READ")
	require.NoError(t, err)
	assert.True(t, ok)

	// An unknown key name is not an error, just a negative answer.
	ok, err = f.resolver.HasKey(ctx, f.user.ID, f.org.ID, "no.such.key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverlayEffectiveKeys(t *testing.T) {
	f := setupResolver(t)
	ctx := context.Background()

	granted := f.newKey(t, "ledger.read")
	extra := f.newKey(t, "ledger.write")
	f.grantDirect(t, granted.ID, false)

	resolved, err := f.resolver.Resolve(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)

	overlay := NewOverlay()
	assert.Equal(t, resolved, overlay.EffectiveKeys(resolved))

	overlay.AddRuntimeKey(extra.ID)
	effective := overlay.EffectiveKeys(resolved)
	assert.True(t, effective.Contains(granted.ID))
	assert.True(t, effective.Contains(extra.ID))

	overlay.RemoveRuntimeKey(granted.ID)
	effective = overlay.EffectiveKeys(resolved)
	assert.False(t, effective.Contains(granted.ID))
	assert.True(t, effective.Contains(extra.ID))

	// Re-adding clears a prior removal, and Reset drops the whole overlay.
	overlay.AddRuntimeKey(granted.ID)
	assert.True(t, overlay.EffectiveKeys(resolved).Contains(granted.ID))
	overlay.Reset()
	assert.Equal(t, resolved, overlay.EffectiveKeys(resolved))
}
