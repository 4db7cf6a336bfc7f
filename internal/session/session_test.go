package session

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/observability/metrics"
	permdomain "github.com/smallbiznis/clavis/internal/permission/domain"
	permissionrepo "github.com/smallbiznis/clavis/internal/permission/repository"
	permservice "github.com/smallbiznis/clavis/internal/permission/service"
	"github.com/smallbiznis/clavis/internal/rowfilter"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/clavis/internal/tenant/repository"
	"github.com/smallbiznis/clavis/pkg/db"
	"github.com/smallbiznis/clavis/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sessionFixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	repo    permdomain.Repository
	factory *Factory
	owner   tenantdomain.Owner
	user    tenantdomain.User
	orgA    tenantdomain.Organization
	orgB    tenantdomain.Organization
	linkA   tenantdomain.UserOrganizationLink
	linkB   tenantdomain.UserOrganizationLink
}

func setupSession(t *testing.T) *sessionFixture {
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

	registry := rowfilter.NewRegistry()
	require.NoError(t, conn.Use(rowfilter.NewPlugin(registry)))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	nop := metrics.NewNop()

	tenants := tenantrepo.NewRepository(conn, clk)
	repo := permissionrepo.NewRepository(conn)
	resolver := permservice.NewResolver(log, repo, tenants, clk, nop)
	manager := rowfilter.NewManager(conn, log, registry)

	f := &sessionFixture{db: conn, node: node, repo: repo}
	f.factory = NewFactory(log, resolver, manager, tenants, nop)

	f.owner = tenantdomain.Owner{
		ID:           node.Generate(),
		Name:         "acme",
		DBBinding:    "acme",
		FilterField:  "organization_id",
		RegisteredAt: clk.Now(),
	}
	require.NoError(t, conn.Create(&f.owner).Error)

	f.orgA = tenantdomain.Organization{ID: node.Generate(), OwnerID: f.owner.ID, Name: "north"}
	f.orgB = tenantdomain.Organization{ID: node.Generate(), OwnerID: f.owner.ID, Name: "south"}
	require.NoError(t, conn.Create(&f.orgA).Error)
	require.NoError(t, conn.Create(&f.orgB).Error)

	f.user = tenantdomain.User{ID: node.Generate(), OwnerID: f.owner.ID, Name: "alice", Active: true}
	require.NoError(t, conn.Create(&f.user).Error)

	f.linkA = tenantdomain.UserOrganizationLink{ID: node.Generate(), UserID: f.user.ID, OrganizationID: f.orgA.ID}
	f.linkB = tenantdomain.UserOrganizationLink{ID: node.Generate(), UserID: f.user.ID, OrganizationID: f.orgB.ID}
	require.NoError(t, conn.Create(&f.linkA).Error)
	require.NoError(t, conn.Create(&f.linkB).Error)

	return f
}

func (f *sessionFixture) grantTo(t *testing.T, name string, linkID snowflake.ID) permdomain.SecurityKey {
	t.Helper()
	ctx := context.Background()
	key := permdomain.SecurityKey{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: name}
	require.NoError(t, f.repo.CreateKey(ctx, key))
	require.NoError(t, f.repo.Grant(ctx, permdomain.UserRight{
		ID: f.node.Generate(), KeyID: key.ID, UserOrgID: &linkID,
	}))
	return key
}

func TestSwitchOrganizationReplacesResolution(t *testing.T) {
	f := setupSession(t)
	ctx := context.Background()

	northKey := f.grantTo(t, "north.ops", f.linkA.ID)
	southKey := f.grantTo(t, "south.ops", f.linkB.ID)

	session, err := f.factory.Open(ctx, f.user.ID)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, snowflake.ID(0), session.OrganizationID())
	assert.Equal(t, permdomain.NewKeySet(permdomain.SentinelKeyID), session.EffectiveKeys())

	report, err := session.SwitchOrganization(ctx, f.orgA.ID)
	require.NoError(t, err)
	require.True(t, report.OK(), "failures: %v", report.FailedNames())
	assert.Equal(t, f.orgA.ID, session.OrganizationID())
	assert.True(t, session.EffectiveKeys().Contains(northKey.ID))
	assert.False(t, session.EffectiveKeys().Contains(southKey.ID))

	// Switching again fully replaces the cached resolution.
	report, err = session.SwitchOrganization(ctx, f.orgB.ID)
	require.NoError(t, err)
	require.True(t, report.OK())
	assert.Equal(t, f.orgB.ID, session.OrganizationID())
	assert.True(t, session.EffectiveKeys().Contains(southKey.ID))
	assert.False(t, session.EffectiveKeys().Contains(northKey.ID), "previous organization must not leak")
}

func TestSwitchOrganizationNotifiesListenersOnce(t *testing.T) {
	f := setupSession(t)
	ctx := context.Background()

	session, err := f.factory.Open(ctx, f.user.ID)
	require.NoError(t, err)
	defer session.Close()

	type change struct{ old, new snowflake.ID }
	var seen []change
	session.OnOrganizationChanged(func(oldOrg, newOrg snowflake.ID) {
		seen = append(seen, change{oldOrg, newOrg})
	})

	_, err = session.SwitchOrganization(ctx, f.orgA.ID)
	require.NoError(t, err)
	_, err = session.SwitchOrganization(ctx, f.orgB.ID)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, change{0, f.orgA.ID}, seen[0])
	assert.Equal(t, change{f.orgA.ID, f.orgB.ID}, seen[1])
}

func TestSwitchToNonMemberOrganizationFails(t *testing.T) {
	f := setupSession(t)
	ctx := context.Background()

	closed := tenantdomain.Organization{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: "closed"}
	require.NoError(t, f.db.Create(&closed).Error)

	session, err := f.factory.Open(ctx, f.user.ID)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.SwitchOrganization(ctx, f.orgA.ID)
	require.NoError(t, err)

	var listenerCalls int
	session.OnOrganizationChanged(func(_, _ snowflake.ID) { listenerCalls++ })

	_, err = session.SwitchOrganization(ctx, closed.ID)
	assert.ErrorIs(t, err, permdomain.ErrNotMember)
	assert.Equal(t, f.orgA.ID, session.OrganizationID(), "failed switch leaves the session in place")
	assert.Zero(t, listenerCalls)
}

func TestSwitchInstallsTenantFilters(t *testing.T) {
	f := setupSession(t)
	ctx := context.Background()

	otherOwner := tenantdomain.Owner{
		ID: f.node.Generate(), Name: "rival", DBBinding: "rival",
		FilterField: "organization_id", RegisteredAt: time.Now(),
	}
	require.NoError(t, f.db.Create(&otherOwner).Error)
	stranger := tenantdomain.User{ID: f.node.Generate(), OwnerID: otherOwner.ID, Name: "mallory", Active: true}
	require.NoError(t, f.db.Create(&stranger).Error)

	session, err := f.factory.Open(ctx, f.user.ID)
	require.NoError(t, err)

	report, err := session.SwitchOrganization(ctx, f.orgA.ID)
	require.NoError(t, err)
	require.True(t, report.OK(), "failures: %v", report.FailedNames())

	var users []tenantdomain.User
	require.NoError(t, f.db.Find(&users).Error)
	require.Len(t, users, 1, "other owners' users are filtered out")
	assert.Equal(t, f.user.ID, users[0].ID)

	session.Close()
	users = nil
	require.NoError(t, f.db.Find(&users).Error)
	assert.Len(t, users, 2, "closing the session removes the filters")
}

func TestSessionContextCarriesTenantIDs(t *testing.T) {
	f := setupSession(t)
	ctx := context.Background()

	session, err := f.factory.Open(ctx, f.user.ID)
	require.NoError(t, err)
	defer session.Close()

	annotated := session.Context(ctx)
	ownerID, ok := tenantctx.OwnerID(annotated)
	require.True(t, ok)
	assert.Equal(t, f.owner.ID, ownerID)
	_, ok = tenantctx.OrganizationID(annotated)
	assert.False(t, ok, "no organization before the first switch")

	_, err = session.SwitchOrganization(ctx, f.orgA.ID)
	require.NoError(t, err)

	annotated = session.Context(ctx)
	orgID, ok := tenantctx.OrganizationID(annotated)
	require.True(t, ok)
	assert.Equal(t, f.orgA.ID, orgID)
	linkID, ok := tenantctx.UserOrgID(annotated)
	require.True(t, ok)
	assert.Equal(t, f.linkA.ID, linkID)
}

func TestDeclarativeRuleSeesSessionVariables(t *testing.T) {
	f := setupSession(t)
	ctx := context.Background()

	key := f.grantTo(t, "scoped.links", f.linkA.ID)
	require.NoError(t, f.db.Create(&rowfilter.FilterRule{
		ID:       f.node.Generate(),
		KeyID:    key.ID,
		Table:    "group_members",
		Field:    "user_org_id",
		Operator: "=",
		Value:    "{{link_id}}",
	}).Error)

	group := tenantdomain.Group{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: "ops"}
	require.NoError(t, f.db.Create(&group).Error)
	require.NoError(t, f.db.Create(&tenantdomain.GroupMember{ID: f.node.Generate(), GroupID: group.ID, UserOrgID: f.linkA.ID}).Error)
	require.NoError(t, f.db.Create(&tenantdomain.GroupMember{ID: f.node.Generate(), GroupID: group.ID, UserOrgID: f.linkB.ID}).Error)

	session, err := f.factory.Open(ctx, f.user.ID)
	require.NoError(t, err)
	defer session.Close()

	session.SetVariable("link_id", f.linkA.ID.String())
	report, err := session.SwitchOrganization(ctx, f.orgA.ID)
	require.NoError(t, err)
	require.True(t, report.OK(), "failures: %v", report.FailedNames())

	var members []tenantdomain.GroupMember
	require.NoError(t, f.db.Find(&members).Error)
	require.Len(t, members, 1)
	assert.Equal(t, f.linkA.ID, members[0].UserOrgID)
}

func TestOverlayKeysFeedDeclarativeFilters(t *testing.T) {
	f := setupSession(t)
	ctx := context.Background()

	// The rule hangs off a key the user does not hold; only the runtime
	// overlay can activate it.
	key := permdomain.SecurityKey{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: "runtime.only"}
	require.NoError(t, f.repo.CreateKey(ctx, key))
	require.NoError(t, f.db.Create(&rowfilter.FilterRule{
		ID:       f.node.Generate(),
		KeyID:    key.ID,
		Table:    "groups",
		Field:    "name",
		Operator: "=",
		Value:    "ops",
	}).Error)

	require.NoError(t, f.db.Create(&tenantdomain.Group{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: "ops"}).Error)
	require.NoError(t, f.db.Create(&tenantdomain.Group{ID: f.node.Generate(), OwnerID: f.owner.ID, Name: "finance"}).Error)

	session, err := f.factory.Open(ctx, f.user.ID)
	require.NoError(t, err)
	defer session.Close()

	_, err = session.SwitchOrganization(ctx, f.orgA.ID)
	require.NoError(t, err)

	var groups []tenantdomain.Group
	require.NoError(t, f.db.Find(&groups).Error)
	assert.Len(t, groups, 2, "rule inactive without the key")

	session.Overlay().AddRuntimeKey(key.ID)
	_, err = session.SwitchOrganization(ctx, f.orgA.ID)
	require.NoError(t, err)

	groups = nil
	require.NoError(t, f.db.Find(&groups).Error)
	require.Len(t, groups, 1)
	assert.Equal(t, "ops", groups[0].Name)
}
