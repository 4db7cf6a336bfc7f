// Package session holds per-principal runtime state: the resolved-key cache,
// the runtime key overlay and the installed filter set. A session belongs to
// exactly one authenticated principal acting in one organization at a time
// and must not be shared mutably across goroutines.
package session

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/clavis/internal/observability/metrics"
	permdomain "github.com/smallbiznis/clavis/internal/permission/domain"
	permservice "github.com/smallbiznis/clavis/internal/permission/service"
	"github.com/smallbiznis/clavis/internal/rowfilter"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	"github.com/smallbiznis/clavis/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Listener observes organization switches.
type Listener func(oldOrgID, newOrgID snowflake.ID)

// Factory opens sessions against the shared engine components.
type Factory struct {
	log      *zap.Logger
	resolver permdomain.Resolver
	filters  *rowfilter.Manager
	tenants  tenantdomain.Repository
	metrics  *metrics.AuthzMetrics
}

func NewFactory(log *zap.Logger, resolver permdomain.Resolver, filters *rowfilter.Manager, tenants tenantdomain.Repository, m *metrics.AuthzMetrics) *Factory {
	return &Factory{
		log:      log.Named("session"),
		resolver: resolver,
		filters:  filters,
		tenants:  tenants,
		metrics:  m,
	}
}

// Open starts a session for an authenticated user. No organization context
// exists until the first SwitchOrganization call.
func (f *Factory) Open(ctx context.Context, userID snowflake.ID) (*Session, error) {
	user, err := f.tenants.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	owner, err := f.tenants.FindOwner(ctx, user.OwnerID)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	return &Session{
		id:       id,
		log:      f.log.With(zap.String("session_id", id.String())),
		factory:  f,
		user:     user,
		owner:    owner,
		overlay:  permservice.NewOverlay(),
		resolved: permdomain.NewKeySet(permdomain.SentinelKeyID),
		vars:     make(map[string]string),
	}, nil
}

// Session is the per-principal state described above.
type Session struct {
	id      uuid.UUID
	log     *zap.Logger
	factory *Factory

	user   *tenantdomain.User
	owner  *tenantdomain.Owner
	orgID  snowflake.ID
	linkID snowflake.ID

	resolved  permdomain.KeySet
	overlay   *permservice.Overlay
	vars      map[string]string
	listeners []Listener
}

func (s *Session) ID() uuid.UUID { return s.id }

// OrganizationID returns the current organization, zero before the first
// switch.
func (s *Session) OrganizationID() snowflake.ID { return s.orgID }

// Context annotates ctx with the session's tenant identifiers so host code
// can read them downstream without threading the session itself.
func (s *Session) Context(ctx context.Context) context.Context {
	ctx = tenantctx.WithOwnerID(ctx, s.owner.ID)
	if s.orgID != 0 {
		ctx = tenantctx.WithOrganizationID(ctx, s.orgID)
	}
	if s.linkID != 0 {
		ctx = tenantctx.WithUserOrgID(ctx, s.linkID)
	}
	return ctx
}

// OnOrganizationChanged registers a listener fired after each successful
// switch.
func (s *Session) OnOrganizationChanged(l Listener) {
	s.listeners = append(s.listeners, l)
}

// SetVariable exposes a context variable to declarative filter rules.
func (s *Session) SetVariable(name, value string) {
	s.vars[name] = value
}

// Overlay returns the session's runtime key overlay.
func (s *Session) Overlay() *permservice.Overlay { return s.overlay }

// EffectiveKeys applies the overlay to the cached resolution.
func (s *Session) EffectiveKeys() permdomain.KeySet {
	return s.overlay.EffectiveKeys(s.resolved)
}

// SwitchOrganization re-resolves permissions for the new organization,
// reinstalls all three filter categories and notifies listeners once with
// the old/new pair. The previous organization's resolution never leaks into
// the new context.
func (s *Session) SwitchOrganization(ctx context.Context, orgID snowflake.ID) (rowfilter.Report, error) {
	var report rowfilter.Report

	resolved, err := s.factory.resolver.Resolve(ctx, s.user.ID, orgID)
	if err != nil {
		return report, err
	}
	link, err := s.factory.tenants.FindLink(ctx, s.user.ID, orgID)
	if err != nil {
		return report, err
	}

	oldOrgID := s.orgID
	s.orgID = orgID
	s.linkID = link.ID
	s.resolved = resolved

	s.vars["owner_id"] = s.owner.ID.String()
	s.vars["organization_id"] = orgID.String()
	s.vars["user_id"] = s.user.ID.String()
	s.vars["user_org_id"] = link.ID.String()

	effective := s.EffectiveKeys()
	merge(&report, s.factory.filters.ApplyOwnerFilter(ctx, s.owner.ID))
	merge(&report, s.factory.filters.ApplyOrganizationFilter(ctx, s.owner, orgID))
	merge(&report, s.factory.filters.ApplyDeclarativeFilters(ctx, effective, s.vars))
	s.factory.metrics.FilterInstallFailed(len(report.Failed))

	for _, l := range s.listeners {
		l(oldOrgID, orgID)
	}

	s.log.Info("organization switched",
		zap.String("old_organization_id", oldOrgID.String()),
		zap.String("new_organization_id", orgID.String()),
		zap.Int("effective_keys", len(effective)),
		zap.Int("failed_filters", len(report.Failed)),
	)
	return report, nil
}

// Close removes installed filters and discards runtime state. Persisted data
// is never touched.
func (s *Session) Close() {
	s.factory.filters.RemoveAll()
	s.overlay.Reset()
	s.resolved = permdomain.NewKeySet(permdomain.SentinelKeyID)
	s.orgID = 0
	s.linkID = 0
}

func merge(into *rowfilter.Report, from rowfilter.Report) {
	for name, err := range from.Failed {
		if into.Failed == nil {
			into.Failed = make(map[string]error)
		}
		into.Failed[name] = err
	}
}

var Module = fx.Module("session",
	fx.Provide(NewFactory),
)
