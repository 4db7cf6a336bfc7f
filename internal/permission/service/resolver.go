package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/observability/metrics"
	"github.com/smallbiznis/clavis/internal/permission/domain"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	"go.uber.org/zap"
)

type resolver struct {
	log     *zap.Logger
	repo    domain.Repository
	tenants tenantdomain.Repository
	clk     clock.Clock
	metrics *metrics.AuthzMetrics
}

func NewResolver(log *zap.Logger, repo domain.Repository, tenants tenantdomain.Repository, clk clock.Clock, m *metrics.AuthzMetrics) domain.Resolver {
	return &resolver{
		log:     log.Named("permission.resolver"),
		repo:    repo,
		tenants: tenants,
		clk:     clk,
		metrics: m,
	}
}

// Resolve computes the effective key set for (user, organization).
//
// Precedence, strictest first:
//   - a direct denial on the user-organization link excludes the key from
//     every path;
//   - a direct non-denied grant includes the key even when a group denies it;
//   - a group denial excludes group-, module- and package-reachable keys;
//   - otherwise group grants, active module assignments and active package
//     assignments all contribute.
//
// An empty result collapses to the sentinel "no access" key.
func (r *resolver) Resolve(ctx context.Context, userID, orgID snowflake.ID) (domain.KeySet, error) {
	done := r.metrics.ObserveResolve()
	defer done()

	user, err := r.tenants.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	link, err := r.tenants.FindLink(ctx, userID, orgID)
	if err != nil {
		if err == tenantdomain.ErrLinkNotFound {
			return nil, domain.ErrNotMember
		}
		return nil, err
	}

	now := r.clk.Now()

	groupIDs, err := r.repo.GroupIDsForLink(ctx, link.ID)
	if err != nil {
		return nil, err
	}
	directRights, err := r.repo.RightsForUserOrg(ctx, link.ID)
	if err != nil {
		return nil, err
	}
	groupRights, err := r.repo.RightsForGroups(ctx, groupIDs)
	if err != nil {
		return nil, err
	}
	moduleKeys, err := r.repo.ModuleKeyIDs(ctx, user.OwnerID, now)
	if err != nil {
		return nil, err
	}
	packageKeys, err := r.repo.PackageKeyIDs(ctx, user.OwnerID, now)
	if err != nil {
		return nil, err
	}

	// Step 1: denial set, direct and through groups.
	denied := domain.NewKeySet()
	directDenied := domain.NewKeySet()
	for _, right := range directRights {
		if right.Denied {
			denied.Add(right.KeyID)
			directDenied.Add(right.KeyID)
		}
	}
	for _, right := range groupRights {
		if right.Denied {
			denied.Add(right.KeyID)
		}
	}

	// Step 2: group- and module-reachable keys minus the denial set. The
	// per-row denial flag of a group grant is deliberately ignored here;
	// denial is resolved globally in step 1.
	reachable := domain.NewKeySet()
	for _, right := range groupRights {
		reachable.Add(right.KeyID)
	}
	for _, id := range moduleKeys {
		reachable.Add(id)
	}
	reachable = reachable.Subtract(denied)

	// Step 3: direct non-denied grants. These are filtered only by their
	// own row's flag: a direct grant beats a group denial. A direct denial
	// for the same key still wins.
	direct := domain.NewKeySet()
	for _, right := range directRights {
		if !right.Denied && !directDenied.Contains(right.KeyID) {
			direct.Add(right.KeyID)
		}
	}

	// Step 4: package-reachable keys minus the denial set.
	packaged := domain.NewKeySet(packageKeys...).Subtract(denied)

	// Step 5: union of the three contributing sets.
	result := reachable.Union(direct).Union(packaged)

	// Step 6: never return an empty set.
	if len(result) == 0 {
		result = domain.NewKeySet(domain.SentinelKeyID)
	}

	r.log.Debug("resolved permissions",
		zap.String("user_id", userID.String()),
		zap.String("organization_id", orgID.String()),
		zap.Int("keys", len(result)),
	)
	return result, nil
}

func (r *resolver) HasKey(ctx context.Context, userID, orgID snowflake.ID, keyName string) (bool, error) {
	user, err := r.tenants.FindUser(ctx, userID)
	if err != nil {
		return false, err
	}
	key, err := r.repo.FindKeyByName(ctx, user.OwnerID, keyName)
	if err != nil {
		if err == domain.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}

	keys, err := r.Resolve(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	return keys.Contains(key.ID), nil
}

// KeysForQuery returns the resolved keys as an ordered, de-duplicated list
// suitable for IN (...) predicates. It is never empty.
func (r *resolver) KeysForQuery(ctx context.Context, userID, orgID snowflake.ID) ([]snowflake.ID, error) {
	keys, err := r.Resolve(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	ids := keys.SortedIDs()
	if len(ids) == 0 {
		ids = []snowflake.ID{domain.SentinelKeyID}
	}
	return ids, nil
}
