package rowfilter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/permission/domain"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Filter name prefixes, one per category. Re-applying a category first drops
// every filter under its prefix.
const (
	prefixOwner       = "owner_scope:"
	prefixOrg         = "org_scope:"
	prefixRule        = "rule:"
	nameUsersDeleted  = "users_not_deleted"
	prefixDeletedMark = "deleted_marker:"
)

// ownerGlobalTables never receive the owner scope predicate.
var ownerGlobalTables = map[string]struct{}{
	"owners":          {},
	"modules":         {},
	"packages":        {},
	"package_modules": {},
}

// orgExcludedTables never receive the organization predicate: filtering them
// would break membership resolution itself.
var orgExcludedTables = map[string]struct{}{
	"organizations":           {},
	"user_organization_links": {},
}

// Report collects per-filter install failures. A failed filter does not stop
// the remaining ones from being applied.
type Report struct {
	Failed map[string]error
}

func (r *Report) fail(name string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]error)
	}
	r.Failed[name] = err
}

// OK reports whether every filter installed cleanly.
func (r *Report) OK() bool { return len(r.Failed) == 0 }

// FailedNames lists the filters that could not be installed, sorted.
func (r *Report) FailedNames() []string {
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Manager applies the three filter categories against the registry.
type Manager struct {
	db       *gorm.DB
	log      *zap.Logger
	registry *Registry

	mu     sync.Mutex
	tables map[string][]string // table -> column names, discovered once
}

func NewManager(db *gorm.DB, log *zap.Logger, registry *Registry) *Manager {
	return &Manager{
		db:       db,
		log:      log.Named("rowfilter"),
		registry: registry,
	}
}

// Registry exposes the underlying registry for removal and inspection.
func (m *Manager) Registry() *Registry { return m.registry }

// ApplyOwnerFilter installs owner_id IN (ownerID, 0) on every table carrying
// an owner_id column, except the owner-global exclusions.
func (m *Manager) ApplyOwnerFilter(ctx context.Context, ownerID snowflake.ID) Report {
	var report Report
	m.registry.RemovePrefix(prefixOwner)

	tables, err := m.tablesWithColumn(ctx, "owner_id")
	if err != nil {
		report.fail(prefixOwner+"*", err)
		return report
	}
	for _, table := range tables {
		if _, skip := ownerGlobalTables[table]; skip {
			continue
		}
		name := prefixOwner + table
		err := m.registry.Install(Filter{
			Name:     name,
			Table:    table,
			Field:    "owner_id",
			Operator: "IN",
			Values:   []any{ownerID, tenantdomain.ZeroOwnerID},
		})
		if err != nil {
			m.log.Warn("owner filter install failed", zap.String("filter", name), zap.Error(err))
			report.fail(name, err)
		}
	}
	return report
}

// ApplyOrganizationFilter installs the owner's configured filter field
// predicate on every table carrying that column, excluding the tables used
// to resolve membership.
func (m *Manager) ApplyOrganizationFilter(ctx context.Context, owner *tenantdomain.Owner, orgID snowflake.ID) Report {
	var report Report
	m.registry.RemovePrefix(prefixOrg)

	field := owner.FilterField
	if field == "" {
		field = "organization_id"
	}
	tables, err := m.tablesWithColumn(ctx, field)
	if err != nil {
		report.fail(prefixOrg+"*", err)
		return report
	}
	for _, table := range tables {
		if _, skip := orgExcludedTables[table]; skip {
			continue
		}
		name := prefixOrg + table
		err := m.registry.Install(Filter{
			Name:     name,
			Table:    table,
			Field:    field,
			Operator: "=",
			Values:   []any{orgID},
		})
		if err != nil {
			m.log.Warn("organization filter install failed", zap.String("filter", name), zap.Error(err))
			report.fail(name, err)
		}
	}
	return report
}

// ApplyDeclarativeFilters reads filter_rules for the effective keys,
// substitutes context variables, and installs the predicates. The two
// built-in filters (logically deleted users, deletion-marker rows) are always
// installed.
func (m *Manager) ApplyDeclarativeFilters(ctx context.Context, keys domain.KeySet, vars map[string]string) Report {
	var report Report
	m.registry.RemovePrefix(prefixRule)

	ids := keys.SortedIDs()
	if len(ids) > 0 {
		var rules []FilterRule
		err := Skip(m.db.WithContext(ctx)).
			Where("security_key_id IN ?", ids).
			Find(&rules).Error
		if err != nil {
			report.fail(prefixRule+"*", err)
		} else {
			for _, rule := range rules {
				name := fmt.Sprintf("%s%s:%s:%s", prefixRule, rule.KeyID, rule.Table, rule.Field)
				value := substituteVars(rule.Value, vars)
				if strings.Contains(value, "{{") {
					err := fmt.Errorf("unresolved variable in %q", rule.Value)
					m.log.Warn("declarative filter skipped", zap.String("filter", name), zap.Error(err))
					report.fail(name, err)
					continue
				}
				install := m.registry.Install(Filter{
					Name:     name,
					Table:    rule.Table,
					Field:    rule.Field,
					Operator: rule.Operator,
					Values:   parseLiteralList(value),
				})
				if install != nil {
					m.log.Warn("declarative filter install failed", zap.String("filter", name), zap.Error(install))
					report.fail(name, install)
				}
			}
		}
	}

	m.applyBuiltins(ctx, &report)
	return report
}

func (m *Manager) applyBuiltins(ctx context.Context, report *Report) {
	if err := m.registry.Install(Filter{
		Name:     nameUsersDeleted,
		Table:    "users",
		Field:    "deleted",
		Operator: "<>",
		Values:   []any{true},
	}); err != nil {
		report.fail(nameUsersDeleted, err)
	}

	tables, err := m.tablesWithColumn(ctx, "deleted_at")
	if err != nil {
		report.fail(prefixDeletedMark+"*", err)
		return
	}
	m.registry.RemovePrefix(prefixDeletedMark)
	for _, table := range tables {
		name := prefixDeletedMark + table
		if err := m.registry.Install(Filter{
			Name:     name,
			Table:    table,
			Field:    "deleted_at",
			Operator: "IS NULL",
		}); err != nil {
			report.fail(name, err)
		}
	}
}

// RemoveAll drops every installed filter, used at session teardown.
func (m *Manager) RemoveAll() {
	for _, name := range m.registry.Names() {
		m.registry.Remove(name)
	}
}

// tablesWithColumn discovers which schema tables carry the column. Results
// are cached for the connection's lifetime.
func (m *Manager) tablesWithColumn(ctx context.Context, column string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tables == nil {
		discovered, err := m.discoverTables(ctx)
		if err != nil {
			return nil, err
		}
		m.tables = discovered
	}

	var out []string
	for table, columns := range m.tables {
		for _, col := range columns {
			if col == column {
				out = append(out, table)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) discoverTables(ctx context.Context) (map[string][]string, error) {
	names, err := m.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil, err
	}

	tables := make(map[string][]string, len(names))
	for _, table := range names {
		rows, err := Skip(m.db.WithContext(ctx)).Raw("SELECT * FROM " + table + " WHERE 1 = 0").Rows()
		if err != nil {
			return nil, err
		}
		columns, err := rows.Columns()
		closeErr := rows.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
		tables[table] = columns
	}
	return tables, nil
}
