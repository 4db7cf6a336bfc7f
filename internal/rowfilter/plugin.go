package rowfilter

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const skipKey = "rowfilter:skip"

// Skip returns a session whose statements bypass installed row filters. The
// engine itself uses it to read membership and grant tables before the
// tenant filters exist.
func Skip(db *gorm.DB) *gorm.DB {
	return db.Set(skipKey, true)
}

// Plugin injects registry predicates into query, update and delete
// statements whose table has filters installed.
type Plugin struct {
	registry *Registry
}

func NewPlugin(registry *Registry) *Plugin {
	return &Plugin{registry: registry}
}

func (p *Plugin) Name() string { return "rowfilter" }

func (p *Plugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("rowfilter:query", p.apply); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("rowfilter:update", p.apply); err != nil {
		return err
	}
	return db.Callback().Delete().Before("gorm:delete").Register("rowfilter:delete", p.apply)
}

func (p *Plugin) apply(db *gorm.DB) {
	if db.Statement == nil || db.Statement.Table == "" {
		return
	}
	if _, ok := db.Get(skipKey); ok {
		return
	}
	exprs := p.registry.ForTable(db.Statement.Table)
	if len(exprs) == 0 {
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: exprs})
}
