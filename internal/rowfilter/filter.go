// Package rowfilter installs named row-level predicates on the shared gorm
// connection so queries automatically scope to the caller's tenant.
package rowfilter

import (
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm/clause"
)

var ErrUnknownOperator = errors.New("unknown_filter_operator")

// Filter is one named predicate bound to a table. Installing a filter with a
// name that already exists replaces the previous instance.
type Filter struct {
	Name     string
	Table    string
	Field    string
	Operator string
	Values   []any
}

// expression renders the predicate as a gorm clause.
func (f Filter) expression() (clause.Expression, error) {
	switch f.Operator {
	case "=", "eq":
		return clause.Eq{Column: clause.Column{Table: f.Table, Name: f.Field}, Value: first(f.Values)}, nil
	case "<>", "!=", "neq":
		return clause.Neq{Column: clause.Column{Table: f.Table, Name: f.Field}, Value: first(f.Values)}, nil
	case "IN", "in":
		return clause.IN{Column: clause.Column{Table: f.Table, Name: f.Field}, Values: f.Values}, nil
	case "IS NULL", "is null":
		return clause.Expr{SQL: fmt.Sprintf("%s.%s IS NULL", f.Table, f.Field)}, nil
	case "IS NOT NULL", "is not null":
		return clause.Expr{SQL: fmt.Sprintf("%s.%s IS NOT NULL", f.Table, f.Field)}, nil
	case ">", ">=", "<", "<=", "LIKE", "like":
		return clause.Expr{
			SQL:  fmt.Sprintf("%s.%s %s ?", f.Table, f.Field, f.Operator),
			Vars: []any{first(f.Values)},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, f.Operator)
	}
}

func first(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// Registry holds the currently installed filters. Install and Remove are
// named, idempotent, last-writer-wins operations.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Filter
	byTable map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Filter),
		byTable: make(map[string][]string),
	}
}

// Install validates the filter and replaces any prior instance with the same
// name.
func (r *Registry) Install(f Filter) error {
	if _, err := f.expression(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(f.Name)
	r.byName[f.Name] = f
	r.byTable[f.Table] = append(r.byTable[f.Table], f.Name)
	return nil
}

// Remove drops the named filter; removing an absent name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(name)
}

// RemovePrefix drops every filter whose name starts with prefix. Used when a
// whole category (owner scope, org scope, declarative rules) is re-applied.
func (r *Registry) RemovePrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.byName {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			r.removeLocked(name)
		}
	}
}

func (r *Registry) removeLocked(name string) {
	f, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	names := r.byTable[f.Table]
	for i, n := range names {
		if n == name {
			r.byTable[f.Table] = append(names[:i], names[i+1:]...)
			break
		}
	}
	if len(r.byTable[f.Table]) == 0 {
		delete(r.byTable, f.Table)
	}
}

// ForTable returns the expressions to apply to one table.
func (r *Registry) ForTable(table string) []clause.Expression {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byTable[table]
	if len(names) == 0 {
		return nil
	}
	exprs := make([]clause.Expression, 0, len(names))
	for _, name := range names {
		expr, err := r.byName[name].expression()
		if err != nil {
			continue
		}
		exprs = append(exprs, expr)
	}
	return exprs
}

// Names lists installed filter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
