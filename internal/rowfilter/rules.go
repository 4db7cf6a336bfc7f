package rowfilter

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// FilterRule is a declarative filter record keyed by security key: principals
// holding the key get the predicate installed on organization switch.
type FilterRule struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	KeyID     snowflake.ID `gorm:"column:security_key_id;not null;index" json:"security_key_id"`
	Table     string       `gorm:"column:table_name;type:text;not null" json:"table_name"`
	Field     string       `gorm:"column:field_name;type:text;not null" json:"field_name"`
	Operator  string       `gorm:"type:text;not null" json:"operator"`
	Value     string       `gorm:"type:text;not null" json:"value"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (FilterRule) TableName() string { return "filter_rules" }

// substituteVars replaces {{name}} references with values from vars. Unknown
// references are left in place so the failure surfaces at install time.
func substituteVars(value string, vars map[string]string) string {
	if !strings.Contains(value, "{{") {
		return value
	}
	out := value
	for name, v := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", v)
	}
	return out
}

// parseLiteralList splits a bracketed or parenthesized comma-separated
// literal into values. A bare literal yields a single value.
func parseLiteralList(value string) []any {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) >= 2 {
		head, tail := trimmed[0], trimmed[len(trimmed)-1]
		if (head == '(' && tail == ')') || (head == '[' && tail == ']') {
			inner := trimmed[1 : len(trimmed)-1]
			parts := strings.Split(inner, ",")
			out := make([]any, 0, len(parts))
			for _, p := range parts {
				p = strings.Trim(strings.TrimSpace(p), `'"`)
				if p == "" {
					continue
				}
				out = append(out, p)
			}
			return out
		}
	}
	return []any{strings.Trim(trimmed, `'"`)}
}
