package domain

import (
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// KeySet is a set of security key ids.
type KeySet map[snowflake.ID]struct{}

func NewKeySet(ids ...snowflake.ID) KeySet {
	set := make(KeySet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s KeySet) Contains(id snowflake.ID) bool {
	_, ok := s[id]
	return ok
}

func (s KeySet) Add(id snowflake.ID) {
	s[id] = struct{}{}
}

// Union returns a new set with the members of both.
func (s KeySet) Union(other KeySet) KeySet {
	out := make(KeySet, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Subtract returns a new set without the members of other.
func (s KeySet) Subtract(other KeySet) KeySet {
	out := make(KeySet, len(s))
	for id := range s {
		if _, drop := other[id]; !drop {
			out[id] = struct{}{}
		}
	}
	return out
}

// SortedIDs returns the members in ascending order.
func (s KeySet) SortedIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LiteralList renders the members as a comma-separated list for use inside
// IN (...) predicates. An empty set renders the sentinel key so the list is
// never empty.
func (s KeySet) LiteralList() string {
	ids := s.SortedIDs()
	if len(ids) == 0 {
		ids = []snowflake.ID{SentinelKeyID}
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
