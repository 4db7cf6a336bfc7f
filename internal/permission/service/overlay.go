package service

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/permission/domain"
)

// Overlay is the runtime key overlay: a process-local add/remove list layered
// on top of resolved keys. It grants temporary elevation (a background job,
// say) without touching the permission graph, and is discarded with the
// session that owns it. It is not safe for concurrent use; each session owns
// its own instance.
type Overlay struct {
	added   domain.KeySet
	removed domain.KeySet
}

func NewOverlay() *Overlay {
	return &Overlay{
		added:   domain.NewKeySet(),
		removed: domain.NewKeySet(),
	}
}

// AddRuntimeKey layers a key on top of future effective-key computations.
func (o *Overlay) AddRuntimeKey(id snowflake.ID) {
	o.added.Add(id)
	delete(o.removed, id)
}

// RemoveRuntimeKey suppresses a key from future effective-key computations.
func (o *Overlay) RemoveRuntimeKey(id snowflake.ID) {
	o.removed.Add(id)
	delete(o.added, id)
}

// EffectiveKeys applies the overlay: (resolved ∪ added) − removed.
func (o *Overlay) EffectiveKeys(resolved domain.KeySet) domain.KeySet {
	return resolved.Union(o.added).Subtract(o.removed)
}

// Reset discards all runtime entries.
func (o *Overlay) Reset() {
	o.added = domain.NewKeySet()
	o.removed = domain.NewKeySet()
}
