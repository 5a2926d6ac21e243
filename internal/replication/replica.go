package replication

import "github.com/MarcoPoloResearchLab/inkroom/internal/drawing"

// Change describes how a surface must be updated after applying an operation.
type Change struct {
	// Draw is set when the operation is a newly visible stroke to render incrementally.
	Draw *drawing.Operation
	// Reset is set when the surface must be emptied (a clear).
	Reset bool
	// Rerender is set when visibility changed and the surface must be rebuilt from the cache.
	Rerender bool
}

// Replica is a participant's local cache of a room: it accepts a full-state
// transfer followed by incremental operation broadcasts and maintains the
// visible surface the way a rendering client does.
type Replica struct {
	log        []drawing.Operation
	seen       map[string]struct{}
	tombstones TombstoneSet
	surface    []drawing.Operation
}

// NewReplica returns an empty replica.
func NewReplica() *Replica {
	return &Replica{
		seen:       make(map[string]struct{}),
		tombstones: make(TombstoneSet),
	}
}

// Load replaces the cache with a full-state transfer and replays it once.
func (r *Replica) Load(state FullState) {
	r.log = make([]drawing.Operation, 0, len(state.Log))
	r.seen = make(map[string]struct{}, len(state.Log))
	for _, op := range state.Log {
		r.log = append(r.log, op.Clone())
		r.seen[op.ID] = struct{}{}
	}
	r.tombstones = NewTombstoneSet(state.Tombstones)
	r.surface = Replay(r.log, r.tombstones)
}

// Apply records a broadcast operation and returns the surface update it requires.
// Redelivered operations are ignored.
func (r *Replica) Apply(op drawing.Operation) Change {
	if op.ID != "" {
		if _, ok := r.seen[op.ID]; ok {
			return Change{}
		}
		r.seen[op.ID] = struct{}{}
	}
	op = op.Clone()
	r.log = append(r.log, op)

	switch op.Kind {
	case drawing.KindStroke:
		if r.tombstones.Contains(op.ID) {
			return Change{}
		}
		r.surface = append(r.surface, op)
		return Change{Draw: &op}
	case drawing.KindClear:
		r.surface = r.surface[:0]
		return Change{Reset: true}
	case drawing.KindTombstone:
		r.tombstones[op.TargetID] = struct{}{}
		r.surface = Replay(r.log, r.tombstones)
		return Change{Rerender: true}
	case drawing.KindUntombstone:
		delete(r.tombstones, op.TargetID)
		r.surface = Replay(r.log, r.tombstones)
		return Change{Rerender: true}
	}
	return Change{}
}

// Visible returns the strokes currently on the surface in render order.
func (r *Replica) Visible() []drawing.Operation {
	visible := make([]drawing.Operation, len(r.surface))
	copy(visible, r.surface)
	return visible
}

// VisibleIDs returns the ids of the strokes currently on the surface in render order.
func (r *Replica) VisibleIDs() []string {
	ids := make([]string, 0, len(r.surface))
	for _, op := range r.surface {
		ids = append(ids, op.ID)
	}
	return ids
}

// Len returns the number of cached operations.
func (r *Replica) Len() int {
	return len(r.log)
}
