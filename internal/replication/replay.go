package replication

import "github.com/MarcoPoloResearchLab/inkroom/internal/drawing"

// TombstoneSet holds the ids of hidden strokes.
type TombstoneSet map[string]struct{}

// NewTombstoneSet builds a set from a list of ids.
func NewTombstoneSet(ids []string) TombstoneSet {
	set := make(TombstoneSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Contains reports whether id is hidden.
func (set TombstoneSet) Contains(id string) bool {
	_, ok := set[id]
	return ok
}

// Replay walks the log in server receipt order and returns the strokes left on
// the surface, in render order. A clear empties the surface; tombstoned strokes
// are skipped; tombstone and untombstone markers draw nothing. Replay does not
// modify its inputs, so repeated runs over the same log and set agree.
func Replay(log []drawing.Operation, tombstones TombstoneSet) []drawing.Operation {
	surface := make([]drawing.Operation, 0, len(log))
	for _, op := range log {
		switch op.Kind {
		case drawing.KindStroke:
			if tombstones.Contains(op.ID) {
				continue
			}
			surface = append(surface, op)
		case drawing.KindClear:
			surface = surface[:0]
		}
	}
	return surface
}

// ReplayFullState runs Replay over a join-time transfer.
func ReplayFullState(state FullState) []drawing.Operation {
	return Replay(state.Log, NewTombstoneSet(state.Tombstones))
}
