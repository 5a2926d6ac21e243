package drawing

// Snapshot is the serializable state of a Store.
type Snapshot struct {
	Log        []Operation         `json:"log"`
	Tombstones []string            `json:"tombstones"`
	UndoStacks map[string][]string `json:"undoStacks"`
	RedoStacks map[string][]string `json:"redoStacks"`
}

// RestoreReport describes the repairs made while restoring a snapshot.
type RestoreReport struct {
	DroppedOperations   int
	DroppedStackEntries int
	TombstonesRepaired  bool
}

// Clean reports whether the snapshot was restored without repairs.
func (report RestoreReport) Clean() bool {
	return report.DroppedOperations == 0 && report.DroppedStackEntries == 0 && !report.TombstonesRepaired
}

// Restore rebuilds a Store from a persisted snapshot. The log is authoritative:
// invalid and duplicate operations are dropped, tombstones are recomputed by
// replaying the log, and stack entries that do not reference a stroke of their
// own origin in the matching visibility state are discarded.
func Restore(cfg StoreConfig, snapshot Snapshot) (*Store, RestoreReport) {
	store := NewStore(cfg)
	report := RestoreReport{}

	for _, op := range snapshot.Log {
		if op.ID == "" || op.Validate() != nil {
			report.DroppedOperations++
			continue
		}
		op = op.normalized()
		if _, exists := store.index[op.ID]; exists {
			report.DroppedOperations++
			continue
		}
		if store.checkTargetLocked(op) != nil {
			report.DroppedOperations++
			continue
		}
		store.appendLocked(op)
	}

	if !sameMembers(snapshot.Tombstones, store.tombstones) {
		report.TombstonesRepaired = true
	}

	claimed := make(map[string]struct{})
	store.undo, report.DroppedStackEntries = store.restoreStacks(snapshot.UndoStacks, false, claimed)
	var droppedRedo int
	store.redo, droppedRedo = store.restoreStacks(snapshot.RedoStacks, true, claimed)
	report.DroppedStackEntries += droppedRedo

	return store, report
}

func (s *Store) restoreStacks(stacks map[string][]string, wantHidden bool, claimed map[string]struct{}) (map[string][]string, int) {
	restored := make(map[string][]string, len(stacks))
	dropped := 0
	for origin, stack := range stacks {
		entries := make([]string, 0, len(stack))
		for _, opID := range stack {
			position, ok := s.index[opID]
			if !ok {
				dropped++
				continue
			}
			op := s.log[position]
			_, hidden := s.tombstones[opID]
			_, taken := claimed[opID]
			if op.Kind != KindStroke || op.Origin != origin || hidden != wantHidden || taken {
				dropped++
				continue
			}
			claimed[opID] = struct{}{}
			entries = append(entries, opID)
		}
		if len(entries) > 0 {
			restored[origin] = entries
		}
	}
	return restored, dropped
}

func sameMembers(ids []string, set map[string]struct{}) bool {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return len(seen) == len(set)
}
