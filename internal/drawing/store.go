package drawing

import (
	"fmt"
	"sync"
	"time"
)

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	IDProvider IDProvider
	Clock      func() time.Time
}

// Store owns one room's operation log, tombstone set and per-origin undo and
// redo stacks. All methods are safe for concurrent use; each mutation is
// applied atomically and readers never observe a partially applied operation.
type Store struct {
	mu         sync.RWMutex
	log        []Operation
	index      map[string]int
	tombstones map[string]struct{}
	undo       map[string][]string
	redo       map[string][]string
	ids        IDProvider
	clock      func() time.Time
}

// AppendOutcome captures the result of an accepted append.
type AppendOutcome struct {
	operation Operation
	duplicate bool
}

// Operation returns the canonical logged operation.
func (outcome AppendOutcome) Operation() Operation {
	return outcome.operation
}

// Duplicate reports whether the operation id was already present in the log,
// in which case nothing was appended.
func (outcome AppendOutcome) Duplicate() bool {
	return outcome.duplicate
}

// NewStore constructs an empty store.
func NewStore(cfg StoreConfig) *Store {
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		index:      make(map[string]int),
		tombstones: make(map[string]struct{}),
		undo:       make(map[string][]string),
		redo:       make(map[string][]string),
		ids:        ids,
		clock:      clock,
	}
}

// Append validates op, assigns an id and timestamp when absent and records it.
// A stroke with an origin is pushed onto that origin's undo stack and clears
// its redo stack. An op whose id is already logged is reported as a duplicate
// and leaves the store untouched.
func (s *Store) Append(op Operation) (AppendOutcome, error) {
	if err := op.Validate(); err != nil {
		return AppendOutcome{}, err
	}
	op = op.normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	if op.ID != "" {
		if position, ok := s.index[op.ID]; ok {
			return AppendOutcome{operation: s.log[position].Clone(), duplicate: true}, nil
		}
	}
	if err := s.checkTargetLocked(op); err != nil {
		return AppendOutcome{}, err
	}
	if op.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return AppendOutcome{}, fmt.Errorf("drawing: assign operation id: %w", err)
		}
		op.ID = id
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = s.clock().UTC().UnixMilli()
	}

	s.appendLocked(op)
	if op.Kind == KindStroke && op.Origin != "" {
		s.undo[op.Origin] = append(s.undo[op.Origin], op.ID)
		delete(s.redo, op.Origin)
	}
	return AppendOutcome{operation: op.Clone()}, nil
}

// IsVisible reports whether opID names a logged stroke that is not tombstoned.
// Clear operations are not considered; they only affect replay.
func (s *Store) IsVisible(opID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.index[opID]
	if !ok || s.log[position].Kind != KindStroke {
		return false
	}
	_, hidden := s.tombstones[opID]
	return !hidden
}

// Len returns the number of logged operations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// Lookup returns the logged operation with the given id.
func (s *Store) Lookup(opID string) (Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.index[opID]
	if !ok {
		return Operation{}, false
	}
	return s.log[position].Clone(), true
}

// Snapshot returns a deep copy of the store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := make([]Operation, len(s.log))
	for i, op := range s.log {
		log[i] = op.Clone()
	}
	return Snapshot{
		Log:        log,
		Tombstones: s.tombstoneListLocked(),
		UndoStacks: copyStacks(s.undo),
		RedoStacks: copyStacks(s.redo),
	}
}

// Tombstones returns the hidden stroke ids in log order.
func (s *Store) Tombstones() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tombstoneListLocked()
}

func (s *Store) checkTargetLocked(op Operation) error {
	if op.Kind != KindTombstone && op.Kind != KindUntombstone {
		return nil
	}
	position, ok := s.index[op.TargetID]
	if !ok {
		return fmt.Errorf("%w: %s targets unknown operation %q", ErrDanglingReference, op.Kind, op.TargetID)
	}
	if s.log[position].Kind != KindStroke {
		return fmt.Errorf("%w: %s targets %s operation %q", ErrDanglingReference, op.Kind, s.log[position].Kind, op.TargetID)
	}
	return nil
}

// appendLocked records an op that has already been validated and assigned an id.
func (s *Store) appendLocked(op Operation) {
	s.index[op.ID] = len(s.log)
	s.log = append(s.log, op)
	switch op.Kind {
	case KindTombstone:
		s.tombstones[op.TargetID] = struct{}{}
	case KindUntombstone:
		delete(s.tombstones, op.TargetID)
	}
}

func (s *Store) tombstoneListLocked() []string {
	hidden := make([]string, 0, len(s.tombstones))
	if len(s.tombstones) == 0 {
		return hidden
	}
	for _, op := range s.log {
		if op.Kind != KindStroke {
			continue
		}
		if _, ok := s.tombstones[op.ID]; ok {
			hidden = append(hidden, op.ID)
		}
	}
	return hidden
}

func copyStacks(stacks map[string][]string) map[string][]string {
	copied := make(map[string][]string, len(stacks))
	for origin, stack := range stacks {
		if len(stack) == 0 {
			continue
		}
		entries := make([]string, len(stack))
		copy(entries, stack)
		copied[origin] = entries
	}
	return copied
}
