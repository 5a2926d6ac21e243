package drawing

import "fmt"

// Undo hides the most recent visible stroke authored by origin and returns the
// tombstone operation appended to the log. Only the origin's own stack is
// consulted: strokes by other origins appended afterwards are never affected.
func (s *Store) Undo(origin string) (Operation, error) {
	origin, err := NewOrigin(origin)
	if err != nil {
		return Operation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.undo[origin]
	if len(stack) == 0 {
		return Operation{}, ErrNothingToUndo
	}
	targetID := stack[len(stack)-1]

	marker, err := s.markerLocked(KindTombstone, origin, targetID)
	if err != nil {
		return Operation{}, err
	}

	s.undo[origin] = stack[:len(stack)-1]
	if len(s.undo[origin]) == 0 {
		delete(s.undo, origin)
	}
	s.redo[origin] = append(s.redo[origin], targetID)
	s.appendLocked(marker)
	return marker.Clone(), nil
}

// Redo reveals the stroke most recently hidden by origin's own undo and
// returns the untombstone operation appended to the log.
func (s *Store) Redo(origin string) (Operation, error) {
	origin, err := NewOrigin(origin)
	if err != nil {
		return Operation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.redo[origin]
	if len(stack) == 0 {
		return Operation{}, ErrNothingToRedo
	}
	targetID := stack[len(stack)-1]

	marker, err := s.markerLocked(KindUntombstone, origin, targetID)
	if err != nil {
		return Operation{}, err
	}

	s.redo[origin] = stack[:len(stack)-1]
	if len(s.redo[origin]) == 0 {
		delete(s.redo, origin)
	}
	s.undo[origin] = append(s.undo[origin], targetID)
	s.appendLocked(marker)
	return marker.Clone(), nil
}

// UndoDepth returns the sizes of origin's undo and redo stacks.
func (s *Store) UndoDepth(origin string) (undo int, redo int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.undo[origin]), len(s.redo[origin])
}

func (s *Store) markerLocked(kind Kind, origin, targetID string) (Operation, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return Operation{}, fmt.Errorf("drawing: assign %s id: %w", kind, err)
	}
	return Operation{
		ID:        id,
		Kind:      kind,
		TargetID:  targetID,
		Origin:    origin,
		CreatedAt: s.clock().UTC().UnixMilli(),
	}, nil
}
