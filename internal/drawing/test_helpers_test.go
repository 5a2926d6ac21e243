package drawing

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type sequenceProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("gen-%d", p.next), nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(StoreConfig{
		IDProvider: &sequenceProvider{},
		Clock: func() time.Time {
			return time.Unix(1700000000, 0).UTC()
		},
	})
}

func testStroke(id, origin string) Operation {
	return NewStroke(id, origin, Style{Tool: ToolBrush, Color: "#112233", Size: 4}, []Point{
		{X: 1, Y: 1, T: 1},
		{X: 5, Y: 8, T: 2},
	})
}

func mustAppend(t *testing.T, store *Store, op Operation) Operation {
	t.Helper()
	outcome, err := store.Append(op)
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if outcome.Duplicate() {
		t.Fatalf("unexpected duplicate outcome for %q", op.ID)
	}
	return outcome.Operation()
}

func visibleStrokes(store *Store) map[string]bool {
	snapshot := store.Snapshot()
	visible := make(map[string]bool)
	for _, op := range snapshot.Log {
		if op.Kind == KindStroke && store.IsVisible(op.ID) {
			visible[op.ID] = true
		}
	}
	return visible
}
