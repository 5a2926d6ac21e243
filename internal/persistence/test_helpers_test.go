package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
)

type adapter interface {
	Load(ctx context.Context, roomID string) (drawing.Snapshot, bool, error)
	Save(ctx context.Context, roomID string, snapshot drawing.Snapshot) error
}

type counterProvider struct {
	next int
}

func (p *counterProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("gen-%d", p.next), nil
}

func sampleSnapshot(t *testing.T) drawing.Snapshot {
	t.Helper()
	store := drawing.NewStore(drawing.StoreConfig{
		IDProvider: &counterProvider{},
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
	})
	stroke := drawing.Operation{
		ID:     "s1",
		Kind:   drawing.KindStroke,
		Origin: "alice",
		Points: []drawing.Point{{X: 1, Y: 2}, {X: 3, Y: 4}},
		Style:  &drawing.Style{Tool: drawing.ToolBrush, Color: "#000000", Size: 4},
	}
	if _, err := store.Append(stroke); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := store.Undo("alice"); err != nil {
		t.Fatalf("undo failed: %v", err)
	}
	return store.Snapshot()
}

// exerciseAdapter checks the round trip every adapter must provide.
func exerciseAdapter(t *testing.T, store adapter) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := store.Load(ctx, "missing"); err != nil || found {
		t.Fatalf("expected missing room to be absent, got found=%v err=%v", found, err)
	}

	snapshot := sampleSnapshot(t)
	if err := store.Save(ctx, "room-1", snapshot); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, found, err := store.Load(ctx, "room-1")
	if err != nil || !found {
		t.Fatalf("expected stored room, got found=%v err=%v", found, err)
	}
	if len(loaded.Log) != 2 || loaded.Log[0].ID != "s1" || loaded.Log[1].Kind != drawing.KindTombstone {
		t.Fatalf("unexpected log after round trip: %+v", loaded.Log)
	}
	if len(loaded.Tombstones) != 1 || loaded.Tombstones[0] != "s1" {
		t.Fatalf("unexpected tombstones after round trip: %v", loaded.Tombstones)
	}
	if redo := loaded.RedoStacks["alice"]; len(redo) != 1 || redo[0] != "s1" {
		t.Fatalf("expected redo stack to survive, got %v", loaded.RedoStacks)
	}

	if err := store.Save(ctx, "room-1", drawing.Snapshot{}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	loaded, found, err = store.Load(ctx, "room-1")
	if err != nil || !found || len(loaded.Log) != 0 {
		t.Fatalf("expected empty room after overwrite, got %+v found=%v err=%v", loaded, found, err)
	}
}
