package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
)

type recordingPeer struct {
	id string

	mu     sync.Mutex
	frames []replication.Envelope
}

func newRecordingPeer(id string) *recordingPeer {
	return &recordingPeer{id: id}
}

func (p *recordingPeer) ID() string {
	return p.id
}

func (p *recordingPeer) Deliver(envelope replication.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, envelope)
	return true
}

func (p *recordingPeer) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := make([]string, 0, len(p.frames))
	for _, frame := range p.frames {
		events = append(events, frame.Event)
	}
	return events
}

func (p *recordingPeer) count(event string) int {
	total := 0
	for _, name := range p.events() {
		if name == event {
			total++
		}
	}
	return total
}

func (p *recordingPeer) last(t *testing.T, event string, target any) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for index := len(p.frames) - 1; index >= 0; index-- {
		if p.frames[index].Event != event {
			continue
		}
		if err := p.frames[index].Decode(target); err != nil {
			t.Fatalf("decode %s failed: %v", event, err)
		}
		return
	}
	t.Fatalf("peer %s received no %s event; got %v", p.id, event, p.eventsLocked())
}

func (p *recordingPeer) eventsLocked() []string {
	events := make([]string, 0, len(p.frames))
	for _, frame := range p.frames {
		events = append(events, frame.Event)
	}
	return events
}

func (p *recordingPeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

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

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedStore is a PersistenceAdapter whose failures are chosen by the test.
type scriptedStore struct {
	mu        sync.Mutex
	loadErr   error
	saveErr   error
	snapshots map[string]drawing.Snapshot
	saves     int
}

var errStorageDown = errors.New("storage unavailable")

func newScriptedStore() *scriptedStore {
	return &scriptedStore{snapshots: make(map[string]drawing.Snapshot)}
}

func (s *scriptedStore) Load(_ context.Context, roomID string) (drawing.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return drawing.Snapshot{}, false, s.loadErr
	}
	snapshot, ok := s.snapshots[roomID]
	return snapshot, ok, nil
}

func (s *scriptedStore) Save(_ context.Context, roomID string, snapshot drawing.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snapshots[roomID] = snapshot
	return nil
}

func (s *scriptedStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	if cfg.IDProvider == nil {
		cfg.IDProvider = &sequenceProvider{}
	}
	if cfg.Clock == nil {
		cfg.Clock = newManualClock().Now
	}
	registry, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("registry init failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
	})
	return registry
}

func mustEnsure(t *testing.T, registry *Registry, roomID string) *Room {
	t.Helper()
	room, err := registry.Ensure(context.Background(), roomID)
	if err != nil {
		t.Fatalf("ensure %q failed: %v", roomID, err)
	}
	return room
}

func mustSession(t *testing.T, registry *Registry, peer Peer, name string) *Session {
	t.Helper()
	session, err := NewSession(SessionConfig{Registry: registry, Peer: peer, DefaultMeta: replication.MemberMeta{Name: name}})
	if err != nil {
		t.Fatalf("session init failed: %v", err)
	}
	return session
}

func mustEnvelope(t *testing.T, event string, payload any) replication.Envelope {
	t.Helper()
	envelope, err := replication.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("encode %s failed: %v", event, err)
	}
	return envelope
}

func mustHandle(t *testing.T, session *Session, event string, payload any) {
	t.Helper()
	if err := session.Handle(context.Background(), mustEnvelope(t, event, payload)); err != nil {
		t.Fatalf("handle %s failed: %v", event, err)
	}
}

func joinRoom(t *testing.T, session *Session, roomID string) {
	t.Helper()
	mustHandle(t, session, replication.EventJoin, replication.JoinRequest{RoomID: roomID})
}

func testStroke(id string) drawing.Operation {
	return drawing.NewStroke(id, "", drawing.Style{Tool: drawing.ToolBrush, Color: "#112233", Size: 3}, []drawing.Point{
		{X: 1, Y: 1},
		{X: 4, Y: 6},
	})
}

func eventually(t *testing.T, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", message)
}
