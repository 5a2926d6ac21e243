package rooms

import (
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
	"go.uber.org/zap"
)

// Peer is a connected participant as seen by a room. Deliver must not block:
// it queues the envelope for the connection and reports false when the
// connection cannot accept it.
type Peer interface {
	ID() string
	Deliver(envelope replication.Envelope) bool
}

type member struct {
	peer Peer
	info replication.Member
}

// Room is the serial actor for one room. Every state change and every
// broadcast it causes happen under the room lock, so all members observe
// operations in log order and no two mutations interleave.
type Room struct {
	id     string
	logger *zap.Logger
	clock  func() time.Time

	loadOnce  sync.Once
	store     *drawing.Store
	dirty     chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	saverDone chan struct{}

	mu        sync.Mutex
	members   map[string]*member
	order     []string
	loaded    bool
	closed    bool
	idleSince time.Time
}

func newRoom(id string, clock func() time.Time, logger *zap.Logger) *Room {
	return &Room{
		id:        id,
		logger:    logger.With(zap.String("room_id", id)),
		clock:     clock,
		dirty:     make(chan struct{}, 1),
		stop:      make(chan struct{}),
		members:   make(map[string]*member),
		idleSince: clock(),
	}
}

// ID returns the room identifier.
func (room *Room) ID() string {
	return room.id
}

// Join adds peer to the roster, broadcasts the roster and sends the joining
// peer the full state. Joining twice with the same peer id keeps a single
// roster entry and refreshes its display information.
func (room *Room) Join(peer Peer, meta replication.MemberMeta) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.availableLocked() {
		return ErrRoomClosed
	}

	peerID := peer.ID()
	if existing, ok := room.members[peerID]; ok {
		existing.peer = peer
		existing.info.Meta = meta
	} else {
		room.members[peerID] = &member{
			peer: peer,
			info: replication.Member{ID: peerID, Meta: meta},
		}
		room.order = append(room.order, peerID)
	}
	room.idleSince = time.Time{}

	room.broadcastLocked(replication.EventUsers, room.rosterLocked(), "")
	room.deliverLocked(peerID, replication.EventFullState, replication.NewFullState(room.store.Snapshot()))
	return nil
}

// Leave removes peerID from the roster and broadcasts the change. It reports
// whether the peer was a member.
func (room *Room) Leave(peerID string) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.members[peerID]; !ok {
		return false
	}
	delete(room.members, peerID)
	for index, id := range room.order {
		if id == peerID {
			room.order = append(room.order[:index], room.order[index+1:]...)
			break
		}
	}
	if len(room.members) == 0 {
		room.idleSince = room.clock()
	}
	room.broadcastLocked(replication.EventUsers, room.rosterLocked(), "")
	return true
}

// Submit appends a client operation attributed to origin and broadcasts it to
// every member, sender included. Clients may only submit strokes and clears.
// A duplicate id is reported through the outcome and is not broadcast again.
func (room *Room) Submit(origin string, op drawing.Operation) (drawing.AppendOutcome, error) {
	if op.Kind != drawing.KindStroke && op.Kind != drawing.KindClear {
		if err := op.Validate(); err != nil {
			return drawing.AppendOutcome{}, err
		}
		return drawing.AppendOutcome{}, replication.ErrKindNotAllowed
	}
	op.Origin = origin

	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.availableLocked() {
		return drawing.AppendOutcome{}, ErrRoomClosed
	}

	outcome, err := room.store.Append(op)
	if err != nil {
		return drawing.AppendOutcome{}, err
	}
	if outcome.Duplicate() {
		return outcome, nil
	}
	room.broadcastLocked(replication.EventOp, outcome.Operation(), "")
	room.markDirty()
	return outcome, nil
}

// Undo hides origin's most recent visible stroke and broadcasts the tombstone.
func (room *Room) Undo(origin string) (drawing.Operation, error) {
	return room.reverse(origin, (*drawing.Store).Undo)
}

// Redo reveals origin's most recently undone stroke and broadcasts the untombstone.
func (room *Room) Redo(origin string) (drawing.Operation, error) {
	return room.reverse(origin, (*drawing.Store).Redo)
}

func (room *Room) reverse(origin string, action func(*drawing.Store, string) (drawing.Operation, error)) (drawing.Operation, error) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.availableLocked() {
		return drawing.Operation{}, ErrRoomClosed
	}

	marker, err := action(room.store, origin)
	if err != nil {
		return drawing.Operation{}, err
	}
	room.broadcastLocked(replication.EventOp, marker, "")
	room.markDirty()
	return marker, nil
}

// Preview relays an in-progress point run to every member except the sender.
func (room *Room) Preview(senderID string, partial replication.Partial) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if _, ok := room.members[senderID]; !ok {
		return
	}
	room.broadcastLocked(replication.EventOpPartial, replication.PartialBroadcast{
		SenderID: senderID,
		Partial:  partial,
	}, senderID)
}

// Cursor relays a pointer position, with the sender's display information, to every member.
func (room *Room) Cursor(senderID string, position replication.CursorRequest) {
	room.mu.Lock()
	defer room.mu.Unlock()
	sender, ok := room.members[senderID]
	if !ok {
		return
	}
	room.broadcastLocked(replication.EventCursor, replication.CursorBroadcast{
		SenderID: senderID,
		X:        position.X,
		Y:        position.Y,
		Name:     sender.info.Meta.Name,
		Color:    sender.info.Meta.Color,
	}, "")
}

// SendFullState re-sends the full state to a single member.
func (room *Room) SendFullState(peerID string) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.availableLocked() {
		return ErrRoomClosed
	}
	room.deliverLocked(peerID, replication.EventFullState, replication.NewFullState(room.store.Snapshot()))
	return nil
}

// State returns the transferable room state.
func (room *Room) State() (replication.FullState, error) {
	snapshot, err := room.Snapshot()
	if err != nil {
		return replication.FullState{}, err
	}
	return replication.NewFullState(snapshot), nil
}

// Snapshot returns the full serializable store state.
func (room *Room) Snapshot() (drawing.Snapshot, error) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.availableLocked() {
		return drawing.Snapshot{}, ErrRoomClosed
	}
	return room.store.Snapshot(), nil
}

// Members returns the roster in join order.
func (room *Room) Members() []replication.Member {
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.rosterLocked()
}

func (room *Room) availableLocked() bool {
	return !room.closed && room.store != nil
}

func (room *Room) rosterLocked() []replication.Member {
	roster := make([]replication.Member, 0, len(room.order))
	for _, id := range room.order {
		roster = append(roster, room.members[id].info)
	}
	return roster
}

func (room *Room) broadcastLocked(event string, payload any, excludeID string) {
	envelope, err := replication.NewEnvelope(event, payload)
	if err != nil {
		logError(room.logger, opBroadcast, "encode_failed", err, zap.String("event", event))
		return
	}
	for _, id := range room.order {
		if id == excludeID {
			continue
		}
		if !room.members[id].peer.Deliver(envelope) {
			room.logger.Debug("peer dropped frame", zap.String("peer_id", id), zap.String("event", event))
		}
	}
}

func (room *Room) deliverLocked(peerID string, event string, payload any) {
	target, ok := room.members[peerID]
	if !ok {
		return
	}
	envelope, err := replication.NewEnvelope(event, payload)
	if err != nil {
		logError(room.logger, opBroadcast, "encode_failed", err, zap.String("event", event))
		return
	}
	if !target.peer.Deliver(envelope) {
		room.logger.Debug("peer dropped frame", zap.String("peer_id", peerID), zap.String("event", event))
	}
}

// markDirty schedules a save without waiting for it.
func (room *Room) markDirty() {
	select {
	case room.dirty <- struct{}{}:
	default:
	}
}

// evictIfIdle closes the room when it has been loaded, has no members and has
// been idle for at least ttl.
func (room *Room) evictIfIdle(now time.Time, ttl time.Duration) bool {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.loaded || room.closed || len(room.members) > 0 || room.idleSince.IsZero() {
		return false
	}
	if now.Sub(room.idleSince) < ttl {
		return false
	}
	room.closed = true
	return true
}

func (room *Room) close() {
	room.mu.Lock()
	room.closed = true
	room.mu.Unlock()
}

// shutdown stops the saver after a final flush. It must only be called once
// the room can no longer be loaded.
func (room *Room) shutdown() {
	room.stopOnce.Do(func() {
		close(room.stop)
	})
	if room.saverDone != nil {
		<-room.saverDone
	}
}
