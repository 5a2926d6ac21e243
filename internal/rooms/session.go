package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
	"github.com/MarcoPoloResearchLab/inkroom/internal/replication"
	"go.uber.org/zap"
)

const maxJoinAttempts = 3

// SessionConfig describes one connected participant.
type SessionConfig struct {
	Registry *Registry
	Peer     Peer
	// Origin attributes the participant's operations for undo and redo. It
	// defaults to the peer id.
	Origin string
	// DefaultMeta fills display fields the client leaves empty on join.
	DefaultMeta replication.MemberMeta
	Logger      *zap.Logger
}

// Session routes the events of a single connection to its current room.
// Handle is expected to be called from the connection's read loop.
type Session struct {
	registry    *Registry
	peer        Peer
	origin      string
	defaultMeta replication.MemberMeta
	logger      *zap.Logger

	mu   sync.Mutex
	room *Room
}

// NewSession constructs a session for a connected peer.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Registry == nil {
		return nil, newServiceError(opSessionNew, "missing_registry", errMissingRegistry)
	}
	if cfg.Peer == nil {
		return nil, newServiceError(opSessionNew, "missing_peer", errMissingPeer)
	}
	originInput := cfg.Origin
	if strings.TrimSpace(originInput) == "" {
		originInput = cfg.Peer.ID()
	}
	origin, err := drawing.NewOrigin(originInput)
	if err != nil {
		return nil, newServiceError(opSessionNew, "invalid_origin", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Session{
		registry:    cfg.Registry,
		peer:        cfg.Peer,
		origin:      origin,
		defaultMeta: cfg.DefaultMeta,
		logger:      logger.With(zap.String("peer_id", cfg.Peer.ID())),
	}, nil
}

// Origin returns the attribution key used for this session's operations.
func (s *Session) Origin() string {
	return s.origin
}

// Room returns the room the session has joined, if any.
func (s *Session) Room() (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.room != nil
}

// Handle applies one client event. Errors that the requester must learn about
// are delivered to its peer; the returned error is for logging.
func (s *Session) Handle(ctx context.Context, envelope replication.Envelope) error {
	switch envelope.Event {
	case replication.EventJoin:
		return s.join(ctx, envelope)
	case replication.EventOp:
		return s.submit(envelope)
	case replication.EventOpPartial:
		return s.preview(envelope)
	case replication.EventCursor:
		return s.cursor(envelope)
	case replication.EventUndo:
		return s.reverse((*Room).Undo)
	case replication.EventRedo:
		return s.reverse((*Room).Redo)
	case replication.EventRequestFullState:
		room, err := s.currentRoom()
		if err != nil {
			return err
		}
		return room.SendFullState(s.peer.ID())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}
}

// Close removes the session from its room. An operation already accepted by
// the room is unaffected.
func (s *Session) Close() {
	s.mu.Lock()
	room := s.room
	s.room = nil
	s.mu.Unlock()
	if room != nil {
		room.Leave(s.peer.ID())
	}
}

func (s *Session) join(ctx context.Context, envelope replication.Envelope) error {
	var request replication.JoinRequest
	if err := envelope.Decode(&request); err != nil {
		return err
	}
	roomID, err := NewRoomID(request.RoomID)
	if err != nil {
		return err
	}
	meta := s.memberMeta(request.Meta)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room != nil && s.room.ID() != roomID {
		s.room.Leave(s.peer.ID())
		s.room = nil
	}

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, ensureErr := s.registry.Ensure(ctx, roomID)
		if ensureErr != nil {
			return ensureErr
		}
		joinErr := room.Join(s.peer, meta)
		if errors.Is(joinErr, ErrRoomClosed) {
			continue
		}
		if joinErr != nil {
			return joinErr
		}
		s.room = room
		s.logger.Info("joined room", zap.String("room_id", roomID))
		return nil
	}
	return newServiceError(opEnsure, "room_unavailable", ErrRoomClosed)
}

func (s *Session) submit(envelope replication.Envelope) error {
	room, err := s.currentRoom()
	if err != nil {
		s.reject("", err)
		return err
	}
	var op drawing.Operation
	if err := envelope.Decode(&op); err != nil {
		s.reject("", err)
		return err
	}

	outcome, err := room.Submit(s.origin, op)
	if err != nil {
		s.reject(op.ID, err)
		return err
	}
	if outcome.Duplicate() {
		// The sender is redelivering; acknowledge with the canonical copy.
		s.deliver(replication.EventOp, outcome.Operation())
	}
	return nil
}

func (s *Session) reverse(action func(*Room, string) (drawing.Operation, error)) error {
	room, err := s.currentRoom()
	if err != nil {
		return err
	}
	if _, err := action(room, s.origin); err != nil {
		if errors.Is(err, drawing.ErrNothingToUndo) || errors.Is(err, drawing.ErrNothingToRedo) {
			s.deliver(replication.EventNoop, replication.Noop{Reason: replication.Reason(err)})
			return nil
		}
		return err
	}
	return nil
}

func (s *Session) preview(envelope replication.Envelope) error {
	room, err := s.currentRoom()
	if err != nil {
		return err
	}
	var partial replication.Partial
	if err := envelope.Decode(&partial); err != nil {
		return err
	}
	room.Preview(s.peer.ID(), partial)
	return nil
}

func (s *Session) cursor(envelope replication.Envelope) error {
	room, err := s.currentRoom()
	if err != nil {
		return err
	}
	var position replication.CursorRequest
	if err := envelope.Decode(&position); err != nil {
		return err
	}
	room.Cursor(s.peer.ID(), position)
	return nil
}

func (s *Session) currentRoom() (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil, replication.ErrNotJoined
	}
	return s.room, nil
}

func (s *Session) memberMeta(requested replication.MemberMeta) replication.MemberMeta {
	meta := replication.MemberMeta{
		Name:  truncateRunes(strings.TrimSpace(requested.Name), maxDisplayNameRunes),
		Color: strings.TrimSpace(requested.Color),
	}
	if meta.Name == "" {
		meta.Name = s.defaultMeta.Name
	}
	if meta.Color == "" {
		meta.Color = s.defaultMeta.Color
	}
	return meta
}

func (s *Session) reject(opID string, err error) {
	s.deliver(replication.EventOpRejected, replication.Rejection{
		ID:     opID,
		Reason: replication.Reason(err),
		Detail: err.Error(),
	})
}

func (s *Session) deliver(event string, payload any) {
	envelope, err := replication.NewEnvelope(event, payload)
	if err != nil {
		logError(s.logger, opBroadcast, "encode_failed", err, zap.String("event", event))
		return
	}
	if !s.peer.Deliver(envelope) {
		s.logger.Debug("peer dropped frame", zap.String("event", event))
	}
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
