package replication

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
)

// Event names exchanged between clients and the server.
const (
	EventJoin             = "join"
	EventFullState        = "full-state"
	EventUsers            = "users"
	EventOp               = "op"
	EventOpPartial        = "op-partial"
	EventOpRejected       = "op-rejected"
	EventCursor           = "cursor"
	EventUndo             = "undo"
	EventRedo             = "redo"
	EventNoop             = "noop"
	EventRequestFullState = "request-full-state"
)

// ErrInvalidEnvelope indicates that a frame could not be decoded.
var ErrInvalidEnvelope = errors.New("replication: invalid envelope")

// Envelope is the frame carried by the transport.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload under the given event name. A nil payload
// produces an envelope without data.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("replication: encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: encoded}, nil
}

// ParseEnvelope decodes a raw transport frame.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if envelope.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrInvalidEnvelope)
	}
	return envelope, nil
}

// Decode unmarshals the envelope data into target. Missing data leaves target untouched.
func (envelope Envelope) Decode(target any) error {
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidEnvelope, envelope.Event, err)
	}
	return nil
}

// MemberMeta is the display information a participant supplies on join.
type MemberMeta struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// Member is a roster entry.
type Member struct {
	ID   string     `json:"id"`
	Meta MemberMeta `json:"meta"`
}

// JoinRequest is the payload of a client join.
type JoinRequest struct {
	RoomID string     `json:"roomId"`
	Meta   MemberMeta `json:"meta"`
}

// FullState is the complete log and tombstone set sent to a joining client.
type FullState struct {
	Log        []drawing.Operation `json:"log"`
	Tombstones []string            `json:"tombstones"`
}

// NewFullState extracts the transferable part of a store snapshot.
func NewFullState(snapshot drawing.Snapshot) FullState {
	log := snapshot.Log
	if log == nil {
		log = []drawing.Operation{}
	}
	tombstones := snapshot.Tombstones
	if tombstones == nil {
		tombstones = []string{}
	}
	return FullState{Log: log, Tombstones: tombstones}
}

// Partial is an in-progress point run used for low-latency previews.
type Partial struct {
	Points []drawing.Point `json:"points"`
	Style  *drawing.Style  `json:"style,omitempty"`
}

// PartialBroadcast relays a partial to the other members of a room.
type PartialBroadcast struct {
	SenderID string  `json:"senderId"`
	Partial  Partial `json:"partial"`
}

// CursorRequest is a client's pointer position.
type CursorRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorBroadcast relays a pointer position with the sender's display information.
type CursorBroadcast struct {
	SenderID string  `json:"senderId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Name     string  `json:"name,omitempty"`
	Color    string  `json:"color,omitempty"`
}

// Noop reports a failed undo or redo to the requester.
type Noop struct {
	Reason string `json:"reason"`
}

// Rejection reports a refused operation to its sender.
type Rejection struct {
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}
