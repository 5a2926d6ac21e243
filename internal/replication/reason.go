package replication

import (
	"errors"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
)

// Wire reason codes reported to a single requester.
const (
	ReasonNothingToUndo      = "nothing-to-undo"
	ReasonNothingToRedo      = "nothing-to-redo"
	ReasonMalformedOperation = "malformed-operation"
	ReasonDanglingReference  = "dangling-reference"
	ReasonKindNotAllowed     = "kind-not-allowed"
	ReasonNotJoined          = "not-joined"
	ReasonInternalError      = "internal-error"
)

// ErrKindNotAllowed indicates that a client submitted an operation kind reserved for the server.
var ErrKindNotAllowed = errors.New("replication: operation kind not accepted from clients")

// ErrNotJoined indicates that a room-scoped event arrived before a join.
var ErrNotJoined = errors.New("replication: connection has not joined a room")

// Reason maps an error to its wire reason code.
func Reason(err error) string {
	switch {
	case errors.Is(err, drawing.ErrNothingToUndo):
		return ReasonNothingToUndo
	case errors.Is(err, drawing.ErrNothingToRedo):
		return ReasonNothingToRedo
	case errors.Is(err, drawing.ErrMalformedOperation), errors.Is(err, ErrInvalidEnvelope):
		return ReasonMalformedOperation
	case errors.Is(err, drawing.ErrDanglingReference):
		return ReasonDanglingReference
	case errors.Is(err, ErrKindNotAllowed):
		return ReasonKindNotAllowed
	case errors.Is(err, ErrNotJoined):
		return ReasonNotJoined
	default:
		return ReasonInternalError
	}
}
