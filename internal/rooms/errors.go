package rooms

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrRoomClosed indicates that a room was evicted or the registry shut down.
	ErrRoomClosed = errors.New("rooms: room closed")
	// ErrRegistryClosed indicates that the registry no longer accepts rooms.
	ErrRegistryClosed = errors.New("rooms: registry closed")
	// ErrInvalidRoomID indicates that a room identifier exceeds storage bounds.
	ErrInvalidRoomID = errors.New("rooms: invalid room id")
	// ErrUnknownEvent indicates that a client sent an event the protocol does not define.
	ErrUnknownEvent = errors.New("rooms: unknown event")

	errMissingRegistry = errors.New("registry is required")
	errMissingPeer     = errors.New("peer is required")
	noOpLogger         = zap.NewNop()
)

const (
	opRegistryNew = "rooms.registry.new"
	opEnsure      = "rooms.ensure"
	opLoad        = "rooms.load"
	opPersist     = "rooms.persist"
	opSessionNew  = "rooms.session.new"
	opBroadcast   = "rooms.broadcast"

	// DefaultRoomID is used when a join does not name a room.
	DefaultRoomID       = "default"
	maxRoomIDLength     = 190
	maxDisplayNameRunes = 64
)

// ServiceError carries a stable "operation.reason" code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// NewRoomID validates raw input and returns a room identifier, defaulting to DefaultRoomID.
func NewRoomID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return DefaultRoomID, nil
	}
	if len(trimmed) > maxRoomIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxRoomIDLength)
	}
	return trimmed, nil
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("rooms service error", attrs...)
}
