package drawing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind enumerates the operation variants recorded in a room log.
type Kind string

const (
	// KindStroke is an additive mark drawn with a brush or eraser.
	KindStroke Kind = "stroke"
	// KindClear hides everything drawn before it.
	KindClear Kind = "clear"
	// KindTombstone hides a prior stroke.
	KindTombstone Kind = "tombstone"
	// KindUntombstone reveals a previously hidden stroke.
	KindUntombstone Kind = "untombstone"
)

// Tool enumerates the stroke tools.
type Tool string

const (
	// ToolBrush paints with the stroke color.
	ToolBrush Tool = "brush"
	// ToolEraser removes paint along the stroke path.
	ToolEraser Tool = "eraser"
)

const (
	maxIdentifierLength = 190
	minStrokePoints     = 2
)

var (
	// ErrMalformedOperation indicates that an operation is missing kind-specific fields.
	ErrMalformedOperation = errors.New("drawing: malformed operation")
	// ErrDanglingReference indicates that a tombstone or untombstone targets an unknown stroke.
	ErrDanglingReference = errors.New("drawing: dangling reference")
	// ErrDuplicateOperation indicates that an operation id is already present in the log.
	ErrDuplicateOperation = errors.New("drawing: duplicate operation")
	// ErrNothingToUndo indicates that the origin has no visible strokes of its own.
	ErrNothingToUndo = errors.New("drawing: nothing to undo")
	// ErrNothingToRedo indicates that the origin has no undone strokes to restore.
	ErrNothingToRedo = errors.New("drawing: nothing to redo")
	// ErrInvalidOrigin indicates that an origin identifier is empty or exceeds storage bounds.
	ErrInvalidOrigin = errors.New("drawing: invalid origin")
)

// Point is a single sampled pointer position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t,omitempty"`
}

// Style describes how a stroke is rendered.
type Style struct {
	Tool  Tool    `json:"tool"`
	Color string  `json:"color,omitempty"`
	Size  float64 `json:"size"`
}

// Operation is the immutable unit of room history. Kind selects which of the
// remaining fields are meaningful: strokes carry Points and Style, tombstone
// and untombstone carry TargetID, clear carries neither.
type Operation struct {
	ID        string  `json:"id"`
	Kind      Kind    `json:"kind"`
	Points    []Point `json:"points,omitempty"`
	Style     *Style  `json:"style,omitempty"`
	TargetID  string  `json:"targetId,omitempty"`
	Origin    string  `json:"origin,omitempty"`
	CreatedAt int64   `json:"createdAt,omitempty"`
}

// NewStroke builds a stroke operation. The id may be empty; the store assigns one.
func NewStroke(id, origin string, style Style, points []Point) Operation {
	copied := make([]Point, len(points))
	copy(copied, points)
	return Operation{
		ID:     id,
		Kind:   KindStroke,
		Points: copied,
		Style:  &style,
		Origin: origin,
	}
}

// NewClear builds a clear operation.
func NewClear(id, origin string) Operation {
	return Operation{ID: id, Kind: KindClear, Origin: origin}
}

// Validate reports whether the operation carries the fields its kind requires.
// An empty ID is valid; the store assigns one on append.
func (op Operation) Validate() error {
	if len(op.ID) > maxIdentifierLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrMalformedOperation, maxIdentifierLength)
	}
	if len(op.Origin) > maxIdentifierLength {
		return fmt.Errorf("%w: origin exceeds %d characters", ErrMalformedOperation, maxIdentifierLength)
	}
	switch op.Kind {
	case KindStroke:
		return op.validateStroke()
	case KindClear:
		if op.TargetID != "" {
			return fmt.Errorf("%w: clear must not carry a target id", ErrMalformedOperation)
		}
		return nil
	case KindTombstone, KindUntombstone:
		if strings.TrimSpace(op.TargetID) == "" {
			return fmt.Errorf("%w: %s requires a target id", ErrMalformedOperation, op.Kind)
		}
		return nil
	case "":
		return fmt.Errorf("%w: missing kind", ErrMalformedOperation)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedOperation, op.Kind)
	}
}

func (op Operation) validateStroke() error {
	if len(op.Points) < minStrokePoints {
		return fmt.Errorf("%w: stroke requires at least %d points, got %d", ErrMalformedOperation, minStrokePoints, len(op.Points))
	}
	for index, point := range op.Points {
		if !finite(point.X) || !finite(point.Y) {
			return fmt.Errorf("%w: point %d is not finite", ErrMalformedOperation, index)
		}
	}
	if op.Style == nil {
		return fmt.Errorf("%w: stroke requires a style", ErrMalformedOperation)
	}
	switch op.Style.Tool {
	case ToolBrush:
		if strings.TrimSpace(op.Style.Color) == "" {
			return fmt.Errorf("%w: brush stroke requires a color", ErrMalformedOperation)
		}
	case ToolEraser:
	default:
		return fmt.Errorf("%w: unknown tool %q", ErrMalformedOperation, op.Style.Tool)
	}
	if !finite(op.Style.Size) || op.Style.Size <= 0 {
		return fmt.Errorf("%w: stroke size must be positive", ErrMalformedOperation)
	}
	if op.TargetID != "" {
		return fmt.Errorf("%w: stroke must not carry a target id", ErrMalformedOperation)
	}
	return nil
}

// normalized strips fields that do not belong to the operation's kind and
// detaches slices from the caller.
func (op Operation) normalized() Operation {
	op.ID = strings.TrimSpace(op.ID)
	op.Origin = strings.TrimSpace(op.Origin)
	op.TargetID = strings.TrimSpace(op.TargetID)
	switch op.Kind {
	case KindStroke:
		points := make([]Point, len(op.Points))
		copy(points, op.Points)
		op.Points = points
		style := *op.Style
		op.Style = &style
	default:
		op.Points = nil
		op.Style = nil
	}
	return op
}

// Clone returns a copy that shares no memory with the receiver.
func (op Operation) Clone() Operation {
	if op.Points != nil {
		points := make([]Point, len(op.Points))
		copy(points, op.Points)
		op.Points = points
	}
	if op.Style != nil {
		style := *op.Style
		op.Style = &style
	}
	return op
}

// NewOrigin validates raw input and returns a trimmed origin identifier.
func NewOrigin(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOrigin)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOrigin, maxIdentifierLength)
	}
	return trimmed, nil
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
