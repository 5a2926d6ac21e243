package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
)

// ErrCorruptSnapshot indicates that a stored snapshot could not be decoded.
var ErrCorruptSnapshot = errors.New("persistence: corrupt snapshot")

func encodeSnapshot(snapshot drawing.Snapshot) ([]byte, error) {
	if snapshot.Log == nil {
		snapshot.Log = []drawing.Operation{}
	}
	if snapshot.Tombstones == nil {
		snapshot.Tombstones = []string{}
	}
	if snapshot.UndoStacks == nil {
		snapshot.UndoStacks = map[string][]string{}
	}
	if snapshot.RedoStacks == nil {
		snapshot.RedoStacks = map[string][]string{}
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("persistence: encode snapshot: %w", err)
	}
	return payload, nil
}

func decodeSnapshot(payload []byte) (drawing.Snapshot, error) {
	var snapshot drawing.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return drawing.Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return snapshot, nil
}
