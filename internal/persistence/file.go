package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
)

// FileStore keeps one JSON file per room in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir when needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("persistence: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Load returns the stored snapshot for roomID.
func (s *FileStore) Load(ctx context.Context, roomID string) (drawing.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return drawing.Snapshot{}, false, err
	}
	payload, err := os.ReadFile(s.path(roomID))
	if errors.Is(err, fs.ErrNotExist) {
		return drawing.Snapshot{}, false, nil
	}
	if err != nil {
		return drawing.Snapshot{}, false, fmt.Errorf("persistence: load room %q: %w", roomID, err)
	}
	snapshot, err := decodeSnapshot(payload)
	if err != nil {
		return drawing.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Save writes the snapshot to a temporary file and renames it into place so a
// reader never observes a partial write.
func (s *FileStore) Save(ctx context.Context, roomID string, snapshot drawing.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(s.dir, ".room-*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: save room %q: %w", roomID, err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(payload); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("persistence: save room %q: %w", roomID, err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("persistence: save room %q: %w", roomID, err)
	}
	if err := os.Rename(tempPath, s.path(roomID)); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("persistence: save room %q: %w", roomID, err)
	}
	return nil
}

func (s *FileStore) path(roomID string) string {
	return filepath.Join(s.dir, fileName(roomID))
}

// fileName maps a room id to a safe file name. Ids that needed rewriting get a
// hash suffix so distinct rooms never share a file.
func fileName(roomID string) string {
	var builder strings.Builder
	rewritten := false
	for _, r := range roomID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
			rewritten = true
		}
	}
	name := builder.String()
	if rewritten || name == "" {
		sum := sha256.Sum256([]byte(roomID))
		name += "-" + hex.EncodeToString(sum[:6])
	}
	return name + ".json"
}
