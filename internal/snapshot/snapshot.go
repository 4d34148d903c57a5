// Package snapshot serializes crawl snapshots and persists them only when
// the serialized bytes change.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/crawler"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/hash/sha256"
)

// Encode renders a snapshot as two-space indented JSON without a trailing
// newline. Equal snapshots always encode to equal bytes.
func Encode(s crawler.Snapshot) ([]byte, error) {
	if s.Servers == nil {
		s.Servers = []crawler.ServerRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SaveResult describes what Save did.
type SaveResult struct {
	Path    string
	Written bool
	Digest  string
	Bytes   int
	Servers int
}

// FileStore keeps the latest snapshot in a single file.
type FileStore struct {
	path   string
	hasher sha256.Hasher
	logger *zap.Logger
}

// NewFileStore returns a store for path.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, hasher: sha256.New(), logger: logger}, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes the snapshot unless the file already holds identical bytes.
// The write goes through a temp file and rename, so readers never observe a
// partial snapshot.
func (s *FileStore) Save(ctx context.Context, snap crawler.Snapshot) (SaveResult, error) {
	data, err := Encode(snap)
	if err != nil {
		return SaveResult{}, err
	}
	result := SaveResult{
		Path:    s.path,
		Digest:  s.hasher.Digest(data),
		Bytes:   len(data),
		Servers: len(snap.Servers),
	}

	current, err := os.ReadFile(s.path)
	switch {
	case err == nil && bytes.Equal(current, data):
		s.logger.Info("snapshot unchanged, skipping write",
			zap.String("path", s.path),
			zap.String("digest", result.Digest),
		)
		return result, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return SaveResult{}, fmt.Errorf("read current snapshot %s: %w", s.path, err)
	}

	if err := ctx.Err(); err != nil {
		return SaveResult{}, fmt.Errorf("context canceled: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return SaveResult{}, err
	}
	result.Written = true
	s.logger.Info("snapshot written",
		zap.String("path", s.path),
		zap.Int("servers", result.Servers),
		zap.Int("bytes", result.Bytes),
		zap.String("digest", result.Digest),
	)
	return result, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot %s: %w", path, err)
	}
	return nil
}
