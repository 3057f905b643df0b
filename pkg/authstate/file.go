package authstate

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	credFileExt  = ".creds"
	credFileMode = 0o600
	credDirMode  = 0o700
)

// FileStore implements Store with one file per session under a root
// directory. Writes go through a temp file and rename so a crash mid-save
// never leaves a truncated blob. Session IDs are caller-supplied, so file
// names use their URL-safe base64 encoding rather than the raw ID.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed credential store rooted at dir,
// creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, credDirMode); err != nil {
		return nil, fmt.Errorf("creating auth state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load retrieves the credential blob for a session. Returns nil, nil if absent.
func (s *FileStore) Load(_ context.Context, sessionID string) ([]byte, error) {
	blob, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading auth state: %w", err)
	}
	return blob, nil
}

// Save persists the credential blob for a session, replacing any previous value.
func (s *FileStore) Save(_ context.Context, sessionID string, state []byte) error {
	tmp, err := os.CreateTemp(s.dir, "creds-*")
	if err != nil {
		return fmt.Errorf("creating temp auth state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(state); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing auth state: %w", err)
	}
	if err := tmp.Chmod(credFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting auth state mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing auth state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(sessionID)); err != nil {
		return fmt.Errorf("replacing auth state: %w", err)
	}
	return nil
}

// Delete removes all persisted material for a session.
func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting auth state: %w", err)
	}
	return nil
}

// ListSessionIDs returns the IDs of all sessions with persisted credentials.
func (s *FileStore) ListSessionIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing auth state directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, credFileExt) {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, credFileExt))
		if err != nil {
			// Not one of ours; skip.
			continue
		}
		ids = append(ids, string(raw))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases backend resources.
func (*FileStore) Close() error {
	return nil
}

func (s *FileStore) path(sessionID string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(sessionID)) + credFileExt
	return filepath.Join(s.dir, name)
}

// Verify interface compliance.
var _ Store = (*FileStore)(nil)
