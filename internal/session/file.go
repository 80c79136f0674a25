package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists the session as a JSON object with "user" and "tokens"
// members, written atomically via rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Set(_ context.Context, s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	payload, err := json.MarshalIndent(map[string]interface{}{UserKey: s.User, TokensKey: s.Tokens}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("prepare session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (f *FileStore) Current(_ context.Context) (Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("read session: %w", err)
	}

	s, ok := decodeFile(raw)
	if !ok {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Session{}, false, fmt.Errorf("remove corrupt session: %w", err)
		}
		return Session{}, false, nil
	}
	return s, true, nil
}

func decodeFile(raw []byte) (Session, bool) {
	var doc struct {
		User   *json.RawMessage `json:"user"`
		Tokens *json.RawMessage `json:"tokens"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || doc.User == nil || doc.Tokens == nil {
		return Session{}, false
	}
	var s Session
	if err := json.Unmarshal(*doc.User, &s.User); err != nil {
		return Session{}, false
	}
	if err := json.Unmarshal(*doc.Tokens, &s.Tokens); err != nil {
		return Session{}, false
	}
	return s, true
}
