package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultTokenPath returns the default location of the token file,
// ~/.config/calsync/tokens.json on Linux.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, "calsync", "tokens.json"), nil
}

// FileTokenStore persists member tokens as a JSON file. Tokens are stored
// unencrypted; the file is created owner-readable only.
type FileTokenStore struct {
	path string

	mu     sync.Mutex
	tokens map[string]Token
	loaded bool
}

// NewFileTokenStore creates a store backed by the file at path. The file is
// read lazily on first access and may not exist yet.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path, tokens: make(map[string]Token)}
}

// load reads the file into memory. Caller holds s.mu.
func (s *FileTokenStore) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading token file: %w", err)
	}
	if err := json.Unmarshal(data, &s.tokens); err != nil {
		return fmt.Errorf("parsing token file %s: %w", s.path, err)
	}
	s.loaded = true
	return nil
}

// Load returns the stored token for a member.
func (s *FileTokenStore) Load(_ context.Context, memberID string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return Token{}, err
	}
	tok, ok := s.tokens[memberID]
	if !ok {
		return Token{}, fmt.Errorf("member %s: %w", memberID, ErrNoToken)
	}
	return tok, nil
}

// Save stores a member's token and rewrites the file.
func (s *FileTokenStore) Save(_ context.Context, memberID string, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	s.tokens[memberID] = tok

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}
