// internal/credstore/store.go

// Package credstore keeps the provider API credentials for the lifetime of
// the process and the session token on disk.
package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrIncomplete = errors.New("api_id and api_hash are required")
	ErrAlreadySet = errors.New("credentials already set")
	ErrNoSession  = errors.New("no persisted session")
)

type Credentials struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
}

// Complete reports whether both fields are present.
func (c Credentials) Complete() bool {
	return c.APIID != 0 && strings.TrimSpace(c.APIHash) != ""
}

// Missing names the absent fields, in request order.
func (c Credentials) Missing() []string {
	var missing []string
	if c.APIID == 0 {
		missing = append(missing, "api_id")
	}
	if strings.TrimSpace(c.APIHash) == "" {
		missing = append(missing, "api_hash")
	}
	return missing
}

type Store struct {
	path string

	mu    sync.RWMutex
	creds Credentials
	set   bool
}

// New returns a store persisting the session token at path.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// SetCredentials records creds once. Setting the same value again is allowed.
func (s *Store) SetCredentials(creds Credentials) error {
	if !creds.Complete() {
		return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(creds.Missing(), ", "))
	}
	creds.APIHash = strings.TrimSpace(creds.APIHash)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		if s.creds == creds {
			return nil
		}
		return ErrAlreadySet
	}
	s.creds = creds
	s.set = true
	return nil
}

// Credentials returns the stored credentials and whether they were set.
func (s *Store) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, s.set
}

// LoadSession reads the persisted token.
func (s *Store) LoadSession() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoSession
	}
	return token, nil
}

func (s *Store) HasSession() bool {
	_, err := s.LoadSession()
	return err == nil
}

// SaveSession replaces the persisted token. The file is written next to its
// final location and renamed so a crash never leaves a partial token.
func (s *Store) SaveSession(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("empty session token")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}
