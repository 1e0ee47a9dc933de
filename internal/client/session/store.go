package session

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Pair is the client-held credential pair.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       int64  `json:"user_id"`
}

// Store persists the current credential pair. Save, Load and Clear are
// atomic with respect to each other: no reader observes a half-written
// pair.
type Store interface {
	Save(pair Pair) error
	Load() (Pair, bool, error)
	Clear() error
}

// MemoryStore keeps the pair in memory only. Used in tests and for
// sessions that must not outlive the process.
type MemoryStore struct {
	mu   sync.Mutex
	pair *Pair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pair
	s.pair = &p
	return nil
}

func (s *MemoryStore) Load() (Pair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return Pair{}, false, nil
	}
	return *s.pair, true, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	return nil
}

// FileStore seals the pair with XChaCha20-Poly1305 and writes it through
// a temp-file rename, so a crash mid-save leaves either the old pair or
// the new one on disk, never a torn file.
type FileStore struct {
	mu   sync.Mutex
	path string
	aead cipher.AEAD
}

// NewFileStore requires a 32-byte key, typically provisioned by the
// platform keystore.
func NewFileStore(path string, key []byte) (*FileStore, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("session store key: %w", err)
	}
	return &FileStore{path: path, aead: aead}, nil
}

func (s *FileStore) Save(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(pair)
	if err != nil {
		return err
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, s.path)
}

func (s *FileStore) Load() (Pair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Pair{}, false, nil
		}
		return Pair{}, false, err
	}

	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return Pair{}, false, fmt.Errorf("session file too short")
	}

	plaintext, err := s.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return Pair{}, false, fmt.Errorf("session file unreadable: %w", err)
	}

	var pair Pair
	if err := json.Unmarshal(plaintext, &pair); err != nil {
		return Pair{}, false, err
	}
	return pair, true, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
