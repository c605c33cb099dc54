package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// CredentialStore persists the access token and the identity that came with
// it. Load returns an empty token and nil identity when nothing is stored.
type CredentialStore interface {
	Load() (token string, identity []byte, err error)
	Save(token string, identity []byte) error
	Clear() error
}

const (
	tokenFile    = "token"
	identityFile = "user.json"
)

// FileStore keeps credentials in a directory, one file per value.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Load() (string, []byte, error) {
	token, err := os.ReadFile(filepath.Join(s.dir, tokenFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("read token: %w", err)
	}

	identity, err := os.ReadFile(filepath.Join(s.dir, identityFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", nil, fmt.Errorf("read identity: %w", err)
	}
	return string(token), identity, nil
}

// Save replaces both files. Each write goes through a temp file and a rename
// so readers never see a partial value.
func (s *FileStore) Save(token string, identity []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, identityFile), identity); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, tokenFile), []byte(token)); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	for _, name := range []string{tokenFile, identityFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// MemoryStore is an in-process CredentialStore.
type MemoryStore struct {
	mu       sync.Mutex
	token    string
	identity []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (string, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, append([]byte(nil), s.identity...), nil
}

func (s *MemoryStore) Save(token string, identity []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.identity = append([]byte(nil), identity...)
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.identity = nil
	return nil
}
