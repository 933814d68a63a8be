package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Store persists the token between runs.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// FileStore keeps the token in a YAML file readable only by the user.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileContents struct {
	Token string `yaml:"token"`
}

func (s *FileStore) Load(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session file: %w", err)
	}
	var fc fileContents
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return "", fmt.Errorf("parse session file: %w", err)
	}
	return fc.Token, nil
}

func (s *FileStore) Save(ctx context.Context, token string) error {
	data, err := yaml.Marshal(fileContents{Token: token})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// MemoryStore keeps nothing across runs.
type MemoryStore struct {
	token string
}

func (s *MemoryStore) Load(context.Context) (string, error)       { return s.token, nil }
func (s *MemoryStore) Save(_ context.Context, token string) error { s.token = token; return nil }
func (s *MemoryStore) Clear(context.Context) error                { s.token = ""; return nil }
