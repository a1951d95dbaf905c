package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/piewallah/pw-gateway/internal/model"
)

// FileBackend persists the credential as JSON readable only by the owner.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend { return &FileBackend{path: path} }

// Path returns the file location.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Load(context.Context) (model.Credential, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Credential{}, ErrNoCredential
		}
		return model.Credential{}, fmt.Errorf("read credential file: %w", err)
	}
	var c model.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return model.Credential{}, fmt.Errorf("parse credential file: %w", err)
	}
	return c, nil
}

func (f *FileBackend) Save(_ context.Context, c model.Credential) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Delete is idempotent.
func (f *FileBackend) Delete(context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}
