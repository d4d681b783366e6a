package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/glimte/mmate-relay/contracts"
)

// DefaultFilePath is the directory used when no archive path is configured
const DefaultFilePath = "./messages"

// FileStore writes one JSON file per record into a directory. File names
// are the path-escaped record id with a .json suffix.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store rooted at it
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultFilePath
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: failed to create directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory records are written to
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file a record with the given id is written to
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, url.PathEscape(id)+".json")
}

// Push implements Store. The record is written to a temporary file first
// and renamed into place so readers never see a partial record.
func (s *FileStore) Push(ctx context.Context, id string, env contracts.Envelope) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("archive: failed to encode record %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("archive: failed to write record %s: %w", id, err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("archive: failed to write record %s: %w", id, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("archive: failed to write record %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive: failed to write record %s: %w", id, err)
	}

	if err := os.Rename(tmpName, s.Path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive: failed to write record %s: %w", id, err)
	}
	return nil
}

// Get implements Store
func (s *FileStore) Get(ctx context.Context, id string) (*contracts.Envelope, error) {
	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: failed to read record %s: %w", id, err)
	}

	var env contracts.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("archive: failed to decode record %s: %w", id, err)
	}
	return &env, nil
}

// Close implements Store
func (s *FileStore) Close() error {
	return nil
}
