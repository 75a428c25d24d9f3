package jobs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// Store persists the full job table as one structured document. It's the sole
// source of truth across process restarts.
type Store interface {
	Load(ctx context.Context) ([]*JobConfig, error)
	Save(ctx context.Context, configs []*JobConfig) error
}

// FileStore keeps the job table in a JSON file on disk.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) ([]*JobConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First boot: nothing persisted yet.
			return []*JobConfig{}, nil
		}
		return nil, errors.WithStack(err)
	}

	configs := []*JobConfig{}
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, errors.WithStack(err)
	}

	return configs, nil
}

func (s *FileStore) Save(_ context.Context, configs []*JobConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.WithStack(err)
	}

	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	// Write to a temp file and rename so a crash mid-write can't truncate the
	// only copy of the job table.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil { //nolint:gosec
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.WithStack(err)
	}

	return nil
}
