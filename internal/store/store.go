// Package store implements the durable document storage: one JSON file
// per concern, loaded default-to-empty, rewritten whole on every save.
// Writers go through Update, which holds a per-document mutex plus a
// cross-process file lock for the duration of the load-mutate-save.
package store

import (
	"os"

	"github.com/pkg/errors"
)

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create storage dir")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }
