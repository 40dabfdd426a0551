package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Collection is a single JSON document holding a map of records keyed
// by string. Every save writes a temp file and renames it over the
// document, so readers never observe a partial write.
type Collection[T any] struct {
	path string
	mu   sync.Mutex
	fl   *flock.Flock
}

// NewCollection opens the named document inside the store. The file is
// created lazily on first save.
func NewCollection[T any](s *Store, name string) *Collection[T] {
	path := filepath.Join(s.dir, name+".json")
	return &Collection[T]{
		path: path,
		fl:   flock.New(path + ".lock"),
	}
}

// Load reads the whole document. A missing file is an empty document.
func (c *Collection[T]) Load() (map[string]T, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]T{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", c.path)
	}
	m := map[string]T{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", c.path)
	}
	return m, nil
}

// Get returns a single record.
func (c *Collection[T]) Get(key string) (T, bool, error) {
	var zero T
	m, err := c.Load()
	if err != nil {
		return zero, false, err
	}
	v, ok := m[key]
	if !ok {
		return zero, false, nil
	}
	return v, true, nil
}

// Update runs fn on the current document contents under the document
// lock and saves the result. If fn returns an error nothing is written.
// This is the only way promo check-and-increment and payment
// check-and-transition stay atomic across racing callers.
func (c *Collection[T]) Update(fn func(map[string]T) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fl.Lock(); err != nil {
		return errors.Wrapf(err, "failed to lock %s", c.path)
	}
	defer func() { _ = c.fl.Unlock() }()

	m, err := c.Load()
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return c.save(m)
}

func (c *Collection[T]) save(m map[string]T) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", c.path)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", c.path)
	}
	return nil
}
