package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errAbort = errors.New("abort")

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	c := NewCollection[int](s, "nothing")
	m, err := c.Load()
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestUpdateRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	c := NewCollection[string](s, "doc")
	require.NoError(t, c.Update(func(m map[string]string) error {
		m["alice"] = "unlimited"
		return nil
	}))

	v, ok, err := c.Get("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "unlimited", v)
}

func TestUpdateErrorWritesNothing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	c := NewCollection[int](s, "doc")
	require.NoError(t, c.Update(func(m map[string]int) error {
		m["a"] = 1
		return nil
	}))

	boom := require.New(t)
	err = c.Update(func(m map[string]int) error {
		m["a"] = 2
		return errAbort
	})
	boom.ErrorIs(err, errAbort)

	v, ok, err := c.Get("a")
	boom.NoError(err)
	boom.True(ok)
	boom.Equal(1, v)
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	c := NewCollection[int](s, "counters")
	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Update(func(m map[string]int) error {
				m["n"]++
				return nil
			})
		}()
	}
	wg.Wait()

	v, ok, err := c.Get("n")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, workers, v)
}
