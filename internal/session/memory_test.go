package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(30 * time.Minute)
	ctx := context.Background()

	s, err := m.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), s.UserID)
	require.Empty(t, s.Awaiting)

	s.Awaiting = "username"
	s.Set("promo_discount_percent", "10")
	require.NoError(t, m.Put(ctx, s))

	got, err := m.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "username", got.Awaiting)
	require.Equal(t, "10", got.Value("promo_discount_percent"))
}

func TestMemoryExpiresAfterTTL(t *testing.T) {
	m := NewMemory(30 * time.Minute)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, Session{UserID: 7, Awaiting: "date"}))

	now = now.Add(29 * time.Minute)
	got, err := m.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "date", got.Awaiting)

	now = now.Add(2 * time.Minute)
	got, err = m.Get(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, got.Awaiting)
}

func TestMemoryReset(t *testing.T) {
	m := NewMemory(time.Hour)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, Session{UserID: 9, Awaiting: "price"}))
	require.NoError(t, m.Reset(ctx, 9))

	got, err := m.Get(ctx, 9)
	require.NoError(t, err)
	require.Empty(t, got.Awaiting)
}
