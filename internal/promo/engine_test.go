package promo

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
	"amnezia-bot/internal/subscription"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return NewEngine(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func intp(n int) *int { return &n }

func TestCreateNeverOverwrites(t *testing.T) {
	e := newEngine(t)

	require.NoError(t, e.Create(Definition{Code: "SAVE10", DiscountPercent: 10}))
	err := e.Create(Definition{Code: "SAVE10", DiscountPercent: 50})
	require.True(t, domain.IsConflict(err))

	red, err := e.Redeem("SAVE10")
	require.NoError(t, err)
	require.Equal(t, 10.0, red.DiscountPercent)
}

func TestRedeemRejections(t *testing.T) {
	e := newEngine(t)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	_, err := e.Redeem("MISSING")
	require.True(t, domain.IsNotFound(err))

	require.NoError(t, e.Create(Definition{Code: "OLD", DiscountPercent: 5, TTLDays: intp(10)}))
	e.now = func() time.Time { return time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC) }
	_, err = e.Redeem("OLD")
	require.True(t, domain.IsConflict(err))

	require.NoError(t, e.Create(Definition{Code: "ONCE", DiscountPercent: 5, MaxUses: intp(1)}))
	_, err = e.Redeem("ONCE")
	require.NoError(t, err)
	_, err = e.Redeem("ONCE")
	require.True(t, domain.IsConflict(err))
}

func TestConcurrentRedemptionNeverOversells(t *testing.T) {
	e := newEngine(t)
	const maxUses = 5
	const attempts = 20

	require.NoError(t, e.Create(Definition{Code: "RACE", DiscountPercent: 15, MaxUses: intp(maxUses)}))

	var ok int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Redeem("RACE"); err == nil {
				atomic.AddInt64(&ok, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(maxUses), ok)

	infos, err := e.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, maxUses, infos[0].Record.Uses)
	require.Equal(t, "0", infos[0].Remaining)
}

func TestRefundReturnsOneUse(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Create(Definition{Code: "ONCE", DiscountPercent: 5, MaxUses: intp(1)}))

	_, err := e.Redeem("ONCE")
	require.NoError(t, err)
	_, err = e.Redeem("ONCE")
	require.True(t, domain.IsConflict(err))

	// After a refund the code is redeemable again.
	require.NoError(t, e.Refund("ONCE"))
	_, err = e.Redeem("ONCE")
	require.NoError(t, err)

	// A deleted code or an untouched counter refunds as a no-op.
	require.NoError(t, e.Refund("MISSING"))
	require.NoError(t, e.Create(Definition{Code: "FRESH", DiscountPercent: 5}))
	require.NoError(t, e.Refund("FRESH"))
	infos, err := e.List()
	require.NoError(t, err)
	for _, info := range infos {
		if info.Code == "FRESH" {
			require.Equal(t, 0, info.Record.Uses)
		}
	}
}

func TestRedeemGrantPeriod(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Create(Definition{Code: "FREE", GrantsPeriod: subscription.Period3Months}))

	red, err := e.Redeem("FREE")
	require.NoError(t, err)
	require.Equal(t, subscription.Period3Months, red.GrantsPeriod)
}

func TestDeleteAndList(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Create(Definition{Code: "B", DiscountPercent: 1}))
	require.NoError(t, e.Create(Definition{Code: "A", DiscountPercent: 2}))

	infos, err := e.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "A", infos[0].Code)
	require.Equal(t, "∞", infos[0].Remaining)

	require.NoError(t, e.Delete("A"))
	require.True(t, domain.IsNotFound(e.Delete("A")))
}
