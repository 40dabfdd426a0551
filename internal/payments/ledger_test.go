package payments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"amnezia-bot/internal/provisioning"
	"amnezia-bot/internal/store"
	"amnezia-bot/internal/subscription"
)

// countingIssuer records every provision so exactly-once semantics can
// be asserted.
type countingIssuer struct {
	calls int64
}

func (c *countingIssuer) Issue(_ context.Context, telegramID int64, _ subscription.Period) (string, provisioning.Credential, error) {
	n := atomic.AddInt64(&c.calls, 1)
	return fmt.Sprintf("user%d_%04d", telegramID, n), "vpn://dev", nil
}

func newPaymentLedger(t *testing.T) (*Ledger, *FakeOracle, *countingIssuer, *Pricing) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	oracle := NewFakeOracle()
	pricing := NewPricing(st)
	iss := &countingIssuer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(st, oracle, pricing, iss, log), oracle, iss, pricing
}

func TestCreateIntentFreezesPriceAtCreation(t *testing.T) {
	l, _, _, pricing := newPaymentLedger(t)
	ctx := context.Background()

	intent, err := l.CreateIntent(ctx, 100, subscription.Period1Month, 0)
	require.NoError(t, err)
	require.Equal(t, 1000.0, intent.Amount)

	// A later price edit must not change the open intent.
	require.NoError(t, pricing.SetPrice(subscription.Period1Month, 1500))

	stored, err := l.Get(intent.ID)
	require.NoError(t, err)
	require.Equal(t, 1000.0, stored.Amount)

	fresh, err := l.CreateIntent(ctx, 100, subscription.Period1Month, 0)
	require.NoError(t, err)
	require.Equal(t, 1500.0, fresh.Amount)
}

func TestCreateIntentAppliesDiscount(t *testing.T) {
	l, _, _, _ := newPaymentLedger(t)

	intent, err := l.CreateIntent(context.Background(), 100, subscription.Period3Months, 10)
	require.NoError(t, err)
	require.Equal(t, 2250.0, intent.Amount)
	require.Equal(t, StatusPending, intent.Status)
	require.NotEmpty(t, intent.PayURL)
}

func TestReconcileProvisionsSettledIntentExactlyOnce(t *testing.T) {
	l, oracle, iss, _ := newPaymentLedger(t)
	ctx := context.Background()

	intent, err := l.CreateIntent(ctx, 200, subscription.Period1Month, 0)
	require.NoError(t, err)
	oracle.Settle(intent.ExternalID)

	completions, err := l.ReconcilePending(ctx)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	require.Equal(t, intent.ID, completions[0].Intent.ID)
	require.NotEmpty(t, completions[0].Username)

	// A second pass over the same settled payment must not provision
	// a second account.
	completions, err = l.ReconcilePending(ctx)
	require.NoError(t, err)
	require.Empty(t, completions)
	require.Equal(t, int64(1), iss.calls)

	stored, err := l.Get(intent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
}

func TestReconcileForLeavesOtherUsersPending(t *testing.T) {
	l, oracle, iss, _ := newPaymentLedger(t)
	ctx := context.Background()

	mine, err := l.CreateIntent(ctx, 700, subscription.Period1Month, 0)
	require.NoError(t, err)
	theirs, err := l.CreateIntent(ctx, 701, subscription.Period1Month, 0)
	require.NoError(t, err)
	oracle.Settle(mine.ExternalID)
	oracle.Settle(theirs.ExternalID)

	// The scoped pass completes only the requested user's intent. The
	// other settled intent stays pending so the sweep that can actually
	// deliver its credential still finds it.
	completions, err := l.ReconcileFor(ctx, 700)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	require.Equal(t, mine.ID, completions[0].Intent.ID)

	stored, err := l.Get(theirs.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)

	completions, err = l.ReconcilePending(ctx)
	require.NoError(t, err)
	require.Len(t, completions, 1)
	require.Equal(t, theirs.ID, completions[0].Intent.ID)
	require.NotEmpty(t, completions[0].Credential)
	require.Equal(t, int64(2), iss.calls)
}

func TestReconcileForStopsAfterFirstCompletion(t *testing.T) {
	l, oracle, _, _ := newPaymentLedger(t)
	ctx := context.Background()

	month, err := l.CreateIntent(ctx, 710, subscription.Period1Month, 0)
	require.NoError(t, err)
	quarter, err := l.CreateIntent(ctx, 710, subscription.Period3Months, 0)
	require.NoError(t, err)
	oracle.Settle(month.ExternalID)
	oracle.Settle(quarter.ExternalID)

	// One completion per call: each carries a credential that gets its
	// own delivery.
	completions, err := l.ReconcileFor(ctx, 710)
	require.NoError(t, err)
	require.Len(t, completions, 1)

	completions, err = l.ReconcileFor(ctx, 710)
	require.NoError(t, err)
	require.Len(t, completions, 1)

	completions, err = l.ReconcileFor(ctx, 710)
	require.NoError(t, err)
	require.Empty(t, completions)
}

// blockingIssuer parks inside Issue so a second reconcile pass can run
// while the first one still holds the settled intent.
type blockingIssuer struct {
	calls   int64
	entered chan struct{}
	release chan struct{}
}

func (b *blockingIssuer) Issue(_ context.Context, telegramID int64, _ subscription.Period) (string, provisioning.Credential, error) {
	n := atomic.AddInt64(&b.calls, 1)
	b.entered <- struct{}{}
	<-b.release
	return fmt.Sprintf("user%d_%04d", telegramID, n), "vpn://dev", nil
}

func TestConcurrentReconcilesProvisionOnce(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	oracle := NewFakeOracle()
	blocker := &blockingIssuer{entered: make(chan struct{}), release: make(chan struct{})}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewLedger(st, oracle, NewPricing(st), blocker, log)
	ctx := context.Background()

	intent, err := l.CreateIntent(ctx, 800, subscription.Period1Month, 0)
	require.NoError(t, err)
	oracle.Settle(intent.ExternalID)

	type result struct {
		completions []Completion
		err         error
	}
	first := make(chan result, 1)
	go func() {
		c, err := l.ReconcilePending(ctx)
		first <- result{c, err}
	}()

	// The first pass is parked inside Issue with the intent already off
	// pending. A full second pass over the same ledger must not
	// provision it again.
	<-blocker.entered
	completions, err := l.ReconcilePending(ctx)
	require.NoError(t, err)
	require.Empty(t, completions)

	close(blocker.release)
	res := <-first
	require.NoError(t, res.err)
	require.Len(t, res.completions, 1)
	require.Equal(t, int64(1), atomic.LoadInt64(&blocker.calls))

	stored, err := l.Get(intent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
}

func TestReconcileMarksFailedSettlements(t *testing.T) {
	l, oracle, iss, _ := newPaymentLedger(t)
	ctx := context.Background()

	intent, err := l.CreateIntent(ctx, 300, subscription.Period1Month, 0)
	require.NoError(t, err)
	oracle.Fail(intent.ExternalID)

	completions, err := l.ReconcilePending(ctx)
	require.NoError(t, err)
	require.Empty(t, completions)
	require.Equal(t, int64(0), iss.calls)

	stored, err := l.Get(intent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
}

func TestReconcileIsolatesOracleFailures(t *testing.T) {
	l, oracle, _, _ := newPaymentLedger(t)
	ctx := context.Background()

	intent, err := l.CreateIntent(ctx, 400, subscription.Period1Month, 0)
	require.NoError(t, err)

	// The oracle is down on this pass: the intent must survive pending.
	oracle.FailNext(errors.New("timeout"))
	completions, err := l.ReconcilePending(ctx)
	require.NoError(t, err)
	require.Empty(t, completions)

	stored, err := l.Get(intent.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)

	// Once the oracle recovers and the payment settles, the intent
	// completes normally.
	oracle.Settle(intent.ExternalID)
	completions, err = l.ReconcilePending(ctx)
	require.NoError(t, err)
	require.Len(t, completions, 1)
}

func TestPendingForReusesOpenIntent(t *testing.T) {
	l, oracle, _, _ := newPaymentLedger(t)
	ctx := context.Background()

	_, found, err := l.PendingFor(500, subscription.Period1Month)
	require.NoError(t, err)
	require.False(t, found)

	intent, err := l.CreateIntent(ctx, 500, subscription.Period1Month, 0)
	require.NoError(t, err)

	open, found, err := l.PendingFor(500, subscription.Period1Month)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, intent.ID, open.ID)

	// Other periods and other users see no open intent.
	_, found, err = l.PendingFor(500, subscription.Period3Months)
	require.NoError(t, err)
	require.False(t, found)

	oracle.Settle(intent.ExternalID)
	_, err = l.ReconcilePending(ctx)
	require.NoError(t, err)

	_, found, err = l.PendingFor(500, subscription.Period1Month)
	require.NoError(t, err)
	require.False(t, found)
}

func TestHistoryNewestFirst(t *testing.T) {
	l, _, _, _ := newPaymentLedger(t)
	ctx := context.Background()

	first, err := l.CreateIntent(ctx, 600, subscription.Period1Month, 0)
	require.NoError(t, err)
	second, err := l.CreateIntent(ctx, 600, subscription.Period3Months, 0)
	require.NoError(t, err)
	_, err = l.CreateIntent(ctx, 601, subscription.Period1Month, 0)
	require.NoError(t, err)

	history, err := l.History(600)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.ElementsMatch(t,
		[]string{first.ID, second.ID},
		[]string{history[0].ID, history[1].ID})
}
