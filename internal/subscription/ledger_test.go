package subscription

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"amnezia-bot/internal/provisioning"
	"amnezia-bot/internal/store"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T) (*Ledger, *provisioning.DevProvisioner) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	bindings := store.NewCollection[int64](st, "user_telegram")
	prov := provisioning.NewDev(bindings, discard())
	return NewLedger(st, bindings, prov, discard()), prov
}

func TestRenewExtendsFromLaterOfNowAndCurrent(t *testing.T) {
	l, _ := newLedger(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	first, err := l.Renew("alice", Period1Month)
	require.NoError(t, err)
	require.Equal(t, now.Add(30*24*time.Hour), first)

	// Second renewal stacks on top of the first, not on top of now.
	second, err := l.Renew("alice", Period1Month)
	require.NoError(t, err)
	require.Equal(t, now.Add(60*24*time.Hour), second)
}

func TestRenewFromThePastCountsFromNow(t *testing.T) {
	l, _ := newLedger(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	past := now.Add(-10 * 24 * time.Hour)
	require.NoError(t, l.SetExpiration("bob", &past))

	next, err := l.Renew("bob", Period3Months)
	require.NoError(t, err)
	require.Equal(t, now.Add(90*24*time.Hour), next)
}

func TestSweepExpiredDeprovisionsAndClears(t *testing.T) {
	l, prov := newLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, err := prov.Provision(ctx, "alice")
	require.NoError(t, err)
	owner := int64(111)
	require.NoError(t, prov.BindOwner(ctx, "alice", &owner))

	_, err = l.Renew("alice", Period3Months)
	require.NoError(t, err)

	// Not yet expired.
	swept, err := l.SweepExpired(ctx, now.Add(89*24*time.Hour))
	require.NoError(t, err)
	require.Empty(t, swept)

	// One day past the 90-day horizon.
	swept, err = l.SweepExpired(ctx, now.Add(91*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, swept)

	_, ok, err := l.Expiration("alice")
	require.NoError(t, err)
	require.False(t, ok)

	peers, err := prov.ActivePeers(ctx)
	require.NoError(t, err)
	require.Empty(t, peers)
}

func TestSweepToleratesAlreadyRemovedAccounts(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Expiration record without any provisioned peer: a manual delete
	// raced the sweep. Must be swept without errors.
	past := now.Add(-time.Hour)
	require.NoError(t, l.SetExpiration("ghost", &past))

	swept, err := l.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []string{"ghost"}, swept)
}

func TestUnlimitedAccountsAreNeverSwept(t *testing.T) {
	l, prov := newLedger(t)
	ctx := context.Background()

	_, err := prov.Provision(ctx, "forever")
	require.NoError(t, err)
	require.NoError(t, l.SetExpiration("forever", nil))

	swept, err := l.SweepExpired(ctx, time.Now().Add(10*365*24*time.Hour))
	require.NoError(t, err)
	require.Empty(t, swept)
}

func TestIssueProvisionsBindsAndExpires(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	username, cred, err := l.Issue(ctx, 222, Period1Month)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(username, "user222_"))
	require.True(t, strings.HasPrefix(string(cred), "vpn://"))

	exp, ok, err := l.Expiration(username)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, exp)
	require.Equal(t, now.Add(30*24*time.Hour), *exp)

	infos, err := l.Overview(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.NotNil(t, infos[0].Owner)
	require.Equal(t, int64(222), *infos[0].Owner)
}

func TestRemoveLeavesNoResidualRecords(t *testing.T) {
	l, prov := newLedger(t)
	ctx := context.Background()

	username, _, err := l.Issue(ctx, 333, Period1Month)
	require.NoError(t, err)

	require.NoError(t, l.Remove(ctx, username))

	_, ok, err := l.Expiration(username)
	require.NoError(t, err)
	require.False(t, ok)

	infos, err := l.Overview(ctx)
	require.NoError(t, err)
	require.Empty(t, infos)

	peers, err := prov.ActivePeers(ctx)
	require.NoError(t, err)
	require.Empty(t, peers)
}
