package provisioning

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
)

func newDev(t *testing.T) *DevProvisioner {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return NewDev(store.NewCollection[int64](st, "user_telegram"), nil)
}

func TestDevProvisionConflictsOnDuplicate(t *testing.T) {
	p := newDev(t)
	ctx := context.Background()

	cred, err := p.Provision(ctx, "alice")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(cred), "vpn://"))

	_, err = p.Provision(ctx, "alice")
	require.True(t, domain.IsConflict(err))
}

func TestDevDeprovisionIsIdempotent(t *testing.T) {
	p := newDev(t)
	ctx := context.Background()

	_, err := p.Provision(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, p.Deprovision(ctx, "bob"))
	require.NoError(t, p.Deprovision(ctx, "bob"))
	require.NoError(t, p.Deprovision(ctx, "never-existed"))
}

func TestParseDump(t *testing.T) {
	out := "privkey\tpubkey\t51820\toff\n" +
		"peerA\t(none)\t1.2.3.4:5\t10.0.0.2/32\t1700000000\t100\t200\t25\n"
	stats := parseDump(out)
	require.Len(t, stats, 1)
	require.Equal(t, int64(100), stats["peerA"].ReceiveBytes)
	require.Equal(t, int64(200), stats["peerA"].TransmitBytes)
	require.False(t, stats["peerA"].LastHandshake.IsZero())
}
