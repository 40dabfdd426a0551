package roster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
)

func newRoster(t *testing.T, bootstrap ...int64) *Roster {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	r, err := New(st, bootstrap)
	require.NoError(t, err)
	return r
}

func TestBootstrapSeedsAdmins(t *testing.T) {
	r := newRoster(t, 111, 222)

	role, err := r.RoleOf(111)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, role)

	role, err = r.RoleOf(333)
	require.NoError(t, err)
	require.Equal(t, RoleUser, role)
}

func TestLastAdminCannotBeRemoved(t *testing.T) {
	r := newRoster(t, 111)

	require.NoError(t, r.AddAdmin(222))
	require.NoError(t, r.RemoveAdmin(111))

	err := r.RemoveAdmin(222)
	require.Error(t, err)
	require.True(t, domain.IsConflict(err))

	role, err := r.RoleOf(222)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, role)
}

func TestModeratorLifecycle(t *testing.T) {
	r := newRoster(t, 111)

	require.NoError(t, r.AddModerator(500))
	role, err := r.RoleOf(500)
	require.NoError(t, err)
	require.Equal(t, RoleModerator, role)

	require.True(t, domain.IsConflict(r.AddModerator(500)))
	require.NoError(t, r.RemoveModerator(500))
	require.True(t, domain.IsNotFound(r.RemoveModerator(500)))
}

func TestRemoveUnknownAdmin(t *testing.T) {
	r := newRoster(t, 111)
	require.True(t, domain.IsNotFound(r.RemoveAdmin(999)))
}
