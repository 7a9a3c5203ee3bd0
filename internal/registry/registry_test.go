package registry

import (
	"path/filepath"
	"testing"

	"gatebot/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&User{}))

	return New(gdb)
}

func TestTouchCreatesAndUpdates(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Touch(1, "alice", "Alice"))

	var u User
	require.NoError(t, r.db.First(&u, "telegram_id = ?", 1).Error)
	assert.Equal(t, "alice", u.Username)
	firstSeen := u.FirstSeen

	// renamed user refreshes display fields, not FirstSeen
	require.NoError(t, r.Touch(1, "alice2", "Alice B"))
	require.NoError(t, r.db.First(&u, "telegram_id = ?", 1).Error)
	assert.Equal(t, "alice2", u.Username)
	assert.Equal(t, "Alice B", u.FirstName)
	assert.Equal(t, firstSeen.Unix(), u.FirstSeen.Unix())
	assert.False(t, u.LastSeen.Before(firstSeen))
}

func TestTouchEmptyNameKeepsOld(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Touch(1, "alice", "Alice"))
	require.NoError(t, r.Touch(1, "", ""))

	var u User
	require.NoError(t, r.db.First(&u, "telegram_id = ?", 1).Error)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "Alice", u.FirstName)
}

func TestAllAndCount(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.Touch(3, "c", ""))
	require.NoError(t, r.Touch(1, "a", ""))
	require.NoError(t, r.Touch(2, "b", ""))
	require.NoError(t, r.Touch(1, "a", "")) // repeat interaction, no duplicate

	ids, err := r.All()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids)

	count, err := r.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
