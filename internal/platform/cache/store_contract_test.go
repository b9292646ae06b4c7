package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`), time.Minute))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(got))
	})

	t.Run("delete many", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
		require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

		require.NoError(t, s.Delete(ctx, "a", "b", "never-set"))

		_, err := s.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "b")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("replace only existing", func(t *testing.T) {
		s := newStore(t)

		written, err := s.Replace(ctx, "absent", []byte("x"))
		require.NoError(t, err)
		assert.False(t, written)
		_, err = s.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrNotFound, "replace must not create keys")

		require.NoError(t, s.Set(ctx, "present", []byte("old"), time.Minute))
		written, err = s.Replace(ctx, "present", []byte("new"))
		require.NoError(t, err)
		assert.True(t, written)

		got, err := s.Get(ctx, "present")
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})

	t.Run("refresh only existing", func(t *testing.T) {
		s := newStore(t)

		written, err := s.Refresh(ctx, "absent", []byte("x"), time.Minute)
		require.NoError(t, err)
		assert.False(t, written)
		_, err = s.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrNotFound, "refresh must not create keys")

		require.NoError(t, s.Set(ctx, "present", []byte("old"), time.Minute))
		written, err = s.Refresh(ctx, "present", []byte("new"), time.Hour)
		require.NoError(t, err)
		assert.True(t, written)

		got, err := s.Get(ctx, "present")
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})

	t.Run("get on a set is a miss", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SetAdd(ctx, "tag:leaderboard", "k1"))

		_, err := s.Get(ctx, "tag:leaderboard")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("incr sequence", func(t *testing.T) {
		s := newStore(t)
		for want := int64(1); want <= 5; want++ {
			n, err := s.Incr(ctx, "counter", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
	})

	t.Run("sets", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SetAdd(ctx, "tag:x", "k1", "k2"))
		require.NoError(t, s.SetAdd(ctx, "tag:x", "k2", "k3"))
		require.NoError(t, s.SetAdd(ctx, "live", "k2"))

		members, err := s.SetMembers(ctx, "tag:x")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"k1", "k2", "k3"}, members)

		diff, err := s.SetDiff(ctx, "tag:x", "live")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"k1", "k3"}, diff)

		empty, err := s.SetMembers(ctx, "tag:none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
