package history

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	s, err := NewRedisStore(mr.Addr())
	require.NoError(t, err)

	return s, mr
}

func TestNewRedisStoreInvalidAddress(t *testing.T) {
	_, err := NewRedisStore("invalid:99999")
	assert.Error(t, err)
}

func TestRedisStoreUpsertAndRecent(t *testing.T) {
	s, mr := setupRedisStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Upsert(finishedTask("task-1", 3)))
	require.NoError(t, s.Upsert(finishedTask("task-2", 5)))

	recent, err := s.Recent()
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "task-2", recent[0].ID)
	assert.Equal(t, "task-1", recent[1].ID)
	assert.Equal(t, 5, recent[0].SuccessCount)
}

func TestRedisStoreUpsertReplacesInPlace(t *testing.T) {
	s, mr := setupRedisStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Upsert(finishedTask("task-1", 3)))
	require.NoError(t, s.Upsert(finishedTask("task-2", 5)))

	corrected := finishedTask("task-1", 7)
	require.NoError(t, s.Upsert(corrected))

	recent, err := s.Recent()
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "task-2", recent[0].ID)
	assert.Equal(t, 7, recent[1].SuccessCount)
}

func TestRedisStoreBound(t *testing.T) {
	s, mr := setupRedisStore(t)
	defer mr.Close()
	defer func() { _ = s.Close() }()

	for i := 1; i <= Bound+2; i++ {
		require.NoError(t, s.Upsert(finishedTask(fmt.Sprintf("task-%d", i), i)))
	}

	recent, err := s.Recent()
	require.NoError(t, err)
	require.Len(t, recent, Bound)
	assert.Equal(t, fmt.Sprintf("task-%d", Bound+2), recent[0].ID)

	// Evicted snapshots are gone from the hash too.
	assert.False(t, hashHas(t, mr, "task-1"))
	assert.False(t, hashHas(t, mr, "task-2"))
	assert.True(t, hashHas(t, mr, "task-3"))
}

func hashHas(t *testing.T, mr *miniredis.Miniredis, field string) bool {
	t.Helper()
	fields, err := mr.HKeys("crawl_history")
	require.NoError(t, err)
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}
