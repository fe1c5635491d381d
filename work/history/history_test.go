package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndQueryAttempts(t *testing.T) {
	store := openTestStore(t)

	id1 := store.RecordAttempt("http://a.example/s.m3u8", "Channel A", "Movies", "hls", 1)
	require.NotZero(t, id1)
	id2 := store.RecordAttempt("http://b.example/s.ts", "Channel B", "Backup", "http_ts", 2)
	require.NotZero(t, id2)
	assert.NotEqual(t, id1, id2)

	store.RecordOutcome(id1, "failed", 2, "cannot open stream")
	store.RecordOutcome(id2, "stable", 0, "")

	attempts, err := store.RecentAttempts(10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	// Newest first.
	assert.Equal(t, id2, attempts[0].ID)
	assert.Equal(t, "stable", attempts[0].Result)
	assert.Equal(t, "Channel B", attempts[0].Name)
	assert.False(t, attempts[0].StartedAt.IsZero())
	assert.False(t, attempts[0].EndedAt.IsZero())

	assert.Equal(t, "failed", attempts[1].Result)
	assert.Equal(t, 2, attempts[1].ExitCode)
	assert.Equal(t, "cannot open stream", attempts[1].StderrTail)
}

func TestRecentAttemptsLimit(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NotZero(t, store.RecordAttempt("http://a.example/s.m3u8", "Channel", "Any", "hls", 1))
	}

	attempts, err := store.RecentAttempts(3)
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
}

func TestOpenAttemptHasEmptyResult(t *testing.T) {
	store := openTestStore(t)

	id := store.RecordAttempt("http://a.example/s.m3u8", "Channel", "Any", "hls", 1)
	require.NotZero(t, id)

	attempts, err := store.RecentAttempts(1)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Empty(t, attempts[0].Result)
	assert.True(t, attempts[0].EndedAt.IsZero())
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *Store

	assert.Zero(t, store.RecordAttempt("http://a.example", "n", "c", "hls", 1))
	store.RecordOutcome(1, "failed", 1, "")

	attempts, err := store.RecentAttempts(10)
	assert.NoError(t, err)
	assert.Nil(t, attempts)
	assert.NoError(t, store.Close())
}

func TestOutcomeForUnknownIDIsIgnored(t *testing.T) {
	store := openTestStore(t)
	store.RecordOutcome(0, "failed", 1, "")
	store.RecordOutcome(9999, "failed", 1, "")

	attempts, err := store.RecentAttempts(10)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}
