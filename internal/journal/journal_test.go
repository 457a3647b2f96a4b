package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/satchel/internal/storage"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestStartFinishList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	createID, err := j.Start(ctx, KindCreate, "2024-01-01")
	require.NoError(t, err)
	require.NoError(t, j.Finish(ctx, createID, nil, map[string]any{"apps": []string{"wiki"}}))

	restoreID, err := j.Start(ctx, KindRestore, "2024-01-01")
	require.NoError(t, err)
	require.NoError(t, j.Finish(ctx, restoreID, errors.New("nothing restored"), nil))

	entries, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, restoreID, entries[0].ID)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, "nothing restored", entries[0].LastError)
	require.NotNil(t, entries[0].CompletedAt)

	assert.Equal(t, createID, entries[1].ID)
	assert.Equal(t, KindCreate, entries[1].Kind)
	assert.Equal(t, StatusSucceeded, entries[1].Status)
	assert.JSONEq(t, `{"apps":["wiki"]}`, string(entries[1].Detail))

	limited, err := j.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFinishUnknownOperation(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	assert.Error(t, j.Finish(context.Background(), "missing", nil, nil))
	assert.Error(t, j.Finish(context.Background(), "", nil, nil))
}

func TestChecksumLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j := openJournal(t)

	_, err := j.ChecksumFor(ctx, "n")
	assert.ErrorIs(t, err, ErrNoChecksum)

	require.NoError(t, j.RecordChecksum(ctx, "n", "abc", 42))
	require.NoError(t, j.RecordChecksum(ctx, "n", "def", 43))

	c, err := j.ChecksumFor(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, "def", c.Value)
	assert.Equal(t, int64(43), c.Size)
	assert.Equal(t, "blake3", c.Algorithm)

	require.NoError(t, j.ForgetChecksum(ctx, "n"))
	_, err = j.ChecksumFor(ctx, "n")
	assert.ErrorIs(t, err, ErrNoChecksum)
}
