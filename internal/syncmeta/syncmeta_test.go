package syncmeta

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vifly/tasksApp/internal/db"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	s := New(conn.RawDB())
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestDeviceID_StableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	first, err := s.DeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLastSyncTime_NeverDecreases(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	got, err := s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	require.NoError(t, s.SetLastSyncTime(ctx, time.UnixMilli(5000)))
	require.NoError(t, s.SetLastSyncTime(ctx, time.UnixMilli(3000)))

	got, err = s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.UnixMilli())

	require.NoError(t, s.SetLastSyncTime(ctx, time.UnixMilli(7000)))
	got, err = s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), got.UnixMilli())
}

func TestProcessedFiles_Ledger(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	files, err := s.ProcessedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	now := time.UnixMilli(1000)
	require.NoError(t, s.AddProcessedFile(ctx, "update_a_1.bin", now))
	require.NoError(t, s.AddProcessedFile(ctx, "update_a_1.bin", now))
	require.NoError(t, s.AddProcessedFile(ctx, "update_b_2.bin", now))

	files, err = s.ProcessedFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Contains(t, files, "update_a_1.bin")
	assert.Contains(t, files, "update_b_2.bin")
}

func TestReset_KeepsDeviceID(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	id, err := s.DeviceID(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetLastSyncTime(ctx, time.UnixMilli(5000)))
	require.NoError(t, s.AddProcessedFile(ctx, "update_a_1.bin", time.UnixMilli(1)))

	require.NoError(t, s.Reset(ctx))

	files, err := s.ProcessedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	last, err := s.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	after, err := s.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, after)
}

func TestPendingDeletes(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.AddPendingDeletes(ctx, nil, time.UnixMilli(1)))
	require.NoError(t, s.AddPendingDeletes(ctx, []string{"u1", "u2"}, time.UnixMilli(1000)))
	require.NoError(t, s.AddPendingDeletes(ctx, []string{"u1"}, time.UnixMilli(9000)))

	got, err := s.PendingDeletes(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got["u1"].UnixMilli())

	require.NoError(t, s.ClearPendingDeletes(ctx, []string{"u1", "missing"}))
	got, err = s.PendingDeletes(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "u2")
}

func TestClearPendingDeletes_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.AddPendingDeletes(ctx, []string{"u1", "u2"}, time.UnixMilli(1000)))

	// Make removing u2 fail after u1 is already gone.
	_, err := s.db.ExecContext(ctx, `CREATE TRIGGER keep_u2 BEFORE DELETE ON pending_deletes
		WHEN OLD.uuid = 'u2' BEGIN SELECT RAISE(ABORT, 'u2 is kept'); END`)
	require.NoError(t, err)

	assert.Error(t, s.ClearPendingDeletes(ctx, []string{"u1", "u2"}))
	got, err := s.PendingDeletes(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2, "u1 is rolled back")

	require.NoError(t, s.ClearPendingDeletes(ctx, nil))
}
