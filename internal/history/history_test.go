package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zangezia/SDIngest/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBatch(id string, started time.Time) models.BatchStatus {
	devices := []models.DeviceProgress{
		{
			Index:      0,
			Device:     models.Device{ID: "/media/CANONR", Label: "CANONR", Camera: "Canon R"},
			Cam:        1,
			Status:     models.StatusSuccess,
			TotalFiles: 4, TotalBytes: 1600,
			FilesDone: 4, BytesDone: 1600,
			StartedAt:  started,
			FinishedAt: started.Add(time.Minute),
		},
		{
			Index:       1,
			Device:      models.Device{ID: "/media/SD"},
			Cam:         2,
			Status:      models.StatusCancelled,
			TotalFiles:  10,
			TotalBytes:  1000,
			FilesDone:   3,
			BytesDone:   300,
			FailedFiles: 1,
			StartedAt:   started,
		},
	}
	return models.BatchStatus{
		ID:         id,
		Kind:       models.KindTransfer,
		Cancelled:  true,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Minute),
		Devices:    devices,
		Global:     models.Fold(devices),
	}
}

func TestRecordAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.UnixMilli(time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC).UnixMilli())

	want := sampleBatch("b1", started)
	require.NoError(t, s.Record(ctx, want))

	got, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	b := got[0]
	assert.Equal(t, "b1", b.ID)
	assert.Equal(t, models.KindTransfer, b.Kind)
	assert.True(t, b.Cancelled)
	assert.False(t, b.Running)
	assert.True(t, b.StartedAt.Equal(want.StartedAt))
	assert.True(t, b.FinishedAt.Equal(want.FinishedAt))
	assert.Equal(t, want.Global, b.Global)

	require.Len(t, b.Devices, 2)
	assert.Equal(t, "Canon R", b.Devices[0].Device.Camera)
	assert.Equal(t, models.StatusSuccess, b.Devices[0].Status)
	assert.Equal(t, models.StatusCancelled, b.Devices[1].Status)
	assert.Equal(t, int64(1), b.Devices[1].FailedFiles)
	assert.True(t, b.Devices[1].FinishedAt.IsZero())
}

func TestListNewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, sampleBatch(id, base.Add(time.Duration(i)*time.Hour))))
	}

	got, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestRecordReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := sampleBatch("same", time.Now())

	require.NoError(t, s.Record(ctx, b))
	b.Devices = b.Devices[:1]
	require.NoError(t, s.Record(ctx, b))

	got, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Devices, 1)
}

func TestListEmpty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.List(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
