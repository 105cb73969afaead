package drives

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var labels = map[string]string{
	"canonr":    "Canon R",
	"CANON90D":  "Canon 90D",
	"canonr8":   "Canon R8",
	"canonr6ii": "Canon R6 II",
}

func fakeEnumerator(parts []disk.PartitionStat, partErr error, usage map[string]*disk.UsageStat) *Enumerator {
	return &Enumerator{
		opts: Options{CameraLabels: labels},
		partitions: func(ctx context.Context, all bool) ([]disk.PartitionStat, error) {
			return parts, partErr
		},
		usage: func(ctx context.Context, path string) (*disk.UsageStat, error) {
			if u, ok := usage[path]; ok {
				return u, nil
			}
			return nil, errors.New("statfs: input/output error")
		},
		removable: func(p disk.PartitionStat) bool {
			return p.Fstype == "exfat" || p.Fstype == "vfat"
		},
		label: func(p disk.PartitionStat) string {
			return map[string]string{"/media/u/CANONR": "CANONR", "/media/u/CARD": ""}[p.Mountpoint]
		},
	}
}

func TestListTestMode(t *testing.T) {
	root := t.TempDir()
	e := New(Options{TestMode: true, TestRoot: root, CameraLabels: labels})

	devices, err := e.List(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 4)

	again, err := e.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, devices, again, "test mode must be deterministic")

	assert.Equal(t, "Canon R", devices[0].Camera)
	assert.Equal(t, "Canon 90D", devices[1].Camera)
	for _, d := range devices {
		assert.True(t, d.Synthetic)
		assert.True(t, d.SizeKnown)
		assert.Contains(t, d.ID, root)
		assert.DirExists(t, d.ID)
	}
}

func TestListFiltersRemovable(t *testing.T) {
	parts := []disk.PartitionStat{
		{Device: "/dev/nvme0n1p2", Mountpoint: "/", Fstype: "ext4"},
		{Device: "/dev/sdc1", Mountpoint: "/media/u/CARD", Fstype: "vfat"},
		{Device: "/dev/sdb1", Mountpoint: "/media/u/CANONR", Fstype: "exfat"},
		{Device: "/dev/sdb1", Mountpoint: "/media/u/CANONR", Fstype: "exfat"},
	}
	usage := map[string]*disk.UsageStat{
		"/media/u/CANONR": {Total: 64 << 30, Used: 10 << 30},
	}

	devices, err := fakeEnumerator(parts, nil, usage).List(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "/media/u/CANONR", devices[0].ID)
	assert.Equal(t, "/dev/sdb1", devices[0].Node)
	assert.Equal(t, "Canon R", devices[0].Camera)
	assert.True(t, devices[0].SizeKnown)
	assert.EqualValues(t, 64<<30, devices[0].TotalBytes)

	// Usage failure keeps the device with an unknown size.
	assert.Equal(t, "/media/u/CARD", devices[1].ID)
	assert.False(t, devices[1].SizeKnown)
	assert.Equal(t, "Unknown", devices[1].SizeDisplay())
}

func TestListEnumerationFailure(t *testing.T) {
	devices, err := fakeEnumerator(nil, errors.New("wmi unavailable"), nil).List(context.Background())
	assert.ErrorIs(t, err, ErrEnumerationFailed)
	assert.Empty(t, devices)
}

func TestListNoDevices(t *testing.T) {
	parts := []disk.PartitionStat{{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"}}
	devices, err := fakeEnumerator(parts, nil, nil).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestParentBlockDevice(t *testing.T) {
	tests := map[string]string{
		"sdb1":      "sdb",
		"/dev/sdb1": "sdb",
		"sda":       "sda",
		"mmcblk0p1": "mmcblk0",
		"mmcblk0":   "mmcblk0",
		"nvme0n1p2": "nvme0n1",
		"nvme0n1":   "nvme0n1",
		"loop0":     "loop0",
	}
	for in, want := range tests {
		assert.Equal(t, want, ParentBlockDevice(in), in)
	}
}

func TestCameraName(t *testing.T) {
	assert.Equal(t, "Canon R8", CameraName(labels, "CANONR8"))
	assert.Equal(t, "Canon 90D", CameraName(labels, "canon90d"))
	assert.Empty(t, CameraName(labels, "NO NAME"))
	assert.Empty(t, CameraName(labels, ""))
}
