// Package drives lists attached removable volumes such as camera SD cards.
package drives

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/zangezia/SDIngest/pkg/models"
)

// ErrEnumerationFailed means the OS volume query itself failed. It lets
// callers tell "no cards attached" (nil error, empty list) from "could not look".
var ErrEnumerationFailed = errors.New("removable device enumeration failed")

// Options configures an Enumerator
type Options struct {
	// TestMode returns the fixed synthetic device list instead of querying the OS.
	TestMode bool
	// TestRoot is the directory holding the synthetic cards in test mode.
	TestRoot string
	// CameraLabels maps volume labels to camera names.
	CameraLabels map[string]string
}

// Enumerator lists removable devices
type Enumerator struct {
	opts Options

	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
	removable  func(p disk.PartitionStat) bool
	label      func(p disk.PartitionStat) string
}

// New creates an enumerator backed by gopsutil
func New(opts Options) *Enumerator {
	return &Enumerator{
		opts:       opts,
		partitions: disk.PartitionsWithContext,
		usage:      disk.UsageWithContext,
		removable:  isRemovable,
		label:      volumeLabel,
	}
}

// List returns the currently attached removable devices sorted by mount path.
// In test mode the synthetic card directories are created on first use.
// A device whose usage query fails is still listed, with SizeKnown unset.
func (e *Enumerator) List(ctx context.Context) ([]models.Device, error) {
	if e.opts.TestMode {
		devices := TestDevices(e.opts.TestRoot)
		for i := range devices {
			devices[i].Camera = CameraName(e.opts.CameraLabels, devices[i].Label)
			if err := os.MkdirAll(devices[i].ID, 0755); err != nil {
				log.Debug().Err(err).Str("device", devices[i].ID).Msg("Failed to create synthetic card")
			}
		}
		return devices, nil
	}

	parts, err := e.partitions(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	seen := make(map[string]bool)
	devices := make([]models.Device, 0)

	for _, p := range parts {
		if p.Mountpoint == "" || seen[p.Mountpoint] || !e.removable(p) {
			continue
		}
		seen[p.Mountpoint] = true

		dev := models.Device{
			ID:     p.Mountpoint,
			Node:   p.Device,
			FSType: p.Fstype,
			Label:  e.label(p),
		}
		dev.Camera = CameraName(e.opts.CameraLabels, dev.Label)

		usage, err := e.usage(ctx, p.Mountpoint)
		if err != nil {
			log.Debug().Err(err).Str("device", p.Mountpoint).Msg("Disk usage unavailable")
		} else {
			dev.TotalBytes = usage.Total
			dev.UsedBytes = usage.Used
			dev.SizeKnown = true
		}

		devices = append(devices, dev)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})

	return devices, nil
}

// CameraName looks up a volume label case-insensitively
func CameraName(labels map[string]string, label string) string {
	if label == "" {
		return ""
	}
	for k, v := range labels {
		if strings.EqualFold(k, label) {
			return v
		}
	}
	return ""
}

// DefaultTestRoot is where synthetic cards live when no test root is configured
func DefaultTestRoot() string {
	return filepath.Join(os.TempDir(), "sdingest-cards")
}

var testCards = []struct {
	label string
	used  uint64
}{
	{"CANONR", 12 << 30},
	{"CANON90D", 3 << 30},
	{"CANONR8", 27 << 30},
	{"CANONR6II", 0},
}

// TestDevices returns the four synthetic cards under root
func TestDevices(root string) []models.Device {
	if root == "" {
		root = DefaultTestRoot()
	}

	devices := make([]models.Device, 0, len(testCards))
	for i, c := range testCards {
		devices = append(devices, models.Device{
			ID:         filepath.Join(root, c.label),
			Node:       fmt.Sprintf("synthetic%d", i+1),
			Label:      c.label,
			FSType:     "exfat",
			TotalBytes: 64 << 30,
			UsedBytes:  c.used,
			SizeKnown:  true,
			Synthetic:  true,
		})
	}
	return devices
}

// ParentBlockDevice strips the partition suffix from a block device name:
// sdb1 -> sdb, mmcblk0p1 -> mmcblk0, nvme0n1p2 -> nvme0n1.
func ParentBlockDevice(name string) string {
	name = filepath.Base(name)

	if strings.HasPrefix(name, "mmcblk") || strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "loop") {
		if i := strings.LastIndex(name, "p"); i > 0 && i < len(name)-1 && isDigits(name[i+1:]) && isDigit(name[i-1]) {
			return name[:i]
		}
		return name
	}

	return strings.TrimRightFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
