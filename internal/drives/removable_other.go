//go:build !linux && !windows

package drives

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// isRemovable treats external volumes mounted under /Volumes or /media as removable
func isRemovable(p disk.PartitionStat) bool {
	if p.Mountpoint == "/" || strings.HasPrefix(p.Mountpoint, "/System/") {
		return false
	}
	return strings.HasPrefix(p.Mountpoint, "/Volumes/") || strings.HasPrefix(p.Mountpoint, "/media/")
}

func volumeLabel(p disk.PartitionStat) string {
	return filepath.Base(p.Mountpoint)
}
