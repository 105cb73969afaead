//go:build windows

package drives

import (
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/windows"
)

func rootPath(mountpoint string) string {
	return strings.TrimRight(mountpoint, `\`) + `\`
}

// isRemovable keeps drives whose type is DRIVE_REMOVABLE
func isRemovable(p disk.PartitionStat) bool {
	root, err := windows.UTF16PtrFromString(rootPath(p.Mountpoint))
	if err != nil {
		return false
	}
	return windows.GetDriveType(root) == windows.DRIVE_REMOVABLE
}

func volumeLabel(p disk.PartitionStat) string {
	root, err := windows.UTF16PtrFromString(rootPath(p.Mountpoint))
	if err != nil {
		return ""
	}

	name := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumeInformation(root, &name[0], uint32(len(name)), nil, nil, nil, nil, 0); err != nil {
		return ""
	}
	return windows.UTF16ToString(name)
}
