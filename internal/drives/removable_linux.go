//go:build linux

package drives

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

var (
	sysBlockDir = "/sys/block"
	sysClassDir = "/sys/class/block"
	byLabelDir  = "/dev/disk/by-label"
)

// isRemovable reports whether a partition sits on a removable disk, an SD
// slot (mmcblk) or a USB bus.
func isRemovable(p disk.PartitionStat) bool {
	if p.Mountpoint == "/" || strings.HasPrefix(p.Mountpoint, "/boot") || strings.HasPrefix(p.Mountpoint, "/snap") {
		return false
	}
	if !strings.HasPrefix(p.Device, "/dev/") {
		return false
	}

	name := filepath.Base(p.Device)
	parent := ParentBlockDevice(name)

	if strings.HasPrefix(parent, "mmcblk") {
		return true
	}

	if data, err := os.ReadFile(filepath.Join(sysBlockDir, parent, "removable")); err == nil {
		if strings.TrimSpace(string(data)) == "1" {
			return true
		}
	}

	if target, err := filepath.EvalSymlinks(filepath.Join(sysClassDir, name)); err == nil {
		if strings.Contains(target, "/usb") {
			return true
		}
	}

	return false
}

// volumeLabel resolves the label through /dev/disk/by-label, falling back
// to the mount directory name (udisks mounts at /media/<user>/<LABEL>).
func volumeLabel(p disk.PartitionStat) string {
	entries, err := os.ReadDir(byLabelDir)
	if err == nil {
		for _, entry := range entries {
			target, err := filepath.EvalSymlinks(filepath.Join(byLabelDir, entry.Name()))
			if err != nil {
				continue
			}
			if target == p.Device {
				return unescapeLabel(entry.Name())
			}
		}
	}

	return filepath.Base(p.Mountpoint)
}

// unescapeLabel decodes udev's \xNN escapes (e.g. "EOS\x20R" -> "EOS R")
func unescapeLabel(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if v, ok := hexByte(s[i+2], s[i+3]); ok {
				b.WriteByte(v)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func hexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexNibble(hi)
	l, ok2 := hexNibble(lo)
	return h<<4 | l, ok1 && ok2
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
