package eject

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zangezia/SDIngest/internal/drives"
	"github.com/zangezia/SDIngest/pkg/models"
)

// PlatformStrategies returns the primary and fallback strategies for the running OS
func PlatformStrategies() []Strategy {
	switch runtime.GOOS {
	case "linux":
		return []Strategy{Udisks(), Umount()}
	case "windows":
		return []Strategy{ShellEject(), Mountvol()}
	case "darwin":
		return []Strategy{Diskutil(), Umount()}
	default:
		return []Strategy{Umount()}
	}
}

// MissingCommands lists the strategy binaries that are not on PATH
func MissingCommands(strategies []Strategy) []string {
	var missing []string
	for _, s := range strategies {
		if s.Command == "" {
			continue
		}
		if _, err := exec.LookPath(s.Command); err != nil {
			missing = append(missing, s.Command)
		}
	}
	return missing
}

// Udisks unmounts the partition and powers off the whole card reader
func Udisks() Strategy {
	return Strategy{
		Name:    "udisksctl",
		Command: "udisksctl",
		Run: func(ctx context.Context, run Runner, d models.Device) error {
			if d.Node == "" {
				return fmt.Errorf("no block device for %s", d.ID)
			}
			if _, err := run(ctx, "udisksctl", "unmount", "--block-device", d.Node, "--no-user-interaction"); err != nil {
				return err
			}
			parent := filepath.Join(filepath.Dir(d.Node), drives.ParentBlockDevice(d.Node))
			_, err := run(ctx, "udisksctl", "power-off", "--block-device", parent, "--no-user-interaction")
			return err
		},
	}
}

// Umount unmounts the mount path, then asks eject(1) to release the medium.
// Once unmounted the card is safe to pull, so an eject(1) failure is ignored.
func Umount() Strategy {
	return Strategy{
		Name:    "umount",
		Command: "umount",
		Run: func(ctx context.Context, run Runner, d models.Device) error {
			if _, err := run(ctx, "umount", d.ID); err != nil {
				return err
			}
			if d.Node != "" && runtime.GOOS == "linux" {
				if _, err := run(ctx, "eject", d.Node); err != nil {
					log.Debug().Err(err).Str("device", d.ID).Msg("eject(1) after umount failed")
				}
			}
			return nil
		},
	}
}

// ShellEject invokes the Explorer "Eject" verb through PowerShell
func ShellEject() Strategy {
	return Strategy{
		Name:    "shell-eject",
		Command: "powershell",
		Run: func(ctx context.Context, run Runner, d models.Device) error {
			script := fmt.Sprintf(
				"(New-Object -comObject Shell.Application).NameSpace(17).ParseName('%s').InvokeVerb('Eject')",
				driveLetter(d.ID)+`\`,
			)
			_, err := run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
			return err
		},
	}
}

// Mountvol removes the drive letter and dismounts the volume
func Mountvol() Strategy {
	return Strategy{
		Name:    "mountvol",
		Command: "mountvol",
		Run: func(ctx context.Context, run Runner, d models.Device) error {
			_, err := run(ctx, "mountvol", driveLetter(d.ID), "/p")
			return err
		},
	}
}

// Diskutil ejects a macOS volume
func Diskutil() Strategy {
	return Strategy{
		Name:    "diskutil",
		Command: "diskutil",
		Run: func(ctx context.Context, run Runner, d models.Device) error {
			_, err := run(ctx, "diskutil", "eject", d.ID)
			return err
		},
	}
}

// driveLetter turns "E:\" or "E:" into "E:"
func driveLetter(id string) string {
	return strings.TrimRight(id, `\/`)
}
