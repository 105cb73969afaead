package transfer

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/pkg/models"
)

// ErrInsufficientSpace is returned when a destination cannot hold the batch
var ErrInsufficientSpace = errors.New("insufficient free space at destination")

// SpaceChecker verifies that dir can take need more bytes
type SpaceChecker func(dir string, need int64) error

// FreeSpaceCheck requires need + margin bytes free while keeping minFree in
// reserve. A volume whose usage cannot be read is not blocked.
func FreeSpaceCheck(minFree, margin int64) SpaceChecker {
	return func(dir string, need int64) error {
		path := media.ExistingAncestor(dir)
		usage, err := disk.Usage(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Cannot read free space, skipping check")
			return nil
		}

		required := need + margin + minFree
		if int64(usage.Free) < required {
			return fmt.Errorf("%w: %s has %s free, need %s",
				ErrInsufficientSpace, dir, humanize.Bytes(usage.Free), humanize.Bytes(uint64(required)))
		}
		return nil
	}
}

// bytesByRoot sums the scanned bytes destined for each category root
func bytesByRoot(dest models.Destinations, scans []models.ScanResult) map[string]int64 {
	need := make(map[string]int64)
	for _, scan := range scans {
		for cat, c := range scan.ByCategory {
			if root := dest.For(cat); root != "" {
				need[root] += c.TotalBytes
			}
		}
	}
	return need
}
