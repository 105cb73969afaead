package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/zangezia/SDIngest/pkg/models"
)

// ErrRootUnreadable is returned when the device root itself cannot be read
var ErrRootUnreadable = errors.New("device root is not readable")

// Scan walks root and returns every regular file whose extension is in exts,
// together with their cumulative size. Files whose size cannot be read count
// as zero bytes. Unreadable subdirectories are skipped.
func Scan(root string, exts ExtensionSet) ([]string, int64, error) {
	var (
		files []string
		total int64
	)

	err := walk(root, func(path string, size int64) {
		if !exts.Contains(filepath.Ext(path)) {
			return
		}
		files = append(files, path)
		total += size
	})
	if err != nil {
		return nil, 0, err
	}

	return files, total, nil
}

// ScanDevice walks root once and groups every classified file by category.
// Ignored files never appear in the result.
func ScanDevice(root string, c *Classifier) (models.ScanResult, error) {
	result := models.ScanResult{
		Root:       root,
		ByCategory: make(map[models.MediaCategory]models.CategoryScan, len(models.MediaCategories)),
	}

	err := walk(root, func(path string, size int64) {
		cat := c.ClassifyPath(path)
		if cat == models.CategoryIgnored {
			return
		}

		result.Files = append(result.Files, models.ScannedFile{Path: path, Size: size, Category: cat})

		scan := result.ByCategory[cat]
		scan.Paths = append(scan.Paths, path)
		scan.TotalBytes += size
		result.ByCategory[cat] = scan
	})
	if err != nil {
		return models.ScanResult{}, err
	}

	return result, nil
}

func walk(root string, visit func(path string, size int64)) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRootUnreadable, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootUnreadable, root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Camera filesystems hiccup on large directories; keep walking.
			log.Debug().Err(err).Str("path", path).Msg("Skipping unreadable entry")
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		var size int64
		if fi, err := d.Info(); err == nil {
			size = fi.Size()
		} else {
			log.Debug().Err(err).Str("file", path).Msg("Cannot stat file, counting 0 bytes")
		}

		visit(path, size)
		return nil
	})
}
