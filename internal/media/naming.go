package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is day-month-year-hour; every copy made within the same
// clock hour carries the same suffix.
const TimestampLayout = "02-01-2006-15"

// Timestamp formats t with TimestampLayout
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// NameFor returns <dir>/<stem>_<timestamp><ext> for sourceName. The suffix is
// applied whether or not a file with the plain name already exists.
func NameFor(dir, sourceName, timestamp string) string {
	base := filepath.Base(sourceName)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, timestamp, ext))
}

// EnsureDir creates dir and its parents if absent
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// ExistingAncestor returns dir or its nearest parent that exists
func ExistingAncestor(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// Namer hands out destination paths for one device. Two source files with
// the same base name (e.g. DCIM/100CANON/IMG_0001.JPG and DCIM/101CANON/IMG_0001.JPG)
// would get the same timestamped name, so a counter is appended to the second
// one. A Namer is owned by a single worker and is not safe for concurrent use.
type Namer struct {
	now   func() time.Time
	taken map[string]struct{}
}

// NewNamer creates a namer using now as its clock; nil means time.Now
func NewNamer(now func() time.Time) *Namer {
	if now == nil {
		now = time.Now
	}
	return &Namer{
		now:   now,
		taken: make(map[string]struct{}),
	}
}

// Next returns a destination path in dir for sourceName that has not been
// handed out before and does not exist on disk.
func (n *Namer) Next(dir, sourceName string) string {
	ts := Timestamp(n.now())
	candidate := NameFor(dir, sourceName, ts)

	for i := 1; n.collides(candidate); i++ {
		base := filepath.Base(sourceName)
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", stem, ts, i, ext))
	}

	n.taken[candidate] = struct{}{}
	return candidate
}

func (n *Namer) collides(path string) bool {
	if _, ok := n.taken[path]; ok {
		return true
	}
	_, err := os.Lstat(path)
	return err == nil
}
