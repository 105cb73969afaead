package media

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zangezia/SDIngest/pkg/models"
)

func testClassifier() *Classifier {
	return NewClassifier(
		[]string{".jpg", ".jpeg", ".png", ".cr2", ".cr3", ".nef", ".arw"},
		[]string{".mp4", ".mov", ".avi", ".mkv"},
		[]string{".wav", ".mp3", ".m4a", ".aac", ".flac"},
	)
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
}

func TestClassify(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		ext  string
		want models.MediaCategory
	}{
		{".jpg", models.CategoryImage},
		{".JPG", models.CategoryImage},
		{"jpg", models.CategoryImage},
		{".Cr3", models.CategoryImage},
		{".MOV", models.CategoryVideo},
		{".mkv", models.CategoryVideo},
		{".WAV", models.CategoryAudio},
		{".txt", models.CategoryIgnored},
		{".thm", models.CategoryIgnored},
		{"", models.CategoryIgnored},
		{".", models.CategoryIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.ext))
		})
	}
}

func TestClassifyEveryConfiguredExtension(t *testing.T) {
	c := testClassifier()
	for _, cat := range models.MediaCategories {
		for ext := range c.Extensions(cat) {
			assert.Equal(t, cat, c.Classify(ext), ext)
			assert.Equal(t, cat, c.ClassifyPath("DCIM/FILE"+ext), ext)
		}
	}
}

func TestClassifierOverlapPrefersImage(t *testing.T) {
	c := NewClassifier([]string{".heic"}, []string{".HEIC", ".mp4"}, nil)
	assert.Equal(t, models.CategoryImage, c.Classify(".heic"))
	assert.Equal(t, models.CategoryVideo, c.Classify(".mp4"))
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "DCIM", "100CANON", "IMG_0001.JPG"), 10)
	writeFile(t, filepath.Join(root, "DCIM", "100CANON", "IMG_0002.jpg"), 20)
	writeFile(t, filepath.Join(root, "DCIM", "100CANON", "IMG_0002.THM"), 5)
	writeFile(t, filepath.Join(root, "PRIVATE", "M4ROOT", "CLIP", "C0001.MP4"), 40)
	writeFile(t, filepath.Join(root, "MISC", "notes.txt"), 7)

	files, total, err := Scan(root, NewExtensionSet(".jpg"))
	require.NoError(t, err)

	sort.Strings(files)
	assert.Equal(t, []string{
		filepath.Join(root, "DCIM", "100CANON", "IMG_0001.JPG"),
		filepath.Join(root, "DCIM", "100CANON", "IMG_0002.jpg"),
	}, files)
	assert.EqualValues(t, 30, total)
}

func TestScanDevice(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "DCIM", "IMG_0001.CR3"), 100)
	writeFile(t, filepath.Join(root, "DCIM", "IMG_0002.JPG"), 50)
	writeFile(t, filepath.Join(root, "DCIM", "MVI_0003.MP4"), 300)
	writeFile(t, filepath.Join(root, "AUDIO", "ZOOM0001.WAV"), 70)
	writeFile(t, filepath.Join(root, "DCIM", "IMG_0001.THM"), 3)
	writeFile(t, filepath.Join(root, "autorun.inf"), 3)

	result, err := ScanDevice(root, testClassifier())
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalFiles())
	assert.EqualValues(t, 520, result.TotalBytes())
	assert.Len(t, result.ByCategory[models.CategoryImage].Paths, 2)
	assert.EqualValues(t, 150, result.ByCategory[models.CategoryImage].TotalBytes)
	assert.Len(t, result.ByCategory[models.CategoryVideo].Paths, 1)
	assert.Len(t, result.ByCategory[models.CategoryAudio].Paths, 1)
	assert.NotContains(t, result.ByCategory, models.CategoryIgnored)

	for _, f := range result.Files {
		assert.NotEqual(t, models.CategoryIgnored, f.Category, f.Path)
	}
}

func TestScanOnlyIgnoredFiles(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, "MISC", "file"+string(rune('a'+i))+".txt"), 4)
	}

	result, err := ScanDevice(root, testClassifier())
	require.NoError(t, err)
	assert.Zero(t, result.TotalFiles())
	assert.Zero(t, result.TotalBytes())
}

func TestScanMissingRoot(t *testing.T) {
	_, _, err := Scan(filepath.Join(t.TempDir(), "gone"), NewExtensionSet(".jpg"))
	assert.ErrorIs(t, err, ErrRootUnreadable)

	_, err = ScanDevice(filepath.Join(t.TempDir(), "gone"), testClassifier())
	assert.ErrorIs(t, err, ErrRootUnreadable)
}

func TestNameFor(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"plain", "IMG_0001.JPG", "IMG_0001_19-10-2026-14.JPG"},
		{"path", "/media/card/DCIM/MVI_0002.mov", "MVI_0002_19-10-2026-14.mov"},
		{"no extension", "README", "README_19-10-2026-14"},
		{"double extension", "clip.tar.gz", "clip.tar_19-10-2026-14.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NameFor("/dest/cam1", tt.source, "19-10-2026-14")
			assert.Equal(t, filepath.Join("/dest/cam1", tt.want), got)
		})
	}
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2026, time.March, 7, 9, 59, 59, 0, time.UTC)
	assert.Equal(t, "07-03-2026-09", Timestamp(ts))
}

func TestNamerAlwaysSuffixes(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return time.Date(2026, time.October, 19, 14, 5, 0, 0, time.Local) }
	n := NewNamer(now)

	got := n.Next(dir, "IMG_0001.JPG")
	assert.Equal(t, filepath.Join(dir, "IMG_0001_19-10-2026-14.JPG"), got)
}

func TestNamerNeverRepeats(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return time.Date(2026, time.October, 19, 14, 5, 0, 0, time.Local) }
	n := NewNamer(now)

	// Same base name from two DCIM folders on one card.
	first := n.Next(dir, "/card/DCIM/100CANON/IMG_0001.JPG")
	second := n.Next(dir, "/card/DCIM/101CANON/IMG_0001.JPG")
	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(dir, "IMG_0001_19-10-2026-14_1.JPG"), second)

	// An existing file on disk is never reused either.
	writeFile(t, filepath.Join(dir, "IMG_0009_19-10-2026-14.JPG"), 1)
	assert.Equal(t, filepath.Join(dir, "IMG_0009_19-10-2026-14_1.JPG"), n.Next(dir, "IMG_0009.JPG"))
}

func TestEnsureDirIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Pictures", "cam1")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExistingAncestor(t *testing.T) {
	root := t.TempDir()

	assert.Equal(t, root, ExistingAncestor(root))
	assert.Equal(t, root, ExistingAncestor(filepath.Join(root, "Trip", "19-10-2026", "Pictures")))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "Trip"), 0755))
	assert.Equal(t, filepath.Join(root, "Trip"), ExistingAncestor(filepath.Join(root, "Trip", "19-10-2026")+"/"))
}
