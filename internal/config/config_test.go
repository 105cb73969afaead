package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zangezia/SDIngest/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "web:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Web.Port)
	assert.Equal(t, "localhost", cfg.Web.Host)
	assert.Equal(t, 250*time.Millisecond, cfg.Web.ProgressInterval)
	assert.Contains(t, cfg.Media.ImageExtensions, ".cr3")
	assert.Contains(t, cfg.Media.VideoExtensions, ".mov")
	assert.Contains(t, cfg.Media.AudioExtensions, ".wav")
	assert.True(t, cfg.Eject.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Eject.CommandTimeout)
	assert.Equal(t, 1048576, cfg.Transfer.CopyBufferSize)
	assert.False(t, cfg.TestMode)
	assert.NotEmpty(t, cfg.Destinations.Root)

	// viper lower-cases map keys; lookups are case-insensitive downstream
	assert.Equal(t, "Canon R6 II", cfg.CameraLabels["canonr6ii"])
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
test_mode: true
destinations:
  root: /srv/media
  subfolder: Wedding
media:
  audio_extensions: [".ogg"]
camera_labels:
  EOS5D: Canon 5D
`))
	require.NoError(t, err)

	assert.True(t, cfg.TestMode)
	assert.Equal(t, "/srv/media", cfg.Destinations.Root)
	assert.Equal(t, "Wedding", cfg.Destinations.Subfolder)
	assert.Equal(t, []string{".ogg"}, cfg.Media.AudioExtensions)
	assert.Equal(t, "Canon 5D", cfg.CameraLabels["eos5d"])

	c := cfg.Classifier()
	assert.Equal(t, models.CategoryAudio, c.Classify(".OGG"))
	assert.Equal(t, models.CategoryIgnored, c.Classify(".wav"))
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"overlapping extensions", "media:\n  video_extensions: [\".jpg\"]\n"},
		{"overlap differing case", "media:\n  audio_extensions: [\"MP4\"]\n"},
		{"nested subfolder", "destinations:\n  subfolder: a/b\n"},
		{"bad port", "web:\n  port: 70000\n"},
		{"tiny buffer", "transfer:\n  copy_buffer_size: 10\n"},
		{"negative retries", "eject:\n  retries: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestResolveDestinations(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 0, 0, 0, time.Local)

	tests := []struct {
		name string
		dest Destinations
		want models.Destinations
	}{
		{
			name: "root only",
			dest: Destinations{Root: "/m"},
			want: models.Destinations{Pictures: "/m/Pictures", Videos: "/m/Videos", Audio: "/m/Audio"},
		},
		{
			name: "subfolder and dated folder",
			dest: Destinations{Root: "/m", Subfolder: "Trip", DatedFolder: true},
			want: models.Destinations{
				Pictures: "/m/Trip/19-10-2026/Pictures",
				Videos:   "/m/Trip/19-10-2026/Videos",
				Audio:    "/m/Trip/19-10-2026/Audio",
			},
		},
		{
			name: "explicit category root wins",
			dest: Destinations{Root: "/m", Videos: "/nas/video", DatedFolder: true},
			want: models.Destinations{
				Pictures: "/m/19-10-2026/Pictures",
				Videos:   "/nas/video",
				Audio:    "/m/19-10-2026/Audio",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Destinations: tt.dest}
			got := cfg.ResolveDestinations(now)
			assert.Equal(t, filepath.FromSlash(tt.want.Pictures), got.Pictures)
			assert.Equal(t, filepath.FromSlash(tt.want.Videos), got.Videos)
			assert.Equal(t, filepath.FromSlash(tt.want.Audio), got.Audio)
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	assert.Equal(t, Settings{}, loadSettingsFrom(path))

	want := Settings{Root: "/srv/media", Subfolder: "Wedding", DatedFolder: true}
	require.NoError(t, saveSettingsTo(path, want))
	assert.Equal(t, want, loadSettingsFrom(path))
}

func TestSettingsApply(t *testing.T) {
	d := Destinations{Root: "/m", Subfolder: "Old"}
	Settings{Root: "/n", DatedFolder: true}.Apply(&d)

	assert.Equal(t, "/n", d.Root)
	assert.Equal(t, "Old", d.Subfolder)
	assert.True(t, d.DatedFolder)
}

func TestHistoryPath(t *testing.T) {
	cfg := &Config{}
	assert.Empty(t, cfg.HistoryPath())

	t.Setenv("SDINGEST_TEST_DIR", "/var/lib/sdingest")
	cfg.History.Path = "$SDINGEST_TEST_DIR/history.db"
	assert.Equal(t, "/var/lib/sdingest/history.db", cfg.HistoryPath())
}
