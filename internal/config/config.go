package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/pkg/models"
)

// DateFolderLayout names the optional per-day folder under the destination root
const DateFolderLayout = "02-01-2006"

// Config holds all application configuration
type Config struct {
	TestMode     bool              `mapstructure:"test_mode"`
	TestRoot     string            `mapstructure:"test_root"`
	Media        Media             `mapstructure:"media"`
	Destinations Destinations      `mapstructure:"destinations"`
	CameraLabels map[string]string `mapstructure:"camera_labels"`
	Transfer     Transfer          `mapstructure:"transfer"`
	Eject        Eject             `mapstructure:"eject"`
	Web          Web               `mapstructure:"web"`
	Monitoring   Monitoring        `mapstructure:"monitoring"`
	History      History           `mapstructure:"history"`
	Logging      Logging           `mapstructure:"logging"`
}

// Media holds the extension set of each category
type Media struct {
	ImageExtensions []string `mapstructure:"image_extensions"`
	VideoExtensions []string `mapstructure:"video_extensions"`
	AudioExtensions []string `mapstructure:"audio_extensions"`
}

// Destinations holds where copied files go
type Destinations struct {
	Root        string `mapstructure:"root"`
	Pictures    string `mapstructure:"pictures"`
	Videos      string `mapstructure:"videos"`
	Audio       string `mapstructure:"audio"`
	Subfolder   string `mapstructure:"subfolder"`
	DatedFolder bool   `mapstructure:"dated_folder"`
}

// Transfer holds copy settings
type Transfer struct {
	CopyBufferSize        int   `mapstructure:"copy_buffer_size"`
	CheckFreeSpace        bool  `mapstructure:"check_free_space"`
	MinFreeDiskSpace      int64 `mapstructure:"min_free_disk_space"`
	DiskSpaceSafetyMargin int64 `mapstructure:"disk_space_safety_margin"`
}

// Eject holds device eject settings
type Eject struct {
	Enabled        bool          `mapstructure:"enabled"`
	Retries        int           `mapstructure:"retries"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// Web holds web server settings
type Web struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// Monitoring holds monitoring settings
type Monitoring struct {
	PerformanceUpdateInterval time.Duration `mapstructure:"performance_update_interval"`
	UIUpdateInterval          time.Duration `mapstructure:"ui_update_interval"`
	CPUSmoothingSamples       int           `mapstructure:"cpu_smoothing_samples"`
}

// History holds the batch history settings
type History struct {
	Path string `mapstructure:"path"`
}

// Logging holds logging settings
type Logging struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from file or uses defaults
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sdingest")
		v.AddConfigPath("/etc/sdingest")
	}

	// Read environment variables
	v.SetEnvPrefix("SDINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.Destinations.Root == "" {
		cfg.Destinations.Root = defaultRoot()
	}
	cfg.Destinations.Root = expandHome(cfg.Destinations.Root)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("test_mode", false)
	v.SetDefault("test_root", "")

	// Media defaults
	v.SetDefault("media.image_extensions", []string{".jpg", ".jpeg", ".png", ".cr2", ".cr3", ".nef", ".arw"})
	v.SetDefault("media.video_extensions", []string{".mp4", ".mov", ".avi", ".mkv"})
	v.SetDefault("media.audio_extensions", []string{".wav", ".mp3", ".m4a", ".aac", ".flac"})

	// Destination defaults; empty category roots derive from root
	v.SetDefault("destinations.root", "")
	v.SetDefault("destinations.pictures", "")
	v.SetDefault("destinations.videos", "")
	v.SetDefault("destinations.audio", "")
	v.SetDefault("destinations.subfolder", "")
	v.SetDefault("destinations.dated_folder", false)

	v.SetDefault("camera_labels", map[string]any{
		"CANONR":    "Canon R",
		"CANON90D":  "Canon 90D",
		"CANONR8":   "Canon R8",
		"CANONR6II": "Canon R6 II",
	})

	// Transfer defaults
	v.SetDefault("transfer.copy_buffer_size", 1048576) // 1 MB
	v.SetDefault("transfer.check_free_space", true)
	v.SetDefault("transfer.min_free_disk_space", 52428800)       // 50 MB
	v.SetDefault("transfer.disk_space_safety_margin", 104857600) // 100 MB

	// Eject defaults
	v.SetDefault("eject.enabled", true)
	v.SetDefault("eject.retries", 2)
	v.SetDefault("eject.command_timeout", "15s")

	// Web defaults
	v.SetDefault("web.host", "localhost")
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.progress_interval", "250ms")

	// Monitoring defaults
	v.SetDefault("monitoring.performance_update_interval", "1s")
	v.SetDefault("monitoring.ui_update_interval", "2s")
	v.SetDefault("monitoring.cpu_smoothing_samples", 3)

	// History defaults
	v.SetDefault("history.path", "$HOME/.sdingest/history.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	sets := []struct {
		name string
		exts []string
	}{
		{"image", c.Media.ImageExtensions},
		{"video", c.Media.VideoExtensions},
		{"audio", c.Media.AudioExtensions},
	}

	owner := make(map[string]string)
	for _, s := range sets {
		for _, ext := range s.exts {
			n := media.NormalizeExt(ext)
			if n == "" {
				return fmt.Errorf("empty %s extension", s.name)
			}
			if prev, ok := owner[n]; ok && prev != s.name {
				return fmt.Errorf("extension %s is both %s and %s", n, prev, s.name)
			}
			owner[n] = s.name
		}
	}
	if len(owner) == 0 {
		return fmt.Errorf("no media extensions configured")
	}

	if strings.ContainsAny(c.Destinations.Subfolder, `/\`) || c.Destinations.Subfolder == ".." {
		return fmt.Errorf("subfolder must be a single folder name: %q", c.Destinations.Subfolder)
	}

	if c.Transfer.CopyBufferSize < 4096 {
		return fmt.Errorf("copy_buffer_size must be at least 4096")
	}

	if c.Eject.Retries < 0 {
		return fmt.Errorf("eject retries cannot be negative")
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Web.Port)
	}

	return nil
}

// Classifier builds the media classifier from the configured extension sets
func (c *Config) Classifier() *media.Classifier {
	return media.NewClassifier(c.Media.ImageExtensions, c.Media.VideoExtensions, c.Media.AudioExtensions)
}

// HistoryPath returns the expanded history database path, or "" when disabled
func (c *Config) HistoryPath() string {
	if c.History.Path == "" {
		return ""
	}
	return expandHome(os.ExpandEnv(c.History.Path))
}

// ResolveDestinations returns the destination roots for a batch started at now
func (c *Config) ResolveDestinations(now time.Time) models.Destinations {
	return c.Destinations.Resolve(now)
}

// Resolve returns the per-category roots for a batch started at now. Explicit category roots win; the others are <base>/Pictures,
// <base>/Videos and <base>/Audio where base is the root plus the optional
// subfolder and DD-MM-YYYY folder.
func (d Destinations) Resolve(now time.Time) models.Destinations {
	base := d.Root
	if d.Subfolder != "" {
		base = filepath.Join(base, d.Subfolder)
	}
	if d.DatedFolder {
		base = filepath.Join(base, now.Format(DateFolderLayout))
	}

	pick := func(explicit, name string) string {
		if explicit != "" {
			return expandHome(explicit)
		}
		return filepath.Join(base, name)
	}

	return models.Destinations{
		Pictures: pick(d.Pictures, "Pictures"),
		Videos:   pick(d.Videos, "Videos"),
		Audio:    pick(d.Audio, "Audio"),
	}
}

func defaultRoot() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "Media"
	}
	return filepath.Join(homeDir, "Media")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Settings are the user choices remembered between runs
type Settings struct {
	Root        string
	Subfolder   string
	DatedFolder bool
}

func settingsFile() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".sdingest", "settings.yaml"), nil
}

// SaveSettings persists user settings to file
func SaveSettings(s Settings) error {
	path, err := settingsFile()
	if err != nil {
		return err
	}
	return saveSettingsTo(path, s)
}

func saveSettingsTo(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)

	v.Set("last_root", s.Root)
	v.Set("last_subfolder", s.Subfolder)
	v.Set("dated_folder", s.DatedFolder)

	return v.WriteConfig()
}

// LoadSettings loads persisted user settings. A missing file yields zero settings.
func LoadSettings() (Settings, error) {
	path, err := settingsFile()
	if err != nil {
		return Settings{}, nil
	}
	return loadSettingsFrom(path), nil
}

func loadSettingsFrom(path string) Settings {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Settings{}
	}

	return Settings{
		Root:        v.GetString("last_root"),
		Subfolder:   v.GetString("last_subfolder"),
		DatedFolder: v.GetBool("dated_folder"),
	}
}

// Apply overlays remembered settings on the configured destinations
func (s Settings) Apply(d *Destinations) {
	if s.Root != "" {
		d.Root = expandHome(s.Root)
	}
	if s.Subfolder != "" {
		d.Subfolder = s.Subfolder
	}
	if s.DatedFolder {
		d.DatedFolder = true
	}
}
