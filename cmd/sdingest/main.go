package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zangezia/SDIngest/internal/config"
	"github.com/zangezia/SDIngest/internal/monitor"
	"github.com/zangezia/SDIngest/internal/web"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	cfgFile   string
	debug     bool
	testMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "sdingest",
	Short: "SDIngest - concurrent SD card media ingest",
	Long: `SDIngest copies photos, videos and audio from several camera SD cards at once
into per-category destination folders, then ejects each card. Progress is shown
through a web interface.`,
	Version: fmt.Sprintf("%s (built: %s)", Version, BuildTime),
	Run:     runApp,
}

var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "List removable drives",
	Run:   runDrives,
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Copy media from SD cards",
	Long:  "Copy every image, video and audio file from the selected cards and eject them",
	Run:   runTransfer,
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Delete media from SD cards",
	Long:  "Delete every image, video and audio file from the selected cards and eject them",
	Run:   runErase,
}

var ejectCmd = &cobra.Command{
	Use:   "eject [device...]",
	Short: "Eject SD cards",
	Args:  cobra.MinimumNArgs(1),
	Run:   runEject,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished batches",
	Run:   runHistory,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check system requirements",
	Long:  "Check configuration, drive enumeration, destinations and eject tools",
	Run:   runCheck,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&testMode, "test-mode", false, "use synthetic cards instead of real drives")
	rootCmd.Flags().Int("port", 0, "web server port")

	for _, cmd := range []*cobra.Command{transferCmd, eraseCmd} {
		cmd.Flags().StringSlice("device", nil, "device mount path or drive letter (repeatable)")
		cmd.Flags().Bool("all", false, "use every removable drive")
	}
	transferCmd.Flags().String("root", "", "destination root")
	transferCmd.Flags().String("subfolder", "", "subfolder under the destination root")
	transferCmd.Flags().Bool("dated", false, "add a DD-MM-YYYY folder under the destination root")
	transferCmd.Flags().Bool("remember", false, "remember root and subfolder for next time")
	eraseCmd.Flags().Bool("yes", false, "confirm deletion")
	historyCmd.Flags().Int("limit", 20, "number of batches to show")

	rootCmd.AddCommand(drivesCmd, transferCmd, eraseCmd, ejectCmd, historyCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runApp(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("Starting SDIngest")

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Web.Port = port
	}
	if settings, err := config.LoadSettings(); err == nil {
		settings.Apply(&cfg.Destinations)
	}

	dest := cfg.ResolveDestinations(nowFunc())
	log.Info().Msg("========================================")
	log.Info().Msg("       SDIngest - SD Card Ingest        ")
	log.Info().Msg("========================================")
	log.Info().Str("pictures", dest.Pictures).Str("videos", dest.Videos).Str("audio", dest.Audio).Msg("Destinations")
	log.Info().Bool("test_mode", cfg.TestMode).Msg("Drive enumeration")

	ctx, cancel := signalContext()
	defer cancel()

	store := openHistory(cfg)
	if store != nil {
		defer store.Close()
	}

	server := web.NewServer(cfg, web.Deps{
		Drives:  newEnumerator(cfg),
		Ejector: newEjector(cfg),
		History: store,
		Monitor: monitor.New(cfg.Monitoring.PerformanceUpdateInterval, cfg.Monitoring.CPUSmoothingSamples),
	})

	log.Info().
		Str("address", fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port)).
		Msg("Server is ready! Open your browser to access the web interface")

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Web server error")
	}
	log.Info().Msg("Shut down gracefully")
}

// loadConfig sets up logging and loads the configuration
func loadConfig() *config.Config {
	setupLogging("")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if testMode {
		cfg.TestMode = true
	}

	setupLogging(cfg.Logging.Level)
	return cfg
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Interrupt received, stopping after the current file...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(level); err == nil && level != "" {
		lvl = parsed
	}
	if debug {
		lvl = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
