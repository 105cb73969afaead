package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zangezia/SDIngest/internal/config"
	"github.com/zangezia/SDIngest/internal/drives"
	"github.com/zangezia/SDIngest/internal/eject"
	"github.com/zangezia/SDIngest/internal/history"
	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/internal/transfer"
	"github.com/zangezia/SDIngest/pkg/models"
)

var nowFunc = time.Now

func newEnumerator(cfg *config.Config) *drives.Enumerator {
	return drives.New(drives.Options{
		TestMode:     cfg.TestMode,
		TestRoot:     cfg.TestRoot,
		CameraLabels: cfg.CameraLabels,
	})
}

func newEjector(cfg *config.Config) *eject.Ejector {
	return eject.New(eject.Options{
		Disabled:       !cfg.Eject.Enabled,
		Retries:        cfg.Eject.Retries,
		CommandTimeout: cfg.Eject.CommandTimeout,
	})
}

// openHistory returns nil when history is disabled or cannot be opened
func openHistory(cfg *config.Config) *history.Store {
	path := cfg.HistoryPath()
	if path == "" {
		return nil
	}
	store, err := history.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Batch history disabled")
		return nil
	}
	return store
}

func spaceChecker(cfg *config.Config) transfer.SpaceChecker {
	if !cfg.Transfer.CheckFreeSpace {
		return nil
	}
	return transfer.FreeSpaceCheck(cfg.Transfer.MinFreeDiskSpace, cfg.Transfer.DiskSpaceSafetyMargin)
}

// selectDevices picks devices by --device or --all
func selectDevices(ctx context.Context, cmd *cobra.Command, enum *drives.Enumerator) ([]models.Device, error) {
	ids, _ := cmd.Flags().GetStringSlice("device")
	all, _ := cmd.Flags().GetBool("all")

	devices, err := enum.List(ctx)
	if err != nil {
		return nil, err
	}
	if all {
		return devices, nil
	}

	byID := make(map[string]models.Device, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}

	selected := make([]models.Device, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%s is not an attached removable drive", id)
		}
		selected = append(selected, d)
	}
	return selected, nil
}

func runDrives(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	devices, err := newEnumerator(cfg).List(cmd.Context())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list drives")
	}
	if len(devices) == 0 {
		log.Info().Msg("No removable drives attached")
		return
	}

	for _, d := range devices {
		log.Info().
			Str("device", d.ID).
			Str("name", d.DisplayName()).
			Str("fs", d.FSType).
			Str("size", d.SizeDisplay()).
			Msg("Drive")
	}
}

func runTransfer(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if settings, err := config.LoadSettings(); err == nil {
		settings.Apply(&cfg.Destinations)
	}
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		cfg.Destinations.Root = root
	}
	if sub, _ := cmd.Flags().GetString("subfolder"); sub != "" {
		cfg.Destinations.Subfolder = sub
	}
	if dated, _ := cmd.Flags().GetBool("dated"); dated {
		cfg.Destinations.DatedFolder = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid destination")
	}

	ctx, cancel := signalContext()
	defer cancel()

	devices, err := selectDevices(ctx, cmd, newEnumerator(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to select drives")
	}

	dest := cfg.ResolveDestinations(nowFunc())
	coordinator := transfer.NewCoordinator(transfer.Options{
		Classifier: cfg.Classifier(),
		Ejector:    newEjector(cfg),
		Reporter:   transfer.LogReporter{},
		BufferSize: cfg.Transfer.CopyBufferSize,
		SpaceCheck: spaceChecker(cfg),
	})

	status, err := coordinator.Run(ctx, devices, dest)
	if err != nil {
		log.Fatal().Err(err).Msg("Transfer failed to start")
	}

	if remember, _ := cmd.Flags().GetBool("remember"); remember {
		settings := config.Settings{
			Root:        cfg.Destinations.Root,
			Subfolder:   cfg.Destinations.Subfolder,
			DatedFolder: cfg.Destinations.DatedFolder,
		}
		if err := config.SaveSettings(settings); err != nil {
			log.Warn().Err(err).Msg("Failed to save settings")
		}
	}

	recordHistory(cfg, status)
	summarize(status)
}

func runErase(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		log.Fatal().Msg("Erase deletes media from the cards; pass --yes to confirm")
	}

	ctx, cancel := signalContext()
	defer cancel()

	devices, err := selectDevices(ctx, cmd, newEnumerator(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to select drives")
	}

	eraser := transfer.NewEraser(transfer.EraserOptions{
		Classifier: cfg.Classifier(),
		Ejector:    newEjector(cfg),
		Reporter:   transfer.LogReporter{},
	})

	status, err := eraser.Run(ctx, devices)
	if err != nil {
		log.Fatal().Err(err).Msg("Erase failed to start")
	}

	recordHistory(cfg, status)
	summarize(status)
}

func runEject(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := cmd.Context()

	known := make(map[string]models.Device)
	if devices, err := newEnumerator(cfg).List(ctx); err == nil {
		for _, d := range devices {
			known[d.ID] = d
		}
	} else {
		log.Warn().Err(err).Msg("Drive enumeration failed, ejecting by path only")
	}

	ejector := newEjector(cfg)
	for _, id := range args {
		d, ok := known[id]
		if !ok {
			d = models.Device{ID: id}
		}
		if err := ejector.Eject(ctx, d); err != nil {
			log.Error().Err(err).Str("device", id).Msg("✗ Eject failed")
			continue
		}
		log.Info().Str("device", id).Msg("✓ Ejected")
	}
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	store := openHistory(cfg)
	if store == nil {
		log.Fatal().Msg("Batch history is disabled")
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	batches, err := store.List(cmd.Context(), limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read history")
	}
	if len(batches) == 0 {
		log.Info().Msg("No batches recorded yet")
		return
	}

	for _, b := range batches {
		log.Info().
			Str("batch", b.ID).
			Str("kind", string(b.Kind)).
			Time("started", b.StartedAt).
			Bool("cancelled", b.Cancelled).
			Int64("files", b.Global.FilesDone).
			Int64("total_files", b.Global.TotalFiles).
			Str("bytes", humanize.Bytes(uint64(b.Global.BytesDone))).
			Msg("Batch")
	}
}

func runCheck(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	log.Info().Msg("✓ Configuration loaded")

	devices, err := newEnumerator(cfg).List(cmd.Context())
	switch {
	case errors.Is(err, drives.ErrEnumerationFailed):
		log.Error().Err(err).Msg("✗ Cannot enumerate removable drives")
	case err != nil:
		log.Error().Err(err).Msg("✗ Drive listing failed")
	default:
		log.Info().Int("drives", len(devices)).Bool("test_mode", cfg.TestMode).Msg("✓ Drive enumeration works")
	}

	dest := cfg.ResolveDestinations(nowFunc())
	for _, cat := range models.MediaCategories {
		root := dest.For(cat)
		log.Info().
			Str("category", cat.String()).
			Str("path", root).
			Str("writable_parent", media.ExistingAncestor(root)).
			Msg("✓ Destination")
	}

	if !cfg.Eject.Enabled {
		log.Info().Msg("Eject disabled")
		return
	}
	if missing := eject.MissingCommands(eject.PlatformStrategies()); len(missing) > 0 {
		log.Warn().Strs("missing", missing).Msg("✗ Some eject tools are not installed; cards may need manual removal")
		return
	}
	log.Info().Msg("✓ Eject tools installed")
}

func recordHistory(cfg *config.Config, status models.BatchStatus) {
	store := openHistory(cfg)
	if store == nil {
		return
	}
	defer store.Close()

	if err := store.Record(context.Background(), status); err != nil {
		log.Warn().Err(err).Msg("Failed to record batch history")
	}
}

func summarize(status models.BatchStatus) {
	for _, d := range status.Devices {
		log.Info().
			Str("device", d.Device.ID).
			Int("cam", d.Cam).
			Str("status", string(d.Status)).
			Int64("files", d.FilesDone).
			Int64("total_files", d.TotalFiles).
			Int64("failed", d.FailedFiles).
			Msg("Device")
	}

	g := status.Global
	log.Info().
		Str("kind", string(status.Kind)).
		Int64("files", g.FilesDone).
		Int64("total_files", g.TotalFiles).
		Str("bytes", humanize.Bytes(uint64(g.BytesDone))).
		Float64("percent", g.Percent).
		Msg("✓ Batch finished")
}
