package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/zangezia/SDIngest/internal/config"
	"github.com/zangezia/SDIngest/internal/drives"
	"github.com/zangezia/SDIngest/internal/history"
	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/internal/monitor"
	"github.com/zangezia/SDIngest/internal/transfer"
	"github.com/zangezia/SDIngest/pkg/models"
)

var errUnknownDevice = errors.New("unknown device")

// DeviceLister lists attachable devices
type DeviceLister interface {
	List(ctx context.Context) ([]models.Device, error)
}

// Deps are the services the server drives
type Deps struct {
	Drives  DeviceLister
	Ejector transfer.Ejector
	// History records finished batches; nil disables history.
	History *history.Store
	// Monitor samples system load; nil disables metrics.
	Monitor *monitor.Service
	Now     func() time.Time
}

// Server represents the web server
type Server struct {
	cfg     *config.Config
	drives  DeviceLister
	history *history.Store
	monitor *monitor.Service
	now     func() time.Time
	webRoot string

	hub         *Hub
	slot        *transfer.Slot
	coordinator *transfer.Coordinator
	eraser      *transfer.Eraser

	saveSettings func(config.Settings) error
	finishers    sync.WaitGroup
}

//go:embed assets
var bundled embed.FS

// getWebRoot determines the web assets directory. An empty result means the
// bundled assets are served.
func getWebRoot() string {
	// Try current directory first
	if _, err := os.Stat("web"); err == nil {
		return "web"
	}

	// Try installed location
	if _, err := os.Stat("/opt/sdingest/web"); err == nil {
		return "/opt/sdingest/web"
	}

	// Try executable directory
	if exePath, err := os.Executable(); err == nil {
		webPath := filepath.Join(filepath.Dir(exePath), "web")
		if _, err := os.Stat(webPath); err == nil {
			return webPath
		}
	}

	return ""
}

// webFS returns the asset tree rooted at static/ and templates/
func (s *Server) webFS() fs.FS {
	if s.webRoot != "" {
		return os.DirFS(s.webRoot)
	}
	sub, err := fs.Sub(bundled, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	hub := NewHub()
	reporter := newHubReporter(hub, cfg.Web.ProgressInterval)
	slot := transfer.NewSlot()
	classifier := cfg.Classifier()

	var spaceCheck transfer.SpaceChecker
	if cfg.Transfer.CheckFreeSpace {
		spaceCheck = transfer.FreeSpaceCheck(cfg.Transfer.MinFreeDiskSpace, cfg.Transfer.DiskSpaceSafetyMargin)
	}

	return &Server{
		cfg:     cfg,
		drives:  deps.Drives,
		history: deps.History,
		monitor: deps.Monitor,
		now:     deps.Now,
		webRoot: getWebRoot(),
		hub:     hub,
		slot:    slot,
		coordinator: transfer.NewCoordinator(transfer.Options{
			Classifier: classifier,
			Ejector:    deps.Ejector,
			Reporter:   reporter,
			Slot:       slot,
			Now:        deps.Now,
			BufferSize: cfg.Transfer.CopyBufferSize,
			SpaceCheck: spaceCheck,
		}),
		eraser: transfer.NewEraser(transfer.EraserOptions{
			Classifier: classifier,
			Ejector:    deps.Ejector,
			Reporter:   reporter,
			Slot:       slot,
			Now:        deps.Now,
		}),
		saveSettings: config.SaveSettings,
	}
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/static/*", http.FileServer(http.FS(s.webFS())))
	r.Get("/", s.handleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Get("/drives", s.handleGetDrives)
		r.Get("/destinations", s.handleGetDestinations)
		r.Get("/status", s.handleGetStatus)
		r.Get("/history", s.handleGetHistory)
		r.Post("/transfer/start", s.handleStartTransfer)
		r.Post("/transfer/cancel", s.handleCancel)
		r.Post("/erase/start", s.handleStartErase)
	})
	r.Get("/ws", s.handleWebSocket)

	return r
}

// Start starts the web server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if s.monitor != nil {
		s.monitor.SetTargetDisk(s.cfg.ResolveDestinations(s.now()).Pictures)
		metricsChan := s.monitor.Start(ctx)
		go s.broadcastMetrics(ctx, metricsChan)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Starting web server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down web server...")

	if s.slot.Cancel() {
		log.Info().Msg("Cancelled running batch")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	s.finishers.Wait()
	return err
}

// Wait blocks until every started batch finished and was recorded
func (s *Server) Wait() {
	if b := s.slot.Current(); b != nil {
		b.Wait()
	}
	s.finishers.Wait()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, s.webFS(), "templates/index.html")
}

type driveInfo struct {
	models.Device
	Name string `json:"name"`
	Size string `json:"size_display"`
}

func (s *Server) handleGetDrives(w http.ResponseWriter, r *http.Request) {
	devices, err := s.drives.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list drives")
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	out := make([]driveInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, driveInfo{Device: d, Name: d.DisplayName(), Size: d.SizeDisplay()})
	}
	writeJSON(w, http.StatusOK, out)
}

type destinationInfo struct {
	Category  string `json:"category"`
	Path      string `json:"path"`
	FreeBytes uint64 `json:"free_bytes"`
	Free      string `json:"free"`
}

func (s *Server) handleGetDestinations(w http.ResponseWriter, r *http.Request) {
	dest := s.cfg.ResolveDestinations(s.now())

	out := make([]destinationInfo, 0, len(models.MediaCategories))
	for _, cat := range models.MediaCategories {
		info := destinationInfo{Category: cat.String(), Path: dest.For(cat), Free: "Unknown"}
		if usage, err := disk.Usage(media.ExistingAncestor(info.Path)); err == nil {
			info.FreeBytes = usage.Free
			info.Free = humanize.Bytes(usage.Free)
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() models.BatchStatus {
	if b := s.slot.Current(); b != nil {
		return b.Snapshot()
	}
	return models.BatchStatus{}
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []models.BatchStatus{})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := s.history.List(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if batches == nil {
		batches = []models.BatchStatus{}
	}
	writeJSON(w, http.StatusOK, batches)
}

type transferRequest struct {
	DeviceIDs   []string `json:"device_ids"`
	Root        string   `json:"root"`
	Subfolder   string   `json:"subfolder"`
	DatedFolder bool     `json:"dated_folder"`
	Pictures    string   `json:"pictures"`
	Videos      string   `json:"videos"`
	Audio       string   `json:"audio"`
	Remember    bool     `json:"remember"`
}

func (req transferRequest) destinations(base config.Destinations) config.Destinations {
	if req.Root != "" {
		base.Root = req.Root
	}
	if req.Subfolder != "" {
		base.Subfolder = req.Subfolder
	}
	if req.DatedFolder {
		base.DatedFolder = true
	}
	if req.Pictures != "" {
		base.Pictures = req.Pictures
	}
	if req.Videos != "" {
		base.Videos = req.Videos
	}
	if req.Audio != "" {
		base.Audio = req.Audio
	}
	return base
}

func (s *Server) handleStartTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	dcfg := req.destinations(s.cfg.Destinations)
	check := *s.cfg
	check.Destinations = dcfg
	if err := check.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	devices, err := s.selectDevices(r.Context(), req.DeviceIDs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	dest := dcfg.Resolve(s.now())
	batch, err := s.coordinator.Start(context.Background(), devices, dest)
	if err != nil {
		log.Warn().Err(err).Msg("Transfer not started")
		writeError(w, statusFor(err), err)
		return
	}

	if req.Remember && s.saveSettings != nil {
		settings := config.Settings{Root: dcfg.Root, Subfolder: dcfg.Subfolder, DatedFolder: dcfg.DatedFolder}
		if err := s.saveSettings(settings); err != nil {
			log.Warn().Err(err).Msg("Failed to save settings")
		}
	}

	if s.monitor != nil {
		s.monitor.SetTargetDisk(dest.Pictures)
	}
	s.logToClients("info", fmt.Sprintf("Started transfer of %d device(s) to %s", len(devices), dcfg.Root))
	s.track(batch)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":     batch.ID(),
		"destinations": dest,
	})
}

func (s *Server) handleStartErase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceIDs []string `json:"device_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	devices, err := s.selectDevices(r.Context(), req.DeviceIDs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	batch, err := s.eraser.Start(context.Background(), devices)
	if err != nil {
		log.Warn().Err(err).Msg("Erase not started")
		writeError(w, statusFor(err), err)
		return
	}

	s.logToClients("warn", fmt.Sprintf("Erasing media on %d device(s)", len(devices)))
	s.track(batch)

	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batch.ID()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.slot.Cancel() {
		writeError(w, http.StatusConflict, errors.New("no batch is running"))
		return
	}

	s.logToClients("info", "Cancellation requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	greeting := []models.WSMessage{{Type: MsgStatus, Payload: s.status()}}
	if s.monitor != nil {
		greeting = append(greeting, models.WSMessage{Type: MsgMetrics, Payload: s.monitor.GetMetrics()})
	}
	s.hub.serve(conn, r.RemoteAddr, greeting...)
}

// selectDevices resolves ids against the current device list, keeping the
// order of ids.
func (s *Server) selectDevices(ctx context.Context, ids []string) ([]models.Device, error) {
	if len(ids) == 0 {
		return nil, transfer.ErrNoDevicesSelected
	}

	all, err := s.drives.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Device, len(all))
	for _, d := range all {
		byID[d.ID] = d
	}

	selected := make([]models.Device, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errUnknownDevice, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		selected = append(selected, d)
	}
	return selected, nil
}

// track waits for batch in the background, then records and announces it
func (s *Server) track(batch *transfer.Batch) {
	s.finishers.Add(1)
	go func() {
		defer s.finishers.Done()

		status := batch.Wait()
		if s.history != nil {
			if err := s.history.Record(context.Background(), status); err != nil {
				log.Error().Err(err).Str("batch", status.ID).Msg("Failed to record batch history")
			}
		}

		s.hub.Broadcast(models.WSMessage{Type: MsgStatus, Payload: status})
		s.hub.Broadcast(models.WSMessage{Type: MsgGlobal, Payload: status.Global})
		s.logToClients("info", fmt.Sprintf("%s finished: %d of %d files",
			status.Kind, status.Global.FilesDone, status.Global.TotalFiles))
	}()
}

func (s *Server) logToClients(level, message string) {
	s.hub.Broadcast(models.WSMessage{
		Type: MsgLog,
		Payload: models.LogMessage{
			Timestamp: time.Now(),
			Level:     level,
			Message:   message,
		},
	})
}

func (s *Server) broadcastMetrics(ctx context.Context, metricsChan <-chan models.PerformanceMetrics) {
	ticker := time.NewTicker(s.cfg.Monitoring.UIUpdateInterval)
	defer ticker.Stop()

	var lastMetrics models.PerformanceMetrics

	for {
		select {
		case <-ctx.Done():
			return
		case metrics, ok := <-metricsChan:
			if !ok {
				return
			}
			lastMetrics = metrics
		case <-ticker.C:
			if s.hub.Clients() == 0 {
				continue
			}
			s.hub.Broadcast(models.WSMessage{Type: MsgStatus, Payload: s.status()})
			s.hub.Broadcast(models.WSMessage{Type: MsgMetrics, Payload: lastMetrics})
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, transfer.ErrNoDevicesSelected), errors.Is(err, errUnknownDevice):
		return http.StatusBadRequest
	case errors.Is(err, transfer.ErrBatchRunning):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrInsufficientSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, drives.ErrEnumerationFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
