package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/pkg/models"
)

var (
	// ErrNoDevicesSelected is returned when a batch is started with an empty selection
	ErrNoDevicesSelected = errors.New("no devices selected")
	// ErrBatchRunning is returned when another batch has not finished yet
	ErrBatchRunning = errors.New("a batch is already running")
)

// Ejector ejects a device; its error is only logged
type Ejector interface {
	Eject(ctx context.Context, d models.Device) error
}

type nopEjector struct{}

func (nopEjector) Eject(context.Context, models.Device) error { return nil }

// Batch is one run of workers over a fixed set of devices. The device set
// and every total are fixed before the first worker starts.
type Batch struct {
	id        string
	kind      models.BatchKind
	startedAt time.Time

	token    CancelToken
	states   []*deviceState
	reporter Reporter

	done       chan struct{}
	finishedAt atomic.Int64
}

func newBatch(kind models.BatchKind, states []*deviceState, reporter Reporter) *Batch {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Batch{
		id:        uuid.NewString(),
		kind:      kind,
		startedAt: time.Now(),
		states:    states,
		reporter:  reporter,
		done:      make(chan struct{}),
	}
}

// ID returns the batch identifier
func (b *Batch) ID() string { return b.id }

// Kind returns whether this is a transfer or an erase batch
func (b *Batch) Kind() models.BatchKind { return b.kind }

// Token exposes the batch's cancellation switch
func (b *Batch) Token() *CancelToken { return &b.token }

// Cancel asks every worker to stop before its next file
func (b *Batch) Cancel() {
	b.token.Cancel()
}

// Done is closed once every worker reached a terminal state
func (b *Batch) Done() <-chan struct{} { return b.done }

// Finished reports whether Done is closed
func (b *Batch) Finished() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Wait blocks until all workers finished and returns the final snapshot
func (b *Batch) Wait() models.BatchStatus {
	<-b.done
	return b.Snapshot()
}

// Snapshot reads every device's counters once and folds the global view
// from that same read, so Global always equals the sum of Devices.
func (b *Batch) Snapshot() models.BatchStatus {
	devices := make([]models.DeviceProgress, len(b.states))
	for i, st := range b.states {
		devices[i] = st.snapshot()
	}

	status := models.BatchStatus{
		ID:        b.id,
		Kind:      b.kind,
		Running:   !b.Finished(),
		Cancelled: b.token.Cancelled(),
		StartedAt: b.startedAt,
		Devices:   devices,
		Global:    models.Fold(devices),
	}
	if ns := b.finishedAt.Load(); ns != 0 {
		status.FinishedAt = time.Unix(0, ns)
	}
	return status
}

func (b *Batch) publish(st *deviceState) {
	b.reporter.OnProgress(st.snapshot())
	b.reporter.OnGlobalProgress(b.Snapshot().Global)
}

func (b *Batch) complete(st *deviceState, status models.Status) {
	if !st.setStatus(status) {
		return
	}
	log.Info().
		Str("batch", b.id).
		Str("kind", string(b.kind)).
		Int("cam", st.cam).
		Str("device", st.device.ID).
		Str("status", string(status)).
		Int64("files", st.filesDone.Load()).
		Int64("total_files", st.totalFiles).
		Int64("failed", st.failed.Load()).
		Msg("Device finished")
	b.reporter.OnDeviceComplete(st.index, status)
}

// launch runs work for every device concurrently and closes Done when all
// of them return. Cancelling ctx sets the batch token.
func (b *Batch) launch(ctx context.Context, work func(ctx context.Context, st *deviceState)) {
	stop := context.AfterFunc(ctx, b.Cancel)

	var wg sync.WaitGroup
	for _, st := range b.states {
		wg.Add(1)
		go func(st *deviceState) {
			defer wg.Done()
			if st.scanErr != nil {
				b.complete(st, models.StatusError)
				return
			}
			work(ctx, st)
		}(st)
	}

	go func() {
		wg.Wait()
		stop()
		b.finishedAt.Store(time.Now().UnixNano())

		g := b.Snapshot().Global
		log.Info().
			Str("batch", b.id).
			Str("kind", string(b.kind)).
			Bool("cancelled", b.token.Cancelled()).
			Int64("files", g.FilesDone).
			Int64("total_files", g.TotalFiles).
			Int64("bytes", g.BytesDone).
			Msg("Batch finished")

		close(b.done)
	}()
}

// Slot admits one batch at a time. A transfer coordinator and an eraser that
// share a Slot never run concurrently.
type Slot struct {
	mu        sync.Mutex
	preparing bool
	current   *Batch
}

// NewSlot creates an empty slot
func NewSlot() *Slot {
	return &Slot{}
}

// Current returns the most recent batch, running or finished
func (s *Slot) Current() *Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cancel cancels the running batch, if any
func (s *Slot) Cancel() bool {
	b := s.Current()
	if b == nil || b.Finished() {
		return false
	}
	b.Cancel()
	return true
}

func (s *Slot) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.preparing || (s.current != nil && !s.current.Finished()) {
		return ErrBatchRunning
	}
	s.preparing = true
	return nil
}

// release ends the preparation phase; b is nil when preparation failed
func (s *Slot) release(b *Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.preparing = false
	if b != nil {
		s.current = b
	}
}

// prescan scans every device in parallel and returns once all scans are
// complete. A device that cannot be scanned gets its error in errs.
func prescan(ctx context.Context, devices []models.Device, c *media.Classifier) ([]models.ScanResult, []error, error) {
	results := make([]models.ScanResult, len(devices))
	errs := make([]error, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range devices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = media.ScanDevice(d.ID, c)
			if errs[i] != nil {
				log.Warn().Err(errs[i]).Str("device", d.ID).Msg("Device scan failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return results, errs, nil
}

// buildStates turns scan results into per-device states
func buildStates(devices []models.Device, cams []int, scans []models.ScanResult, errs []error, trackBytes bool) []*deviceState {
	states := make([]*deviceState, len(devices))
	for i, d := range devices {
		states[i] = newDeviceState(i, d, cams[i], scans[i], trackBytes)
		states[i].scanErr = errs[i]
	}
	return states
}
