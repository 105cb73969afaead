package transfer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/pkg/models"
)

// EraserOptions configures an Eraser
type EraserOptions struct {
	Classifier *media.Classifier
	Ejector    Ejector
	Reporter   Reporter
	Slot       *Slot
	// Remove deletes one file; nil means os.Remove.
	Remove func(path string) error
	Now    func() time.Time
}

// Eraser deletes every scanned media file from the selected devices. Only
// file counts are tracked.
type Eraser struct {
	classifier *media.Classifier
	ejector    Ejector
	reporter   Reporter
	slot       *Slot
	remove     func(string) error
	now        func() time.Time
}

// NewEraser creates an eraser
func NewEraser(opts EraserOptions) *Eraser {
	e := &Eraser{
		classifier: opts.Classifier,
		ejector:    opts.Ejector,
		reporter:   opts.Reporter,
		slot:       opts.Slot,
		remove:     opts.Remove,
		now:        opts.Now,
	}
	if e.ejector == nil {
		e.ejector = nopEjector{}
	}
	if e.reporter == nil {
		e.reporter = NopReporter{}
	}
	if e.slot == nil {
		e.slot = NewSlot()
	}
	if e.remove == nil {
		e.remove = os.Remove
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Slot returns the slot guarding this eraser's batches
func (e *Eraser) Slot() *Slot { return e.slot }

// Start scans every device and launches one deleter per device
func (e *Eraser) Start(ctx context.Context, devices []models.Device) (*Batch, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevicesSelected
	}
	if err := e.slot.acquire(); err != nil {
		return nil, err
	}

	scans, errs, err := prescan(ctx, devices, e.classifier)
	if err != nil {
		e.slot.release(nil)
		return nil, fmt.Errorf("scan devices: %w", err)
	}

	cams := make([]int, len(devices))
	for i := range cams {
		cams[i] = i + 1
	}

	batch := newBatch(models.KindErase, buildStates(devices, cams, scans, errs, false), e.reporter)
	e.slot.release(batch)

	log.Info().
		Str("batch", batch.id).
		Int("devices", len(devices)).
		Int64("total_files", batch.Snapshot().Global.TotalFiles).
		Msg("Starting erase")

	batch.launch(ctx, func(ctx context.Context, st *deviceState) {
		e.erase(ctx, batch, st)
	})

	return batch, nil
}

// Run starts an erase batch and waits for it
func (e *Eraser) Run(ctx context.Context, devices []models.Device) (models.BatchStatus, error) {
	batch, err := e.Start(ctx, devices)
	if err != nil {
		return models.BatchStatus{}, err
	}
	return batch.Wait(), nil
}

func (e *Eraser) erase(ctx context.Context, batch *Batch, st *deviceState) {
	st.start(e.now())

	files := st.scan.Files
	if len(files) == 0 {
		batch.complete(st, models.StatusNoMedia)
		return
	}

	for _, f := range files {
		if batch.token.Cancelled() {
			batch.complete(st, models.StatusCancelled)
			return
		}

		if err := e.remove(f.Path); err != nil {
			st.fail()
			batch.reporter.OnFileError(st.index, f.Path, err)
			batch.publish(st)
			continue
		}

		st.advance(0, e.now())
		batch.publish(st)
	}

	if batch.token.Cancelled() {
		batch.complete(st, models.StatusCancelled)
		return
	}

	if err := e.ejector.Eject(ctx, st.device); err != nil {
		log.Warn().Err(err).Str("device", st.device.ID).Msg("Eject failed, erase still complete")
	}
	batch.complete(st, models.StatusSuccess)
}
