// Package transfer runs one worker per selected device, copying or erasing
// the device's pre-scanned media while folding per-device counters into a
// global view.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/pkg/models"
)

const defaultBufferSize = 1 << 20

// Options configures a Coordinator
type Options struct {
	Classifier *media.Classifier
	Ejector    Ejector
	Reporter   Reporter
	// Slot is shared with an Eraser to keep batches exclusive; nil means a private slot.
	Slot *Slot
	// Now is the clock used for naming and throughput; nil means time.Now.
	Now        func() time.Time
	BufferSize int
	// SpaceCheck runs per destination root before any copy; nil skips it.
	SpaceCheck SpaceChecker
}

// Coordinator fans out copy workers
type Coordinator struct {
	classifier *media.Classifier
	ejector    Ejector
	reporter   Reporter
	slot       *Slot
	now        func() time.Time
	bufSize    int
	spaceCheck SpaceChecker
}

// NewCoordinator creates a coordinator
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		classifier: opts.Classifier,
		ejector:    opts.Ejector,
		reporter:   opts.Reporter,
		slot:       opts.Slot,
		now:        opts.Now,
		bufSize:    opts.BufferSize,
		spaceCheck: opts.SpaceCheck,
	}
	if c.ejector == nil {
		c.ejector = nopEjector{}
	}
	if c.reporter == nil {
		c.reporter = NopReporter{}
	}
	if c.slot == nil {
		c.slot = NewSlot()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.bufSize <= 0 {
		c.bufSize = defaultBufferSize
	}
	return c
}

// Slot returns the slot guarding this coordinator's batches
func (c *Coordinator) Slot() *Slot { return c.slot }

// Start scans every device, fixes the batch totals, and then launches one
// copy worker per device. It returns as soon as the workers are running.
// Cancelling ctx cancels the batch.
func (c *Coordinator) Start(ctx context.Context, devices []models.Device, dest models.Destinations) (*Batch, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevicesSelected
	}
	if err := c.slot.acquire(); err != nil {
		return nil, err
	}

	batch, err := c.prepare(ctx, devices, dest)
	c.slot.release(batch)
	if err != nil {
		return nil, err
	}

	batch.launch(ctx, func(ctx context.Context, st *deviceState) {
		w := &copyWorker{
			batch:   batch,
			st:      st,
			dest:    dest,
			namer:   media.NewNamer(c.now),
			ejector: c.ejector,
			now:     c.now,
			buf:     make([]byte, c.bufSize),
		}
		w.run(ctx)
	})

	return batch, nil
}

// Run starts a batch and waits for it
func (c *Coordinator) Run(ctx context.Context, devices []models.Device, dest models.Destinations) (models.BatchStatus, error) {
	batch, err := c.Start(ctx, devices, dest)
	if err != nil {
		return models.BatchStatus{}, err
	}
	return batch.Wait(), nil
}

func (c *Coordinator) prepare(ctx context.Context, devices []models.Device, dest models.Destinations) (*Batch, error) {
	scans, errs, err := prescan(ctx, devices, c.classifier)
	if err != nil {
		return nil, fmt.Errorf("scan devices: %w", err)
	}

	if c.spaceCheck != nil {
		for root, need := range bytesByRoot(dest, scans) {
			if err := c.spaceCheck(root, need); err != nil {
				return nil, err
			}
		}
	}

	cams := AssignCamNumbers(dest.Roots(), len(devices))
	batch := newBatch(models.KindTransfer, buildStates(devices, cams, scans, errs, true), c.reporter)

	g := batch.Snapshot().Global
	log.Info().
		Str("batch", batch.id).
		Int("devices", len(devices)).
		Int64("total_files", g.TotalFiles).
		Int64("total_bytes", g.TotalBytes).
		Str("pictures", dest.Pictures).
		Str("videos", dest.Videos).
		Str("audio", dest.Audio).
		Msg("Starting transfer")

	return batch, nil
}
