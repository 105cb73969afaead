// Package eject safely removes a device after its batch finished. Software
// eject is unreliable on USB card readers, so every platform gets a primary
// and a fallback strategy and failure is only ever reported, never fatal.
package eject

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
	"github.com/zangezia/SDIngest/pkg/models"
)

// ErrAllStrategiesFailed is returned when neither primary nor fallback worked
var ErrAllStrategiesFailed = errors.New("all eject strategies failed")

// Runner executes an external command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands through os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s failed: %w (output: %s)", name, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

// Strategy is one way of ejecting a device
type Strategy struct {
	Name    string
	Command string // binary the strategy shells out to
	Run     func(ctx context.Context, run Runner, d models.Device) error
}

// Options configures an Ejector
type Options struct {
	Disabled       bool
	Runner         Runner
	Strategies     []Strategy
	Retries        int           // extra attempts of the primary strategy
	RetryInterval  time.Duration // first backoff interval
	CommandTimeout time.Duration
}

// Ejector tries each strategy in order until one succeeds
type Ejector struct {
	disabled   bool
	run        Runner
	strategies []Strategy
	retries    int
	interval   time.Duration
	timeout    time.Duration
}

// New creates an ejector; missing options fall back to the platform defaults
func New(opts Options) *Ejector {
	e := &Ejector{
		disabled:   opts.Disabled,
		run:        opts.Runner,
		strategies: opts.Strategies,
		retries:    opts.Retries,
		interval:   opts.RetryInterval,
		timeout:    opts.CommandTimeout,
	}
	if e.run == nil {
		e.run = ExecRunner
	}
	if e.strategies == nil {
		e.strategies = PlatformStrategies()
	}
	if e.interval <= 0 {
		e.interval = 500 * time.Millisecond
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	return e
}

// Eject attempts every strategy in turn. The returned error is informational:
// callers log it and carry on.
func (e *Ejector) Eject(ctx context.Context, d models.Device) error {
	if e.disabled || d.Synthetic {
		log.Debug().Str("device", d.ID).Bool("synthetic", d.Synthetic).Msg("Eject skipped")
		return nil
	}
	if len(e.strategies) == 0 {
		return fmt.Errorf("%w: no strategy for this platform", ErrAllStrategiesFailed)
	}

	var errs []error
	for i, s := range e.strategies {
		op := func() error {
			cctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			return s.Run(cctx, e.run, d)
		}

		var err error
		if i == 0 && e.retries > 0 {
			// Readers often report busy for a moment after the last write.
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = e.interval
			err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.retries)), ctx))
		} else {
			err = op()
		}

		if err == nil {
			log.Info().Str("device", d.ID).Str("strategy", s.Name).Msg("Device ejected")
			return nil
		}

		log.Warn().Err(err).Str("device", d.ID).Str("strategy", s.Name).Msg("Eject attempt failed")
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))

		if ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("%w: %w", ErrAllStrategiesFailed, errors.Join(errs...))
}
