package transfer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/pkg/models"
)

// copyWorker copies one device's pre-scanned files. It is the only writer of
// its deviceState.
type copyWorker struct {
	batch   *Batch
	st      *deviceState
	dest    models.Destinations
	namer   *media.Namer
	ejector Ejector
	now     func() time.Time
	buf     []byte
}

func (w *copyWorker) run(ctx context.Context) {
	st := w.st
	st.start(w.now())

	files := st.scan.Files
	if len(files) == 0 {
		w.batch.complete(st, models.StatusNoMedia)
		return
	}

	created := make(map[string]bool)

	for _, f := range files {
		if w.batch.token.Cancelled() {
			w.batch.complete(st, models.StatusCancelled)
			return
		}

		if f.Category == models.CategoryIgnored {
			continue
		}
		root := w.dest.For(f.Category)
		if root == "" {
			w.fail(f.Path, fmt.Errorf("no destination for %s files", f.Category))
			continue
		}

		dir := filepath.Join(root, CamDir(st.cam))
		if !created[dir] {
			if err := media.EnsureDir(dir); err != nil {
				w.fail(f.Path, err)
				continue
			}
			created[dir] = true
		}

		target := w.namer.Next(dir, filepath.Base(f.Path))
		if _, err := copyFile(f.Path, target, w.buf); err != nil {
			w.fail(f.Path, err)
			continue
		}

		log.Debug().
			Int("cam", st.cam).
			Str("file", f.Path).
			Str("dest", target).
			Msg("Copied")

		st.advance(f.Size, w.now())
		w.batch.publish(st)
	}

	// A cancel that lands during the last file still withholds the eject.
	if w.batch.token.Cancelled() {
		w.batch.complete(st, models.StatusCancelled)
		return
	}

	if err := w.ejector.Eject(ctx, st.device); err != nil {
		log.Warn().Err(err).Str("device", st.device.ID).Msg("Eject failed, transfer still complete")
	}
	w.batch.complete(st, models.StatusSuccess)
}

func (w *copyWorker) fail(path string, err error) {
	w.st.fail()
	w.batch.reporter.OnFileError(w.st.index, path, err)
	w.batch.publish(w.st)
}
