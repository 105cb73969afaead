package transfer

import "sync/atomic"

// CancelToken is the single cancellation switch of a batch. Workers poll it
// between files, never mid-file; it is never reset while workers run.
type CancelToken struct {
	flag atomic.Bool
}

// Cancel sets the flag
func (t *CancelToken) Cancel() {
	t.flag.Store(true)
}

// Cancelled reports whether Cancel was called
func (t *CancelToken) Cancelled() bool {
	return t.flag.Load()
}
