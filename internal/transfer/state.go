package transfer

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/zangezia/SDIngest/pkg/models"
)

// deviceState holds the counters of one device. Only the device's own worker
// writes them; everything else reads through snapshot. Counters are atomics so
// readers on other goroutines never see torn values.
type deviceState struct {
	index      int
	device     models.Device
	cam        int
	scan       models.ScanResult
	scanErr    error
	totalFiles int64
	totalBytes int64

	filesDone  atomic.Int64
	bytesDone  atomic.Int64
	failed     atomic.Int64
	throughput atomic.Uint64 // math.Float64bits
	status     atomic.Value  // models.Status
	startedAt  atomic.Int64  // unix nanos
	finishedAt atomic.Int64
}

func newDeviceState(index int, d models.Device, cam int, scan models.ScanResult, trackBytes bool) *deviceState {
	s := &deviceState{
		index:      index,
		device:     d,
		cam:        cam,
		scan:       scan,
		totalFiles: int64(scan.TotalFiles()),
	}
	if trackBytes {
		s.totalBytes = scan.TotalBytes()
	}
	s.status.Store(models.StatusIdle)
	return s
}

func (s *deviceState) currentStatus() models.Status {
	return s.status.Load().(models.Status)
}

// setStatus moves to st unless the state is already terminal
func (s *deviceState) setStatus(st models.Status) bool {
	for {
		cur := s.currentStatus()
		if cur.Terminal() {
			return false
		}
		if s.status.CompareAndSwap(cur, st) {
			if st.Terminal() {
				s.finishedAt.Store(time.Now().UnixNano())
			}
			return true
		}
	}
}

func (s *deviceState) start(now time.Time) {
	s.startedAt.Store(now.UnixNano())
	s.setStatus(models.StatusRunning)
}

// advance records one finished file of size bytes and recomputes throughput
// as bytes so far over seconds since the device started.
func (s *deviceState) advance(size int64, now time.Time) {
	s.filesDone.Add(1)
	bytes := s.bytesDone.Add(size)

	elapsed := now.Sub(time.Unix(0, s.startedAt.Load())).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(bytes) / elapsed
	}
	s.throughput.Store(math.Float64bits(rate))
}

func (s *deviceState) fail() {
	s.failed.Add(1)
}

func (s *deviceState) snapshot() models.DeviceProgress {
	p := models.DeviceProgress{
		Index:       s.index,
		Device:      s.device,
		Cam:         s.cam,
		Status:      s.currentStatus(),
		TotalFiles:  s.totalFiles,
		TotalBytes:  s.totalBytes,
		FilesDone:   s.filesDone.Load(),
		BytesDone:   s.bytesDone.Load(),
		FailedFiles: s.failed.Load(),
		Throughput:  math.Float64frombits(s.throughput.Load()),
	}
	if ns := s.startedAt.Load(); ns != 0 {
		p.StartedAt = time.Unix(0, ns)
	}
	if ns := s.finishedAt.Load(); ns != 0 {
		p.FinishedAt = time.Unix(0, ns)
	}
	return p
}
