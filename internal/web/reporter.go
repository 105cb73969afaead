package web

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zangezia/SDIngest/internal/transfer"
	"github.com/zangezia/SDIngest/pkg/models"
)

// Message types pushed over the websocket
const (
	MsgProgress       = "progress"
	MsgDeviceComplete = "device_complete"
	MsgGlobal         = "global"
	MsgStatus         = "status"
	MsgMetrics        = "metrics"
	MsgLog            = "log"
)

// DeviceComplete is the payload of a device_complete message
type DeviceComplete struct {
	Index  int           `json:"index"`
	Status models.Status `json:"status"`
}

// hubReporter forwards batch events to the hub. Progress is throttled per
// device and global progress overall; the final event of a device or batch
// always goes out.
type hubReporter struct {
	hub      *Hub
	interval time.Duration
	log      transfer.LogReporter

	mu       sync.Mutex
	limiters map[int]*rate.Limiter
	global   *rate.Limiter
}

var _ transfer.Reporter = (*hubReporter)(nil)

func newHubReporter(hub *Hub, interval time.Duration) *hubReporter {
	return &hubReporter{
		hub:      hub,
		interval: interval,
		limiters: make(map[int]*rate.Limiter),
		global:   newLimiter(interval),
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func (r *hubReporter) limiter(index int) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[index]
	if !ok {
		l = newLimiter(r.interval)
		r.limiters[index] = l
	}
	return l
}

// finalProgress reports whether every scanned file of the device has been
// handled, copied or failed.
func finalProgress(p models.DeviceProgress) bool {
	return p.FilesDone+p.FailedFiles >= p.TotalFiles
}

func (r *hubReporter) OnProgress(p models.DeviceProgress) {
	r.log.OnProgress(p)
	if !finalProgress(p) && !r.limiter(p.Index).Allow() {
		return
	}
	r.hub.Broadcast(models.WSMessage{Type: MsgProgress, Payload: p})
}

func (r *hubReporter) OnDeviceComplete(index int, status models.Status) {
	r.log.OnDeviceComplete(index, status)
	r.hub.Broadcast(models.WSMessage{
		Type:    MsgDeviceComplete,
		Payload: DeviceComplete{Index: index, Status: status},
	})
}

func (r *hubReporter) OnGlobalProgress(g models.GlobalProgress) {
	r.log.OnGlobalProgress(g)
	if g.FilesDone < g.TotalFiles && !r.global.Allow() {
		return
	}
	r.hub.Broadcast(models.WSMessage{Type: MsgGlobal, Payload: g})
}

func (r *hubReporter) OnFileError(index int, path string, err error) {
	r.log.OnFileError(index, path, err)
	r.hub.Broadcast(models.WSMessage{
		Type: MsgLog,
		Payload: models.LogMessage{
			Timestamp: time.Now(),
			Level:     "warn",
			Message:   "Failed: " + path + ": " + err.Error(),
		},
	})
}
