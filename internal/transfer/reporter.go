package transfer

import (
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/zangezia/SDIngest/pkg/models"
)

// Reporter receives push notifications from workers. Methods are called from
// worker goroutines, concurrently for different devices; implementations
// must be safe for concurrent use and marshal onto their own thread if needed.
// Events of a single device arrive in order.
type Reporter interface {
	// OnProgress fires after each successfully processed file.
	OnProgress(p models.DeviceProgress)
	// OnDeviceComplete fires once per device with its terminal status.
	OnDeviceComplete(index int, status models.Status)
	// OnGlobalProgress fires after every device progress event.
	OnGlobalProgress(g models.GlobalProgress)
	// OnFileError reports a file that was not copied or deleted.
	OnFileError(index int, path string, err error)
}

// NopReporter ignores every event
type NopReporter struct{}

func (NopReporter) OnProgress(models.DeviceProgress)       {}
func (NopReporter) OnDeviceComplete(int, models.Status)    {}
func (NopReporter) OnGlobalProgress(models.GlobalProgress) {}
func (NopReporter) OnFileError(int, string, error)         {}

// LogReporter writes events to the global zerolog logger
type LogReporter struct{}

var _ Reporter = LogReporter{}

func (LogReporter) OnProgress(p models.DeviceProgress) {
	log.Debug().
		Int("cam", p.Cam).
		Str("device", p.Device.ID).
		Int64("files", p.FilesDone).
		Int64("total_files", p.TotalFiles).
		Str("speed", humanize.Bytes(uint64(p.Throughput))+"/s").
		Msg("Progress")
}

func (LogReporter) OnDeviceComplete(index int, status models.Status) {
	log.Info().Int("device_index", index).Str("status", string(status)).Msg("Device finished")
}

func (LogReporter) OnGlobalProgress(g models.GlobalProgress) {
	log.Debug().
		Int64("files", g.FilesDone).
		Int64("total_files", g.TotalFiles).
		Str("bytes", humanize.Bytes(uint64(g.BytesDone))).
		Str("total_bytes", humanize.Bytes(uint64(g.TotalBytes))).
		Float64("percent", g.Percent).
		Msg("Global progress")
}

func (LogReporter) OnFileError(index int, path string, err error) {
	log.Warn().Err(err).Int("device_index", index).Str("file", path).Msg("File failed")
}
