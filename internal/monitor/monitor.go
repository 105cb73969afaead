// Package monitor samples host load and destination free space while
// batches run.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/zangezia/SDIngest/internal/media"
	"github.com/zangezia/SDIngest/pkg/models"
)

// Service monitors system performance
type Service struct {
	updateInterval      time.Duration
	cpuSmoothingSamples int

	cpuPercent func() (float64, error)
	memory     func() (*mem.VirtualMemoryStat, error)
	ioBytes    func() (uint64, error)
	usage      func(path string) (*disk.UsageStat, error)
	now        func() time.Time

	mu             sync.Mutex
	cpuReadings    []float64
	lastIOTime     time.Time
	lastIOBytes    uint64
	targetDiskPath string
}

// New creates a new monitoring service
func New(updateInterval time.Duration, cpuSamples int) *Service {
	if cpuSamples < 1 {
		cpuSamples = 1
	}
	return &Service{
		updateInterval:      updateInterval,
		cpuSmoothingSamples: cpuSamples,
		cpuReadings:         make([]float64, 0, cpuSamples),
		cpuPercent:          totalCPU,
		memory:              mem.VirtualMemory,
		ioBytes:             totalIOBytes,
		usage:               disk.Usage,
		now:                 time.Now,
	}
}

func totalCPU() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

func totalIOBytes() (uint64, error) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, c := range counters {
		total += c.ReadBytes + c.WriteBytes
	}
	return total, nil
}

// SetTargetDisk sets the destination whose free space is reported. The
// directory does not need to exist yet.
func (s *Service) SetTargetDisk(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetDiskPath = path
}

// Start begins monitoring
func (s *Service) Start(ctx context.Context) <-chan models.PerformanceMetrics {
	metricsChan := make(chan models.PerformanceMetrics, 10)

	go func() {
		defer close(metricsChan)

		ticker := time.NewTicker(s.updateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics := s.collectMetrics()
				select {
				case metricsChan <- metrics:
				default:
					// Channel full, skip this update
				}
			}
		}
	}()

	return metricsChan
}

func (s *Service) collectMetrics() models.PerformanceMetrics {
	metrics := models.PerformanceMetrics{}

	s.mu.Lock()
	defer s.mu.Unlock()

	// CPU with smoothing
	if pct, err := s.cpuPercent(); err == nil {
		s.cpuReadings = append(s.cpuReadings, pct)
		if len(s.cpuReadings) > s.cpuSmoothingSamples {
			s.cpuReadings = s.cpuReadings[1:]
		}

		var sum float64
		for _, v := range s.cpuReadings {
			sum += v
		}
		metrics.CPUPercent = sum / float64(len(s.cpuReadings))
	}

	// Memory
	if memInfo, err := s.memory(); err == nil {
		metrics.MemoryUsedBytes = memInfo.Used
		metrics.MemoryTotalBytes = memInfo.Total
		metrics.MemoryPercent = memInfo.UsedPercent
	}

	// Disk I/O rate since the previous sample
	if total, err := s.ioBytes(); err == nil {
		now := s.now()
		if !s.lastIOTime.IsZero() && total >= s.lastIOBytes {
			if elapsed := now.Sub(s.lastIOTime).Seconds(); elapsed > 0 {
				metrics.DiskBytesPerSec = float64(total-s.lastIOBytes) / elapsed
				metrics.DiskMBps = metrics.DiskBytesPerSec / 1024.0 / 1024.0
			}
		}
		s.lastIOBytes = total
		s.lastIOTime = now
	}

	// Free space at the destination
	if s.targetDiskPath != "" {
		path := media.ExistingAncestor(s.targetDiskPath)
		if usage, err := s.usage(path); err == nil {
			metrics.DiskPath = path
			metrics.FreeDiskBytes = usage.Free
			metrics.FreeDiskGB = float64(usage.Free) / 1024.0 / 1024.0 / 1024.0
		}
	}

	return metrics
}

// GetMetrics returns current metrics (one-time snapshot)
func (s *Service) GetMetrics() models.PerformanceMetrics {
	return s.collectMetrics()
}
