package models

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// MediaCategory classifies a file by its extension
type MediaCategory int

const (
	CategoryIgnored MediaCategory = iota
	CategoryImage
	CategoryVideo
	CategoryAudio
)

// MediaCategories lists the categories that are copied, in destination order
var MediaCategories = []MediaCategory{CategoryImage, CategoryVideo, CategoryAudio}

func (c MediaCategory) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryVideo:
		return "video"
	case CategoryAudio:
		return "audio"
	default:
		return "ignored"
	}
}

// MarshalText renders the category by name in JSON payloads
func (c MediaCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Device is a removable volume as seen at enumeration time
type Device struct {
	ID         string `json:"id"`             // mount path or drive letter
	Node       string `json:"node,omitempty"` // block device, e.g. /dev/sdb1
	Label      string `json:"label,omitempty"`
	Camera     string `json:"camera,omitempty"`
	FSType     string `json:"fs_type,omitempty"`
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	SizeKnown  bool   `json:"size_known"`
	Synthetic  bool   `json:"synthetic,omitempty"`
}

// SizeDisplay renders capacity as "59 GB (used: 12 GB)", or "Unknown" when
// the disk-usage query failed.
func (d Device) SizeDisplay() string {
	if !d.SizeKnown {
		return "Unknown"
	}
	return fmt.Sprintf("%s (used: %s)", humanize.Bytes(d.TotalBytes), humanize.Bytes(d.UsedBytes))
}

// DisplayName prefers the camera name, then the volume label, then the mount path
func (d Device) DisplayName() string {
	switch {
	case d.Camera != "":
		return d.Camera
	case d.Label != "":
		return d.Label
	default:
		return d.ID
	}
}

// ScannedFile is one matching file found on a device
type ScannedFile struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Category MediaCategory `json:"category"`
}

// CategoryScan is the per-category part of a scan
type CategoryScan struct {
	Paths      []string `json:"paths"`
	TotalBytes int64    `json:"total_bytes"`
}

// ScanResult is the snapshot of a device taken before a batch starts
type ScanResult struct {
	Root       string                         `json:"root"`
	Files      []ScannedFile                  `json:"files"` // traversal order
	ByCategory map[MediaCategory]CategoryScan `json:"by_category"`
}

// TotalFiles returns the number of matching files across all categories
func (r ScanResult) TotalFiles() int {
	return len(r.Files)
}

// TotalBytes returns the summed size of all matching files
func (r ScanResult) TotalBytes() int64 {
	var total int64
	for _, c := range r.ByCategory {
		total += c.TotalBytes
	}
	return total
}

// Status is the lifecycle state of one device within a batch
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusNoMedia   Status = "no_media_found"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether the status can no longer change
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusNoMedia, StatusCancelled, StatusError:
		return true
	}
	return false
}

// BatchKind distinguishes copy batches from erase batches
type BatchKind string

const (
	KindTransfer BatchKind = "transfer"
	KindErase    BatchKind = "erase"
)

// Destinations holds the per-category destination roots
type Destinations struct {
	Pictures string `json:"pictures"`
	Videos   string `json:"videos"`
	Audio    string `json:"audio"`
}

// For returns the root for a category, or "" for ignored files
func (d Destinations) For(c MediaCategory) string {
	switch c {
	case CategoryImage:
		return d.Pictures
	case CategoryVideo:
		return d.Videos
	case CategoryAudio:
		return d.Audio
	}
	return ""
}

// Roots returns the distinct, non-empty destination roots
func (d Destinations) Roots() []string {
	seen := make(map[string]bool, 3)
	roots := make([]string, 0, 3)
	for _, r := range []string{d.Pictures, d.Videos, d.Audio} {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		roots = append(roots, r)
	}
	return roots
}

// DeviceProgress is a point-in-time view of one device's counters
type DeviceProgress struct {
	Index       int       `json:"index"`
	Device      Device    `json:"device"`
	Cam         int       `json:"cam"`
	Status      Status    `json:"status"`
	TotalFiles  int64     `json:"total_files"`
	TotalBytes  int64     `json:"total_bytes"`
	FilesDone   int64     `json:"files_done"`
	BytesDone   int64     `json:"bytes_done"`
	FailedFiles int64     `json:"failed_files"`
	Throughput  float64   `json:"throughput"` // bytes per second
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Percent returns completion by bytes, falling back to files when no sizes are tracked
func (p DeviceProgress) Percent() float64 {
	return percent(p.FilesDone, p.TotalFiles, p.BytesDone, p.TotalBytes)
}

// GlobalProgress is the fold of all device counters of a batch
type GlobalProgress struct {
	FilesDone  int64   `json:"files_done"`
	BytesDone  int64   `json:"bytes_done"`
	TotalFiles int64   `json:"total_files"`
	TotalBytes int64   `json:"total_bytes"`
	Percent    float64 `json:"percent"`
}

// BatchStatus is the snapshot of a whole batch
type BatchStatus struct {
	ID         string           `json:"id"`
	Kind       BatchKind        `json:"kind"`
	Running    bool             `json:"running"`
	Cancelled  bool             `json:"cancelled"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Devices    []DeviceProgress `json:"devices"`
	Global     GlobalProgress   `json:"global"`
}

func percent(files, totalFiles, bytes, totalBytes int64) float64 {
	if totalBytes > 0 {
		return float64(bytes) / float64(totalBytes) * 100.0
	}
	if totalFiles > 0 {
		return float64(files) / float64(totalFiles) * 100.0
	}
	return 0
}

// Fold sums device counters into the global view
func Fold(devices []DeviceProgress) GlobalProgress {
	var g GlobalProgress
	for _, d := range devices {
		g.FilesDone += d.FilesDone
		g.BytesDone += d.BytesDone
		g.TotalFiles += d.TotalFiles
		g.TotalBytes += d.TotalBytes
	}
	g.Percent = percent(g.FilesDone, g.TotalFiles, g.BytesDone, g.TotalBytes)
	return g
}

// PerformanceMetrics holds system performance data
type PerformanceMetrics struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskBytesPerSec  float64 `json:"disk_bytes_per_sec"`
	DiskMBps         float64 `json:"disk_mbps"`
	DiskPath         string  `json:"disk_path,omitempty"`
	FreeDiskBytes    uint64  `json:"free_disk_bytes"`
	FreeDiskGB       float64 `json:"free_disk_gb"`
}

// LogMessage represents a log entry
type LogMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
