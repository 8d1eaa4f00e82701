package sysimage

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/procfs"

	"github.com/h8d13/cosai/internal/metrics"
)

// SyncMonitor watches kernel writeback while an image flush is in flight.
// SD card writes buffer gigabytes in the page cache; without this a user
// pulls the card while Dirty is still draining.
type SyncMonitor struct {
	fs       procfs.FS
	recorder metrics.Recorder
	interval time.Duration
}

// NewSyncMonitor builds a monitor over /proc. Recorder may be nil.
func NewSyncMonitor(recorder metrics.Recorder) (*SyncMonitor, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &SyncMonitor{fs: fs, recorder: recorder, interval: 2 * time.Second}, nil
}

// DirtyBytes reads Dirty plus Writeback from /proc/meminfo.
func (m *SyncMonitor) DirtyBytes() (uint64, error) {
	mi, err := m.fs.Meminfo()
	if err != nil {
		return 0, err
	}
	var total uint64
	if mi.DirtyBytes != nil {
		total += *mi.DirtyBytes
	}
	if mi.WritebackBytes != nil {
		total += *mi.WritebackBytes
	}
	return total, nil
}

// WaitForFlush polls until dirty pages fall under threshold or the context
// ends. Progress is logged and exported each tick.
func (m *SyncMonitor) WaitForFlush(ctx context.Context, threshold uint64) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		dirty, err := m.DirtyBytes()
		if err != nil {
			return err
		}
		m.recorder.SetDirtyBytes(dirty)
		if dirty <= threshold {
			slog.Info("writeback drained", "dirty_bytes", dirty)
			return nil
		}
		slog.Info("waiting for writeback", "dirty_bytes", dirty, "threshold", threshold)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
