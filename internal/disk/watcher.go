package disk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DeviceWatcher monitors /dev for block device hotplug so long-running
// sessions see freshly attached installation targets.
type DeviceWatcher struct {
	devDir       string
	handler      *DeviceHandler
	watcher      *fsnotify.Watcher
	mu           sync.RWMutex
	stopChan     chan struct{}
	refreshChan  chan struct{}
	debounceTime time.Duration

	onChange func([]Device)
}

// NewDeviceWatcher creates a watcher over the given device directory
// (normally /dev) that reports the refreshed device list to onChange.
func NewDeviceWatcher(devDir string, handler *DeviceHandler, onChange func([]Device)) (*DeviceWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &DeviceWatcher{
		devDir:       devDir,
		handler:      handler,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		refreshChan:  make(chan struct{}, 1),
		debounceTime: time.Second, // udev emits bursts of node changes per device
		onChange:     onChange,
	}, nil
}

// Start begins monitoring for device node changes.
func (dw *DeviceWatcher) Start(ctx context.Context) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.watcher.Add(dw.devDir); err != nil {
		return fmt.Errorf("failed to watch device directory %s: %w", dw.devDir, err)
	}

	slog.Info("Starting device watcher", "dir", dw.devDir)

	go dw.watchLoop(ctx)
	go dw.refreshLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (dw *DeviceWatcher) Stop() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	close(dw.stopChan)
	return dw.watcher.Close()
}

// relevantNode filters events down to whole-disk and partition nodes.
func relevantNode(name string) bool {
	base := name[strings.LastIndex(name, "/")+1:]
	for _, prefix := range []string{"sd", "nvme", "mmcblk", "vd"} {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

func (dw *DeviceWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-dw.stopChan:
			return
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if !relevantNode(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			slog.Debug("Device node change", "node", event.Name, "op", event.Op.String())
			select {
			case dw.refreshChan <- struct{}{}:
			default:
				// refresh already pending
			}
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Device watcher error", "error", err)
		}
	}
}

func (dw *DeviceWatcher) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-dw.stopChan:
			return
		case <-dw.refreshChan:
			// debounce the udev burst before re-scanning
			timer := time.NewTimer(dw.debounceTime)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			case <-dw.stopChan:
				timer.Stop()
				return
			}

			devices, err := dw.handler.Devices(ctx)
			if err != nil {
				slog.Warn("Device rescan failed", "error", err)
				continue
			}
			slog.Info("Device list refreshed", "count", len(devices))
			if dw.onChange != nil {
				dw.onChange(devices)
			}
		}
	}
}
