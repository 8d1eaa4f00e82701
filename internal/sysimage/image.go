// Package sysimage writes a bootable system image onto removable media,
// typically an SD card for a single-board machine. It partitions the device,
// extracts a root filesystem tarball, seeds fstab and services, and drains
// the page cache before declaring the media safe to remove.
package sysimage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h8d13/cosai/internal/bootstrap"
	"github.com/h8d13/cosai/internal/disk"
	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/osexec"
)

// Options configure one imaging run.
type Options struct {
	Device     string // block device to image, e.g. /dev/mmcblk0
	RootfsPath string // local rootfs tarball (tar.gz)
	Mountpoint string // scratch mountpoint for the new root
	BootSize   disk.Size
	Hostname   string
	Services   []string // systemd units to enable by symlink
	// FlushThreshold is the dirty-page level considered drained.
	FlushThreshold uint64
}

// Imager performs the staged imaging workflow.
type Imager struct {
	runner  osexec.Runner
	monitor *SyncMonitor
}

// NewImager binds a runner and an optional sync monitor.
func NewImager(runner osexec.Runner, monitor *SyncMonitor) *Imager {
	return &Imager{runner: runner, monitor: monitor}
}

// Run executes the whole imaging sequence.
func (im *Imager) Run(ctx context.Context, opts Options) error {
	if opts.Mountpoint == "" {
		opts.Mountpoint = "/mnt/sysimage"
	}
	if opts.BootSize.IsZero() {
		opts.BootSize = disk.NewSize(256, disk.UnitMiB)
	}
	if opts.FlushThreshold == 0 {
		opts.FlushThreshold = 1 << 20 // 1 MiB
	}

	steps := []struct {
		name string
		fn   func(context.Context, Options) error
	}{
		{"partition", im.partition},
		{"format", im.format},
		{"mount", im.mount},
		{"extract", im.extract},
		{"configure", im.configure},
		{"flush", im.flush},
		{"unmount", im.unmount},
	}
	for _, step := range steps {
		slog.Info("imaging step", "step", step.name, "device", opts.Device)
		start := time.Now()
		if err := step.fn(ctx, opts); err != nil {
			return cosaierr.StepFailed(step.name, err)
		}
		slog.Debug("imaging step done", "step", step.name, "duration", time.Since(start))
	}
	return nil
}

func (im *Imager) partition(ctx context.Context, opts Options) error {
	cmds := [][]string{
		{"wipefs", "--all", opts.Device},
		{"parted", "--script", opts.Device, "mklabel", "msdos"},
		{"parted", "--script", opts.Device, "mkpart", "primary", "fat32", "1MiB", fmt.Sprintf("%dMiB", 1+opts.BootSize.In(disk.UnitMiB))},
		{"parted", "--script", opts.Device, "mkpart", "primary", "ext4", fmt.Sprintf("%dMiB", 1+opts.BootSize.In(disk.UnitMiB)), "100%"},
		{"parted", "--script", opts.Device, "set", "1", "boot", "on"},
		{"partprobe", opts.Device},
	}
	for _, c := range cmds {
		if _, err := im.runner.Run(ctx, c[0], c[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func (im *Imager) format(ctx context.Context, opts Options) error {
	boot, root := im.partitions(opts.Device)
	if _, err := im.runner.Run(ctx, "mkfs.fat", "-F32", "-n", "BOOT", boot); err != nil {
		return err
	}
	_, err := im.runner.Run(ctx, "mkfs.ext4", "-F", "-L", "ROOT", root)
	return err
}

func (im *Imager) mount(ctx context.Context, opts Options) error {
	boot, root := im.partitions(opts.Device)
	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return err
	}
	if _, err := im.runner.Run(ctx, "mount", root, opts.Mountpoint); err != nil {
		return err
	}
	bootDir := filepath.Join(opts.Mountpoint, "boot")
	if !im.runner.DryRun() {
		if err := os.MkdirAll(bootDir, 0o755); err != nil {
			return err
		}
	}
	_, err := im.runner.Run(ctx, "mount", boot, bootDir)
	return err
}

func (im *Imager) extract(ctx context.Context, opts Options) error {
	if im.runner.DryRun() {
		_, err := im.runner.Run(ctx, "bsdtar", "-xpf", opts.RootfsPath, "-C", opts.Mountpoint)
		return err
	}
	f, err := os.Open(opts.RootfsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = bootstrap.Extract(f, opts.Mountpoint)
	return err
}

func (im *Imager) configure(ctx context.Context, opts Options) error {
	if im.runner.DryRun() {
		return nil
	}

	boot, root := im.partitions(opts.Device)
	fstab := fmt.Sprintf("%s  /      ext4  defaults,noatime  0 1\n%s  /boot  vfat  defaults          0 2\n", root, boot)
	if err := os.WriteFile(filepath.Join(opts.Mountpoint, "etc/fstab"), []byte(fstab), 0o644); err != nil {
		return err
	}

	if opts.Hostname != "" {
		if err := os.WriteFile(filepath.Join(opts.Mountpoint, "etc/hostname"), []byte(opts.Hostname+"\n"), 0o644); err != nil {
			return err
		}
	}

	return EnableServices(opts.Mountpoint, opts.Services)
}

// EnableServices creates the multi-user.target.wants symlinks the way
// systemctl enable would, without needing a chroot.
func EnableServices(mountpoint string, services []string) error {
	wants := filepath.Join(mountpoint, "etc/systemd/system/multi-user.target.wants")
	if len(services) == 0 {
		return nil
	}
	if err := os.MkdirAll(wants, 0o755); err != nil {
		return err
	}
	for _, svc := range services {
		if !strings.Contains(svc, ".") {
			svc += ".service"
		}
		link := filepath.Join(wants, svc)
		target := "/usr/lib/systemd/system/" + svc
		if _, err := os.Lstat(link); err == nil {
			continue
		}
		if err := os.Symlink(target, link); err != nil {
			return err
		}
	}
	return nil
}

func (im *Imager) flush(ctx context.Context, opts Options) error {
	if _, err := im.runner.Run(ctx, "sync"); err != nil {
		return err
	}
	if im.monitor == nil || im.runner.DryRun() {
		return nil
	}
	return im.monitor.WaitForFlush(ctx, opts.FlushThreshold)
}

func (im *Imager) unmount(ctx context.Context, opts Options) error {
	_, err := im.runner.Run(ctx, "umount", "--recursive", opts.Mountpoint)
	return err
}

// partitions returns the boot and root partition paths for a device.
func (im *Imager) partitions(device string) (boot, root string) {
	sep := ""
	for _, prefix := range []string{"/dev/mmcblk", "/dev/nvme", "/dev/loop"} {
		if strings.HasPrefix(device, prefix) {
			sep = "p"
			break
		}
	}
	return device + sep + "1", device + sep + "2"
}
