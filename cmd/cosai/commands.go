package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/h8d13/cosai/internal/bootstrap"
	"github.com/h8d13/cosai/internal/config"
	"github.com/h8d13/cosai/internal/disk"
	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/metrics"
	"github.com/h8d13/cosai/internal/mirror"
	"github.com/h8d13/cosai/internal/osexec"
	"github.com/h8d13/cosai/internal/retry"
	"github.com/h8d13/cosai/internal/sysimage"
)

// suggestLayout fills an absent disk_config with the single-disk default
// layout. Device discovery always runs against the host; lsblk is read-only.
func suggestLayout(ctx context.Context, cfg *config.Config, uefi bool) error {
	handler := disk.NewDeviceHandler(osexec.NewHostRunner())
	devices, err := handler.Devices(ctx)
	if err != nil {
		return err
	}

	if p := CLI.Install.Device; p != "" && !CLI.DryRun && !hasDevice(devices, p) {
		d, err := waitForDevice(ctx, handler, p, 30*time.Second)
		if err != nil {
			return err
		}
		devices = append(devices, *d)
	}

	return suggestLayoutFor(cfg, devices, CLI.Install.Device, CLI.Install.Filesystem, CLI.Advanced, uefi)
}

func hasDevice(devices []disk.Device, path string) bool {
	for i := range devices {
		if devices[i].Info.Path == path {
			return true
		}
	}
	return false
}

// waitForDevice blocks until the named device node shows up, for targets
// plugged in after the command started (SD cards, USB media).
func waitForDevice(ctx context.Context, handler *disk.DeviceHandler, path string, timeout time.Duration) (*disk.Device, error) {
	found := make(chan disk.Device, 1)
	watcher, err := disk.NewDeviceWatcher("/dev", handler, func(devices []disk.Device) {
		for _, d := range devices {
			if d.Info.Path == path {
				select {
				case found <- d:
				default:
				}
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := watcher.Start(waitCtx); err != nil {
		return nil, err
	}
	defer watcher.Stop()

	slog.Info("Waiting for device to appear", "path", path, "timeout", timeout)
	select {
	case d := <-found:
		return &d, nil
	case <-waitCtx.Done():
		return nil, cosaierr.DeviceNotFound(path)
	}
}

func suggestLayoutFor(cfg *config.Config, devices []disk.Device, devicePath, filesystem string, separateHome, uefi bool) error {
	fs, ok := disk.ParseFilesystemType(filesystem)
	if !ok {
		return cosaierr.ValidationFailed("filesystem", fmt.Sprintf("unknown filesystem %q", filesystem))
	}

	var target *disk.Device
	switch {
	case devicePath != "":
		for i := range devices {
			if devices[i].Info.Path == devicePath {
				target = &devices[i]
				break
			}
		}
		if target == nil {
			return cosaierr.DeviceNotFound(devicePath)
		}
	case len(devices) == 1:
		target = &devices[0]
	default:
		return cosaierr.ValidationFailed("device", "no disk_config in the configuration and no --device given")
	}
	if target.Info.ReadOnly {
		return cosaierr.LayoutInvalid(target.Info.Path, "device is read-only")
	}

	mod := disk.SuggestSingleDiskLayout(*target, disk.SuggestOptions{
		Filesystem:    fs,
		Bootloader:    cfg.Bootloader.Bootloader,
		UEFI:          uefi,
		SeparateHome:  separateHome,
		UseSubvolumes: fs == disk.Btrfs,
	})
	cfg.Disk = disk.LayoutConfiguration{
		ConfigType:    disk.LayoutDefault,
		Modifications: []disk.DeviceModification{mod},
	}
	slog.Info("Using suggested layout", "device", target.Info.Path, "filesystem", fs)
	return nil
}

func runMirror(ctx context.Context, region string, list bool) error {
	if CLI.Offline {
		servers, err := mirror.OfflineServers()
		if err != nil {
			return err
		}
		for _, s := range servers {
			fmt.Println(s)
		}
		return nil
	}

	fetcher := mirror.NewFetcher(retry.DefaultPolicy())
	all, err := fetcher.FetchStatus(ctx)
	if err != nil {
		return err
	}

	if list {
		counts := make(map[string]int)
		for _, m := range all {
			if m.Country != "" {
				counts[m.Country]++
			}
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-32s %d\n", name, counts[name])
		}
		return nil
	}

	regions := map[string][]string{}
	if region != "" {
		regions[region] = nil
	}
	ranked := mirror.FilterRegions(all, regions)
	if len(ranked) == 0 {
		return cosaierr.ValidationFailed("region", fmt.Sprintf("no usable mirrors for %q", region))
	}
	ranked = mirror.RankBySpeed(ctx, &http.Client{Timeout: 5 * time.Second}, ranked, 10)
	for i, m := range ranked {
		if i >= 10 {
			break
		}
		fmt.Printf("%7.2f  %s\n", m.Score, mirror.ServerURL(m.URL))
	}
	return nil
}

func runBootstrap(ctx context.Context, recorder metrics.Recorder) error {
	url := CLI.Bootstrap.URL
	dest := CLI.Bootstrap.Dest

	root := dest
	if strings.HasSuffix(url, ".tar.gz") || strings.HasSuffix(url, ".tgz") {
		downloader := bootstrap.NewDownloader(retry.DefaultPolicy())
		extracted, err := downloader.FetchTarball(ctx, url, dest)
		if err != nil {
			return err
		}
		root = extracted
		slog.Info("Snapshot extracted", "dir", root)
	} else {
		opts := bootstrap.CloneOptions{URL: url, Branch: CLI.Bootstrap.Branch, Dir: dest}
		if err := bootstrap.Clone(ctx, opts); err != nil {
			return err
		}
		if commit, err := bootstrap.HeadCommit(dest); err == nil {
			slog.Info("Snapshot cloned", "dir", dest, "commit", commit)
		}
	}

	applied, err := bootstrap.ApplyAll(root, bootstrap.AutoUpdatePatches())
	if err != nil {
		return err
	}
	slog.Info("Patches applied", "count", applied)

	if CLI.Bootstrap.Install {
		return runInstall(ctx, recorder)
	}
	return nil
}

func runImage(ctx context.Context, recorder metrics.Recorder) error {
	runner := newRunner()

	var monitor *sysimage.SyncMonitor
	if !CLI.DryRun {
		var err error
		monitor, err = sysimage.NewSyncMonitor(recorder)
		if err != nil {
			slog.Warn("Dirty-page monitoring unavailable", "error", err)
		}
	}

	imager := sysimage.NewImager(runner, monitor)
	opts := sysimage.Options{
		Device:     CLI.Image.Device,
		RootfsPath: CLI.Image.Rootfs,
		BootSize:   disk.NewSize(CLI.Image.BootSize, disk.UnitMiB),
		Hostname:   CLI.Image.Hostname,
		Services:   CLI.Image.Services,
	}
	if err := imager.Run(ctx, opts); err != nil {
		return err
	}

	if plan, ok := runner.(*osexec.PlanRunner); ok {
		fmt.Print(osexec.FormatPlan(plan.Commands()))
		return nil
	}
	slog.Info("Image written", "device", opts.Device)
	return nil
}
