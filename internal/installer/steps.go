package installer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h8d13/cosai/internal/config"
	"github.com/h8d13/cosai/internal/disk"
	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/locale"
	"github.com/h8d13/cosai/internal/mirror"
	"github.com/h8d13/cosai/internal/network"
	"github.com/h8d13/cosai/internal/osexec"
	"github.com/h8d13/cosai/internal/pacman"
	"github.com/h8d13/cosai/internal/profile"
	"github.com/h8d13/cosai/internal/retry"
	"github.com/h8d13/cosai/internal/users"
)

// stepPreflight fails before any destructive work if the host is missing a
// tool the run will exec, or if the configured keymap or timezone is unknown
// to the live system.
func (in *Installer) stepPreflight(ctx context.Context) error {
	tools := []string{"pacstrap", "arch-chroot", "genfstab", "lsblk", "parted", "wipefs", "sgdisk", "partprobe"}
	if in.cfg.Disk.Encryption.Enabled() {
		tools = append(tools, "cryptsetup")
	}
	for _, tool := range tools {
		if !osexec.LookPath(tool) {
			return cosaierr.ValidationFailed("host", fmt.Sprintf("required tool %s not found in PATH", tool))
		}
	}

	if kb := in.cfg.Locale.KbLayout; kb != "" {
		ok, err := locale.VerifyKeyboardLayout(ctx, in.runner, kb)
		switch {
		case err != nil:
			slog.Warn("Could not list keymaps, skipping layout check", "error", err)
		case !ok:
			return cosaierr.ValidationFailed("kb_layout", fmt.Sprintf("unknown keyboard layout %q", kb))
		}
	}

	if tz := in.cfg.Timezone; tz != "" {
		zones, err := locale.ListTimezones(ctx, in.runner)
		if err != nil {
			slog.Warn("Could not list timezones, skipping timezone check", "error", err)
			return nil
		}
		for _, z := range zones {
			if z == tz {
				return nil
			}
		}
		return cosaierr.ValidationFailed("timezone", fmt.Sprintf("unknown timezone %q", tz))
	}
	return nil
}

func (in *Installer) stepKeyring(ctx context.Context) error {
	if _, err := in.runner.Run(ctx, "pacman-key", "--init"); err != nil {
		return err
	}
	if _, err := in.runner.Run(ctx, "pacman-key", "--populate", "archlinux"); err != nil {
		return err
	}
	// refresh known keys through web key directory lookup
	_, err := in.runner.Run(ctx, "pacman-key", "--refresh-keys", "--keyserver-options", "auto-key-locate=wkd")
	return err
}

func (in *Installer) stepNTP(ctx context.Context) error {
	_, err := in.runner.Run(ctx, "timedatectl", "set-ntp", "true")
	return err
}

func (in *Installer) stepMirrors(ctx context.Context) error {
	if in.cfg.Mirror.Empty() {
		return nil
	}

	var ranked []mirror.Mirror
	if len(in.cfg.Mirror.MirrorRegions) > 0 {
		fetcher := mirror.NewFetcher(retry.DefaultPolicy())
		start := time.Now()
		all, err := fetcher.FetchStatus(ctx)
		in.recorder.ObserveMirrorFetchDuration(time.Since(start), err == nil)
		if err != nil {
			return err
		}
		ranked = mirror.FilterRegions(all, in.cfg.Mirror.MirrorRegions)
		if !in.opts.DryRun {
			ranked = mirror.RankBySpeed(ctx, &http.Client{Timeout: 5 * time.Second}, ranked, 5)
		}
	}

	content := mirror.RenderMirrorlist(in.cfg.Mirror, ranked)
	if in.opts.DryRun {
		_, err := in.runner.Run(ctx, "tee", "/etc/pacman.d/mirrorlist")
		return err
	}
	return os.WriteFile("/etc/pacman.d/mirrorlist", []byte(content), 0o644)
}

func (in *Installer) stepDisk(ctx context.Context) error {
	handler := disk.NewFilesystemHandler(&in.cfg.Disk, in.runner)
	return handler.PerformFilesystemOperations(ctx)
}

func (in *Installer) stepPacstrap(ctx context.Context) error {
	packages := in.basePackages()

	strapper := pacman.NewStrapper(in.runner, in.opts.Mountpoint)
	if err := strapper.Pacstrap(ctx, packages); err != nil {
		in.recorder.IncRetry("pacstrap")
		// a mid-download mirror failure is usually transient
		if err2 := strapper.Pacstrap(ctx, packages); err2 != nil {
			return err2
		}
	}

	pacmanCfg := in.cfg.Pacman
	hasPacmanEdits := pacmanCfg.ParallelDownloads > 0 || len(pacmanCfg.Options) > 0 ||
		len(pacmanCfg.OptionalRepositories) > 0 || len(pacmanCfg.CustomRepositories) > 0
	if hasPacmanEdits && !in.opts.DryRun {
		if err := in.applyPacmanConf(); err != nil {
			return err
		}
	}
	if in.opts.Offline && !in.opts.DryRun {
		if err := strapper.CopyConfToTarget(); err != nil {
			return err
		}
	}

	// user-requested packages go through the target's own pacman so the
	// repository edits above are honored
	return strapper.InstallPackages(ctx, in.cfg.Packages)
}

// basePackages assembles everything pacstrap installs in one pass.
func (in *Installer) basePackages() []string {
	packages := []string{"base", "linux-firmware", "sudo"}
	packages = append(packages, in.cfg.Kernels...)
	if in.cfg.KernelHeaders {
		for _, k := range in.cfg.Kernels {
			packages = append(packages, k+"-headers")
		}
	}

	if ucode := Microcode(); ucode != "" {
		packages = append(packages, ucode)
	}

	if root := in.cfg.Disk.RootPartition(); root != nil {
		packages = append(packages, root.FsType.InstallationPackages()...)
	}
	if in.cfg.Disk.Encryption.Enabled() {
		packages = append(packages, "cryptsetup")
	}

	packages = append(packages, in.cfg.Network.Packages()...)
	if profilePkgs, _, err := profile.Resolve(in.cfg.Profile); err == nil {
		packages = append(packages, profilePkgs...)
	}
	if in.cfg.Swap {
		packages = append(packages, "zram-generator")
	}

	seen := make(map[string]bool, len(packages))
	var out []string
	for _, p := range packages {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Microcode picks the CPU vendor's microcode package from /proc/cpuinfo.
func Microcode() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return ""
	}
	return microcodeFor(string(data))
}

func microcodeFor(cpuinfo string) string {
	switch {
	case strings.Contains(cpuinfo, "AuthenticAMD"):
		return "amd-ucode"
	case strings.Contains(cpuinfo, "GenuineIntel"):
		return "intel-ucode"
	}
	return ""
}

func (in *Installer) applyPacmanConf() error {
	path := filepath.Join(in.opts.Mountpoint, "etc/pacman.conf")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	edited := pacman.EditPacmanConf(string(data), in.cfg.Pacman)
	return os.WriteFile(path, []byte(edited), 0o644)
}

func (in *Installer) stepFstab(ctx context.Context) error {
	res, err := in.runner.Run(ctx, "genfstab", "-U", in.opts.Mountpoint)
	if err != nil {
		return err
	}
	if in.opts.DryRun {
		return nil
	}
	return os.WriteFile(filepath.Join(in.opts.Mountpoint, "etc/fstab"), res.Output, 0o644)
}

func (in *Installer) stepLocale(ctx context.Context) error {
	if in.opts.DryRun {
		_, err := in.chroot.Run(ctx, "locale-gen")
		return err
	}
	return locale.Apply(ctx, in.cfg.Locale, in.opts.Mountpoint, in.runner)
}

func (in *Installer) stepHostname(ctx context.Context) error {
	if in.opts.DryRun {
		_, err := in.chroot.Run(ctx, "hostnamectl", "hostname", in.cfg.Hostname)
		return err
	}
	path := filepath.Join(in.opts.Mountpoint, "etc/hostname")
	return os.WriteFile(path, []byte(in.cfg.Hostname+"\n"), 0o644)
}

func (in *Installer) stepTimezone(ctx context.Context) error {
	zone := in.cfg.Timezone
	if _, err := in.chroot.Run(ctx, "ln", "-sf", "/usr/share/zoneinfo/"+zone, "/etc/localtime"); err != nil {
		return err
	}
	if _, err := in.chroot.Run(ctx, "hwclock", "--systohc"); err != nil {
		return err
	}
	if in.cfg.NTP {
		return in.enableServices(ctx, []string{"systemd-timesyncd"})
	}
	return nil
}

func (in *Installer) stepMkinitcpio(ctx context.Context) error {
	if in.cfg.Disk.Encryption.Enabled() && !in.opts.DryRun {
		path := filepath.Join(in.opts.Mountpoint, "etc/mkinitcpio.conf")
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		edited := insertEncryptHook(string(data), encryptHookName(in.cfg.InitHooks))
		if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
			return err
		}
	}
	_, err := in.chroot.Run(ctx, "mkinitcpio", "-P")
	return err
}

// encryptHookName maps the init_hooks flavor to its mkinitcpio unlock hook.
func encryptHookName(initHooks string) string {
	if initHooks == config.InitHooksSystemd {
		return "sd-encrypt"
	}
	return "encrypt"
}

// insertEncryptHook adds the unlock hook before filesystems in the HOOKS line.
func insertEncryptHook(content, hook string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "HOOKS=") {
			continue
		}
		if strings.Contains(trimmed, "encrypt") {
			return content
		}
		lines[i] = strings.Replace(line, "filesystems", hook+" filesystems", 1)
		break
	}
	return strings.Join(lines, "\n")
}

func (in *Installer) stepNetwork(ctx context.Context) error {
	if in.opts.DryRun && in.cfg.Network.Type == network.ModeManual {
		return nil
	}
	return network.Apply(in.cfg.Network, in.opts.Mountpoint)
}

func (in *Installer) stepUsers(ctx context.Context) error {
	switch {
	case in.cfg.LockRoot:
		if _, err := in.chroot.Run(ctx, "usermod", "--lock", "root"); err != nil {
			return err
		}
	case in.cfg.RootEncPassword != "":
		if _, err := in.chroot.RunWithInput(ctx, fmt.Sprintf("root:%s\n", in.cfg.RootEncPassword), "chpasswd", "-e"); err != nil {
			return err
		}
	}

	for i := range in.cfg.Users {
		u := &in.cfg.Users[i]
		if err := u.Validate(); err != nil {
			return err
		}
		if err := u.HashPassword(ctx, in.runner); err != nil {
			return err
		}
		if err := u.Create(ctx, in.chroot); err != nil {
			return err
		}
	}

	if users.AnyElevated(in.cfg.Users) {
		return in.enableWheelSudo()
	}
	return nil
}

func (in *Installer) enableWheelSudo() error {
	if in.opts.DryRun {
		return nil
	}
	dir := filepath.Join(in.opts.Mountpoint, "etc/sudoers.d")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "00-wheel"), []byte("%wheel ALL=(ALL:ALL) ALL\n"), 0o440)
}

func (in *Installer) stepSwap(ctx context.Context) error {
	if in.opts.DryRun {
		return nil
	}
	dir := filepath.Join(in.opts.Mountpoint, "etc/systemd")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	conf := "[zram0]\nzram-size = min(ram / 2, 4096)\ncompression-algorithm = zstd\n"
	return os.WriteFile(filepath.Join(dir, "zram-generator.conf"), []byte(conf), 0o644)
}

func (in *Installer) stepServices(ctx context.Context) error {
	services := in.cfg.SystemServices()
	services = append(services, in.cfg.Network.Services()...)
	if _, profileSvcs, err := profile.Resolve(in.cfg.Profile); err == nil {
		services = append(services, profileSvcs...)
	}
	if err := in.enableServices(ctx, services); err != nil {
		return err
	}
	return in.enableUserServices(ctx)
}

// enableUserServices enables per-user units globally and marks lingering
// accounts the way loginctl enable-linger does, without needing logind.
func (in *Installer) enableUserServices(ctx context.Context) error {
	for _, s := range in.cfg.UserServices() {
		if _, err := in.chroot.Run(ctx, "systemctl", "--global", "enable", s.Unit); err != nil {
			return err
		}
		if s.Linger && !in.opts.DryRun {
			dir := filepath.Join(in.opts.Mountpoint, "var/lib/systemd/linger")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dir, s.User), nil, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *Installer) enableServices(ctx context.Context, services []string) error {
	if len(services) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(services))
	var args []string
	for _, s := range services {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		args = append(args, s)
	}
	_, err := in.chroot.Run(ctx, "systemctl", append([]string{"enable"}, args...)...)
	return err
}

func (in *Installer) stepCustomCommands(ctx context.Context) error {
	for _, c := range in.cfg.CustomCommands {
		var err error
		if c.User != "" {
			_, err = in.chroot.RunAsUser(ctx, c.User, c.Cmd)
		} else {
			_, err = in.chroot.RunShell(ctx, c.Cmd)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
