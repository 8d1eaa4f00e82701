package installer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h8d13/cosai/internal/bootloader"
	"github.com/h8d13/cosai/internal/config"
	"github.com/h8d13/cosai/internal/disk"
	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/journal"
	"github.com/h8d13/cosai/internal/osexec"
	"github.com/h8d13/cosai/internal/users"
)

func testDevice() disk.Device {
	return disk.Device{Info: disk.DeviceInfo{
		Path:      "/dev/sda",
		TotalSize: disk.NewSize(128, disk.UnitGiB),
	}}
}

func testConfig(t *testing.T, uefi bool) *config.Config {
	t.Helper()
	cfg := config.Default()
	mod := disk.SuggestSingleDiskLayout(testDevice(), disk.SuggestOptions{
		Filesystem: disk.Ext4,
		Bootloader: bootloader.Grub,
		UEFI:       uefi,
	})
	cfg.Disk = disk.LayoutConfiguration{
		ConfigType:    disk.LayoutDefault,
		Modifications: []disk.DeviceModification{mod},
	}
	return cfg
}

func testMountpoint(t *testing.T) string {
	t.Helper()
	mnt := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(mnt, "etc"), 0o755))
	return mnt
}

func newDryInstaller(t *testing.T, cfg *config.Config) (*Installer, *osexec.PlanRunner, *journal.Journal) {
	t.Helper()
	plan := osexec.NewPlanRunner()
	jnl, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = jnl.Close() })

	in := New(cfg, Options{
		Mountpoint: testMountpoint(t),
		DryRun:     true,
		SkipNTP:    true,
		SkipWKD:    true,
		Offline:    true,
		SkipBoot:   false,
	}, plan, jnl, nil)
	in.uefi = false
	return in, plan, jnl
}

func planStrings(plan *osexec.PlanRunner) []string {
	return plan.Commands()
}

func TestRunProducesFullPlan(t *testing.T) {
	cfg := testConfig(t, false)
	in, plan, jnl := newDryInstaller(t, cfg)

	require.NoError(t, in.Run(context.Background()))

	cmds := planStrings(plan)
	joined := strings.Join(cmds, "\n")

	assert.Contains(t, joined, "wipefs --all /dev/sda")
	assert.Contains(t, joined, "pacstrap -K")
	assert.Contains(t, joined, "genfstab -U")
	assert.Contains(t, joined, "arch-chroot "+in.opts.Mountpoint+" locale-gen")
	assert.Contains(t, joined, "mkinitcpio -P")
	assert.Contains(t, joined, "grub-install --target=i386-pc /dev/sda")
	assert.Contains(t, joined, "grub-mkconfig -o /boot/grub/grub.cfg")
	assert.Contains(t, joined, "hwclock --systohc")

	// the journal saw a completed run
	run, err := jnl.LastIncompleteRun(context.Background(), "/dev/sda")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestStepOrder(t *testing.T) {
	cfg := testConfig(t, false)
	in, _, _ := newDryInstaller(t, cfg)

	names := in.StepNames()
	idx := func(name string) int {
		for i, n := range names {
			if n == name {
				return i
			}
		}
		return -1
	}

	assert.Less(t, idx("preflight"), idx("disk"))
	assert.Less(t, idx("disk"), idx("mount"))
	assert.Less(t, idx("mount"), idx("pacstrap"))
	assert.Less(t, idx("pacstrap"), idx("fstab"))
	assert.Less(t, idx("mkinitcpio"), idx("bootloader"))
	assert.Less(t, idx("bootloader"), idx("users"))
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	cfg := testConfig(t, false)
	plan := osexec.NewPlanRunner()
	jnl, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer jnl.Close()

	ctx := context.Background()

	// simulate a run that got through disk and mount before dying
	prevID, err := jnl.BeginRun(ctx, "/dev/sda")
	require.NoError(t, err)
	require.NoError(t, jnl.Record(ctx, prevID, "disk", journal.StepCompleted, "", nil))
	require.NoError(t, jnl.Record(ctx, prevID, "mount", journal.StepCompleted, "", nil))

	in := New(cfg, Options{
		Mountpoint: testMountpoint(t),
		DryRun:     true,
		SkipNTP:    true,
		SkipWKD:    true,
		Offline:    true,
		Resume:     true,
	}, plan, jnl, nil)

	require.NoError(t, in.Run(ctx))

	joined := strings.Join(planStrings(plan), "\n")
	assert.NotContains(t, joined, "wipefs")
	assert.Contains(t, joined, "pacstrap -K")
}

func TestMountPlanOrdering(t *testing.T) {
	cfg := testConfig(t, true)
	// simulate the planner having assigned device paths
	for i := range cfg.Disk.Modifications[0].Partitions {
		p := &cfg.Disk.Modifications[0].Partitions[i]
		p.DevPath = "/dev/sda" + string(rune('1'+i))
	}

	entries, err := mountPlan(&cfg.Disk)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "/", entries[0].mountpoint)
}

func TestMountPlanRejectsMissingRoot(t *testing.T) {
	layout := &disk.LayoutConfiguration{
		Modifications: []disk.DeviceModification{{
			Device: "/dev/sda",
			Partitions: []disk.PartitionModification{{
				ObjID:      "x",
				Status:     disk.StatusCreate,
				FsType:     disk.Ext4,
				Mountpoint: "/home",
				DevPath:    "/dev/sda1",
			}},
		}},
	}
	_, err := mountPlan(layout)
	assert.Error(t, err)
}

func TestKernelParams(t *testing.T) {
	cfg := testConfig(t, false)
	root := cfg.Disk.RootPartition()
	require.NotNil(t, root)
	root.PartUUID = "abcd-1234"
	root.DevPath = "/dev/sda2"

	params := KernelParams(&cfg.Disk, config.InitHooksBusybox)
	assert.Contains(t, params, "root=PARTUUID=abcd-1234")
	assert.Equal(t, "rw", params[len(params)-1])
}

func TestKernelParamsEncrypted(t *testing.T) {
	cfg := testConfig(t, false)
	root := cfg.Disk.RootPartition()
	require.NotNil(t, root)
	root.PartUUID = "abcd-1234"
	root.DevPath = "/dev/sda2"
	cfg.Disk.Encryption = &disk.EncryptionConfig{
		EncryptionType: disk.EncryptionLuks,
		Partitions:     []string{root.ObjID},
	}

	params := KernelParams(&cfg.Disk, config.InitHooksBusybox)
	joined := strings.Join(params, " ")
	assert.Contains(t, joined, "cryptdevice=PARTUUID=abcd-1234:cryptlvm-sda2")
	assert.Contains(t, joined, "root=/dev/mapper/cryptlvm-sda2")
	assert.NotContains(t, joined, "rd.luks.name=")
}

func TestKernelParamsEncryptedSystemdHooks(t *testing.T) {
	cfg := testConfig(t, false)
	root := cfg.Disk.RootPartition()
	require.NotNil(t, root)
	root.PartUUID = "abcd-1234"
	root.DevPath = "/dev/sda2"
	root.LuksUUID = "9f2c41e0-0000-4000-8000-c0ffee000001"
	cfg.Disk.Encryption = &disk.EncryptionConfig{
		EncryptionType: disk.EncryptionLuks,
		Partitions:     []string{root.ObjID},
	}

	params := KernelParams(&cfg.Disk, config.InitHooksSystemd)
	joined := strings.Join(params, " ")
	assert.Contains(t, joined, "rd.luks.name=9f2c41e0-0000-4000-8000-c0ffee000001=cryptlvm-sda2")
	assert.Contains(t, joined, "root=/dev/mapper/cryptlvm-sda2")
	assert.NotContains(t, joined, "cryptdevice=")
}

func TestKernelParamsBtrfsSubvol(t *testing.T) {
	cfg := config.Default()
	mod := disk.SuggestSingleDiskLayout(testDevice(), disk.SuggestOptions{
		Filesystem:    disk.Btrfs,
		UseSubvolumes: true,
		UEFI:          true,
	})
	cfg.Disk = disk.LayoutConfiguration{ConfigType: disk.LayoutDefault, Modifications: []disk.DeviceModification{mod}}
	root := cfg.Disk.RootPartition()
	require.NotNil(t, root)
	root.PartUUID = "efgh-5678"

	params := strings.Join(KernelParams(&cfg.Disk, cfg.InitHooks), " ")
	assert.Contains(t, params, "rootflags=subvol=@")
}

// outputRunner serves canned output per command name so steps that read
// host tool output can be exercised without the tools.
type outputRunner struct {
	outputs map[string]string
}

func (r *outputRunner) Run(_ context.Context, name string, _ ...string) (*osexec.Result, error) {
	return &osexec.Result{Command: name, Output: []byte(r.outputs[name])}, nil
}

func (r *outputRunner) RunWithInput(ctx context.Context, _ string, name string, args ...string) (*osexec.Result, error) {
	return r.Run(ctx, name, args...)
}

func (r *outputRunner) DryRun() bool { return false }

func stubHostTools(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	for _, tool := range []string{"pacstrap", "arch-chroot", "genfstab", "lsblk", "parted", "wipefs", "sgdisk", "partprobe"} {
		require.NoError(t, os.WriteFile(filepath.Join(bin, tool), []byte("#!/bin/sh\n"), 0o755))
	}
	t.Setenv("PATH", bin)
}

func TestStepPreflightAcceptsKnownKeymapAndTimezone(t *testing.T) {
	stubHostTools(t)

	cfg := testConfig(t, false)
	cfg.Locale.KbLayout = "sv-latin1"
	cfg.Timezone = "Europe/Stockholm"

	runner := &outputRunner{outputs: map[string]string{
		"localectl":   "us\nsv-latin1\nde-latin1\n",
		"timedatectl": "UTC\nEurope/Stockholm\nEurope/Berlin\n",
	}}
	in := New(cfg, Options{Mountpoint: t.TempDir()}, runner, nil, nil)
	assert.NoError(t, in.stepPreflight(context.Background()))
}

func TestStepPreflightRejectsUnknownTimezone(t *testing.T) {
	stubHostTools(t)

	cfg := testConfig(t, false)
	cfg.Locale.KbLayout = ""
	cfg.Timezone = "Mars/Olympus"

	runner := &outputRunner{outputs: map[string]string{
		"timedatectl": "UTC\nEurope/Stockholm\n",
	}}
	in := New(cfg, Options{Mountpoint: t.TempDir()}, runner, nil, nil)
	err := in.stepPreflight(context.Background())
	assert.True(t, cosaierr.IsCategory(err, cosaierr.CategoryValidation))
}

func TestStepPreflightRejectsUnknownKeymap(t *testing.T) {
	stubHostTools(t)

	cfg := testConfig(t, false)
	cfg.Locale.KbLayout = "qwertz-martian"
	cfg.Timezone = ""

	runner := &outputRunner{outputs: map[string]string{
		"localectl": "us\nsv-latin1\n",
	}}
	in := New(cfg, Options{Mountpoint: t.TempDir()}, runner, nil, nil)
	err := in.stepPreflight(context.Background())
	assert.True(t, cosaierr.IsCategory(err, cosaierr.CategoryValidation))
}

func TestStepPreflightMissingHostTool(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	cfg := testConfig(t, false)
	in := New(cfg, Options{Mountpoint: t.TempDir()}, &outputRunner{}, nil, nil)
	err := in.stepPreflight(context.Background())
	assert.True(t, cosaierr.IsCategory(err, cosaierr.CategoryValidation))
}

func TestMicrocodeFor(t *testing.T) {
	assert.Equal(t, "amd-ucode", microcodeFor("vendor_id\t: AuthenticAMD"))
	assert.Equal(t, "intel-ucode", microcodeFor("vendor_id\t: GenuineIntel"))
	assert.Equal(t, "", microcodeFor("vendor_id\t: ARM"))
}

func TestInsertEncryptHook(t *testing.T) {
	conf := "MODULES=()\nHOOKS=(base udev autodetect modconf block filesystems keyboard fsck)\n"
	got := insertEncryptHook(conf, "encrypt")
	assert.Contains(t, got, "block encrypt filesystems")

	// idempotent
	assert.Equal(t, got, insertEncryptHook(got, "encrypt"))
}

func TestInsertEncryptHookSystemdFlavor(t *testing.T) {
	conf := "MODULES=()\nHOOKS=(base udev autodetect modconf block filesystems keyboard fsck)\n"
	got := insertEncryptHook(conf, encryptHookName(config.InitHooksSystemd))
	assert.Contains(t, got, "block sd-encrypt filesystems")
	assert.Equal(t, got, insertEncryptHook(got, "sd-encrypt"))

	assert.Equal(t, "encrypt", encryptHookName(config.InitHooksBusybox))
	assert.Equal(t, "encrypt", encryptHookName(""))
}

func TestBasePackages(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Kernels = []string{"linux", "linux-lts"}
	cfg.Packages = []string{"git", "git"}
	cfg.Swap = true

	in := New(cfg, Options{Mountpoint: t.TempDir(), DryRun: true}, osexec.NewPlanRunner(), nil, nil)
	packages := in.basePackages()

	assert.Contains(t, packages, "base")
	assert.Contains(t, packages, "linux-lts")
	assert.Contains(t, packages, "zram-generator")
	assert.Contains(t, packages, "e2fsprogs")
	// extra packages are installed through the target's pacman afterwards
	assert.NotContains(t, packages, "git")
}

func TestCustomCommandsRunAsConfiguredUser(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.CustomCommands = []config.Command{
		{Cmd: "pacman -Syu"},
		{Cmd: "makepkg -si", User: "alice"},
	}

	in, plan, _ := newDryInstaller(t, cfg)
	require.NoError(t, in.Run(context.Background()))

	joined := strings.Join(plan.Commands(), "\n")
	assert.Contains(t, joined, "bash -c pacman -Syu")
	assert.Contains(t, joined, "su - alice -c makepkg -si")
}

func TestExtraPackagesInstalledThroughTarget(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Packages = []string{"git", "vim"}

	in, plan, _ := newDryInstaller(t, cfg)
	require.NoError(t, in.Run(context.Background()))

	found := false
	for _, cmd := range plan.Commands() {
		if strings.HasPrefix(cmd, "pacstrap") {
			assert.NotContains(t, cmd, "git")
		}
		if strings.Contains(cmd, "pacman -S --noconfirm --needed git vim") {
			assert.Contains(t, cmd, "arch-chroot")
			found = true
		}
	}
	assert.True(t, found, "expected a target pacman install for the extra packages")
}

func TestBasePackagesKernelHeaders(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Kernels = []string{"linux", "linux-zen"}
	cfg.KernelHeaders = true

	in := New(cfg, Options{Mountpoint: t.TempDir(), DryRun: true}, osexec.NewPlanRunner(), nil, nil)
	packages := in.basePackages()

	assert.Contains(t, packages, "linux-headers")
	assert.Contains(t, packages, "linux-zen-headers")
}

func TestLockRootSkipsPasswordAndLocks(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.LockRoot = true
	cfg.RootEncPassword = "$6$salt$hash"

	in, plan, _ := newDryInstaller(t, cfg)
	require.NoError(t, in.Run(context.Background()))

	cmds := planStrings(plan)
	assert.True(t, containsSubstring(cmds, "usermod --lock root"))
	assert.False(t, containsSubstring(cmds, "chpasswd"))
}

func TestUserServicesEnabledGlobally(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Services = []config.Service{
		{Unit: "sshd"},
		{Unit: "syncthing", User: "alice", Linger: true},
	}

	in, plan, _ := newDryInstaller(t, cfg)
	require.NoError(t, in.Run(context.Background()))

	cmds := planStrings(plan)
	assert.True(t, containsSubstring(cmds, "systemctl enable sshd"))
	assert.True(t, containsSubstring(cmds, "systemctl --global enable syncthing"))
}

func containsSubstring(cmds []string, want string) bool {
	for _, c := range cmds {
		if strings.Contains(c, want) {
			return true
		}
	}
	return false
}

func TestFailedStepJournaled(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Users = []users.User{{Username: "NOT VALID"}}

	in, _, jnl := newDryInstaller(t, cfg)
	ctx := context.Background()

	err := in.Run(ctx)
	require.Error(t, err)

	run, err2 := jnl.LastIncompleteRun(ctx, "/dev/sda")
	require.NoError(t, err2)
	assert.Nil(t, run, "failed runs must not be left in running state")
}

func TestSplitPartition(t *testing.T) {
	dev, num := splitPartition("/dev/sda3")
	assert.Equal(t, "/dev/sda", dev)
	assert.Equal(t, "3", num)

	dev, num = splitPartition("/dev/nvme0n1p2")
	assert.Equal(t, "/dev/nvme0n1", dev)
	assert.Equal(t, "2", num)
}
