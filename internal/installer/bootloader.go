package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/h8d13/cosai/internal/bootloader"
	"github.com/h8d13/cosai/internal/config"
	"github.com/h8d13/cosai/internal/disk"
	cosaierr "github.com/h8d13/cosai/internal/errors"
)

func (in *Installer) stepBootloader(ctx context.Context) error {
	loader := in.cfg.Bootloader.Bootloader
	if loader == bootloader.NoBootloader {
		return nil
	}

	var err error
	switch loader {
	case bootloader.Grub:
		err = in.installGrub(ctx)
	case bootloader.SystemdBoot:
		err = in.installSystemdBoot(ctx)
	case bootloader.Limine:
		err = in.installLimine(ctx)
	case bootloader.Efistub:
		err = in.installEfistub(ctx)
	default:
		err = fmt.Errorf("unsupported bootloader %q", loader)
	}
	if err != nil {
		return cosaierr.BootloaderFailed(string(loader), err)
	}
	return nil
}

// KernelParams builds the kernel command line for the configured root. The
// init hook flavor decides how an encrypted root is named: busybox's encrypt
// hook reads cryptdevice=, systemd's sd-encrypt reads rd.luks.name=.
func KernelParams(layout *disk.LayoutConfiguration, initHooks string) []string {
	root := layout.RootPartition()
	if root == nil {
		return nil
	}

	var params []string
	if layout.Encryption.ShouldEncrypt(root) {
		mapper := filepath.Base(disk.MapperPath(root))
		if initHooks == config.InitHooksSystemd {
			params = append(params, fmt.Sprintf("rd.luks.name=%s=%s", root.LuksUUID, mapper))
		} else {
			params = append(params, fmt.Sprintf("cryptdevice=PARTUUID=%s:%s", root.PartUUID, mapper))
		}
		params = append(params, fmt.Sprintf("root=%s", disk.MapperPath(root)))
	} else if root.PartUUID != "" {
		params = append(params, fmt.Sprintf("root=PARTUUID=%s", root.PartUUID))
	} else {
		params = append(params, fmt.Sprintf("root=%s", root.DevPath))
	}

	if root.FsType == disk.Btrfs {
		for _, sv := range root.BtrfsSubvols {
			if sv.Mountpoint == "/" {
				params = append(params, "rootflags=subvol="+sv.Name)
				break
			}
		}
	}
	params = append(params, "rw")
	return params
}

func (in *Installer) espDirectory() string {
	if esp := in.cfg.Disk.EFIPartition(); esp != nil && esp.Mountpoint != "" {
		return esp.Mountpoint
	}
	return "/boot"
}

func (in *Installer) installGrub(ctx context.Context) error {
	strapper := newChrootInstall(in)
	if err := strapper(ctx, "grub"); err != nil {
		return err
	}

	if in.uefi {
		if err := strapper(ctx, "efibootmgr"); err != nil {
			return err
		}
		args := []string{
			"--target=x86_64-efi",
			"--efi-directory=" + in.espDirectory(),
			"--bootloader-id=GRUB",
		}
		if in.cfg.Bootloader.Removable {
			args = append(args, "--removable")
		}
		if _, err := in.chroot.Run(ctx, "grub-install", args...); err != nil {
			return err
		}
	} else {
		device := in.target()
		if _, err := in.chroot.Run(ctx, "grub-install", "--target=i386-pc", device); err != nil {
			return err
		}
	}

	if err := in.writeGrubDefaults(); err != nil {
		return err
	}
	_, err := in.chroot.Run(ctx, "grub-mkconfig", "-o", "/boot/grub/grub.cfg")
	return err
}

// writeGrubDefaults injects the crypt parameters into /etc/default/grub.
func (in *Installer) writeGrubDefaults() error {
	if in.opts.DryRun {
		return nil
	}
	root := in.cfg.Disk.RootPartition()
	if root == nil || !in.cfg.Disk.Encryption.ShouldEncrypt(root) {
		return nil
	}

	path := filepath.Join(in.opts.Mountpoint, "etc/default/grub")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	params := KernelParams(&in.cfg.Disk, in.cfg.InitHooks)
	cmdline := fmt.Sprintf(`GRUB_CMDLINE_LINUX="%s"`, strings.Join(params, " "))

	lines := strings.Split(string(data), "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "GRUB_CMDLINE_LINUX=") {
			lines[i] = cmdline
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, cmdline)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func (in *Installer) installSystemdBoot(ctx context.Context) error {
	esp := in.espDirectory()
	if _, err := in.chroot.Run(ctx, "bootctl", "--esp-path="+esp, "install"); err != nil {
		return err
	}
	if in.opts.DryRun {
		return nil
	}

	params := strings.Join(KernelParams(&in.cfg.Disk, in.cfg.InitHooks), " ")
	entriesDir := filepath.Join(in.opts.Mountpoint, esp, "loader/entries")
	if err := os.MkdirAll(entriesDir, 0o755); err != nil {
		return err
	}

	ucode := Microcode()
	for _, kernel := range in.cfg.Kernels {
		entry := renderLoaderEntry(kernel, ucode, params)
		name := fmt.Sprintf("cosai-%s.conf", kernel)
		if err := os.WriteFile(filepath.Join(entriesDir, name), []byte(entry), 0o644); err != nil {
			return err
		}
	}

	loaderConf := fmt.Sprintf("default cosai-%s.conf\ntimeout 3\n", in.cfg.Kernels[0])
	return os.WriteFile(filepath.Join(in.opts.Mountpoint, esp, "loader/loader.conf"), []byte(loaderConf), 0o644)
}

func renderLoaderEntry(kernel, ucode, params string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "title Arch Linux (%s)\n", kernel)
	fmt.Fprintf(&b, "linux /vmlinuz-%s\n", kernel)
	if ucode != "" {
		fmt.Fprintf(&b, "initrd /%s.img\n", ucode)
	}
	fmt.Fprintf(&b, "initrd /initramfs-%s.img\n", kernel)
	fmt.Fprintf(&b, "options %s\n", params)
	return b.String()
}

func (in *Installer) installLimine(ctx context.Context) error {
	strapper := newChrootInstall(in)
	if err := strapper(ctx, "limine"); err != nil {
		return err
	}

	if in.uefi {
		bootDir := filepath.Join(in.espDirectory(), "EFI/BOOT")
		if _, err := in.chroot.Run(ctx, "mkdir", "-p", bootDir); err != nil {
			return err
		}
		if _, err := in.chroot.Run(ctx, "cp", "/usr/share/limine/BOOTX64.EFI", bootDir); err != nil {
			return err
		}
	} else {
		device := in.target()
		if _, err := in.chroot.Run(ctx, "cp", "/usr/share/limine/limine-bios.sys", "/boot"); err != nil {
			return err
		}
		if _, err := in.chroot.Run(ctx, "limine", "bios-install", device); err != nil {
			return err
		}
	}

	if in.opts.DryRun {
		return nil
	}
	params := strings.Join(KernelParams(&in.cfg.Disk, in.cfg.InitHooks), " ")
	var b strings.Builder
	b.WriteString("timeout: 3\n")
	for _, kernel := range in.cfg.Kernels {
		fmt.Fprintf(&b, "\n/Arch Linux (%s)\n", kernel)
		b.WriteString("    protocol: linux\n")
		fmt.Fprintf(&b, "    path: boot():/vmlinuz-%s\n", kernel)
		fmt.Fprintf(&b, "    module_path: boot():/initramfs-%s.img\n", kernel)
		fmt.Fprintf(&b, "    cmdline: %s\n", params)
	}
	return os.WriteFile(filepath.Join(in.opts.Mountpoint, "boot/limine.conf"), []byte(b.String()), 0o644)
}

func (in *Installer) installEfistub(ctx context.Context) error {
	if !in.uefi {
		return fmt.Errorf("efistub requires EFI firmware")
	}
	strapper := newChrootInstall(in)
	if err := strapper(ctx, "efibootmgr"); err != nil {
		return err
	}

	boot := in.cfg.Disk.BootPartition()
	if boot == nil || boot.DevPath == "" {
		return fmt.Errorf("efistub needs a boot partition device path")
	}
	device, partNum := splitPartition(boot.DevPath)
	params := strings.Join(KernelParams(&in.cfg.Disk, in.cfg.InitHooks), " ")

	ucode := Microcode()
	for _, kernel := range in.cfg.Kernels {
		unicode := fmt.Sprintf("initrd=\\initramfs-%s.img %s", kernel, params)
		if ucode != "" {
			unicode = fmt.Sprintf("initrd=\\%s.img %s", ucode, unicode)
		}
		args := []string{
			"--create",
			"--disk", device,
			"--part", partNum,
			"--label", fmt.Sprintf("Arch Linux (%s)", kernel),
			"--loader", fmt.Sprintf("/vmlinuz-%s", kernel),
			"--unicode", unicode,
		}
		if _, err := in.chroot.Run(ctx, "efibootmgr", args...); err != nil {
			return err
		}
	}
	return nil
}

// splitPartition separates /dev/sda1 into /dev/sda and 1.
func splitPartition(devPath string) (device, partNum string) {
	i := len(devPath)
	for i > 0 && devPath[i-1] >= '0' && devPath[i-1] <= '9' {
		i--
	}
	device, partNum = devPath[:i], devPath[i:]
	device = strings.TrimSuffix(device, "p")
	return device, partNum
}

// newChrootInstall returns a helper that installs one package in the target.
func newChrootInstall(in *Installer) func(context.Context, string) error {
	return func(ctx context.Context, pkg string) error {
		_, err := in.chroot.Run(ctx, "pacman", "-S", "--noconfirm", "--needed", pkg)
		return err
	}
}
