package disk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/osexec"
)

// FilesystemHandler realizes a disk layout: wipes tables, creates
// partitions, formats filesystems, and prepares LUKS containers. All device
// access goes through the runner, so a PlanRunner yields the operation plan
// without touching hardware.
type FilesystemHandler struct {
	config *LayoutConfiguration
	runner osexec.Runner
}

// NewFilesystemHandler builds a handler for the given layout.
func NewFilesystemHandler(config *LayoutConfiguration, runner osexec.Runner) *FilesystemHandler {
	return &FilesystemHandler{config: config, runner: runner}
}

// PerformFilesystemOperations applies every device modification in order.
// Pre-mounted layouts are left untouched.
func (h *FilesystemHandler) PerformFilesystemOperations(ctx context.Context) error {
	if h.config.ConfigType == LayoutPreMounted {
		slog.Info("Pre-mounted layout, skipping filesystem operations")
		return nil
	}

	for i := range h.config.Modifications {
		mod := &h.config.Modifications[i]
		slog.Info("Applying device modification", "device", mod.Device, "wipe", mod.Wipe)

		if mod.Wipe {
			if err := h.wipeAndPartition(ctx, mod); err != nil {
				return err
			}
		}

		if err := h.formatPartitions(ctx, mod); err != nil {
			return err
		}
	}
	return nil
}

// partitionDevPath derives the kernel name of the n-th partition (1-based).
// NVMe and mmcblk devices insert a 'p' separator.
func partitionDevPath(device string, index int) string {
	base := filepath.Base(device)
	if strings.HasPrefix(base, "nvme") || strings.HasPrefix(base, "mmcblk") || strings.HasPrefix(base, "loop") {
		return fmt.Sprintf("%sp%d", device, index)
	}
	return fmt.Sprintf("%s%d", device, index)
}

func (h *FilesystemHandler) wipeAndPartition(ctx context.Context, mod *DeviceModification) error {
	if _, err := h.runner.Run(ctx, "wipefs", "--all", mod.Device); err != nil {
		return err
	}
	if _, err := h.runner.Run(ctx, "sgdisk", "--zap-all", mod.Device); err != nil {
		return err
	}

	table := mod.Table
	if table == "" {
		table = DefaultPartitionTable()
	}

	if table.IsGPT() {
		if _, err := h.runner.Run(ctx, "sgdisk", "--clear", "--mbrtogpt", mod.Device); err != nil {
			return err
		}
	} else {
		if _, err := h.runner.Run(ctx, "parted", "--script", mod.Device, "mklabel", "msdos"); err != nil {
			return err
		}
	}

	index := 0
	for i := range mod.Partitions {
		p := &mod.Partitions[i]
		if p.Status != StatusCreate {
			continue
		}
		index++
		if err := h.createPartition(ctx, mod.Device, table, index, p); err != nil {
			return err
		}
	}

	// let the kernel pick up the new table before any mkfs
	if _, err := h.runner.Run(ctx, "partprobe", mod.Device); err != nil {
		return err
	}
	_, err := h.runner.Run(ctx, "udevadm", "settle")
	return err
}

func (h *FilesystemHandler) createPartition(ctx context.Context, device string, table PartitionTable, index int, p *PartitionModification) error {
	p.DevPath = partitionDevPath(device, index)

	if table.IsGPT() {
		if p.PartUUID == "" {
			p.PartUUID = uuid.NewString()
		}
		sector := DefaultSectorSize
		args := []string{
			"--new", fmt.Sprintf("%d:%d:%d", index, p.Start.Sectors(sector), p.End().Sectors(sector)-1),
			"--typecode", fmt.Sprintf("%d:%s", index, SgdiskTypecode(p.Flags, p.FsType)),
			"--partition-guid", fmt.Sprintf("%d:%s", index, p.PartUUID),
			device,
		}
		_, err := h.runner.Run(ctx, "sgdisk", args...)
		return err
	}

	// MBR path via parted; sizes rendered in MiB
	startMiB := fmt.Sprintf("%dMiB", p.Start.In(UnitMiB))
	endMiB := fmt.Sprintf("%dMiB", p.End().In(UnitMiB))
	args := []string{"--script", device, "mkpart", "primary"}
	if p.FsType != "" {
		args = append(args, p.FsType.FstabType())
	}
	args = append(args, startMiB, endMiB)
	if _, err := h.runner.Run(ctx, "parted", args...); err != nil {
		return err
	}
	if p.HasFlag(FlagBoot) {
		_, err := h.runner.Run(ctx, "parted", "--script", device, "set", fmt.Sprintf("%d", index), "boot", "on")
		return err
	}
	return nil
}

func (h *FilesystemHandler) formatPartitions(ctx context.Context, mod *DeviceModification) error {
	enc := h.config.Encryption

	for i := range mod.Partitions {
		p := &mod.Partitions[i]
		if p.Status != StatusCreate || p.FsType == "" {
			continue
		}
		if p.DevPath == "" {
			return cosaierr.LayoutInvalid(mod.Device, "partition has no device path; was the table created?")
		}

		target := p.DevPath
		if enc.ShouldEncrypt(p) {
			mapped, err := h.prepareLuks(ctx, p, enc)
			if err != nil {
				return err
			}
			target = mapped
		}

		mkfs := p.FsType.MkfsCommand()
		if mkfs == nil {
			return cosaierr.LayoutInvalid(mod.Device, fmt.Sprintf("no format command for filesystem %q", p.FsType))
		}
		args := append(mkfs[1:], target)
		if _, err := h.runner.Run(ctx, mkfs[0], args...); err != nil {
			return err
		}

		if p.FsType == Btrfs && len(p.BtrfsSubvols) > 0 {
			if err := h.createBtrfsSubvolumes(ctx, target, p.BtrfsSubvols); err != nil {
				return err
			}
		}
	}
	return nil
}

// luksMapperName derives the dm mapper name for an encrypted partition.
func luksMapperName(p *PartitionModification) string {
	return "cryptlvm-" + filepath.Base(p.DevPath)
}

// MapperPath returns the opened LUKS device for an encrypted partition.
func MapperPath(p *PartitionModification) string {
	if p.DevPath == "" {
		return ""
	}
	return "/dev/mapper/" + luksMapperName(p)
}

func (h *FilesystemHandler) prepareLuks(ctx context.Context, p *PartitionModification, enc *EncryptionConfig) (string, error) {
	if enc.Password == "" {
		return "", cosaierr.New(cosaierr.CategoryDisk, cosaierr.SeverityFatal, "disk encryption configured without a password")
	}

	if p.LuksUUID == "" {
		p.LuksUUID = uuid.NewString()
	}
	if _, err := h.runner.RunWithInput(ctx, enc.Password, "cryptsetup", "--batch-mode", "--uuid", p.LuksUUID, "luksFormat", p.DevPath); err != nil {
		return "", err
	}

	name := luksMapperName(p)
	if _, err := h.runner.RunWithInput(ctx, enc.Password, "cryptsetup", "open", p.DevPath, name); err != nil {
		return "", err
	}
	return "/dev/mapper/" + name, nil
}

// btrfsScratchDir is where the fresh btrfs root is mounted while its
// subvolumes are created.
var btrfsScratchDir = "/tmp/cosai-btrfs-root"

func (h *FilesystemHandler) createBtrfsSubvolumes(ctx context.Context, dev string, subvols []SubvolumeModification) error {
	tmp := btrfsScratchDir
	if !h.runner.DryRun() {
		if err := os.MkdirAll(tmp, 0o755); err != nil {
			return err
		}
	}
	if _, err := h.runner.Run(ctx, "mount", dev, tmp); err != nil {
		return err
	}
	for _, sv := range subvols {
		if _, err := h.runner.Run(ctx, "btrfs", "subvolume", "create", tmp+"/"+sv.Name); err != nil {
			return err
		}
	}
	_, err := h.runner.Run(ctx, "umount", tmp)
	return err
}
