package disk

import (
	"github.com/h8d13/cosai/internal/bootloader"
)

// SuggestOptions tunes the suggested single-disk layout.
type SuggestOptions struct {
	Filesystem    FilesystemType
	Bootloader    bootloader.Bootloader
	UEFI          bool
	SeparateHome  bool
	UseSubvolumes bool
	MountOptions  []string
	// Table forces a partition table; empty selects GPT (or GPT on UEFI).
	Table PartitionTable
}

// minHomeSize is the smallest device where a separate /home is offered.
var minHomeSize = NewSize(64, UnitGiB)

// rootPartitionSize applies the sizing rule for / when /home is split off:
// large devices cap at 50 GiB, small devices floor at 32 GiB, otherwise 10%.
func rootPartitionSize(total Size) Size {
	totalGiB := total.In(UnitGiB)
	switch {
	case totalGiB > 500:
		return NewSize(50, UnitGiB)
	case totalGiB < 320:
		return NewSize(32, UnitGiB)
	default:
		return NewSize(totalGiB/10, UnitGiB)
	}
}

// bootPartitions builds the boot-side partitions for the layout.
// UEFI gets a 1 GiB ESP; BIOS+GPT gets the 1 MiB partition GRUB embeds
// core.img into (Limine uses the MBR gap and skips it), then a 1 GiB /boot.
func bootPartitions(opts SuggestOptions, usingGPT bool) []PartitionModification {
	var parts []PartitionModification
	start := NewSize(1, UnitMiB)

	if opts.UEFI {
		// ESP mounts at /efi with btrfs subvolumes so /boot stays inside @
		mountpoint := "/boot"
		if opts.UseSubvolumes {
			mountpoint = "/efi"
		}
		parts = append(parts, NewPartitionModification(start, NewSize(1, UnitGiB), Fat32, mountpoint, FlagESP))
		return parts
	}

	if usingGPT && opts.Bootloader == bootloader.Grub {
		parts = append(parts, NewPartitionModification(start, NewSize(1, UnitMiB), "", "", FlagBiosGrub))
		start = NewSize(2, UnitMiB)
	}

	// GRUB can read the chosen root filesystem for /boot, Limine only FAT
	bootFs := opts.Filesystem
	if opts.Bootloader == bootloader.Limine {
		bootFs = Fat32
	}
	parts = append(parts, NewPartitionModification(start, NewSize(1, UnitGiB), bootFs, "/boot", FlagBoot))
	return parts
}

// SuggestSingleDiskLayout produces the default wipe-and-partition layout for
// a device, mirroring the guided installer's suggestion.
func SuggestSingleDiskLayout(device Device, opts SuggestOptions) DeviceModification {
	if opts.Filesystem == "" {
		opts.Filesystem = Ext4
	}
	if opts.Filesystem != Btrfs {
		opts.UseSubvolumes = false
	}

	table := opts.Table
	if table == "" {
		table = GPT
	}
	if opts.UEFI {
		table = GPT
	}

	sectorSize := device.Info.SectorSize
	totalSize := device.Info.TotalSize
	availableSpace := totalSize
	if table.IsGPT() {
		availableSpace = availableSpace.GPTEnd(sectorSize)
	}
	availableSpace = availableSpace.Align()

	mod := DeviceModification{
		Device: device.Info.Path,
		Wipe:   true,
		Table:  table,
	}

	boots := bootPartitions(opts, table.IsGPT())
	mod.Partitions = append(mod.Partitions, boots...)

	usingHome := opts.SeparateHome
	if opts.UseSubvolumes || totalSize.Less(minHomeSize) {
		usingHome = false
	}

	// root starts after the last boot partition
	last := boots[len(boots)-1]
	rootStart := last.End()

	rootLength := availableSpace.Sub(rootStart)
	if usingHome {
		rootLength = rootPartitionSize(totalSize)
	}

	rootMountpoint := "/"
	if opts.UseSubvolumes {
		rootMountpoint = ""
	}
	root := NewPartitionModification(rootStart, rootLength, opts.Filesystem, rootMountpoint)
	root.MountOptions = opts.MountOptions
	if opts.UseSubvolumes {
		root.BtrfsSubvols = DefaultBtrfsSubvolumes()
	}
	mod.Partitions = append(mod.Partitions, root)

	if usingHome && !opts.UseSubvolumes {
		// a second partition for /home keeps user data across re-installs
		homeStart := root.End()
		home := NewPartitionModification(homeStart, availableSpace.Sub(homeStart), opts.Filesystem, "/home")
		home.MountOptions = opts.MountOptions
		mod.Partitions = append(mod.Partitions, home)
	}

	return mod
}
