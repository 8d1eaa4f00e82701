// Package disk models block devices, partition layouts, and the operations
// needed to realize a layout on disk.
package disk

import "strings"

// PartitionTable is the partition table scheme of a device.
type PartitionTable string

const (
	GPT PartitionTable = "gpt"
	MBR PartitionTable = "mbr"
)

// IsGPT reports whether the table is GPT.
func (p PartitionTable) IsGPT() bool { return p == GPT }

// DefaultPartitionTable returns GPT, the default for new installations.
func DefaultPartitionTable() PartitionTable { return GPT }

// FilesystemType is a filesystem a partition can be formatted with.
type FilesystemType string

const (
	Ext4     FilesystemType = "ext4"
	Btrfs    FilesystemType = "btrfs"
	Xfs      FilesystemType = "xfs"
	F2fs     FilesystemType = "f2fs"
	Fat32    FilesystemType = "fat32"
	Bcachefs FilesystemType = "bcachefs"
	Ntfs     FilesystemType = "ntfs"
)

// ParseFilesystemType resolves a config value to a FilesystemType.
func ParseFilesystemType(raw string) (FilesystemType, bool) {
	switch FilesystemType(strings.ToLower(strings.TrimSpace(raw))) {
	case Ext4:
		return Ext4, true
	case Btrfs:
		return Btrfs, true
	case Xfs:
		return Xfs, true
	case F2fs:
		return F2fs, true
	case Fat32:
		return Fat32, true
	case Bcachefs:
		return Bcachefs, true
	case Ntfs:
		return Ntfs, true
	}
	return "", false
}

// MkfsCommand returns the format command and leading arguments for the filesystem.
func (f FilesystemType) MkfsCommand() []string {
	switch f {
	case Ext4:
		return []string{"mkfs.ext4", "-F"}
	case Btrfs:
		return []string{"mkfs.btrfs", "-f"}
	case Xfs:
		return []string{"mkfs.xfs", "-f"}
	case F2fs:
		return []string{"mkfs.f2fs", "-f"}
	case Fat32:
		return []string{"mkfs.fat", "-F32"}
	case Bcachefs:
		return []string{"mkfs.bcachefs", "-f"}
	case Ntfs:
		return []string{"mkfs.ntfs", "-Q"}
	default:
		return nil
	}
}

// InstallationPackages returns the packages the target needs to service the filesystem.
func (f FilesystemType) InstallationPackages() []string {
	switch f {
	case Btrfs:
		return []string{"btrfs-progs"}
	case Xfs:
		return []string{"xfsprogs"}
	case F2fs:
		return []string{"f2fs-tools"}
	case Fat32:
		return []string{"dosfstools"}
	case Bcachefs:
		return []string{"bcachefs-tools"}
	case Ntfs:
		return []string{"ntfs-3g"}
	default:
		return nil
	}
}

// FstabType returns the fstab filesystem identifier.
func (f FilesystemType) FstabType() string {
	if f == Fat32 {
		return "vfat"
	}
	return string(f)
}

// PartitionType distinguishes primary data partitions from extended schemes.
type PartitionType string

const (
	Primary PartitionType = "primary"
)

// PartitionFlag marks a partition's role in the boot process.
type PartitionFlag string

const (
	FlagBoot     PartitionFlag = "boot"
	FlagESP      PartitionFlag = "esp"
	FlagBiosGrub PartitionFlag = "bios_grub"
)

// SgdiskTypecode returns the sgdisk partition type code for the flag set.
func SgdiskTypecode(flags []PartitionFlag, fs FilesystemType) string {
	for _, fl := range flags {
		switch fl {
		case FlagESP:
			return "ef00"
		case FlagBiosGrub:
			return "ef02"
		}
	}
	// plain Linux filesystem
	return "8300"
}

// ModificationStatus tracks what the planner should do with a partition entry.
type ModificationStatus string

const (
	StatusExisting ModificationStatus = "existing"
	StatusCreate   ModificationStatus = "create"
	StatusModify   ModificationStatus = "modify"
)

// EncryptionType selects the disk encryption scheme.
type EncryptionType string

const (
	EncryptionNone EncryptionType = "none"
	EncryptionLuks EncryptionType = "luks"
)

// BtrfsMountOption values offered for btrfs root filesystems.
const (
	BtrfsCompress  = "compress=zstd"
	BtrfsNoDataCow = "nodatacow"
)
