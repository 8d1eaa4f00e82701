package disk

import (
	"github.com/google/uuid"

	cosaierr "github.com/h8d13/cosai/internal/errors"
)

// LayoutType selects how the disk configuration was produced.
type LayoutType string

const (
	// LayoutDefault is the suggested wipe-and-partition layout.
	LayoutDefault LayoutType = "default_layout"
	// LayoutManual is a user-specified partition list.
	LayoutManual LayoutType = "manual_partitioning"
	// LayoutPreMounted uses whatever is already mounted at the mountpoint.
	LayoutPreMounted LayoutType = "pre_mounted_config"
)

// SubvolumeModification declares a btrfs subvolume and its mountpoint.
type SubvolumeModification struct {
	Name       string `json:"name" yaml:"name"`
	Mountpoint string `json:"mountpoint" yaml:"mountpoint"`
}

// DefaultBtrfsSubvolumes is the suggested subvolume structure for btrfs roots.
func DefaultBtrfsSubvolumes() []SubvolumeModification {
	return []SubvolumeModification{
		{Name: "@", Mountpoint: "/"},
		{Name: "@home", Mountpoint: "/home"},
		{Name: "@log", Mountpoint: "/var/log"},
		{Name: "@pkg", Mountpoint: "/var/cache/pacman/pkg"},
	}
}

// PartitionModification declares a partition the planner should create,
// keep, or modify.
type PartitionModification struct {
	// ObjID correlates the entry across plan, encryption config, and journal.
	ObjID        string                  `json:"obj_id" yaml:"obj_id"`
	Status       ModificationStatus      `json:"status" yaml:"status"`
	Type         PartitionType           `json:"type" yaml:"type"`
	Start        Size                    `json:"start" yaml:"start"`
	Length       Size                    `json:"size" yaml:"size"`
	FsType       FilesystemType          `json:"fs_type,omitempty" yaml:"fs_type,omitempty"`
	Mountpoint   string                  `json:"mountpoint,omitempty" yaml:"mountpoint,omitempty"`
	MountOptions []string                `json:"mount_options,omitempty" yaml:"mount_options,omitempty"`
	Flags        []PartitionFlag         `json:"flags,omitempty" yaml:"flags,omitempty"`
	BtrfsSubvols []SubvolumeModification `json:"btrfs,omitempty" yaml:"btrfs,omitempty"`

	// DevPath is filled in by the planner once the partition exists.
	DevPath string `json:"dev_path,omitempty" yaml:"dev_path,omitempty"`
	// PartUUID is assigned at creation and referenced in kernel parameters.
	PartUUID string `json:"partuuid,omitempty" yaml:"partuuid,omitempty"`
	// LuksUUID is chosen before luksFormat so rd.luks.name= parameters can
	// be rendered without probing the formatted device.
	LuksUUID string `json:"luks_uuid,omitempty" yaml:"luks_uuid,omitempty"`
}

// NewPartitionModification builds a create-entry with a fresh object id.
func NewPartitionModification(start, length Size, fs FilesystemType, mountpoint string, flags ...PartitionFlag) PartitionModification {
	return PartitionModification{
		ObjID:      uuid.NewString(),
		Status:     StatusCreate,
		Type:       Primary,
		Start:      start,
		Length:     length,
		FsType:     fs,
		Mountpoint: mountpoint,
		Flags:      flags,
	}
}

// HasFlag reports whether the partition carries the given flag.
func (p *PartitionModification) HasFlag(flag PartitionFlag) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// IsRoot reports whether the partition (or one of its subvolumes) mounts /.
func (p *PartitionModification) IsRoot() bool {
	if p.Mountpoint == "/" {
		return true
	}
	for _, sv := range p.BtrfsSubvols {
		if sv.Mountpoint == "/" {
			return true
		}
	}
	return false
}

// End returns the first byte after the partition.
func (p *PartitionModification) End() Size {
	return p.Start.Add(p.Length)
}

// DeviceModification is the set of partition changes for one device.
type DeviceModification struct {
	Device     string                  `json:"device" yaml:"device"`
	Wipe       bool                    `json:"wipe" yaml:"wipe"`
	Table      PartitionTable          `json:"partition_table,omitempty" yaml:"partition_table,omitempty"`
	Partitions []PartitionModification `json:"partitions" yaml:"partitions"`
}

// EncryptionConfig is the disk_encryption section.
type EncryptionConfig struct {
	EncryptionType EncryptionType `json:"encryption_type" yaml:"encryption_type"`
	// Password is injected from the credentials file, never serialized.
	Password string `json:"-" yaml:"-"`
	// Partitions lists obj_ids of partitions to encrypt.
	Partitions []string `json:"partitions" yaml:"partitions"`
}

// Enabled reports whether any encryption is configured.
func (e *EncryptionConfig) Enabled() bool {
	return e != nil && e.EncryptionType != "" && e.EncryptionType != EncryptionNone
}

// ShouldEncrypt reports whether the given partition entry is to be encrypted.
func (e *EncryptionConfig) ShouldEncrypt(p *PartitionModification) bool {
	if !e.Enabled() {
		return false
	}
	for _, id := range e.Partitions {
		if id == p.ObjID {
			return true
		}
	}
	return false
}

// LayoutConfiguration is the disk_config section of the configuration file.
type LayoutConfiguration struct {
	ConfigType    LayoutType           `json:"config_type" yaml:"config_type"`
	Modifications []DeviceModification `json:"device_modifications" yaml:"device_modifications"`
	Encryption    *EncryptionConfig    `json:"disk_encryption,omitempty" yaml:"disk_encryption,omitempty"`
	// Mountpoint overrides the CLI mountpoint for pre-mounted layouts.
	Mountpoint string `json:"mountpoint,omitempty" yaml:"mountpoint,omitempty"`
}

// RootPartition returns the partition that mounts /.
func (c *LayoutConfiguration) RootPartition() *PartitionModification {
	for i := range c.Modifications {
		for j := range c.Modifications[i].Partitions {
			if p := &c.Modifications[i].Partitions[j]; p.IsRoot() {
				return p
			}
		}
	}
	return nil
}

// EFIPartition returns the ESP, if any.
func (c *LayoutConfiguration) EFIPartition() *PartitionModification {
	return c.findFlag(FlagESP)
}

// BootPartition returns the partition mounted at /boot or /efi, preferring the ESP.
func (c *LayoutConfiguration) BootPartition() *PartitionModification {
	if esp := c.findFlag(FlagESP); esp != nil {
		return esp
	}
	return c.findFlag(FlagBoot)
}

func (c *LayoutConfiguration) findFlag(flag PartitionFlag) *PartitionModification {
	for i := range c.Modifications {
		for j := range c.Modifications[i].Partitions {
			if p := &c.Modifications[i].Partitions[j]; p.HasFlag(flag) {
				return p
			}
		}
	}
	return nil
}

// HasDefaultBtrfsSubvols reports whether the root uses the suggested subvolume set.
func (c *LayoutConfiguration) HasDefaultBtrfsSubvols() bool {
	root := c.RootPartition()
	return root != nil && root.FsType == Btrfs && len(root.BtrfsSubvols) > 0
}

// Validate enforces the layout invariants before any destructive operation.
func (c *LayoutConfiguration) Validate(uefi bool) error {
	if c.ConfigType == LayoutPreMounted {
		if c.Mountpoint == "" {
			return cosaierr.ValidationFailed("disk_config.mountpoint", "pre-mounted layouts need a mountpoint")
		}
		return nil
	}

	if len(c.Modifications) == 0 {
		return cosaierr.ValidationFailed("disk_config.device_modifications", "no device modifications declared")
	}

	roots := 0
	for i := range c.Modifications {
		mod := &c.Modifications[i]
		if mod.Device == "" {
			return cosaierr.ValidationFailed("disk_config.device", "device path missing")
		}

		var prevEnd Size
		for j := range mod.Partitions {
			p := &mod.Partitions[j]
			if p.IsRoot() {
				roots++
			}
			if p.Status != StatusCreate {
				continue
			}
			if p.Length.IsZero() {
				return cosaierr.LayoutInvalid(mod.Device, "partition with zero size")
			}
			if p.Start.Less(prevEnd) {
				return cosaierr.LayoutInvalid(mod.Device, "overlapping partitions")
			}
			prevEnd = p.End()
		}
	}

	if roots != 1 {
		return cosaierr.ValidationFailed("disk_config", "layout must mount exactly one root filesystem")
	}
	if uefi && c.EFIPartition() == nil {
		return cosaierr.ValidationFailed("disk_config", "UEFI systems require an EFI system partition")
	}
	return nil
}
