package disk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h8d13/cosai/internal/bootloader"
	"github.com/h8d13/cosai/internal/osexec"
)

func suggestedLayout(t *testing.T, opts SuggestOptions) *LayoutConfiguration {
	t.Helper()
	mod := SuggestSingleDiskLayout(testDevice(128), opts)
	return &LayoutConfiguration{
		ConfigType:    LayoutDefault,
		Modifications: []DeviceModification{mod},
	}
}

func TestLayoutValidateOK(t *testing.T) {
	cfg := suggestedLayout(t, SuggestOptions{Filesystem: Ext4, Bootloader: bootloader.SystemdBoot, UEFI: true})
	require.NoError(t, cfg.Validate(true))
}

func TestLayoutValidateMissingESP(t *testing.T) {
	cfg := suggestedLayout(t, SuggestOptions{Filesystem: Ext4, Bootloader: bootloader.Grub, UEFI: false, Table: GPT})
	err := cfg.Validate(true)
	require.Error(t, err, "BIOS layout must not validate on a UEFI host")
}

func TestLayoutValidateNoRoot(t *testing.T) {
	cfg := suggestedLayout(t, SuggestOptions{Filesystem: Ext4, Bootloader: bootloader.SystemdBoot, UEFI: true})
	for i := range cfg.Modifications[0].Partitions {
		cfg.Modifications[0].Partitions[i].Mountpoint = ""
	}
	require.Error(t, cfg.Validate(true))
}

func TestLayoutValidateOverlap(t *testing.T) {
	mod := DeviceModification{
		Device: "/dev/sda",
		Wipe:   true,
		Table:  GPT,
		Partitions: []PartitionModification{
			NewPartitionModification(NewSize(1, UnitMiB), NewSize(1, UnitGiB), Fat32, "/boot", FlagESP),
			NewPartitionModification(NewSize(512, UnitMiB), NewSize(10, UnitGiB), Ext4, "/"),
		},
	}
	cfg := &LayoutConfiguration{ConfigType: LayoutManual, Modifications: []DeviceModification{mod}}
	err := cfg.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk")
}

func TestLayoutValidatePreMounted(t *testing.T) {
	cfg := &LayoutConfiguration{ConfigType: LayoutPreMounted}
	require.Error(t, cfg.Validate(false))

	cfg.Mountpoint = "/mnt/target"
	require.NoError(t, cfg.Validate(false))
}

func TestLayoutAccessors(t *testing.T) {
	cfg := suggestedLayout(t, SuggestOptions{Filesystem: Btrfs, Bootloader: bootloader.SystemdBoot, UEFI: true, UseSubvolumes: true})

	require.NotNil(t, cfg.RootPartition())
	require.NotNil(t, cfg.EFIPartition())
	assert.Equal(t, cfg.EFIPartition(), cfg.BootPartition())
	assert.True(t, cfg.HasDefaultBtrfsSubvols())
}

func TestEncryptionConfig(t *testing.T) {
	root := NewPartitionModification(NewSize(1, UnitGiB), NewSize(30, UnitGiB), Ext4, "/")
	enc := &EncryptionConfig{EncryptionType: EncryptionLuks, Partitions: []string{root.ObjID}}

	assert.True(t, enc.Enabled())
	assert.True(t, enc.ShouldEncrypt(&root))

	other := NewPartitionModification(NewSize(1, UnitMiB), NewSize(1, UnitGiB), Fat32, "/boot")
	assert.False(t, enc.ShouldEncrypt(&other))

	var nilEnc *EncryptionConfig
	assert.False(t, nilEnc.Enabled())
}

func TestFilesystemHandlerPlan(t *testing.T) {
	cfg := suggestedLayout(t, SuggestOptions{Filesystem: Ext4, Bootloader: bootloader.SystemdBoot, UEFI: true})
	plan := osexec.NewPlanRunner()
	h := NewFilesystemHandler(cfg, plan)

	require.NoError(t, h.PerformFilesystemOperations(context.Background()))

	cmds := plan.Commands()
	joined := strings.Join(cmds, "\n")
	assert.Contains(t, joined, "wipefs --all /dev/sda")
	assert.Contains(t, joined, "sgdisk --zap-all /dev/sda")
	assert.Contains(t, joined, "mkfs.fat -F32 /dev/sda1")
	assert.Contains(t, joined, "mkfs.ext4 -F /dev/sda2")
	assert.Contains(t, joined, "partprobe /dev/sda")

	// planner fills in device paths and partition GUIDs
	assert.Equal(t, "/dev/sda1", cfg.Modifications[0].Partitions[0].DevPath)
	assert.NotEmpty(t, cfg.Modifications[0].Partitions[0].PartUUID)
}

func TestFilesystemHandlerLuksPlan(t *testing.T) {
	cfg := suggestedLayout(t, SuggestOptions{Filesystem: Ext4, Bootloader: bootloader.SystemdBoot, UEFI: true})
	root := cfg.RootPartition()
	cfg.Encryption = &EncryptionConfig{
		EncryptionType: EncryptionLuks,
		Password:       "hunter2",
		Partitions:     []string{root.ObjID},
	}

	plan := osexec.NewPlanRunner()
	h := NewFilesystemHandler(cfg, plan)
	require.NoError(t, h.PerformFilesystemOperations(context.Background()))

	joined := strings.Join(plan.Commands(), "\n")
	require.NotEmpty(t, root.LuksUUID)
	assert.Contains(t, joined, "cryptsetup --batch-mode --uuid "+root.LuksUUID+" luksFormat /dev/sda2")
	assert.Contains(t, joined, "cryptsetup open /dev/sda2 cryptlvm-sda2")
	assert.Contains(t, joined, "mkfs.ext4 -F /dev/mapper/cryptlvm-sda2")
	assert.NotContains(t, joined, "hunter2", "passphrases never appear in the plan")
}

func TestFilesystemHandlerPreMountedNoop(t *testing.T) {
	cfg := &LayoutConfiguration{ConfigType: LayoutPreMounted, Mountpoint: "/mnt"}
	plan := osexec.NewPlanRunner()
	require.NoError(t, NewFilesystemHandler(cfg, plan).PerformFilesystemOperations(context.Background()))
	assert.Empty(t, plan.Commands())
}

func TestPartitionDevPath(t *testing.T) {
	assert.Equal(t, "/dev/sda3", partitionDevPath("/dev/sda", 3))
	assert.Equal(t, "/dev/nvme0n1p1", partitionDevPath("/dev/nvme0n1", 1))
	assert.Equal(t, "/dev/mmcblk0p2", partitionDevPath("/dev/mmcblk0", 2))
}
