package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h8d13/cosai/internal/bootloader"
)

func testDevice(sizeGiB uint64) Device {
	return Device{Info: DeviceInfo{
		Path:       "/dev/sda",
		TotalSize:  NewSize(sizeGiB, UnitGiB),
		SectorSize: DefaultSectorSize,
	}}
}

func TestSuggestUEFILayout(t *testing.T) {
	mod := SuggestSingleDiskLayout(testDevice(128), SuggestOptions{
		Filesystem: Ext4,
		Bootloader: bootloader.SystemdBoot,
		UEFI:       true,
	})

	require.Len(t, mod.Partitions, 2)
	assert.True(t, mod.Wipe)
	assert.Equal(t, GPT, mod.Table)

	esp := mod.Partitions[0]
	assert.True(t, esp.HasFlag(FlagESP))
	assert.Equal(t, Fat32, esp.FsType)
	assert.Equal(t, "/boot", esp.Mountpoint)
	assert.Equal(t, NewSize(1, UnitGiB), esp.Length)

	root := mod.Partitions[1]
	assert.Equal(t, "/", root.Mountpoint)
	assert.Equal(t, esp.End(), root.Start)
	assert.True(t, root.IsRoot())
}

func TestSuggestBIOSGrubGetsEmbedPartition(t *testing.T) {
	mod := SuggestSingleDiskLayout(testDevice(128), SuggestOptions{
		Filesystem: Ext4,
		Bootloader: bootloader.Grub,
		UEFI:       false,
		Table:      GPT,
	})

	require.Len(t, mod.Partitions, 3)
	embed := mod.Partitions[0]
	assert.True(t, embed.HasFlag(FlagBiosGrub))
	assert.Equal(t, NewSize(1, UnitMiB), embed.Length)

	boot := mod.Partitions[1]
	assert.True(t, boot.HasFlag(FlagBoot))
	assert.Equal(t, Ext4, boot.FsType, "GRUB reads the chosen filesystem for /boot")
}

func TestSuggestBIOSLimineForcesFatBoot(t *testing.T) {
	mod := SuggestSingleDiskLayout(testDevice(128), SuggestOptions{
		Filesystem: Ext4,
		Bootloader: bootloader.Limine,
		UEFI:       false,
		Table:      GPT,
	})

	// Limine uses the MBR gap, so no bios_grub partition
	require.Len(t, mod.Partitions, 2)
	boot := mod.Partitions[0]
	assert.True(t, boot.HasFlag(FlagBoot))
	assert.Equal(t, Fat32, boot.FsType)
}

func TestSuggestBtrfsSubvolumes(t *testing.T) {
	mod := SuggestSingleDiskLayout(testDevice(256), SuggestOptions{
		Filesystem:    Btrfs,
		Bootloader:    bootloader.SystemdBoot,
		UEFI:          true,
		UseSubvolumes: true,
		SeparateHome:  true, // must be ignored with subvolumes
	})

	require.Len(t, mod.Partitions, 2)
	esp := mod.Partitions[0]
	assert.Equal(t, "/efi", esp.Mountpoint, "/boot stays inside @ with subvolumes")

	root := mod.Partitions[1]
	assert.Empty(t, root.Mountpoint)
	assert.Equal(t, DefaultBtrfsSubvolumes(), root.BtrfsSubvols)
	assert.True(t, root.IsRoot(), "root resolved through the @ subvolume")
}

func TestSuggestSeparateHome(t *testing.T) {
	mod := SuggestSingleDiskLayout(testDevice(400), SuggestOptions{
		Filesystem:   Ext4,
		Bootloader:   bootloader.SystemdBoot,
		UEFI:         true,
		SeparateHome: true,
	})

	require.Len(t, mod.Partitions, 3)
	root := mod.Partitions[1]
	home := mod.Partitions[2]
	assert.Equal(t, "/", root.Mountpoint)
	assert.Equal(t, "/home", home.Mountpoint)
	// 400 GiB device: root gets 10%
	assert.Equal(t, NewSize(40, UnitGiB), root.Length)
	assert.Equal(t, root.End(), home.Start)
}

func TestSuggestSeparateHomeSkippedOnSmallDevice(t *testing.T) {
	mod := SuggestSingleDiskLayout(testDevice(32), SuggestOptions{
		Filesystem:   Ext4,
		Bootloader:   bootloader.SystemdBoot,
		UEFI:         true,
		SeparateHome: true,
	})

	require.Len(t, mod.Partitions, 2, "devices under 64 GiB never split /home")
}

func TestRootPartitionSizeRule(t *testing.T) {
	cases := []struct {
		totalGiB uint64
		wantGiB  uint64
	}{
		{1000, 50}, // cap
		{501, 50},
		{400, 40}, // 10%
		{320, 32},
		{100, 32}, // floor
	}
	for _, c := range cases {
		got := rootPartitionSize(NewSize(c.totalGiB, UnitGiB))
		assert.Equal(t, NewSize(c.wantGiB, UnitGiB), got, "total %d GiB", c.totalGiB)
	}
}
