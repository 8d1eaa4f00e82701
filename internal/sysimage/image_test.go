package sysimage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h8d13/cosai/internal/osexec"
)

func TestImagerPlan(t *testing.T) {
	plan := osexec.NewPlanRunner()
	im := NewImager(plan, nil)
	mnt := t.TempDir()

	err := im.Run(context.Background(), Options{
		Device:     "/dev/mmcblk0",
		RootfsPath: "/tmp/rootfs.tar.gz",
		Mountpoint: mnt,
	})
	require.NoError(t, err)

	got := plan.Commands()

	assert.Contains(t, got, "wipefs --all /dev/mmcblk0")
	assert.Contains(t, got, "parted --script /dev/mmcblk0 mklabel msdos")
	assert.Contains(t, got, "mkfs.fat -F32 -n BOOT /dev/mmcblk0p1")
	assert.Contains(t, got, "mkfs.ext4 -F -L ROOT /dev/mmcblk0p2")
	assert.Contains(t, got, "mount /dev/mmcblk0p2 "+mnt)
	assert.Contains(t, got, "bsdtar -xpf /tmp/rootfs.tar.gz -C "+mnt)
	assert.Contains(t, got, "sync")
	assert.Contains(t, got, "umount --recursive "+mnt)
	// boot partition gets the dos boot flag
	assert.Contains(t, got, "parted --script /dev/mmcblk0 set 1 boot on")
}

func TestPartitionNaming(t *testing.T) {
	im := NewImager(osexec.NewPlanRunner(), nil)

	boot, root := im.partitions("/dev/sda")
	assert.Equal(t, "/dev/sda1", boot)
	assert.Equal(t, "/dev/sda2", root)

	boot, root = im.partitions("/dev/mmcblk0")
	assert.Equal(t, "/dev/mmcblk0p1", boot)
	assert.Equal(t, "/dev/mmcblk0p2", root)
}

func TestEnableServices(t *testing.T) {
	mnt := t.TempDir()
	require.NoError(t, EnableServices(mnt, []string{"sshd", "systemd-timesyncd.service"}))

	wants := filepath.Join(mnt, "etc/systemd/system/multi-user.target.wants")
	link, err := os.Readlink(filepath.Join(wants, "sshd.service"))
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/systemd/system/sshd.service", link)

	_, err = os.Lstat(filepath.Join(wants, "systemd-timesyncd.service"))
	assert.NoError(t, err)

	// idempotent
	require.NoError(t, EnableServices(mnt, []string{"sshd"}))
}

func TestEnableServicesEmpty(t *testing.T) {
	mnt := t.TempDir()
	require.NoError(t, EnableServices(mnt, nil))
	_, err := os.Stat(filepath.Join(mnt, "etc"))
	assert.True(t, os.IsNotExist(err))
}
