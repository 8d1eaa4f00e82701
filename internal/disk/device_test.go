package disk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h8d13/cosai/internal/osexec"
)

const lsblkSample = `{
  "blockdevices": [
    {
      "name": "nvme0n1", "path": "/dev/nvme0n1", "size": 512110190592,
      "type": "disk", "model": "Samsung SSD 980 ", "log-sec": 512,
      "pttype": "gpt", "ro": false,
      "children": [
        {"name": "nvme0n1p1", "path": "/dev/nvme0n1p1", "size": 1073741824,
         "type": "part", "log-sec": 512, "fstype": "vfat",
         "mountpoint": "/boot", "partuuid": "aaaa-bbbb", "uuid": "1234-ABCD", "ro": false},
        {"name": "nvme0n1p2", "path": "/dev/nvme0n1p2", "size": 511034449920,
         "type": "part", "log-sec": 512, "fstype": "ext4",
         "mountpoint": null, "partuuid": "cccc-dddd", "uuid": "deadbeef", "ro": false}
      ]
    },
    {"name": "loop0", "path": "/dev/loop0", "size": 718274560, "type": "loop", "log-sec": 512, "ro": true},
    {"name": "sr0", "path": "/dev/sr0", "size": 845152256, "type": "rom", "log-sec": 2048, "ro": true}
  ]
}`

// stubRunner returns canned output for the lsblk invocation.
type stubRunner struct {
	output string
}

func (s *stubRunner) DryRun() bool { return false }

func (s *stubRunner) Run(_ context.Context, name string, args ...string) (*osexec.Result, error) {
	return &osexec.Result{Command: name, Args: args, Output: []byte(s.output)}, nil
}

func (s *stubRunner) RunWithInput(ctx context.Context, _ string, name string, args ...string) (*osexec.Result, error) {
	return s.Run(ctx, name, args...)
}

func TestDevicesParsesLsblk(t *testing.T) {
	h := NewDeviceHandler(&stubRunner{output: lsblkSample})

	devices, err := h.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1, "loop and rom devices are skipped")

	dev := devices[0]
	assert.Equal(t, "/dev/nvme0n1", dev.Info.Path)
	assert.Equal(t, "Samsung SSD 980", dev.Info.Model)
	assert.Equal(t, GPT, dev.Info.Table)
	assert.Equal(t, DefaultSectorSize, dev.Info.SectorSize)

	require.Len(t, dev.Partitions, 2)
	assert.Equal(t, "vfat", dev.Partitions[0].Filesystem)
	assert.Equal(t, "/boot", dev.Partitions[0].Mountpoint)
	assert.Equal(t, "cccc-dddd", dev.Partitions[1].PartUUID)
}

func TestGetDevice(t *testing.T) {
	h := NewDeviceHandler(&stubRunner{output: lsblkSample})

	dev, err := h.GetDevice(context.Background(), "/dev/nvme0n1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/nvme0n1", dev.Info.Path)

	_, err = h.GetDevice(context.Background(), "/dev/sdz")
	require.Error(t, err)
}

func TestRelevantNode(t *testing.T) {
	assert.True(t, relevantNode("/dev/sdb"))
	assert.True(t, relevantNode("/dev/nvme1n1p3"))
	assert.False(t, relevantNode("/dev/tty0"))
	assert.False(t, relevantNode("/dev/null"))
}
