package disk

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/osexec"
)

// DeviceInfo describes a block device eligible as an installation target.
type DeviceInfo struct {
	Path       string
	Model      string
	TotalSize  Size
	SectorSize SectorSize
	Table      PartitionTable
	ReadOnly   bool
}

// PartitionInfo describes an existing partition on a device.
type PartitionInfo struct {
	Path       string
	Size       Size
	Filesystem string
	Mountpoint string
	PartUUID   string
	UUID       string
}

// Device is a block device with its current partitions.
type Device struct {
	Info       DeviceInfo
	Partitions []PartitionInfo
}

// DeviceHandler discovers block devices through lsblk.
type DeviceHandler struct {
	runner osexec.Runner
}

// NewDeviceHandler returns a handler that shells out through the given runner.
func NewDeviceHandler(runner osexec.Runner) *DeviceHandler {
	return &DeviceHandler{runner: runner}
}

// lsblk --json output shapes.
type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Size       uint64        `json:"size"`
	Type       string        `json:"type"`
	Model      *string       `json:"model"`
	LogSec     uint64        `json:"log-sec"`
	PtType     *string       `json:"pttype"`
	FsType     *string       `json:"fstype"`
	Mountpoint *string       `json:"mountpoint"`
	PartUUID   *string       `json:"partuuid"`
	UUID       *string       `json:"uuid"`
	ReadOnly   bool          `json:"ro"`
	Children   []lsblkDevice `json:"children"`
}

const lsblkColumns = "NAME,PATH,SIZE,TYPE,MODEL,LOG-SEC,PTTYPE,FSTYPE,MOUNTPOINT,PARTUUID,UUID,RO"

// Devices lists the disks on the system, skipping loop and rom devices.
func (h *DeviceHandler) Devices(ctx context.Context) ([]Device, error) {
	res, err := h.runner.Run(ctx, "lsblk", "--json", "--bytes", "--output", lsblkColumns)
	if err != nil {
		return nil, cosaierr.Wrap(err, cosaierr.CategoryDisk, cosaierr.SeverityFatal, "device discovery failed")
	}

	var out lsblkOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return nil, cosaierr.Wrap(err, cosaierr.CategoryDisk, cosaierr.SeverityFatal, "unparseable lsblk output")
	}

	var devices []Device
	for _, d := range out.BlockDevices {
		if d.Type != "disk" {
			continue
		}
		devices = append(devices, fromLsblk(d))
	}

	slog.Debug("Discovered block devices", "count", len(devices))
	return devices, nil
}

// GetDevice returns the device with the given path.
func (h *DeviceHandler) GetDevice(ctx context.Context, path string) (*Device, error) {
	devices, err := h.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Info.Path == path {
			return &devices[i], nil
		}
	}
	return nil, cosaierr.DeviceNotFound(path)
}

func fromLsblk(d lsblkDevice) Device {
	info := DeviceInfo{
		Path:       d.Path,
		TotalSize:  SizeFromBytes(d.Size),
		SectorSize: SectorSize(d.LogSec),
		ReadOnly:   d.ReadOnly,
	}
	if info.SectorSize == 0 {
		info.SectorSize = DefaultSectorSize
	}
	if d.Model != nil {
		info.Model = strings.TrimSpace(*d.Model)
	}
	if d.PtType != nil {
		switch *d.PtType {
		case "gpt":
			info.Table = GPT
		case "dos":
			info.Table = MBR
		}
	}

	dev := Device{Info: info}
	for _, c := range d.Children {
		if c.Type != "part" {
			continue
		}
		p := PartitionInfo{
			Path: c.Path,
			Size: SizeFromBytes(c.Size),
		}
		if c.FsType != nil {
			p.Filesystem = *c.FsType
		}
		if c.Mountpoint != nil {
			p.Mountpoint = *c.Mountpoint
		}
		if c.PartUUID != nil {
			p.PartUUID = *c.PartUUID
		}
		if c.UUID != nil {
			p.UUID = *c.UUID
		}
		dev.Partitions = append(dev.Partitions, p)
	}
	return dev
}
