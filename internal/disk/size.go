package disk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Unit is a byte-multiple unit used in size declarations.
type Unit string

const (
	UnitB   Unit = "B"
	UnitKiB Unit = "KiB"
	UnitMiB Unit = "MiB"
	UnitGiB Unit = "GiB"
	UnitTiB Unit = "TiB"
	// UnitPercent sizes a partition relative to the device capacity.
	UnitPercent Unit = "%"
)

var unitFactors = map[Unit]uint64{
	UnitB:   1,
	UnitKiB: 1 << 10,
	UnitMiB: 1 << 20,
	UnitGiB: 1 << 30,
	UnitTiB: 1 << 40,
}

// SectorSize is the logical sector size of a device in bytes.
type SectorSize uint64

// DefaultSectorSize matches the common 512-byte logical sector.
const DefaultSectorSize SectorSize = 512

// gptReservedSectors is the backup GPT at the end of the device (header + entries).
const gptReservedSectors = 33

// alignment is the partition alignment boundary.
const alignment = 1 << 20 // 1 MiB

// Size is an exact byte quantity. The zero value is zero bytes.
type Size struct {
	bytes uint64
}

// NewSize builds a Size from a value in the given unit. Percent units cannot
// be resolved without a device capacity; use ResolvePercent for those.
func NewSize(value uint64, unit Unit) Size {
	factor, ok := unitFactors[unit]
	if !ok {
		factor = 1
	}
	return Size{bytes: value * factor}
}

// SizeFromBytes builds a Size from raw bytes.
func SizeFromBytes(b uint64) Size {
	return Size{bytes: b}
}

// ResolvePercent resolves a percentage of the given total capacity.
func ResolvePercent(percent uint64, total Size) Size {
	return Size{bytes: total.bytes / 100 * percent}
}

func (s Size) Bytes() uint64 { return s.bytes }

// Sectors converts the size to whole sectors of the given sector size.
func (s Size) Sectors(ss SectorSize) uint64 {
	if ss == 0 {
		ss = DefaultSectorSize
	}
	return s.bytes / uint64(ss)
}

// In converts the size to a value in the given unit, truncating.
func (s Size) In(unit Unit) uint64 {
	factor, ok := unitFactors[unit]
	if !ok || factor == 0 {
		return s.bytes
	}
	return s.bytes / factor
}

// Align rounds the size down to the 1 MiB partition alignment boundary.
func (s Size) Align() Size {
	return Size{bytes: s.bytes - s.bytes%alignment}
}

// GPTEnd returns the usable size after reserving the backup GPT at the
// device end.
func (s Size) GPTEnd(ss SectorSize) Size {
	if ss == 0 {
		ss = DefaultSectorSize
	}
	reserved := gptReservedSectors * uint64(ss)
	if s.bytes <= reserved {
		return Size{}
	}
	return Size{bytes: s.bytes - reserved}
}

// Add returns s + other.
func (s Size) Add(other Size) Size { return Size{bytes: s.bytes + other.bytes} }

// Sub returns s - other, floored at zero.
func (s Size) Sub(other Size) Size {
	if other.bytes >= s.bytes {
		return Size{}
	}
	return Size{bytes: s.bytes - other.bytes}
}

// Less reports s < other.
func (s Size) Less(other Size) bool { return s.bytes < other.bytes }

// IsZero reports whether the size is zero bytes.
func (s Size) IsZero() bool { return s.bytes == 0 }

// String renders the size in the largest unit that divides it cleanly.
func (s Size) String() string {
	for _, u := range []Unit{UnitTiB, UnitGiB, UnitMiB, UnitKiB} {
		f := unitFactors[u]
		if s.bytes >= f && s.bytes%f == 0 {
			return fmt.Sprintf("%d %s", s.bytes/f, u)
		}
	}
	return fmt.Sprintf("%d B", s.bytes)
}

// sizeSerialization mirrors the configuration file representation of sizes.
type sizeSerialization struct {
	Value uint64 `json:"value" yaml:"value"`
	Unit  Unit   `json:"unit" yaml:"unit"`
}

// MarshalJSON serializes in the {value, unit} form used by configuration files.
func (s Size) MarshalJSON() ([]byte, error) {
	for _, u := range []Unit{UnitTiB, UnitGiB, UnitMiB, UnitKiB, UnitB} {
		f := unitFactors[u]
		if s.bytes%f == 0 {
			return json.Marshal(sizeSerialization{Value: s.bytes / f, Unit: u})
		}
	}
	return json.Marshal(sizeSerialization{Value: s.bytes, Unit: UnitB})
}

// UnmarshalJSON accepts {value, unit} objects and raw byte counts.
func (s *Size) UnmarshalJSON(data []byte) error {
	var raw uint64
	if err := json.Unmarshal(data, &raw); err == nil {
		s.bytes = raw
		return nil
	}

	var ser sizeSerialization
	if err := json.Unmarshal(data, &ser); err != nil {
		return fmt.Errorf("invalid size: %s", strings.TrimSpace(string(data)))
	}
	if ser.Unit == UnitPercent {
		return fmt.Errorf("percent sizes must be resolved against a device before use")
	}
	*s = NewSize(ser.Value, ser.Unit)
	return nil
}
