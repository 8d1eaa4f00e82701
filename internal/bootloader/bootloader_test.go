package bootloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		skipBoot bool
		want     Bootloader
		wantErr  bool
	}{
		{"empty defaults to grub", "", false, Grub, false},
		{"empty with skip boot", "", true, NoBootloader, false},
		{"grub case insensitive", "grub", false, Grub, false},
		{"systemd-boot", "Systemd-boot", false, SystemdBoot, false},
		{"limine", "limine", false, Limine, false},
		{"no bootloader requires skip", "No bootloader", false, "", true},
		{"no bootloader with skip", "no bootloader", true, NoBootloader, false},
		{"unknown", "lilo", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw, tt.skipBoot)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCapabilities(t *testing.T) {
	assert.True(t, Grub.HasRemovableSupport())
	assert.True(t, Limine.HasRemovableSupport())
	assert.False(t, SystemdBoot.HasRemovableSupport())

	assert.True(t, SystemdBoot.HasUKISupport())
	assert.False(t, Grub.HasUKISupport())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(false, true)
	assert.Equal(t, Grub, cfg.Bootloader)
	assert.True(t, cfg.Removable)

	cfg = DefaultConfig(true, false)
	assert.Equal(t, NoBootloader, cfg.Bootloader)
	assert.False(t, cfg.UKI)
}
