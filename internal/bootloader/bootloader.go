// Package bootloader defines the supported boot loaders and their
// configuration as read from the configuration file.
package bootloader

import (
	"fmt"
	"strings"
)

// Bootloader identifies a supported boot loader.
type Bootloader string

const (
	NoBootloader Bootloader = "No bootloader"
	SystemdBoot  Bootloader = "Systemd-boot"
	Grub         Bootloader = "Grub"
	Efistub      Bootloader = "Efistub"
	Limine       Bootloader = "Limine"
)

// HasUKISupport reports whether the loader can boot unified kernel images.
func (b Bootloader) HasUKISupport() bool {
	switch b {
	case SystemdBoot, Efistub, Limine:
		return true
	default:
		return false
	}
}

// HasRemovableSupport reports whether the loader can install to the removable
// media path (EFI/BOOT/BOOTX64.EFI).
func (b Bootloader) HasRemovableSupport() bool {
	switch b {
	case Grub, Limine:
		return true
	default:
		return false
	}
}

// Default returns the bootloader used when none is configured.
func Default(skipBoot bool) Bootloader {
	if skipBoot {
		return NoBootloader
	}
	return Grub
}

// Parse resolves a configuration value into a Bootloader. Values are matched
// case-insensitively to support old configuration files.
func Parse(raw string, skipBoot bool) (Bootloader, error) {
	options := []Bootloader{SystemdBoot, Grub, Efistub, Limine}
	if skipBoot {
		options = append(options, NoBootloader)
	}

	for _, b := range options {
		if strings.EqualFold(raw, string(b)) {
			return b, nil
		}
	}

	names := make([]string, 0, len(options))
	for _, b := range options {
		names = append(names, string(b))
	}
	return "", fmt.Errorf("invalid bootloader value %q, allowed values: %s", raw, strings.Join(names, ", "))
}

// Config is the bootloader_config section of the configuration file.
type Config struct {
	Bootloader Bootloader `json:"bootloader" yaml:"bootloader"`
	UKI        bool       `json:"uki" yaml:"uki"`
	Removable  bool       `json:"removable" yaml:"removable"`
}

// DefaultConfig returns the configuration used when the section is absent.
func DefaultConfig(skipBoot, uefi bool) *Config {
	b := Default(skipBoot)
	return &Config{
		Bootloader: b,
		UKI:        uefi && b.HasUKISupport(),
		Removable:  uefi && b.HasRemovableSupport(),
	}
}
