// Package config defines the installation configuration file, its loading
// from disk or URL, defaulting, validation, and scrubbed persistence.
package config

import (
	"github.com/h8d13/cosai/internal/bootloader"
	"github.com/h8d13/cosai/internal/disk"
	"github.com/h8d13/cosai/internal/locale"
	"github.com/h8d13/cosai/internal/mirror"
	"github.com/h8d13/cosai/internal/network"
	"github.com/h8d13/cosai/internal/pacman"
	"github.com/h8d13/cosai/internal/profile"
	"github.com/h8d13/cosai/internal/users"
)

// SchemaVersion is written into saved configurations.
const SchemaVersion = "3.0"

// Initramfs hook flavors. Busybox inserts the encrypt hook and identifies
// encrypted roots with cryptdevice=; systemd inserts sd-encrypt and uses
// rd.luks.name=.
const (
	InitHooksBusybox = "busybox"
	InitHooksSystemd = "systemd"
)

// Config is the root of the configuration file.
type Config struct {
	Version       string   `json:"version,omitempty" yaml:"version,omitempty"`
	Script        string   `json:"script,omitempty" yaml:"script,omitempty"`
	Hostname      string   `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Kernels       []string `json:"kernels,omitempty" yaml:"kernels,omitempty"`
	KernelHeaders bool     `json:"kernel_headers,omitempty" yaml:"kernel_headers,omitempty"`
	InitHooks     string   `json:"init_hooks,omitempty" yaml:"init_hooks,omitempty"`

	Bootloader bootloader.Config        `json:"bootloader_config,omitempty" yaml:"bootloader_config,omitempty"`
	Disk       disk.LayoutConfiguration `json:"disk_config,omitempty" yaml:"disk_config,omitempty"`
	Locale     locale.Configuration     `json:"locale_config,omitempty" yaml:"locale_config,omitempty"`
	Mirror     mirror.Configuration     `json:"mirror_config,omitempty" yaml:"mirror_config,omitempty"`
	Pacman     pacman.Configuration     `json:"pacman_config,omitempty" yaml:"pacman_config,omitempty"`
	Network    network.Configuration    `json:"network_config,omitempty" yaml:"network_config,omitempty"`
	Profile    profile.Configuration    `json:"profile_config,omitempty" yaml:"profile_config,omitempty"`

	Users           []users.User `json:"users,omitempty" yaml:"users,omitempty"`
	RootEncPassword string       `json:"root_enc_password,omitempty" yaml:"root_enc_password,omitempty"`
	LockRoot        bool         `json:"lock_root,omitempty" yaml:"lock_root,omitempty"`

	Timezone       string    `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	NTP            bool      `json:"ntp" yaml:"ntp"`
	Swap           bool      `json:"swap" yaml:"swap"`
	Packages       []string  `json:"packages,omitempty" yaml:"packages,omitempty"`
	Services       []Service `json:"services,omitempty" yaml:"services,omitempty"`
	CustomCommands []Command `json:"custom_commands,omitempty" yaml:"custom_commands,omitempty"`
}

// Default returns a configuration with every section at its defaults.
func Default() *Config {
	return &Config{
		Version:    SchemaVersion,
		Script:     "guided",
		Hostname:   "cosai",
		Kernels:    []string{"linux"},
		InitHooks:  InitHooksBusybox,
		Bootloader: *bootloader.DefaultConfig(false, false),
		Locale:     locale.DefaultConfiguration(),
		Timezone:   "UTC",
		NTP:        true,
		Swap:       true,
	}
}
