// Package network translates the network_config section into packages,
// services, and systemd-networkd units on the target.
package network

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cosaierr "github.com/h8d13/cosai/internal/errors"
)

// Mode selects how the installed system gets networking.
type Mode string

const (
	ModeNone           Mode = "none"
	ModeISO            Mode = "iso"
	ModeNetworkManager Mode = "nm"
	ModeIWD            Mode = "iwd"
	ModeManual         Mode = "manual"
)

// ParseMode validates a network handling mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeISO:
		return ModeISO, nil
	case ModeNetworkManager, "networkmanager":
		return ModeNetworkManager, nil
	case ModeIWD:
		return ModeIWD, nil
	case ModeManual:
		return ModeManual, nil
	}
	return "", cosaierr.ValidationFailed("network_config.type", fmt.Sprintf("unknown mode %q", s))
}

// NIC describes one manually configured interface.
type NIC struct {
	Iface   string   `json:"iface" yaml:"iface"`
	DHCP    bool     `json:"dhcp" yaml:"dhcp"`
	IP      string   `json:"ip,omitempty" yaml:"ip,omitempty"`
	Gateway string   `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	DNS     []string `json:"dns,omitempty" yaml:"dns,omitempty"`
}

// Configuration is the network_config section of the configuration file.
type Configuration struct {
	Type Mode  `json:"type" yaml:"type"`
	NICs []NIC `json:"nics,omitempty" yaml:"nics,omitempty"`
}

// Packages returns what must be installed for the chosen mode.
func (c Configuration) Packages() []string {
	switch c.Type {
	case ModeNetworkManager:
		return []string{"networkmanager"}
	case ModeIWD:
		return []string{"iwd"}
	}
	return nil
}

// Services returns what must be enabled for the chosen mode.
func (c Configuration) Services() []string {
	switch c.Type {
	case ModeNetworkManager:
		return []string{"NetworkManager"}
	case ModeIWD:
		return []string{"iwd", "systemd-networkd", "systemd-resolved"}
	case ModeManual:
		return []string{"systemd-networkd", "systemd-resolved"}
	}
	return nil
}

// Validate checks manual NIC entries make sense.
func (c Configuration) Validate() error {
	if _, err := ParseMode(string(c.Type)); err != nil {
		return err
	}
	if c.Type != ModeManual {
		return nil
	}
	if len(c.NICs) == 0 {
		return cosaierr.ValidationFailed("network_config.nics", "manual mode needs at least one interface")
	}
	for _, nic := range c.NICs {
		if nic.Iface == "" {
			return cosaierr.ValidationFailed("network_config.nics", "interface name missing")
		}
		if !nic.DHCP && nic.IP == "" {
			return cosaierr.ValidationFailed("network_config.nics", fmt.Sprintf("%s: static config needs an ip", nic.Iface))
		}
	}
	return nil
}

// RenderNetworkUnit produces the systemd-networkd .network file for a NIC.
func RenderNetworkUnit(nic NIC) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Match]\nName=%s\n\n[Network]\n", nic.Iface)
	if nic.DHCP {
		b.WriteString("DHCP=yes\n")
	} else {
		fmt.Fprintf(&b, "Address=%s\n", nic.IP)
		if nic.Gateway != "" {
			fmt.Fprintf(&b, "Gateway=%s\n", nic.Gateway)
		}
	}
	for _, dns := range nic.DNS {
		fmt.Fprintf(&b, "DNS=%s\n", dns)
	}
	return b.String()
}

// Apply writes manual NIC units, or copies the live medium's state for ISO
// mode, into the target filesystem.
func Apply(cfg Configuration, mountpoint string) error {
	switch cfg.Type {
	case ModeManual:
		dir := filepath.Join(mountpoint, "etc/systemd/network")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for i, nic := range cfg.NICs {
			name := fmt.Sprintf("%02d-%s.network", 10+i, nic.Iface)
			unit := RenderNetworkUnit(nic)
			if err := os.WriteFile(filepath.Join(dir, name), []byte(unit), 0o644); err != nil {
				return cosaierr.Wrap(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "writing network unit")
			}
		}
	case ModeISO:
		return copyISOConfiguration(mountpoint)
	}
	return nil
}

// copyISOConfiguration carries the live medium's connections into the target.
func copyISOConfiguration(mountpoint string) error {
	for _, rel := range []string{
		"etc/systemd/network",
		"var/lib/iwd",
		"etc/NetworkManager/system-connections",
	} {
		src := "/" + rel
		entries, err := os.ReadDir(src)
		if err != nil {
			continue
		}
		dst := filepath.Join(mountpoint, rel)
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(src, e.Name()))
			if err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(dst, e.Name()), data, 0o600); err != nil {
				return err
			}
		}
	}
	return nil
}
