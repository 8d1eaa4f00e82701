// Package profile maps named installation profiles to package sets and the
// services they need enabled.
package profile

import (
	"fmt"
	"sort"
	"strings"
)

// Profile names a curated selection of packages and services.
type Profile struct {
	Name     string   `json:"name" yaml:"name"`
	Packages []string `json:"packages,omitempty" yaml:"packages,omitempty"`
	Services []string `json:"services,omitempty" yaml:"services,omitempty"`
}

// Configuration is the profile_config section of the configuration file.
type Configuration struct {
	Profile        string   `json:"profile,omitempty" yaml:"profile,omitempty"`
	GreeterEnabled bool     `json:"greeter,omitempty" yaml:"greeter,omitempty"`
	ExtraPackages  []string `json:"extra_packages,omitempty" yaml:"extra_packages,omitempty"`
}

var builtin = map[string]Profile{
	"minimal": {
		Name: "minimal",
	},
	"server": {
		Name:     "server",
		Packages: []string{"openssh", "tmux", "rsync"},
		Services: []string{"sshd"},
	},
	"desktop": {
		Name:     "desktop",
		Packages: []string{"xorg-server", "pipewire", "pipewire-pulse", "wireplumber", "noto-fonts"},
	},
	"kde": {
		Name:     "kde",
		Packages: []string{"plasma-meta", "konsole", "dolphin", "sddm", "pipewire", "pipewire-pulse"},
		Services: []string{"sddm"},
	},
	"gnome": {
		Name:     "gnome",
		Packages: []string{"gnome", "gdm", "pipewire", "pipewire-pulse"},
		Services: []string{"gdm"},
	},
	"xfce": {
		Name:     "xfce",
		Packages: []string{"xfce4", "xfce4-goodies", "lightdm", "lightdm-gtk-greeter", "pipewire"},
		Services: []string{"lightdm"},
	},
}

// Names returns the built-in profile names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a profile name; empty means minimal.
func Lookup(name string) (Profile, error) {
	if name == "" {
		name = "minimal"
	}
	p, ok := builtin[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Resolve returns the full package and service lists for a configuration.
// Greeter services are dropped when the greeter is disabled.
func Resolve(cfg Configuration) (packages, services []string, err error) {
	p, err := Lookup(cfg.Profile)
	if err != nil {
		return nil, nil, err
	}

	packages = append(packages, p.Packages...)
	packages = append(packages, cfg.ExtraPackages...)
	packages = dedupe(packages)

	services = p.Services
	if !cfg.GreeterEnabled {
		services = withoutGreeters(services)
	}
	return packages, services, nil
}

var greeters = map[string]bool{"sddm": true, "gdm": true, "lightdm": true}

func withoutGreeters(services []string) []string {
	var out []string
	for _, s := range services {
		if !greeters[s] {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(xs []string) []string {
	seen := make(map[string]bool, len(xs))
	var out []string
	for _, x := range xs {
		if x == "" || seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return out
}
