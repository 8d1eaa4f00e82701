package config

import (
	"fmt"
	"strings"

	"github.com/h8d13/cosai/internal/bootloader"
	"github.com/h8d13/cosai/internal/mirror"
	"github.com/h8d13/cosai/internal/network"
	"github.com/h8d13/cosai/internal/users"
)

// Normalize fills defaults and fixes up tolerable mistakes, returning a
// warning per adjustment so the user sees what changed.
func (c *Config) Normalize(skipBoot, offline bool) []string {
	var warnings []string

	if c.Version == "" {
		c.Version = SchemaVersion
	}
	if c.Hostname == "" {
		c.Hostname = "cosai"
		warnings = append(warnings, "hostname missing, defaulting to cosai")
	}
	if len(c.Kernels) == 0 {
		c.Kernels = []string{"linux"}
		warnings = append(warnings, "no kernels selected, defaulting to linux")
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
		warnings = append(warnings, "timezone missing, defaulting to UTC")
	}

	if c.Bootloader.Bootloader == "" {
		c.Bootloader.Bootloader = bootloader.Default(skipBoot)
		warnings = append(warnings, fmt.Sprintf("no bootloader selected, defaulting to %s", c.Bootloader.Bootloader))
	}
	if c.Network.Type == "" {
		c.Network.Type = network.ModeNone
	}

	if offline && !c.Mirror.Empty() {
		c.Mirror = mirror.Configuration{}
		warnings = append(warnings, "offline install, ignoring mirror_config; the host mirrorlist is used as-is")
	}

	c.Locale.Normalize()

	for i := range c.Users {
		u := &c.Users[i]
		u.Username = strings.TrimSpace(u.Username)
		if u.Password == "" {
			continue
		}
		if rating := users.RatePassword(u.Password); rating == users.StrengthVeryWeak || rating == users.StrengthWeak {
			warnings = append(warnings, fmt.Sprintf("password for user %s is %s, consider a longer one", u.Username, rating))
		}
	}

	return warnings
}
