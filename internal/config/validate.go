package config

import (
	"github.com/h8d13/cosai/internal/bootloader"
	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/profile"
)

// ValidateOptions carry CLI state that changes what counts as valid.
type ValidateOptions struct {
	SkipBoot bool
	UEFI     bool
}

// Validate checks the whole configuration before any destructive work.
func (c *Config) Validate(opts ValidateOptions) error {
	if c.Script != "" && c.Script != "guided" {
		return cosaierr.ValidationFailed("script", "only the guided script is available")
	}

	if c.InitHooks != "" && c.InitHooks != InitHooksBusybox && c.InitHooks != InitHooksSystemd {
		return cosaierr.ValidationFailed("init_hooks", "must be busybox or systemd")
	}

	if _, err := bootloader.Parse(string(c.Bootloader.Bootloader), opts.SkipBoot); err != nil {
		return err
	}

	// an absent disk_config means a suggested layout is produced later
	if c.Disk.ConfigType != "" {
		if err := c.Disk.Validate(opts.UEFI); err != nil {
			return err
		}
	}

	if err := c.Locale.Validate(); err != nil {
		return err
	}

	if err := c.Pacman.Validate(); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryValidation, cosaierr.SeverityFatal, "pacman configuration")
	}

	if err := c.Network.Validate(); err != nil {
		return err
	}

	if _, err := profile.Lookup(c.Profile.Profile); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryValidation, cosaierr.SeverityFatal, "profile configuration")
	}

	for _, u := range c.Users {
		if err := u.Validate(); err != nil {
			return err
		}
	}

	for _, s := range c.Services {
		if s.Unit == "" {
			return cosaierr.ValidationFailed("services", "service entry without a unit name")
		}
		if s.Linger && s.User == "" {
			return cosaierr.ValidationFailed("services", "linger needs a user")
		}
	}

	for _, cc := range c.CustomCommands {
		if cc.Cmd == "" {
			return cosaierr.ValidationFailed("custom_commands", "command entry without a command line")
		}
	}

	return nil
}
