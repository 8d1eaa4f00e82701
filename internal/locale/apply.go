package locale

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/osexec"
)

// Apply writes the locale files into the mounted target and runs locale-gen
// inside the chroot.
func Apply(ctx context.Context, cfg Configuration, mountpoint string, runner osexec.Runner) error {
	etc := filepath.Join(mountpoint, "etc")

	localeGen := filepath.Join(etc, "locale.gen")
	if err := ensureLocaleGenEntry(localeGen, cfg.LocaleGenEntry()); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "updating locale.gen")
	}

	conf := fmt.Sprintf("LANG=%s\n", cfg.LangValue())
	if err := os.WriteFile(filepath.Join(etc, "locale.conf"), []byte(conf), 0o644); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "writing locale.conf")
	}

	vconsole := fmt.Sprintf("KEYMAP=%s\n", cfg.KbLayout)
	if err := os.WriteFile(filepath.Join(etc, "vconsole.conf"), []byte(vconsole), 0o644); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "writing vconsole.conf")
	}

	chroot := osexec.NewChrootRunner(runner, mountpoint)
	if _, err := chroot.Run(ctx, "locale-gen"); err != nil {
		return cosaierr.Wrap(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "generating locales")
	}
	return nil
}

// ensureLocaleGenEntry uncomments a matching entry or appends one.
func ensureLocaleGenEntry(path, entry string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	lines := strings.Split(string(data), "\n")
	found := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if strings.EqualFold(trimmed, entry) {
			lines[i] = entry
			found = true
		}
	}
	if !found {
		lines = append(lines, entry)
	}

	out := strings.Join(lines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return os.WriteFile(path, []byte(out), 0o644)
}
