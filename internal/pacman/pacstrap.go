package pacman

import (
	"context"
	"os"
	"path/filepath"

	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/osexec"
)

// Strapper installs the base system into the mountpoint.
type Strapper struct {
	runner     osexec.Runner
	mountpoint string
}

// NewStrapper binds a runner to a target mountpoint.
func NewStrapper(runner osexec.Runner, mountpoint string) *Strapper {
	return &Strapper{runner: runner, mountpoint: mountpoint}
}

// Pacstrap runs pacstrap with keyring copy enabled.
func (s *Strapper) Pacstrap(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return cosaierr.New(cosaierr.CategoryInstall, cosaierr.SeverityFatal, "empty package set")
	}
	args := append([]string{"-K", s.mountpoint}, packages...)
	if _, err := s.runner.Run(ctx, "pacstrap", args...); err != nil {
		return cosaierr.WrapRetryable(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "pacstrap failed")
	}
	return nil
}

// InstallPackages adds packages to an already-strapped target.
func (s *Strapper) InstallPackages(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	chroot := osexec.NewChrootRunner(s.runner, s.mountpoint)
	args := append([]string{"-S", "--noconfirm", "--needed"}, packages...)
	if _, err := chroot.Run(ctx, "pacman", args...); err != nil {
		return cosaierr.WrapRetryable(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "package installation failed")
	}
	return nil
}

// CopyConfToTarget mirrors the live pacman.conf and mirrorlist into the
// target so the first boot uses the same repositories.
func (s *Strapper) CopyConfToTarget() error {
	for _, rel := range []string{"etc/pacman.conf", "etc/pacman.d/mirrorlist"} {
		src := "/" + rel
		dst := filepath.Join(s.mountpoint, rel)

		data, err := os.ReadFile(src)
		if err != nil {
			return cosaierr.Wrap(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "reading "+src)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return cosaierr.Wrap(err, cosaierr.CategoryInstall, cosaierr.SeverityError, "writing "+dst)
		}
	}
	return nil
}
