package osexec

import (
	"context"
	"fmt"
)

// ChrootRunner executes commands inside the installation target via
// arch-chroot, optionally as a specific user.
type ChrootRunner struct {
	inner      Runner
	mountpoint string
}

// NewChrootRunner wraps a runner so commands execute inside the target root.
func NewChrootRunner(inner Runner, mountpoint string) *ChrootRunner {
	return &ChrootRunner{inner: inner, mountpoint: mountpoint}
}

func (c *ChrootRunner) DryRun() bool { return c.inner.DryRun() }

func (c *ChrootRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	return c.inner.Run(ctx, "arch-chroot", append([]string{c.mountpoint, name}, args...)...)
}

func (c *ChrootRunner) RunWithInput(ctx context.Context, input string, name string, args ...string) (*Result, error) {
	return c.inner.RunWithInput(ctx, input, "arch-chroot", append([]string{c.mountpoint, name}, args...)...)
}

// RunShell executes a shell command line inside the target root. Commands are
// written through bash -c so pipelines and redirections in custom commands work.
func (c *ChrootRunner) RunShell(ctx context.Context, cmdline string) (*Result, error) {
	return c.inner.Run(ctx, "arch-chroot", c.mountpoint, "bash", "-c", cmdline)
}

// RunAsUser executes a shell command line inside the target root as the given user.
func (c *ChrootRunner) RunAsUser(ctx context.Context, user, cmdline string) (*Result, error) {
	return c.inner.Run(ctx, "arch-chroot", c.mountpoint, "su", "-", user, "-c", cmdline)
}

// Mountpoint returns the target root this runner is bound to.
func (c *ChrootRunner) Mountpoint() string { return c.mountpoint }

// Describe renders the chroot prefix, for plan previews.
func (c *ChrootRunner) Describe() string {
	return fmt.Sprintf("arch-chroot %s", c.mountpoint)
}
