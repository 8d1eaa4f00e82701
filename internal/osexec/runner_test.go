package osexec

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cosaierr "github.com/h8d13/cosai/internal/errors"
)

func TestHostRunnerCapturesOutput(t *testing.T) {
	r := NewHostRunner()

	res, err := r.Run(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(res.Output))
	assert.Equal(t, 0, res.ExitCode)
}

func TestHostRunnerFailureClassified(t *testing.T) {
	r := NewHostRunner()

	res, err := r.Run(context.Background(), "false")
	require.Error(t, err)
	assert.True(t, cosaierr.IsCategory(err, cosaierr.CategorySysCall))
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestHostRunnerPeekStreamsOutput(t *testing.T) {
	var peeked bytes.Buffer
	r := NewHostRunner()
	r.Peek = &peeked

	res, err := r.Run(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(res.Output))
	assert.Equal(t, "hello\n", peeked.String())
}

func TestHostRunnerInput(t *testing.T) {
	r := NewHostRunner()

	res, err := r.RunWithInput(context.Background(), "piped\n", "cat")
	require.NoError(t, err)
	assert.Equal(t, "piped\n", string(res.Output))
}

func TestPlanRunnerRecords(t *testing.T) {
	p := NewPlanRunner()

	_, err := p.Run(context.Background(), "sgdisk", "--zap-all", "/dev/sda")
	require.NoError(t, err)
	_, err = p.RunWithInput(context.Background(), "secret", "cryptsetup", "luksFormat", "/dev/sda2")
	require.NoError(t, err)

	cmds := p.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "sgdisk --zap-all /dev/sda", cmds[0])
	assert.Equal(t, "cryptsetup luksFormat /dev/sda2", cmds[1])
	assert.True(t, p.DryRun())
}

func TestChrootRunnerPrefixes(t *testing.T) {
	p := NewPlanRunner()
	c := NewChrootRunner(p, "/mnt")

	_, err := c.Run(context.Background(), "pacman", "-Sy")
	require.NoError(t, err)
	_, err = c.RunShell(context.Background(), "echo hi > /tmp/x")
	require.NoError(t, err)
	_, err = c.RunAsUser(context.Background(), "dev", "whoami")
	require.NoError(t, err)

	cmds := p.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "arch-chroot /mnt pacman -Sy", cmds[0])
	assert.Equal(t, "arch-chroot /mnt bash -c echo hi > /tmp/x", cmds[1])
	assert.Equal(t, "arch-chroot /mnt su - dev -c whoami", cmds[2])
}

func TestFormatPlan(t *testing.T) {
	out := FormatPlan([]string{"a", "b"})
	assert.Contains(t, out, "  1. a\n")
	assert.Contains(t, out, "  2. b\n")
}
