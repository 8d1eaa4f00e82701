// Package osexec wraps external tool invocation (parted, mkfs, pacstrap,
// arch-chroot, ...) behind a Runner interface so installation steps can be
// executed for real, or recorded as a plan in dry-run mode.
package osexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	cosaierr "github.com/h8d13/cosai/internal/errors"
)

// Result holds the outcome of a single command invocation.
type Result struct {
	Command  string
	Args     []string
	Output   []byte
	ExitCode int
	Duration time.Duration
}

// String renders the invocation in shell form for logs and plans.
func (r *Result) String() string {
	if len(r.Args) == 0 {
		return r.Command
	}
	return r.Command + " " + strings.Join(r.Args, " ")
}

// Runner executes external commands on behalf of the installer.
type Runner interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, name string, args ...string) (*Result, error)
	// RunWithInput executes a command feeding the given string on stdin.
	RunWithInput(ctx context.Context, input string, name string, args ...string) (*Result, error)
	// DryRun reports whether commands are recorded instead of executed.
	DryRun() bool
}

// HostRunner executes commands on the live system.
type HostRunner struct {
	// Env entries appended to the inherited environment for every command.
	Env []string
	// Peek streams command output to this writer in addition to capturing it.
	Peek io.Writer
}

// NewHostRunner returns a runner that executes commands for real.
func NewHostRunner() *HostRunner {
	return &HostRunner{}
}

func (h *HostRunner) DryRun() bool { return false }

func (h *HostRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	return h.run(ctx, "", name, args...)
}

func (h *HostRunner) RunWithInput(ctx context.Context, input string, name string, args ...string) (*Result, error) {
	return h.run(ctx, input, name, args...)
}

func (h *HostRunner) run(ctx context.Context, input string, name string, args ...string) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), h.Env...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var buf bytes.Buffer
	if h.Peek != nil {
		cmd.Stdout = io.MultiWriter(&buf, h.Peek)
		cmd.Stderr = io.MultiWriter(&buf, h.Peek)
	} else {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	}

	slog.Debug("Executing command", "command", name, "args", args)
	err := cmd.Run()
	res := &Result{
		Command:  name,
		Args:     args,
		Output:   buf.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
		slog.Debug("Command failed",
			"command", res.String(),
			"exit_code", res.ExitCode,
			"output", truncateOutput(res.Output))
		return res, cosaierr.SysCallFailed(res.String(), res.ExitCode, err)
	}

	slog.Debug("Command completed", "command", res.String(), "duration", res.Duration)
	return res, nil
}

// truncateOutput keeps log records readable for noisy tools like pacstrap.
func truncateOutput(out []byte) string {
	const maxLen = 2048
	if len(out) <= maxLen {
		return string(out)
	}
	return string(out[:maxLen]) + "... (truncated)"
}

// PlanRunner records commands instead of executing them. It backs --dry-run
// and the plan preview emitted before destructive disk operations.
type PlanRunner struct {
	recorded []Result
}

// NewPlanRunner returns a runner that only records invocations.
func NewPlanRunner() *PlanRunner {
	return &PlanRunner{}
}

func (p *PlanRunner) DryRun() bool { return true }

func (p *PlanRunner) Run(_ context.Context, name string, args ...string) (*Result, error) {
	res := Result{Command: name, Args: args}
	p.recorded = append(p.recorded, res)
	return &res, nil
}

func (p *PlanRunner) RunWithInput(_ context.Context, input string, name string, args ...string) (*Result, error) {
	res := Result{Command: name, Args: args}
	if input != "" {
		// stdin payloads (e.g. LUKS passphrases) are never recorded verbatim
		res.Output = []byte("<stdin omitted>")
	}
	p.recorded = append(p.recorded, res)
	return &res, nil
}

// Commands returns the recorded invocations in shell form.
func (p *PlanRunner) Commands() []string {
	out := make([]string, 0, len(p.recorded))
	for i := range p.recorded {
		out = append(out, p.recorded[i].String())
	}
	return out
}

// LookPath reports whether a tool is available, for preflight checks.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// FormatPlan renders a recorded plan for display.
func FormatPlan(commands []string) string {
	var sb strings.Builder
	for i, c := range commands {
		fmt.Fprintf(&sb, "%3d. %s\n", i+1, c)
	}
	return sb.String()
}
