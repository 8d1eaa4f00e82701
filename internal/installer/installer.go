// Package installer orchestrates a full installation run: keyring and time
// sync, mirrors, disk operations, base system strap, system configuration,
// bootloader, users, and post-install hooks. Every step is journaled so an
// interrupted run can resume where it stopped.
package installer

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/h8d13/cosai/internal/config"
	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/journal"
	"github.com/h8d13/cosai/internal/metrics"
	"github.com/h8d13/cosai/internal/osexec"
)

// Options carry per-run switches from the command line.
type Options struct {
	Mountpoint string
	DryRun     bool
	SkipNTP    bool
	SkipWKD    bool
	SkipBoot   bool
	Offline    bool
	Resume     bool
}

// Installer drives one installation run.
type Installer struct {
	cfg      *config.Config
	opts     Options
	runner   osexec.Runner
	chroot   *osexec.ChrootRunner
	journal  *journal.Journal
	recorder metrics.Recorder
	uefi     bool
}

// New wires an installer. journal and recorder may be nil.
func New(cfg *config.Config, opts Options, runner osexec.Runner, jnl *journal.Journal, recorder metrics.Recorder) *Installer {
	if opts.Mountpoint == "" {
		opts.Mountpoint = "/mnt/cosai"
	}
	if cfg.Disk.ConfigType != "" && cfg.Disk.Mountpoint != "" {
		opts.Mountpoint = cfg.Disk.Mountpoint
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Installer{
		cfg:      cfg,
		opts:     opts,
		runner:   runner,
		chroot:   osexec.NewChrootRunner(runner, opts.Mountpoint),
		journal:  jnl,
		recorder: recorder,
		uefi:     DetectUEFI(),
	}
}

// DetectUEFI reports whether the live system booted through EFI firmware.
func DetectUEFI() bool {
	info, err := os.Stat("/sys/firmware/efi/efivars")
	return err == nil && info.IsDir()
}

// UEFI exposes the detected firmware mode.
func (in *Installer) UEFI() bool { return in.uefi }

type step struct {
	name string
	fn   func(context.Context) error
	skip bool
}

func (in *Installer) steps() []step {
	diskless := in.cfg.Disk.ConfigType == "pre_mounted_config"
	return []step{
		{name: "preflight", fn: in.stepPreflight, skip: in.opts.DryRun},
		{name: "keyring", fn: in.stepKeyring, skip: in.opts.SkipWKD || in.opts.Offline},
		{name: "ntp", fn: in.stepNTP, skip: in.opts.SkipNTP || in.opts.Offline},
		{name: "mirrors", fn: in.stepMirrors, skip: in.opts.Offline},
		{name: "disk", fn: in.stepDisk, skip: diskless},
		{name: "mount", fn: in.stepMount, skip: diskless},
		{name: "pacstrap", fn: in.stepPacstrap},
		{name: "fstab", fn: in.stepFstab},
		{name: "locale", fn: in.stepLocale},
		{name: "hostname", fn: in.stepHostname},
		{name: "timezone", fn: in.stepTimezone},
		{name: "mkinitcpio", fn: in.stepMkinitcpio},
		{name: "bootloader", fn: in.stepBootloader, skip: in.opts.SkipBoot},
		{name: "network", fn: in.stepNetwork},
		{name: "users", fn: in.stepUsers},
		{name: "swap", fn: in.stepSwap, skip: !in.cfg.Swap},
		{name: "services", fn: in.stepServices},
		{name: "custom", fn: in.stepCustomCommands, skip: len(in.cfg.CustomCommands) == 0},
	}
}

// StepNames lists the steps of a run in execution order.
func (in *Installer) StepNames() []string {
	var names []string
	for _, s := range in.steps() {
		names = append(names, s.name)
	}
	return names
}

// Run executes all steps. When Resume is set and an incomplete run exists for
// the same target, steps that already completed are skipped.
func (in *Installer) Run(ctx context.Context) error {
	target := in.target()

	var runID string
	completed := map[string]bool{}
	if in.journal != nil {
		if in.opts.Resume {
			if prev, err := in.journal.LastIncompleteRun(ctx, target); err == nil && prev != nil {
				if done, err := in.journal.CompletedSteps(ctx, prev.ID); err == nil {
					completed = done
					slog.Info("resuming interrupted run", "run_id", prev.ID, "completed_steps", len(done))
				}
				_ = in.journal.FinishRun(ctx, prev.ID, journal.RunAborted)
			}
		}
		id, err := in.journal.BeginRun(ctx, target)
		if err != nil {
			return err
		}
		runID = id
	}

	start := time.Now()
	for _, s := range in.steps() {
		if err := ctx.Err(); err != nil {
			in.finish(ctx, runID, journal.RunAborted, "aborted", start)
			return err
		}
		if s.skip || completed[s.name] {
			slog.Debug("skipping step", "step", s.name)
			in.record(ctx, runID, s.name, journal.StepSkipped, "")
			in.recorder.IncStepResult(s.name, metrics.ResultSkipped)
			continue
		}

		slog.Info("running step", "step", s.name)
		in.record(ctx, runID, s.name, journal.StepStarted, "")
		stepStart := time.Now()

		if err := s.fn(ctx); err != nil {
			in.record(ctx, runID, s.name, journal.StepFailed, err.Error())
			in.recorder.IncStepResult(s.name, metrics.ResultFailed)
			in.finish(ctx, runID, journal.RunFailed, "failed", start)
			return cosaierr.StepFailed(s.name, err)
		}

		in.record(ctx, runID, s.name, journal.StepCompleted, "")
		in.recorder.ObserveStepDuration(s.name, time.Since(stepStart))
		in.recorder.IncStepResult(s.name, metrics.ResultSuccess)
	}

	in.finish(ctx, runID, journal.RunCompleted, "success", start)
	slog.Info("installation complete", "target", target, "duration", time.Since(start))
	return nil
}

func (in *Installer) target() string {
	for _, mod := range in.cfg.Disk.Modifications {
		return mod.Device
	}
	return in.opts.Mountpoint
}

func (in *Installer) record(ctx context.Context, runID, stepName string, status journal.StepStatus, detail string) {
	if in.journal == nil || runID == "" {
		return
	}
	if err := in.journal.Record(ctx, runID, stepName, status, detail, nil); err != nil {
		slog.Warn("journal write failed", "step", stepName, "error", err)
	}
}

func (in *Installer) finish(ctx context.Context, runID string, status journal.RunStatus, outcome string, start time.Time) {
	in.recorder.IncInstallOutcome(outcome)
	in.recorder.ObserveInstallDuration(time.Since(start))
	if in.journal != nil && runID != "" {
		if err := in.journal.FinishRun(ctx, runID, status); err != nil {
			slog.Warn("journal finish failed", "error", err)
		}
	}
}
