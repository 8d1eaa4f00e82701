package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/h8d13/cosai/internal/config"
	cosaierr "github.com/h8d13/cosai/internal/errors"
	"github.com/h8d13/cosai/internal/installer"
	"github.com/h8d13/cosai/internal/journal"
	"github.com/h8d13/cosai/internal/metrics"
	"github.com/h8d13/cosai/internal/osexec"
	"github.com/h8d13/cosai/internal/version"
	prom "github.com/prometheus/client_golang/prometheus"
)

var CLI struct {
	Config        string `short:"c" help:"Configuration file path" default:"user_configuration.json"`
	ConfigURL     string `name:"config-url" help:"Fetch the configuration over HTTP instead of reading a file"`
	Creds         string `help:"Credentials file holding password hashes" default:"user_credentials.json"`
	Script        string `help:"Installation script to run" default:"guided"`
	DryRun        bool   `name:"dry-run" help:"Validate and print the operation plan without touching devices"`
	Mountpoint    string `help:"Installation mountpoint" default:"/mnt/cosai"`
	SkipNTP       bool   `name:"skip-ntp" help:"Skip time synchronisation checks"`
	SkipWKD       bool   `name:"skip-wkd" help:"Skip the keyring WKD refresh"`
	SkipBoot      bool   `name:"skip-boot" help:"Do not install a bootloader"`
	Offline       bool   `help:"No network fetches; use the host mirrorlist as-is"`
	Advanced      bool   `help:"Enable advanced layout options (separate /home)"`
	Debug         bool   `help:"Enable debug logging"`
	Verbose       bool   `short:"v" help:"Verbose error output"`
	Clean         bool   `help:"Remove the log directory on exit"`
	LogDir        string `name:"log-dir" help:"Directory for the journal and saved configuration" default:"/var/log/cosai"`
	MetricsListen string `name:"metrics-listen" help:"Serve Prometheus metrics on this address during the run"`

	Install struct {
		Device     string `short:"d" help:"Target device for a suggested layout when disk_config is absent"`
		Filesystem string `help:"Filesystem for the suggested layout" default:"ext4"`
		Resume     bool   `help:"Resume the last interrupted run on the same target"`
	} `cmd:"" help:"Run the installation described by the configuration"`

	Init struct {
		Force bool `help:"Overwrite an existing configuration file"`
	} `cmd:"" help:"Write an example configuration file"`

	Mirror struct {
		Region string `arg:"" optional:"" help:"Region to rank mirrors for"`
		List   bool   `help:"List regions available in the status feed"`
	} `cmd:"" help:"Rank mirrors from the Arch Linux status feed"`

	Bootstrap struct {
		URL     string `arg:"" optional:"" help:"Snapshot tarball or git URL" default:"https://github.com/h8d13/archinstoo"`
		Dest    string `help:"Checkout directory" default:"cosai-src"`
		Branch  string `help:"Branch to fetch when cloning"`
		Install bool   `help:"Continue into the installation after fetching"`
	} `cmd:"" help:"Fetch the installer snapshot and apply local patches"`

	Image struct {
		Device   string   `arg:"" help:"Block device to image, e.g. /dev/mmcblk0"`
		Rootfs   string   `arg:"" help:"Root filesystem tarball (tar.gz)"`
		Hostname string   `help:"Hostname written into the image" default:"cosai"`
		BootSize uint64   `name:"boot-size" help:"Boot partition size in MiB" default:"256"`
		Services []string `help:"Systemd units to enable in the image"`
	} `cmd:"" help:"Write a bootable image to a secondary target"`

	Version struct{} `cmd:"" help:"Print build information"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	adapter := cosaierr.NewCLIErrorAdapter(CLI.Verbose || CLI.Debug, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry *prom.Registry
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if CLI.MetricsListen != "" {
		registry = prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
		go func() {
			if err := metrics.Serve(ctx, CLI.MetricsListen, registry); err != nil {
				slog.Error("Metrics endpoint failed", "addr", CLI.MetricsListen, "error", err)
			}
		}()
	}

	var err error
	switch kctx.Command() {
	case "install":
		err = runInstall(ctx, recorder)
	case "init":
		err = runInit()
	case "mirror", "mirror <region>":
		err = runMirror(ctx, CLI.Mirror.Region, CLI.Mirror.List)
	case "bootstrap", "bootstrap <url>":
		err = runBootstrap(ctx, recorder)
	case "image <device> <rootfs>":
		err = runImage(ctx, recorder)
	case "version":
		fmt.Printf("cosai %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	}

	if CLI.Clean {
		if rmErr := os.RemoveAll(CLI.LogDir); rmErr != nil {
			slog.Warn("Failed to remove log directory", "dir", CLI.LogDir, "error", rmErr)
		}
	}

	if err != nil {
		stop()
		adapter.HandleError(err)
	}
}

func runInit() error {
	slog.Info("Writing example configuration", "path", CLI.Config, "force", CLI.Init.Force)
	return config.Init(CLI.Config, CLI.Init.Force)
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if CLI.ConfigURL != "" {
		cfg, err = config.LoadURL(CLI.ConfigURL)
	} else {
		cfg, err = config.Load(CLI.Config)
	}
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(CLI.Creds); statErr == nil {
		if err := cfg.LoadCredentialsInto(CLI.Creds); err != nil {
			return nil, err
		}
	}

	for _, warning := range cfg.Normalize(CLI.SkipBoot, CLI.Offline) {
		slog.Warn(warning)
	}
	return cfg, nil
}

func openJournal() (*journal.Journal, error) {
	if CLI.DryRun {
		return journal.Open(":memory:")
	}
	if err := os.MkdirAll(CLI.LogDir, 0o755); err != nil {
		return nil, cosaierr.Wrap(err, cosaierr.CategoryInternal, cosaierr.SeverityFatal, "cannot create log directory")
	}
	return journal.Open(filepath.Join(CLI.LogDir, "journal.db"))
}

func newRunner() osexec.Runner {
	if CLI.DryRun {
		return osexec.NewPlanRunner()
	}
	host := osexec.NewHostRunner()
	if CLI.Verbose || CLI.Debug {
		// stream tool output live instead of only capturing it
		host.Peek = os.Stderr
	}
	return host
}

func runInstall(ctx context.Context, recorder metrics.Recorder) error {
	if CLI.Script != "guided" {
		return cosaierr.ValidationFailed("script", fmt.Sprintf("unknown script %q", CLI.Script))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner := newRunner()
	uefi := installer.DetectUEFI()

	if cfg.Disk.ConfigType == "" {
		if err := suggestLayout(ctx, cfg, uefi); err != nil {
			return err
		}
	}

	if err := cfg.Validate(config.ValidateOptions{SkipBoot: CLI.SkipBoot, UEFI: uefi}); err != nil {
		return err
	}

	jnl, err := openJournal()
	if err != nil {
		return err
	}
	defer jnl.Close()

	opts := installer.Options{
		Mountpoint: CLI.Mountpoint,
		DryRun:     CLI.DryRun,
		SkipNTP:    CLI.SkipNTP,
		SkipWKD:    CLI.SkipWKD,
		SkipBoot:   CLI.SkipBoot,
		Offline:    CLI.Offline,
		Resume:     CLI.Install.Resume,
	}

	in := installer.New(cfg, opts, runner, jnl, recorder)
	if err := in.Run(ctx); err != nil {
		return err
	}

	if plan, ok := runner.(*osexec.PlanRunner); ok {
		fmt.Print(osexec.FormatPlan(plan.Commands()))
		return nil
	}

	if err := cfg.SaveScrubbed(CLI.LogDir); err != nil {
		slog.Warn("Failed to save installed configuration", "dir", CLI.LogDir, "error", err)
	}
	slog.Info("Installation finished", "mountpoint", opts.Mountpoint)
	return nil
}
