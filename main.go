// Package main provides the entry point for Pikman Update Manager.
// Pikman Update Manager keeps a PikaOS system up to date: it refreshes the
// APT package lists, upgrades the system while leaving chosen packages
// alone, and updates Flatpak applications.
//
// Features:
//   - Interactive terminal view with live progress
//   - Privileged work done by a separate helper launched through pkexec
//   - Per-package exclusions for upgrades
//   - Desktop notifications and a history of past runs
//   - Command-line interface for scripting and automation
//
// Usage:
//
//	pikman-update-manager [options]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/pikaos-linux/pikman-update-manager/cli"
	"github.com/pikaos-linux/pikman-update-manager/common"
	"github.com/pikaos-linux/pikman-update-manager/config"
	"github.com/pikaos-linux/pikman-update-manager/flatpak"
	"github.com/pikaos-linux/pikman-update-manager/history"
	"github.com/pikaos-linux/pikman-update-manager/notify"
	"github.com/pikaos-linux/pikman-update-manager/privilege"
	"github.com/pikaos-linux/pikman-update-manager/tui"
	"github.com/pikaos-linux/pikman-update-manager/updater"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	// CLI flags
	checkUpdates  = flag.Bool("check", false, "Refresh the package lists")
	listUpdates   = flag.Bool("list", false, "List available upgrades")
	upgradeSystem = flag.Bool("upgrade", false, "Upgrade the system")
	excludeFlag   = flag.String("exclude", "", "Comma-separated packages to leave out of the upgrade")
	withFlatpak   = flag.Bool("flatpak", false, "Also update Flatpak applications")
	showHistory   = flag.Bool("history", false, "Show recent runs")
)

// historyRetention is how long finished runs are kept.
const historyRetention = 90 * 24 * time.Hour

func main() {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp(os.Stdout)
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; using defaults\n", err)
		cfg = config.DefaultConfig()
	}

	cliMode := *checkUpdates || *listUpdates || *upgradeSystem || *showHistory || (*withFlatpak && !*upgradeSystem)
	stdoutTTY := term.IsTerminal(int(os.Stdout.Fd()))
	interactive := !cliMode && stdoutTTY && term.IsTerminal(int(os.Stdin.Fd()))

	if !cliMode && !interactive {
		cli.PrintHelp(os.Stderr)
		os.Exit(2)
	}

	logLevel := common.ParseLogLevel(cfg.LogLevel)
	if *verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		Tag:         "ui",
		EnableFile:  true,
		FileOnly:    interactive,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		if interactive {
			// Nowhere to log without corrupting the screen.
			common.GetLogger().SetOutput(io.Discard)
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
		}
	}
	defer common.CloseLogger()

	// Setup graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, cleanup := newManager(ctx, cfg)
	defer cleanup()

	exclusions := cfg.Exclusions
	if *excludeFlag != "" {
		exclusions = common.NormalizeNames(append(exclusions, strings.Split(*excludeFlag, ",")...))
	}

	if cliMode {
		c := cli.New(cli.FromManager(manager), os.Stdout, stdoutTTY)
		if err := runCLI(ctx, c, exclusions); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		return
	}

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	outcomes, err := tui.Run(ctx, tui.NewController(manager), tui.Options{
		Exclusions:     exclusions,
		IncludeFlatpak: cfg.IncludeFlatpak,
		Theme:          cfg.Theme,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	if name := manager.Running(); name != "" {
		fmt.Printf("%s is still running in the background and will finish on its own.\n", updater.Title(name))
	}
	for _, o := range outcomes {
		if err := o.Err(); err != nil {
			common.LogWarn("Session ended after a failed run: %v", err)
		}
	}
}

// newManager wires the update manager to its collaborators. The returned
// cleanup releases them.
func newManager(ctx context.Context, cfg *config.Config) (*updater.Manager, func()) {
	logger := common.GetLogger()
	var closers []io.Closer

	launcher := privilege.NewLauncher(cfg.Escalator, cfg.HelperPath)
	launcher.SetLogger(logger)

	var fp updater.Flatpak
	if client := flatpak.NewClient(logger); client.Available() {
		fp = client
	}

	var hist updater.History
	if cfg.RecordHistory {
		if store, err := openHistory(ctx); err != nil {
			common.LogWarn("History disabled: %v", err)
		} else {
			hist = store
			closers = append(closers, store)
		}
	}

	var notifier updater.Notifier
	if cfg.ShowNotifications {
		n := notify.New(logger)
		notifier = n
		closers = append(closers, n)
	}

	manager := updater.NewManager(launcher, fp, hist, notifier, updater.OptionsFromConfig(cfg))
	manager.SetLogger(logger)

	closed := false
	return manager, func() {
		if closed {
			return
		}
		closed = true
		for _, c := range closers {
			c.Close()
		}
	}
}

func openHistory(ctx context.Context) (*history.Store, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(filepath.Join(dir, common.HistoryFileName))
	if err != nil {
		return nil, err
	}
	if n, err := store.Prune(ctx, time.Now().Add(-historyRetention)); err != nil {
		common.LogWarn("Could not prune history: %v", err)
	} else if n > 0 {
		common.LogDebug("Pruned %d old history entries", n)
	}
	return store, nil
}

// runCLI handles command-line interface operations in a fixed order:
// refresh, list, upgrade, Flatpak, history.
func runCLI(ctx context.Context, c *cli.CLI, exclusions []string) error {
	if *checkUpdates {
		if err := c.CheckUpdates(ctx); err != nil {
			return err
		}
	}
	if *listUpdates {
		if err := c.List(ctx, exclusions, *withFlatpak); err != nil {
			return err
		}
	}
	if *upgradeSystem {
		if err := c.Upgrade(ctx, exclusions, *withFlatpak); err != nil {
			return err
		}
	} else if *withFlatpak && !*listUpdates {
		if err := c.UpdateFlatpaks(ctx); err != nil {
			return err
		}
	}
	if *showHistory {
		return c.History(ctx, 20)
	}
	return nil
}
