// Package updater runs update operations end to end: it sets up the
// progress relay for a run, launches the privileged helper, arbitrates the
// outcome and records it.
package updater

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pikaos-linux/pikman-update-manager/apt"
	"github.com/pikaos-linux/pikman-update-manager/common"
	"github.com/pikaos-linux/pikman-update-manager/config"
	"github.com/pikaos-linux/pikman-update-manager/exclusions"
	"github.com/pikaos-linux/pikman-update-manager/flatpak"
	"github.com/pikaos-linux/pikman-update-manager/history"
	"github.com/pikaos-linux/pikman-update-manager/notify"
	"github.com/pikaos-linux/pikman-update-manager/operation"
	"github.com/pikaos-linux/pikman-update-manager/privilege"
	"github.com/pikaos-linux/pikman-update-manager/queue"
	"github.com/pikaos-linux/pikman-update-manager/relay"
)

// Operation names. They name the relay sockets and history entries.
const (
	OpAptUpdate     = "apt_update"
	OpAptUpgrade    = "apt_upgrade"
	OpFlatpakUpdate = "flatpak_update"
)

// Helper subcommands.
const (
	helperUpdate      = "update"
	helperFullUpgrade = "full-upgrade"
)

const exclusionsFile = "exclusions.json"

// Runner starts the privileged helper. *privilege.Launcher satisfies it.
type Runner interface {
	Start(ctx context.Context, args ...string) (<-chan privilege.Result, error)
}

// History stores finished runs. *history.Store satisfies it.
type History interface {
	Record(ctx context.Context, r history.Record) (history.Record, error)
	List(ctx context.Context, limit int) ([]history.Record, error)
}

// Flatpak lists and applies Flatpak updates. *flatpak.Client satisfies it.
type Flatpak interface {
	ListUpdates(ctx context.Context) ([]flatpak.Ref, error)
	Update(ctx context.Context, refs []flatpak.Ref, rep flatpak.Reporter) error
}

// Notifier announces finished runs. *notify.Notifier satisfies it.
type Notifier interface {
	Show(n notify.Notification) error
}

// Options are the relay and helper settings of a Manager.
type Options struct {
	SocketDir string
	// ExclusionsPath overrides the per-run exclusions file. It is removed
	// once the run is over.
	ExclusionsPath string
	ReceiveBuffer  int
	HandledGrace   time.Duration
}

// OptionsFromConfig picks the Manager settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SocketDir:      cfg.SocketDir,
		ExclusionsPath: cfg.ExclusionsPath,
		ReceiveBuffer:  cfg.ReceiveBuffer,
		HandledGrace:   cfg.HandledGrace,
	}
}

// Manager runs one operation at a time.
type Manager struct {
	runner   Runner
	flatpak  Flatpak
	history  History
	notifier Notifier
	logger   common.Logger
	opts     Options

	// listUpgradable is swapped out in tests.
	listUpgradable func(ctx context.Context) ([]apt.Package, error)

	mu      sync.Mutex
	running string
}

// NewManager creates a manager. history, fp and notifier may be nil.
func NewManager(runner Runner, fp Flatpak, hist History, notifier Notifier, opts Options) *Manager {
	if opts.ReceiveBuffer <= 0 {
		opts.ReceiveBuffer = common.DefaultReceiveBuffer
	}
	if opts.HandledGrace <= 0 {
		opts.HandledGrace = common.HandledExitGrace
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{
		runner:         runner,
		flatpak:        fp,
		history:        hist,
		notifier:       notifier,
		logger:         common.GetLogger(),
		opts:           opts,
		listUpgradable: apt.ListUpgradable,
	}
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(l common.Logger) {
	if l != nil {
		m.logger = l
	}
}

// Running returns the name of the operation in progress, if any.
func (m *Manager) Running() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// CheckUpdates refreshes the APT package lists.
func (m *Manager) CheckUpdates(ctx context.Context) (*Run, error) {
	if err := m.acquire(OpAptUpdate); err != nil {
		return nil, err
	}
	return m.startHelperLocked(ctx, OpAptUpdate, helperUpdate, nil, false)
}

// Upgrade upgrades every APT package except excluded ones.
func (m *Manager) Upgrade(ctx context.Context, excluded []string) (*Run, error) {
	if err := m.acquire(OpAptUpgrade); err != nil {
		return nil, err
	}
	excluded = common.NormalizeNames(excluded)
	return m.startHelperLocked(ctx, OpAptUpgrade, helperFullUpgrade, excluded, true)
}

// UpdateFlatpaks updates refs (all refs when empty). Flatpak runs
// unprivileged, so there is no helper and no relay, but progress flows
// through the same tracker.
func (m *Manager) UpdateFlatpaks(ctx context.Context, refs []flatpak.Ref) (*Run, error) {
	if m.flatpak == nil {
		return nil, fmt.Errorf("flatpak is not available")
	}
	if err := m.acquire(OpFlatpakUpdate); err != nil {
		return nil, err
	}

	tracker := operation.NewTracker(OpFlatpakUpdate,
		operation.WithHandledGrace(m.opts.HandledGrace),
		operation.WithTrackerLogger(m.logger))
	tracker.Start()

	run := newRun(tracker)
	go func() {
		err := m.flatpak.Update(ctx, refs, trackerReporter{tracker})
		if err != nil {
			tracker.Fail(err.Error(), err)
		} else {
			tracker.HandleExit(privilege.Result{Code: common.ExitSuccess})
		}
		m.finish(run, nil)
	}()
	return run, nil
}

// Upgradable lists APT packages with a pending upgrade.
func (m *Manager) Upgradable(ctx context.Context) ([]apt.Package, error) {
	return m.listUpgradable(ctx)
}

// FlatpakUpdates lists Flatpak refs with a pending update.
func (m *Manager) FlatpakUpdates(ctx context.Context) ([]flatpak.Ref, error) {
	if m.flatpak == nil {
		return nil, nil
	}
	return m.flatpak.ListUpdates(ctx)
}

// History returns up to limit past runs, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]history.Record, error) {
	if m.history == nil {
		return nil, nil
	}
	return m.history.List(ctx, limit)
}

func (m *Manager) acquire(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running != "" {
		return fmt.Errorf("%w: %s", common.ErrAlreadyRunning, m.running)
	}
	m.running = op
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.running = ""
	m.mu.Unlock()
}

// exclusionsPath is the configured exclusions file, or one inside the
// run's private directory.
func (m *Manager) exclusionsPath(ep relay.Endpoints) string {
	if m.opts.ExclusionsPath != "" {
		return m.opts.ExclusionsPath
	}
	return filepath.Join(ep.Dir, exclusionsFile)
}

// startHelperLocked sets up a fresh relay, launches the helper and hands
// everything to the tracker. The caller holds the run slot. With
// withExclusions set, excluded is written for the helper and passed along
// with --exclusions.
func (m *Manager) startHelperLocked(ctx context.Context, op, sub string, excluded []string, withExclusions bool) (*Run, error) {
	ep, err := relay.NewEndpoints(m.opts.SocketDir, op)
	if err != nil {
		m.release()
		return nil, err
	}

	var extra []string
	exclPath := ""
	if withExclusions {
		exclPath = m.exclusionsPath(ep)
		if err := exclusions.Write(exclPath, excluded); err != nil {
			ep.Remove()
			m.release()
			return nil, err
		}
		extra = []string{"--exclusions", exclPath}
	}

	messages := queue.NewUnbounded[relay.Message]()
	opts := []relay.Option{relay.WithBufferSize(m.opts.ReceiveBuffer), relay.WithLogger(m.logger)}
	servers := []*relay.Server{
		relay.NewServer(ep.Percent, relay.ChannelPercent, messages, opts...),
		relay.NewServer(ep.Status, relay.ChannelStatus, messages, opts...),
	}

	cleanup := func() {
		for _, srv := range servers {
			srv.Close()
		}
		messages.Discard()
		if exclPath != "" {
			if err := exclusions.Clear(exclPath); err != nil {
				m.logger.Warn("Failed to remove exclusions file: %v", err)
			}
		}
		if err := ep.Remove(); err != nil {
			m.logger.Warn("Failed to remove relay directory %s: %v", ep.Dir, err)
		}
	}

	for _, srv := range servers {
		if err := srv.Listen(); err != nil {
			cleanup()
			m.release()
			return nil, err
		}
	}

	serveCtx, stopServing := context.WithCancel(context.Background())
	var g errgroup.Group
	for _, srv := range servers {
		g.Go(func() error { return srv.Serve(serveCtx) })
	}

	tracker := operation.NewTracker(op,
		operation.WithHandledGrace(m.opts.HandledGrace),
		operation.WithTrackerLogger(m.logger))
	tracker.Start()

	args := append([]string{sub,
		"--percent-socket", ep.Percent,
		"--status-socket", ep.Status,
		"--buffer-size", strconv.Itoa(m.opts.ReceiveBuffer),
	}, extra...)

	exits, err := m.runner.Start(ctx, args...)
	if err != nil {
		// Launch errors go through the tracker like any other exit.
		m.logger.Error("Failed to launch helper: %v", err)
		failed := make(chan privilege.Result, 1)
		failed <- privilege.Result{Code: -1, Err: err}
		close(failed)
		exits = failed
	}

	run := newRun(tracker)
	go func() {
		tracker.Run(ctx, messages.Out(), exits)

		// The helper may still be on its way out after the sentinel. Let
		// the tracker see the exit, bounded by the grace period.
		select {
		case r, ok := <-exits:
			if ok {
				tracker.HandleExit(r)
			}
		case <-time.After(m.opts.HandledGrace):
			m.logger.Warn("%s: helper still running after the outcome was decided", op)
		}

		stopServing()
		if err := g.Wait(); err != nil {
			m.logger.Warn("%s: relay server error: %v", op, err)
		}
		cleanup()
		m.finish(run, excluded)
	}()
	return run, nil
}

// finish records and announces the outcome, then frees the run slot.
func (m *Manager) finish(run *Run, excluded []string) {
	outcome := run.tracker.Outcome()

	if m.history != nil {
		if _, err := m.history.Record(context.Background(), history.FromOutcome(outcome, excluded)); err != nil {
			m.logger.Warn("Failed to record history: %v", err)
		}
	}

	title, message := describe(outcome)
	notif := notify.Failed(title, message)
	if outcome.State == operation.StateSucceeded {
		notif = notify.Succeeded(title, message)
	}
	if err := m.notifier.Show(notif); err != nil {
		m.logger.Debug("Notification not shown: %v", err)
	}

	m.release()
	run.complete(outcome)
}

// Title returns a human readable name for an operation.
func Title(op string) string {
	switch op {
	case OpAptUpdate:
		return "Package lists"
	case OpAptUpgrade:
		return "System upgrade"
	case OpFlatpakUpdate:
		return "Flatpak update"
	default:
		return op
	}
}

func describe(o operation.Outcome) (string, string) {
	name := Title(o.Operation)

	if o.State == operation.StateSucceeded {
		if o.Operation == OpAptUpdate {
			return "Package lists refreshed", "Update information is current"
		}
		return name + " complete", fmt.Sprintf("Finished in %s", o.Duration().Round(time.Second))
	}
	return name + " failed", o.Reason
}

// trackerReporter feeds in-process progress into a tracker the way the
// relay would.
type trackerReporter struct {
	t *operation.Tracker
}

func (r trackerReporter) Percent(p float64) error {
	r.t.HandleMessage(relay.Message{
		Channel:  relay.ChannelPercent,
		Text:     strconv.FormatFloat(p, 'f', -1, 64),
		Received: time.Now(),
	})
	return nil
}

func (r trackerReporter) Status(text string) error {
	if relay.IsSentinel(text) {
		return common.ErrReservedMessage
	}
	r.t.HandleMessage(relay.Message{Channel: relay.ChannelStatus, Text: text, Received: time.Now()})
	return nil
}
