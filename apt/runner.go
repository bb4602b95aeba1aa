package apt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// Reporter receives progress from a transaction. *relay.Sender satisfies it.
type Reporter interface {
	Percent(p float64) error
	Status(text string) error
}

// Runner runs APT transactions and reports their progress.
type Runner struct {
	// AptGet and AptMark are the binaries to run.
	AptGet  string
	AptMark string

	reporter Reporter
	logger   common.Logger
}

// NewRunner creates a runner that reports to r.
func NewRunner(r Reporter, logger common.Logger) *Runner {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Runner{
		AptGet:   "apt-get",
		AptMark:  "apt-mark",
		reporter: r,
		logger:   logger,
	}
}

// Update refreshes the package lists.
func (r *Runner) Update(ctx context.Context) error {
	r.status("Refreshing package lists")
	return r.runWithStatus(ctx, UpdatePhases, r.AptGet, "update", "-o", "APT::Status-Fd=3")
}

// FullUpgrade upgrades every package except excluded ones. Excluded
// packages that are not already on hold are held for the duration of the
// transaction and released afterwards; holds the user placed are left as
// they were.
func (r *Runner) FullUpgrade(ctx context.Context, excluded []string) (err error) {
	excluded = common.NormalizeNames(excluded)

	var placed []string
	if len(excluded) > 0 {
		held, err := r.Held(ctx)
		if err != nil {
			return err
		}
		for _, name := range excluded {
			if !common.StringInSlice(name, held) {
				placed = append(placed, name)
			}
		}
	}

	if len(placed) > 0 {
		r.status(fmt.Sprintf("Holding %d excluded package(s)", len(placed)))
		if err := r.mark(ctx, "hold", placed); err != nil {
			return err
		}
		defer func() {
			// The release must happen even if ctx is already done.
			if uerr := r.mark(context.WithoutCancel(ctx), "unhold", placed); uerr != nil {
				r.logger.Error("Failed to release holds on %s: %v", strings.Join(placed, " "), uerr)
				if err == nil {
					err = uerr
				}
			}
		}()
	}

	r.status("Upgrading packages")
	return r.runWithStatus(ctx, UpgradePhases, r.AptGet,
		"full-upgrade", "-y",
		"-o", "APT::Status-Fd=3",
		"-o", "Dpkg::Options::=--force-confdef",
		"-o", "Dpkg::Options::=--force-confold",
	)
}

// Held lists the packages currently on hold.
func (r *Runner) Held(ctx context.Context) ([]string, error) {
	out, err := r.command(ctx, r.AptMark, "showhold").Output()
	if err != nil {
		return nil, fmt.Errorf("apt-mark showhold: %w", commandError(err))
	}
	return common.NormalizeNames(strings.Split(string(out), "\n")), nil
}

func (r *Runner) mark(ctx context.Context, action string, names []string) error {
	args := append([]string{action}, names...)
	out, err := r.command(ctx, r.AptMark, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("apt-mark %s: %w: %s", action, err, strings.TrimSpace(string(out)))
	}
	r.logger.Info("apt-mark %s %s", action, strings.Join(names, " "))
	return nil
}

func (r *Runner) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C", "DEBIAN_FRONTEND=noninteractive")
	return cmd
}

// runWithStatus runs a command with its fd 3 connected to a pipe and turns
// every status-fd line into relay messages. Stdout goes to the debug log;
// the tail of stderr becomes the error text on failure.
func (r *Runner) runWithStatus(ctx context.Context, phases []Phase, name string, args ...string) error {
	cmd := r.command(ctx, name, args...)

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create status pipe: %w", err)
	}
	defer statusR.Close()
	cmd.ExtraFiles = []*os.File{statusW}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		statusW.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		statusW.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	r.logger.Info("Running %s %s", name, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		statusW.Close()
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	// Only the child holds the write end now, so EOF arrives when it exits.
	statusW.Close()

	tail := &errorTail{max: 5}
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		r.consumeStatus(statusR, NewProgress(phases), tail)
	}()
	go func() {
		defer wg.Done()
		r.logLines(name, stdout, nil)
	}()
	go func() {
		defer wg.Done()
		r.logLines(name, stderr, tail)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if msg := tail.String(); msg != "" {
			return fmt.Errorf("%s %s failed: %s", name, args[0], msg)
		}
		return fmt.Errorf("%s %s failed: %w", name, args[0], commandError(err))
	}

	r.percent(100)
	return nil
}

func (r *Runner) consumeStatus(pipe io.Reader, progress *Progress, tail *errorTail) {
	var lastStatus string
	lastSent := -1.0

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line, err := ParseStatusLine(scanner.Text())
		if err != nil {
			r.logger.Debug("status-fd: %v", err)
			continue
		}

		switch line.Kind {
		case StatusError:
			tail.add(line.Package + ": " + line.Text)
			r.status(line.Text)
			continue
		case StatusConffile:
			r.logger.Warn("Configuration file prompt for %s answered non-interactively", line.Package)
			continue
		}

		if overall, changed := progress.Update(line); changed {
			// One decimal is all a progress bar can show.
			rounded := math.Round(overall*10) / 10
			if rounded != lastSent {
				lastSent = rounded
				r.percent(rounded)
			}
		}
		if line.Text != "" && line.Text != lastStatus {
			lastStatus = line.Text
			r.status(line.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("status-fd read failed: %v", err)
	}
}

func (r *Runner) logLines(name string, pipe io.Reader, tail *errorTail) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		r.logger.Debug("%s: %s", name, line)
		if tail != nil && (strings.HasPrefix(line, "E:") || strings.HasPrefix(line, "dpkg:")) {
			tail.add(line)
		}
	}
}

func (r *Runner) percent(p float64) {
	if r.reporter == nil {
		return
	}
	if err := r.reporter.Percent(p); err != nil {
		r.logger.Warn("Failed to report progress: %v", err)
	}
}

func (r *Runner) status(text string) {
	if r.reporter == nil {
		return
	}
	if err := r.reporter.Status(text); err != nil {
		r.logger.Warn("Failed to report status: %v", err)
	}
}

// errorTail keeps the last few error lines of a command.
type errorTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (t *errorTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *errorTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func commandError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return err
}
