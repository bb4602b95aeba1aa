// Package privilege launches the elevated helper that performs package
// manager transactions, so the front-end itself never runs as root.
package privilege

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// Result is the observed end of one helper process.
type Result struct {
	// Code is the exit code, or -1 when the process never ran or was
	// killed by a signal.
	Code int
	// Err is set when the process could not be started or waited on.
	// A non-zero exit status alone is not an error here.
	Err error
}

// Class is the meaning of a Result.
type Class int

const (
	// ClassSuccess: the helper finished its transaction.
	ClassSuccess Class = iota
	// ClassHandled: the helper already reported failure over the relay.
	ClassHandled
	// ClassUnauthorized: the escalation dialog was dismissed or refused.
	ClassUnauthorized
	// ClassFailure: any other exit, an unexpected failure.
	ClassFailure
	// ClassLaunchError: the process could not be started at all.
	ClassLaunchError
)

// String returns a short name for logs.
func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassHandled:
		return "handled"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassFailure:
		return "failure"
	case ClassLaunchError:
		return "launch-error"
	default:
		return "unknown"
	}
}

// Classify maps a Result onto the well-known exit codes.
func Classify(r Result) Class {
	if r.Err != nil {
		return ClassLaunchError
	}
	switch r.Code {
	case common.ExitSuccess:
		return ClassSuccess
	case common.ExitHandled:
		return ClassHandled
	case common.ExitNotAuthorized, common.ExitDismissed:
		return ClassUnauthorized
	default:
		return ClassFailure
	}
}

// Launcher starts the helper through a privilege-escalation launcher.
type Launcher struct {
	// Escalator is the launcher binary, e.g. "pkexec". Empty runs the
	// helper directly, which is what the helper's own tests and root
	// sessions use.
	Escalator string
	// Helper is the absolute path of the helper binary.
	Helper string

	logger common.Logger
}

// NewLauncher creates a launcher for helper.
func NewLauncher(escalator, helper string) *Launcher {
	return &Launcher{
		Escalator: escalator,
		Helper:    helper,
		logger:    common.GetLogger(),
	}
}

// SetLogger routes helper output and launch logs.
func (l *Launcher) SetLogger(logger common.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Command returns the program and argv that Start would execute.
func (l *Launcher) Command(args ...string) (string, []string) {
	if l.Escalator == "" {
		return l.Helper, args
	}
	return l.Escalator, append([]string{l.Helper}, args...)
}

// Start launches the helper and returns a channel that yields exactly one
// Result once the process exits. ctx is only consulted before launch: a
// privileged transaction is never interrupted once it has started.
func (l *Launcher) Start(ctx context.Context, args ...string) (<-chan Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.Escalator != "" {
		if _, err := exec.LookPath(l.Escalator); err != nil {
			return nil, fmt.Errorf("privilege launcher %s unavailable: %w", l.Escalator, err)
		}
	}
	if _, err := exec.LookPath(l.Helper); err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrHelperNotFound, l.Helper)
	}

	name, argv := l.Command(args...)
	cmd := exec.Command(name, argv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	l.logger.Info("Launching %s %s", name, strings.Join(argv, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	l.logger.Debug("Helper started with PID %d", cmd.Process.Pid)

	results := make(chan Result, 1)
	go func() {
		defer close(results)

		var wg sync.WaitGroup
		wg.Add(2)
		go l.monitorOutput(&wg, stdout)
		go l.monitorOutput(&wg, stderr)
		// Pipes must be drained before Wait closes them.
		wg.Wait()

		results <- resultOf(cmd.Wait())
	}()

	return results, nil
}

func resultOf(err error) Result {
	if err == nil {
		return Result{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Code: exitErr.ExitCode()}
	}
	return Result{Code: -1, Err: err}
}

// maxOutputLine bounds one logged line of helper output.
const maxOutputLine = 1024 * 1024

// monitorOutput forwards helper output to the log. The pipe is read to EOF
// whatever it carries, or the helper would block on a full pipe.
func (l *Launcher) monitorOutput(wg *sync.WaitGroup, pipe io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			l.logger.Debug("helper: %s", line)
		}
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warn("Helper output no longer logged: %v", err)
	}
	io.Copy(io.Discard, pipe)
}
