// Command pikman-apt-helper is the privileged half of Pikman Update Manager.
// It is launched through pkexec, performs one APT transaction and reports
// progress back to the front-end over the relay sockets it is given.
//
// Usage:
//
//	pikman-apt-helper update --percent-socket P --status-socket S
//	pikman-apt-helper full-upgrade --percent-socket P --status-socket S [--exclusions F]
//
// Exit status is 0 on success. When the failure was already reported over
// the relay the helper exits 53; any other status means the front-end has
// to explain the failure itself.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pikaos-linux/pikman-update-manager/apt"
	"github.com/pikaos-linux/pikman-update-manager/common"
	"github.com/pikaos-linux/pikman-update-manager/exclusions"
	"github.com/pikaos-linux/pikman-update-manager/relay"
)

const (
	cmdUpdate      = "update"
	cmdFullUpgrade = "full-upgrade"

	exitUsage = 2
	exitRelay = 1
)

// reporter is what the helper needs from the relay.
type reporter interface {
	apt.Reporter
	Succeeded() error
	Failed() error
}

// transaction runs one APT operation.
type transaction func(ctx context.Context, r *apt.Runner) error

type options struct {
	command    string
	endpoints  relay.Endpoints
	exclusions string
	bufferSize int
	verbose    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	level := common.LevelInfo
	if opts.verbose {
		level = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{Level: level, Tag: "helper"}); err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}
	defer common.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender := relay.NewSender(opts.endpoints)
	sender.SetMaxSize(opts.bufferSize)

	var tx transaction
	switch opts.command {
	case cmdUpdate:
		tx = func(ctx context.Context, r *apt.Runner) error {
			return r.Update(ctx)
		}
	case cmdFullUpgrade:
		tx = func(ctx context.Context, r *apt.Runner) error {
			var excluded []string
			if opts.exclusions != "" {
				var err error
				if excluded, err = exclusions.Read(opts.exclusions); err != nil {
					return err
				}
			}
			if len(excluded) > 0 {
				common.LogInfo("Excluding %d package(s) from the upgrade", len(excluded))
			}
			return r.FullUpgrade(ctx, excluded)
		}
	}

	if os.Geteuid() != 0 {
		tx = func(context.Context, *apt.Runner) error {
			return common.ErrRootRequired
		}
	}

	return execute(ctx, tx, sender, opts.bufferSize, common.GetLogger())
}

// execute runs tx and turns its result into relay messages and an exit
// status.
func execute(ctx context.Context, tx transaction, rep reporter, maxStatus int, logger common.Logger) int {
	err := tx(ctx, apt.NewRunner(rep, logger))
	if err == nil {
		if serr := rep.Succeeded(); serr != nil {
			// The transaction is done either way; exit 0 tells the
			// front-end even without the sentinel.
			logger.Warn("Failed to send success sentinel: %v", serr)
		}
		return common.ExitSuccess
	}

	logger.Error("Transaction failed: %v", err)
	if serr := rep.Status(relay.Truncate(err.Error(), maxStatus)); serr != nil {
		logger.Warn("Failed to send failure reason: %v", serr)
	}
	if serr := rep.Failed(); serr != nil {
		// Nobody heard about the failure, so do not claim it was handled.
		logger.Error("Failed to send failure sentinel: %v", serr)
		return exitRelay
	}
	return common.ExitHandled
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	if len(args) == 0 {
		printUsage(stderr)
		return options{}, errors.New("missing command")
	}

	opts := options{command: args[0]}
	switch opts.command {
	case cmdUpdate, cmdFullUpgrade:
	case "-h", "-help", "--help", "help":
		printUsage(stderr)
		return options{}, flag.ErrHelp
	default:
		printUsage(stderr)
		return options{}, fmt.Errorf("unknown command %q", opts.command)
	}

	fs := flag.NewFlagSet(opts.command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.endpoints.Percent, "percent-socket", "", "Relay socket for progress values")
	fs.StringVar(&opts.endpoints.Status, "status-socket", "", "Relay socket for status lines")
	fs.StringVar(&opts.exclusions, "exclusions", "", "JSON file listing packages to exclude")
	fs.IntVar(&opts.bufferSize, "buffer-size", common.DefaultReceiveBuffer, "Receive buffer of the relay, in bytes")
	fs.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")

	if err := fs.Parse(args[1:]); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.endpoints.Percent == "" || opts.endpoints.Status == "" {
		return options{}, errors.New("--percent-socket and --status-socket are required")
	}
	if opts.bufferSize <= 0 {
		return options{}, fmt.Errorf("invalid --buffer-size %d", opts.bufferSize)
	}
	return opts, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: pikman-apt-helper <command> [options]

Commands:
  update          Refresh the APT package lists
  full-upgrade    Upgrade all packages except the excluded ones

Options:
  --percent-socket PATH   Relay socket for progress values (required)
  --status-socket PATH    Relay socket for status lines (required)
  --exclusions PATH       Exclusion list (default: exclude nothing)
  --buffer-size N         Receive buffer of the relay (default %d)
  --verbose               Enable verbose logging
`, common.DefaultReceiveBuffer)
}
