// Package cli provides command-line interface functionality for Pikman
// Update Manager. It runs the same operations as the terminal UI but prints
// plain progress lines, so it works in scripts and over ssh.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pikaos-linux/pikman-update-manager/apt"
	"github.com/pikaos-linux/pikman-update-manager/flatpak"
	"github.com/pikaos-linux/pikman-update-manager/history"
	"github.com/pikaos-linux/pikman-update-manager/operation"
	"github.com/pikaos-linux/pikman-update-manager/updater"
)

// Run is an operation being followed.
type Run interface {
	Events() <-chan operation.Event
	Wait() operation.Outcome
}

// Manager is the part of updater.Manager the CLI drives.
type Manager interface {
	CheckUpdates(ctx context.Context) (Run, error)
	Upgrade(ctx context.Context, excluded []string) (Run, error)
	UpdateFlatpaks(ctx context.Context, refs []flatpak.Ref) (Run, error)
	Upgradable(ctx context.Context) ([]apt.Package, error)
	FlatpakUpdates(ctx context.Context) ([]flatpak.Ref, error)
	History(ctx context.Context, limit int) ([]history.Record, error)
}

// CLI represents the command-line interface.
type CLI struct {
	manager Manager
	out     io.Writer
	tty     bool

	ok   lipgloss.Style
	fail lipgloss.Style
	dim  lipgloss.Style
}

// New creates a CLI printing to out. tty enables in-place progress lines.
func New(m Manager, out io.Writer, tty bool) *CLI {
	r := lipgloss.NewRenderer(out)
	return &CLI{
		manager: m,
		out:     out,
		tty:     tty,
		ok:      r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#26a269", Dark: "#57e389"}),
		fail:    r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#c01c28", Dark: "#f66151"}),
		dim:     r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#77767b", Dark: "#9a9996"}),
	}
}

// FromManager adapts an updater.Manager.
func FromManager(m *updater.Manager) Manager {
	return managerAdapter{m}
}

type managerAdapter struct {
	*updater.Manager
}

func (a managerAdapter) CheckUpdates(ctx context.Context) (Run, error) {
	return wrap(a.Manager.CheckUpdates(ctx))
}

func (a managerAdapter) Upgrade(ctx context.Context, excluded []string) (Run, error) {
	return wrap(a.Manager.Upgrade(ctx, excluded))
}

func (a managerAdapter) UpdateFlatpaks(ctx context.Context, refs []flatpak.Ref) (Run, error) {
	return wrap(a.Manager.UpdateFlatpaks(ctx, refs))
}

func wrap(r *updater.Run, err error) (Run, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

// List prints the pending APT upgrades and, if withFlatpak, Flatpak updates.
func (c *CLI) List(ctx context.Context, excluded []string, withFlatpak bool) error {
	pkgs, err := c.manager.Upgradable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list upgradable packages: %w", err)
	}

	skip := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		skip[name] = true
	}

	if len(pkgs) == 0 {
		fmt.Fprintln(c.out, "No package upgrades available.")
	} else {
		w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PACKAGE\tINSTALLED\tCANDIDATE\tORIGIN\tEXCLUDED")
		fmt.Fprintln(w, "-------\t---------\t---------\t------\t--------")
		for _, p := range pkgs {
			excludedMark := "No"
			if skip[p.Name] {
				excludedMark = "Yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				p.Name, orDash(p.Current), p.Candidate, orDash(p.Origin), excludedMark)
		}
		w.Flush()
	}

	if !withFlatpak {
		return nil
	}

	refs, err := c.manager.FlatpakUpdates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list Flatpak updates: %w", err)
	}
	fmt.Fprintln(c.out)
	if len(refs) == 0 {
		fmt.Fprintln(c.out, "No Flatpak updates available.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "APPLICATION\tBRANCH\tREMOTE\tINSTALLATION\tSIZE")
	fmt.Fprintln(w, "-----------\t------\t------\t------------\t----")
	for _, r := range refs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Branch(), orDash(r.Remote), r.Installation, orDash(r.DownloadSize))
	}
	w.Flush()
	return nil
}

// CheckUpdates refreshes the package lists.
func (c *CLI) CheckUpdates(ctx context.Context) error {
	run, err := c.manager.CheckUpdates(ctx)
	if err != nil {
		return err
	}
	return c.follow(updater.OpAptUpdate, run)
}

// Upgrade upgrades the system without the excluded packages and then, if
// withFlatpak, updates all Flatpak refs.
func (c *CLI) Upgrade(ctx context.Context, excluded []string, withFlatpak bool) error {
	if len(excluded) > 0 {
		fmt.Fprintf(c.out, "Excluding: %s\n", strings.Join(excluded, ", "))
	}

	run, err := c.manager.Upgrade(ctx, excluded)
	if err != nil {
		return err
	}
	if err := c.follow(updater.OpAptUpgrade, run); err != nil {
		return err
	}

	if !withFlatpak {
		return nil
	}
	return c.UpdateFlatpaks(ctx)
}

// UpdateFlatpaks updates every installed Flatpak ref.
func (c *CLI) UpdateFlatpaks(ctx context.Context) error {
	run, err := c.manager.UpdateFlatpaks(ctx, nil)
	if err != nil {
		return err
	}
	return c.follow(updater.OpFlatpakUpdate, run)
}

// History prints the most recent runs.
func (c *CLI) History(ctx context.Context, limit int) error {
	records, err := c.manager.History(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tOPERATION\tRESULT\tDURATION\tDETAILS")
	fmt.Fprintln(w, "--------\t---------\t------\t--------\t-------")
	for _, r := range records {
		details := r.Reason
		if details == "" && len(r.Excluded) > 0 {
			details = "excluded " + strings.Join(r.Excluded, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Finished.Local().Format("2006-01-02 15:04"),
			updater.Title(r.Operation), r.State, formatDuration(r.Duration()), orDash(details))
	}
	w.Flush()
	return nil
}

// follow prints the events of run until it ends and returns its error.
func (c *CLI) follow(op string, run Run) error {
	fmt.Fprintf(c.out, "%s...\n", updater.Title(op))

	var (
		fraction float64
		status   string
	)
	for e := range run.Events() {
		switch e.Kind {
		case operation.EventProgress:
			fraction = e.Fraction
			if c.tty {
				c.redraw(fraction, status)
			}
		case operation.EventStatus:
			status = e.Text
			if c.tty {
				c.redraw(fraction, status)
			} else {
				fmt.Fprintf(c.out, "[%3.0f%%] %s\n", fraction*100, status)
			}
		}
	}
	if c.tty {
		// Leave the in-place line.
		fmt.Fprint(c.out, "\r\033[K")
	}

	outcome := run.Wait()
	if outcome.State == operation.StateSucceeded {
		fmt.Fprintln(c.out, c.ok.Render(fmt.Sprintf("✓ %s finished in %s",
			updater.Title(op), formatDuration(outcome.Duration()))))
		return nil
	}
	fmt.Fprintln(c.out, c.fail.Render(fmt.Sprintf("✗ %s failed: %s", updater.Title(op), outcome.Reason)))
	return outcome.Err()
}

const barWidth = 30

func (c *CLI) redraw(fraction float64, status string) {
	filled := int(fraction * barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	if r := []rune(status); len(r) > 60 {
		status = string(r[:57]) + "..."
	}
	fmt.Fprintf(c.out, "\r\033[K%s %3.0f%% %s", bar, fraction*100, c.dim.Render(status))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, `Pikman Update Manager - keep PikaOS up to date

Usage:
  pikman-update-manager [OPTIONS]

Options:
  --version           Show version and exit
  --verbose           Enable verbose logging
  --check             Refresh the package lists
  --list              List available upgrades
  --upgrade           Upgrade the system
  --exclude PKG,...   Packages to leave out of the upgrade
  --flatpak           Also update Flatpak applications
  --history           Show recent runs
  --help              Show this help message

Examples:
  pikman-update-manager --check --list
  pikman-update-manager --upgrade --exclude firefox,thunderbird
  pikman-update-manager --upgrade --flatpak
  pikman-update-manager --history

Notes:
  - Package operations ask for authorization through pkexec
  - Run without options in a terminal to open the interactive view`)
}
