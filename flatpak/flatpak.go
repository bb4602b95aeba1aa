// Package flatpak lists and applies Flatpak updates. Flatpak is driven as
// an opaque command; nothing here needs root since updates run against
// the installation the ref lives in.
package flatpak

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// Installation names.
const (
	System = "system"
	User   = "user"
)

// listColumns is what ListUpdates asks remote-ls for, in order.
const listColumns = "ref,name,version,origin,download-size"

// Ref is one Flatpak ref with an update available.
type Ref struct {
	Ref          string
	Name         string
	Version      string
	Remote       string
	DownloadSize string
	Installation string
}

// Kind is "app" or "runtime".
func (r Ref) Kind() string {
	kind, _, _ := strings.Cut(r.Ref, "/")
	return kind
}

// ID is the application or runtime ID, e.g. org.mozilla.firefox.
func (r Ref) ID() string {
	return r.part(1)
}

// Arch is the architecture part of the ref.
func (r Ref) Arch() string {
	return r.part(2)
}

// Branch is the branch part of the ref.
func (r Ref) Branch() string {
	return r.part(3)
}

func (r Ref) part(i int) string {
	parts := strings.Split(r.Ref, "/")
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

// ParseUpdates parses tab-separated "flatpak remote-ls --updates" output
// produced with listColumns.
func ParseUpdates(r io.Reader, installation string) ([]Ref, error) {
	var refs []Ref
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 || strings.Count(fields[0], "/") != 3 {
			continue
		}
		ref := Ref{
			Ref:          strings.TrimSpace(fields[0]),
			Name:         strings.TrimSpace(fields[1]),
			Version:      strings.TrimSpace(fields[2]),
			Remote:       strings.TrimSpace(fields[3]),
			Installation: installation,
		}
		if len(fields) > 4 {
			ref.DownloadSize = strings.TrimSpace(fields[4])
		}
		if ref.Name == "" {
			ref.Name = ref.ID()
		}
		refs = append(refs, ref)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read flatpak output: %w", err)
	}
	return refs, nil
}

// Client runs the flatpak binary.
type Client struct {
	// Binary is the flatpak executable.
	Binary string
	logger common.Logger
}

// NewClient returns a client for the flatpak on PATH.
func NewClient(logger common.Logger) *Client {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Client{Binary: "flatpak", logger: logger}
}

// Available reports whether flatpak is installed.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.Binary)
	return err == nil
}

// ListUpdates lists pending updates in the system and user installations.
// A missing user installation is not an error.
func (c *Client) ListUpdates(ctx context.Context) ([]Ref, error) {
	var all []Ref
	for _, inst := range []string{System, User} {
		cmd := c.command(ctx, "remote-ls", "--updates", "--"+inst, "--columns="+listColumns)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			if inst == User {
				c.logger.Debug("flatpak user installation: %v: %s", err, strings.TrimSpace(stderr.String()))
				continue
			}
			return nil, fmt.Errorf("flatpak remote-ls --%s: %w: %s", inst, err, strings.TrimSpace(stderr.String()))
		}
		refs, err := ParseUpdates(bytes.NewReader(out), inst)
		if err != nil {
			return nil, err
		}
		all = append(all, refs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Installation != all[j].Installation {
			return all[i].Installation < all[j].Installation
		}
		return all[i].Ref < all[j].Ref
	})
	return all, nil
}

// Reporter receives update progress. It matches apt.Reporter.
type Reporter interface {
	Percent(p float64) error
	Status(text string) error
}

// Update updates refs, grouped by installation. An empty refs slice
// updates everything in both installations.
func (c *Client) Update(ctx context.Context, refs []Ref, rep Reporter) error {
	groups := map[string][]string{}
	if len(refs) == 0 {
		groups[System] = nil
		groups[User] = nil
	}
	for _, r := range refs {
		inst := r.Installation
		if inst == "" {
			inst = System
		}
		groups[inst] = append(groups[inst], r.Ref)
	}

	insts := make([]string, 0, len(groups))
	for inst := range groups {
		insts = append(insts, inst)
	}
	sort.Strings(insts)

	for i, inst := range insts {
		// Each installation gets an equal share of the bar.
		share := progressShare{start: float64(i) * 100 / float64(len(insts)), width: 100 / float64(len(insts))}
		if err := c.update(ctx, inst, groups[inst], rep, share); err != nil {
			return err
		}
	}
	report(rep, c.logger, 100, "")
	return nil
}

type progressShare struct {
	start, width float64
}

func (s progressShare) scale(p float64) float64 {
	return s.start + p*s.width/100
}

func (c *Client) update(ctx context.Context, inst string, refs []string, rep Reporter, share progressShare) error {
	args := append([]string{"update", "--noninteractive", "-y", "--" + inst}, refs...)
	cmd := c.command(ctx, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	c.logger.Info("Running %s %s", c.Binary, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start flatpak: %w", err)
	}

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		lastErr string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tracker := &Progress{}
		scanner := bufio.NewScanner(stdout)
		scanner.Split(ScanProgressLines)
		for scanner.Scan() {
			line := scanner.Text()
			c.logger.Debug("flatpak: %s", line)
			if p, status, ok := tracker.Parse(line); ok {
				report(rep, c.logger, share.scale(p), status)
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			c.logger.Debug("flatpak: %s", line)
			if strings.HasPrefix(line, "error:") || strings.HasPrefix(line, "Error:") {
				errMu.Lock()
				lastErr = line
				errMu.Unlock()
			}
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if lastErr != "" {
			return errors.New(lastErr)
		}
		return fmt.Errorf("flatpak update --%s: %w", inst, err)
	}
	return nil
}

func (c *Client) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	return cmd
}

func report(rep Reporter, logger common.Logger, p float64, status string) {
	if rep == nil {
		return
	}
	if err := rep.Percent(p); err != nil {
		logger.Warn("Failed to report progress: %v", err)
	}
	if status != "" {
		if err := rep.Status(status); err != nil {
			logger.Warn("Failed to report status: %v", err)
		}
	}
}

var (
	stepRe    = regexp.MustCompile(`^(?:Updating|Installing)\s+(\d+)/(\d+)`)
	percentRe = regexp.MustCompile(`(\d{1,3})%`)
	refRe     = regexp.MustCompile(`^(?:Updating|Installing)\s+((?:app|runtime)/\S+|[\w.-]+/\S+/\S+)`)
)

// Progress turns "flatpak update --noninteractive" output into overall
// progress. Output looks like:
//
//	Updating org.mozilla.firefox/x86_64/stable
//	Updating 1/3… ████▌                 25%  1.2 MB/s  00:10
type Progress struct {
	step, steps int
	current     string
	last        float64
}

// Parse consumes a line and reports the overall percentage and a status
// line when the line carried progress.
func (p *Progress) Parse(line string) (float64, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return p.last, "", false
	}

	if m := stepRe.FindStringSubmatch(line); m != nil {
		step, _ := strconv.Atoi(m[1])
		steps, _ := strconv.Atoi(m[2])
		if steps <= 0 || step <= 0 || step > steps {
			return p.last, "", false
		}

		inner := 0.0
		if pm := percentRe.FindStringSubmatch(line[len(m[0]):]); pm != nil {
			v, _ := strconv.Atoi(pm[1])
			inner = float64(min(v, 100))
		}
		overall := (float64(step-1)*100 + inner) / float64(steps)
		if overall < p.last {
			overall = p.last
		}

		status := ""
		if step != p.step || steps != p.steps {
			status = fmt.Sprintf("Updating %d of %d", step, steps)
			if p.current != "" {
				status += ": " + p.current
			}
		}
		p.step, p.steps, p.last = step, steps, overall
		return overall, status, true
	}

	if m := refRe.FindStringSubmatch(line); m != nil {
		p.current = m[1]
		return p.last, "", false
	}
	return p.last, "", false
}

// ScanProgressLines is a bufio.SplitFunc that treats both \n and \r as
// line ends, since flatpak redraws its progress bar with carriage returns.
func ScanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
