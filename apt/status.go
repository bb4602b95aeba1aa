package apt

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusKind is the type of an APT status-fd line.
type StatusKind int

const (
	// StatusDownload is a "dlstatus" line from the acquire phase.
	StatusDownload StatusKind = iota
	// StatusInstall is a "pmstatus" line from dpkg.
	StatusInstall
	// StatusError is a "pmerror" line.
	StatusError
	// StatusConffile is a "pmconffile" prompt.
	StatusConffile
)

// String returns the status-fd prefix for the kind.
func (k StatusKind) String() string {
	switch k {
	case StatusDownload:
		return "dlstatus"
	case StatusInstall:
		return "pmstatus"
	case StatusError:
		return "pmerror"
	case StatusConffile:
		return "pmconffile"
	default:
		return "unknown"
	}
}

// StatusLine is one parsed line of APT's status-fd output.
//
//	dlstatus:<item>:<percent>:<description>
//	pmstatus:<package>:<percent>:<description>
//	pmerror:<package>:<percent>:<message>
type StatusLine struct {
	Kind    StatusKind
	Package string
	Percent float64
	Text    string
}

// ParseStatusLine parses a single status-fd line. The description may
// itself contain colons, and on multiarch systems so may the package
// ("libc6:amd64").
func ParseStatusLine(line string) (StatusLine, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 4 {
		return StatusLine{}, fmt.Errorf("malformed status line %q", line)
	}
	if parts[0] != "pmconffile" && !isNumber(parts[2]) {
		if arch := strings.SplitN(line, ":", 5); len(arch) == 5 && isNumber(arch[3]) {
			parts = []string{arch[0], arch[1] + ":" + arch[2], arch[3], arch[4]}
		}
	}

	var kind StatusKind
	switch parts[0] {
	case "dlstatus":
		kind = StatusDownload
	case "pmstatus":
		kind = StatusInstall
	case "pmerror":
		kind = StatusError
	case "pmconffile":
		kind = StatusConffile
	default:
		return StatusLine{}, fmt.Errorf("unknown status line type %q", parts[0])
	}

	// pmconffile carries file names where the percent would be.
	var percent float64
	if kind != StatusConffile {
		p, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return StatusLine{}, fmt.Errorf("bad percent in status line %q: %w", line, err)
		}
		percent = min(max(p, 0), 100)
	}

	return StatusLine{
		Kind:    kind,
		Package: parts[1],
		Percent: percent,
		Text:    strings.TrimSpace(parts[3]),
	}, nil
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// Phase is a weighted slice of the overall progress bar.
type Phase struct {
	Kind   StatusKind
	Start  float64
	Weight float64
}

var (
	// UpdatePhases maps "apt-get update" onto the whole bar.
	UpdatePhases = []Phase{{Kind: StatusDownload, Start: 0, Weight: 100}}
	// UpgradePhases gives downloads the first 40% and dpkg the rest.
	UpgradePhases = []Phase{
		{Kind: StatusDownload, Start: 0, Weight: 40},
		{Kind: StatusInstall, Start: 40, Weight: 60},
	}
)

// Progress folds phase-local percentages into one monotonic overall
// percentage. APT restarts dlstatus at zero for each source, so the result
// never moves backwards.
type Progress struct {
	phases  []Phase
	overall float64
}

// NewProgress creates a Progress over phases.
func NewProgress(phases []Phase) *Progress {
	return &Progress{phases: phases}
}

// Update applies a status line and reports the overall percentage and
// whether it changed.
func (p *Progress) Update(s StatusLine) (float64, bool) {
	for _, ph := range p.phases {
		if ph.Kind != s.Kind {
			continue
		}
		v := ph.Start + s.Percent*ph.Weight/100
		if v <= p.overall {
			return p.overall, false
		}
		p.overall = v
		return v, true
	}
	return p.overall, false
}

// Overall returns the current overall percentage.
func (p *Progress) Overall() float64 {
	return p.overall
}
