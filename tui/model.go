package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/pikaos-linux/pikman-update-manager/apt"
	"github.com/pikaos-linux/pikman-update-manager/common"
	"github.com/pikaos-linux/pikman-update-manager/flatpak"
	"github.com/pikaos-linux/pikman-update-manager/operation"
)

// mode is what the screen is currently doing.
type mode int

const (
	modeLoading mode = iota
	modeList
	modeRunning
	modeDone
)

// itemKind separates APT packages from Flatpak refs in the list.
type itemKind int

const (
	kindApt itemKind = iota
	kindFlatpak
)

// item is one row in the update list.
type item struct {
	kind    itemKind
	pkg     apt.Package
	ref     flatpak.Ref
	skipped bool
}

func (i item) title() string {
	if i.kind == kindFlatpak {
		return i.ref.Name
	}
	return i.pkg.Name
}

func (i item) detail() string {
	if i.kind == kindFlatpak {
		d := i.ref.Remote + " " + i.ref.Branch()
		if i.ref.Version != "" {
			d = i.ref.Version + " (" + d + ")"
		}
		return d
	}
	return i.pkg.Current + " → " + i.pkg.Candidate
}

// Styles contains all the styling for the TUI.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Cursor  lipgloss.Style
	Item    lipgloss.Style
	Skipped lipgloss.Style
	Detail  lipgloss.Style
	Status  lipgloss.Style
	Success lipgloss.Style
	Failed  lipgloss.Style
	Help    lipgloss.Style
}

// NewStyles creates the styling for theme ("auto", "light" or "dark").
func NewStyles(theme string) *Styles {
	switch theme {
	case common.ThemeLight:
		lipgloss.SetHasDarkBackground(false)
	case common.ThemeDark:
		lipgloss.SetHasDarkBackground(true)
	}

	accent := lipgloss.AdaptiveColor{Light: "#1a5fb4", Dark: "#62a0ea"}
	muted := lipgloss.AdaptiveColor{Light: "#77767b", Dark: "#9a9996"}

	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			MarginBottom(1),
		Section: lipgloss.NewStyle().
			Bold(true).
			Underline(true),
		Cursor: lipgloss.NewStyle().
			Foreground(accent).
			Bold(true),
		Item: lipgloss.NewStyle(),
		Skipped: lipgloss.NewStyle().
			Foreground(muted).
			Strikethrough(true),
		Detail: lipgloss.NewStyle().
			Foreground(muted),
		Status: lipgloss.NewStyle().
			Italic(true),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#26a269", Dark: "#57e389"}),
		Failed: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#c01c28", Dark: "#f66151"}),
		Help: lipgloss.NewStyle().
			Foreground(muted).
			MarginTop(1),
	}
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Refresh key.Binding
	Upgrade key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "skip/include")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Upgrade: key.NewBinding(key.WithKeys("u", "enter"), key.WithHelp("u", "upgrade")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.Refresh, k.Upgrade, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// Options tune the model.
type Options struct {
	// Exclusions are preselected as skipped.
	Exclusions     []string
	// IncludeFlatpak lists and updates Flatpak refs too.
	IncludeFlatpak bool
	Theme          string
}

// Model represents the TUI application state.
type Model struct {
	ctx  context.Context
	ctrl Controller
	opts Options

	mode     mode
	items    []item
	cursor   int
	width    int
	height   int
	quitting bool

	// The operation being followed and what follows it.
	run       RunHandle
	runName   string
	queue     []func() (RunHandle, error)
	fraction  float64
	status    string
	outcome   *operation.Outcome
	loadErr   error
	startErr  error
	completed []operation.Outcome

	progress progress.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap
	styles   *Styles
}

// NewModel creates a new TUI model.
func NewModel(ctx context.Context, ctrl Controller, opts Options) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		ctx:      ctx,
		ctrl:     ctrl,
		opts:     opts,
		mode:     modeLoading,
		progress: progress.New(progress.WithDefaultGradient()),
		spinner:  sp,
		help:     help.New(),
		keys:     defaultKeyMap(),
		styles:   NewStyles(opts.Theme),
	}
}

// excluded returns the names of skipped APT packages.
func (m *Model) excluded() []string {
	var names []string
	for _, it := range m.items {
		if it.kind == kindApt && it.skipped {
			names = append(names, it.pkg.Name)
		}
	}
	return common.NormalizeNames(names)
}

// selectedRefs returns the Flatpak refs that are not skipped.
func (m *Model) selectedRefs() []flatpak.Ref {
	var refs []flatpak.Ref
	for _, it := range m.items {
		if it.kind == kindFlatpak && !it.skipped {
			refs = append(refs, it.ref)
		}
	}
	return refs
}

func (m *Model) setItems(pkgs []apt.Package, refs []flatpak.Ref) {
	skip := map[string]bool{}
	for _, it := range m.items {
		if it.skipped {
			skip[it.title()] = true
		}
	}
	for _, name := range m.opts.Exclusions {
		skip[name] = true
	}

	m.items = m.items[:0]
	for _, p := range pkgs {
		m.items = append(m.items, item{kind: kindApt, pkg: p, skipped: skip[p.Name]})
	}
	for _, r := range refs {
		m.items = append(m.items, item{kind: kindFlatpak, ref: r, skipped: skip[r.Name]})
	}
	if m.cursor >= len(m.items) {
		m.cursor = max(len(m.items)-1, 0)
	}
}
