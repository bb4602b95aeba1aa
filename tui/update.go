package tui

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pikaos-linux/pikman-update-manager/apt"
	"github.com/pikaos-linux/pikman-update-manager/flatpak"
	"github.com/pikaos-linux/pikman-update-manager/operation"
)

// listLoadedMsg carries the pending updates.
type listLoadedMsg struct {
	pkgs []apt.Package
	refs []flatpak.Ref
	err  error
}

// runStartedMsg reports that an operation was launched, or why not.
type runStartedMsg struct {
	name string
	run  RunHandle
	err  error
}

// eventMsg wraps one operation event for the tea framework.
type eventMsg struct {
	event operation.Event
}

// runDoneMsg is sent once the event stream of a run is closed.
type runDoneMsg struct {
	outcome operation.Outcome
}

// Init implements bubbletea.Model.Init.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadList())
}

// Update implements bubbletea.Model.Update.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(min(msg.Width-4, 80), 10)
		m.help.Width = msg.Width
		return m, nil

	case listLoadedMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.setItems(msg.pkgs, msg.refs)
		}
		if m.mode == modeLoading {
			m.mode = modeList
		}
		return m, nil

	case runStartedMsg:
		if msg.err != nil {
			m.startErr = msg.err
			m.queue = nil
			m.mode = modeDone
			return m, nil
		}
		m.run = msg.run
		m.runName = msg.name
		m.fraction = 0
		m.status = ""
		m.outcome = nil
		m.mode = modeRunning
		return m, tea.Batch(waitForEvent(msg.run), m.progress.SetPercent(0))

	case eventMsg:
		return m, tea.Batch(m.applyEvent(msg.event), waitForEvent(m.run))

	case runDoneMsg:
		outcome := msg.outcome
		m.outcome = &outcome
		m.completed = append(m.completed, outcome)
		m.run = nil

		if outcome.State == operation.StateSucceeded && len(m.queue) > 0 {
			next := m.queue[0]
			m.queue = m.queue[1:]
			return m, startRun(next)
		}
		m.queue = nil
		m.mode = modeDone
		// The list is stale after any run.
		return m, m.loadList()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		if p, ok := pm.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd
	}

	return m, nil
}

func (m *Model) applyEvent(e operation.Event) tea.Cmd {
	switch e.Kind {
	case operation.EventProgress:
		m.fraction = e.Fraction
		return m.progress.SetPercent(e.Fraction)
	case operation.EventStatus:
		m.status = e.Text
	case operation.EventSucceeded:
		m.fraction = 1
		return m.progress.SetPercent(1)
	case operation.EventFailed:
		m.status = e.Text
	}
	return nil
}

// handleKeyPress processes keyboard input.
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		// A privileged transaction cannot be stopped, so q only leaves
		// once it is over. ctrl+c always quits; the helper keeps going.
		if m.mode == modeRunning && msg.String() != "ctrl+c" {
			m.status = "An operation is running; it will finish even if you press ctrl+c"
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	if m.mode == modeRunning || m.mode == modeLoading {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Toggle):
		if m.cursor < len(m.items) {
			m.items[m.cursor].skipped = !m.items[m.cursor].skipped
		}
	case key.Matches(msg, m.keys.Refresh):
		m.startErr = nil
		return m, startRun(func() (RunHandle, error) { return m.ctrl.CheckUpdates(m.ctx) })
	case key.Matches(msg, m.keys.Upgrade):
		return m, m.startUpgrade()
	}
	return m, nil
}

// startUpgrade runs the APT upgrade and then, if it succeeded, the Flatpak
// update of the selected refs.
func (m *Model) startUpgrade() tea.Cmd {
	m.startErr = nil
	excluded := m.excluded()
	refs := m.selectedRefs()

	m.queue = nil
	if m.opts.IncludeFlatpak && len(refs) > 0 {
		m.queue = append(m.queue, func() (RunHandle, error) { return m.ctrl.UpdateFlatpaks(m.ctx, refs) })
	}
	return startRun(func() (RunHandle, error) { return m.ctrl.Upgrade(m.ctx, excluded) })
}

func (m *Model) loadList() tea.Cmd {
	ctx, ctrl, withFlatpak := m.ctx, m.ctrl, m.opts.IncludeFlatpak
	return func() tea.Msg {
		pkgs, err := ctrl.Upgradable(ctx)
		if err != nil {
			return listLoadedMsg{err: err}
		}
		var refs []flatpak.Ref
		if withFlatpak {
			refs, err = ctrl.FlatpakUpdates(ctx)
			if err != nil {
				return listLoadedMsg{err: err}
			}
		}
		return listLoadedMsg{pkgs: pkgs, refs: refs}
	}
}

func startRun(start func() (RunHandle, error)) tea.Cmd {
	return func() tea.Msg {
		run, err := start()
		if err != nil {
			return runStartedMsg{err: err}
		}
		name := ""
		if n, ok := run.(interface{ Name() string }); ok {
			name = n.Name()
		}
		return runStartedMsg{name: name, run: run}
	}
}

// waitForEvent blocks on the next event of run. It keeps the stream
// drained for as long as the run is followed.
func waitForEvent(run RunHandle) tea.Cmd {
	if run == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-run.Events()
		if !ok {
			return runDoneMsg{outcome: run.Wait()}
		}
		return eventMsg{event: e}
	}
}
