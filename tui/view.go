package tui

import (
	"fmt"
	"strings"

	"github.com/pikaos-linux/pikman-update-manager/common"
	"github.com/pikaos-linux/pikman-update-manager/operation"
	"github.com/pikaos-linux/pikman-update-manager/updater"
)

// View implements bubbletea.Model.View.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render(common.AppName))
	b.WriteString("\n")

	switch m.mode {
	case modeLoading:
		fmt.Fprintf(&b, "%s Looking for updates...\n", m.spinner.View())
		return b.String()
	case modeRunning:
		m.renderRun(&b)
		return b.String()
	}

	if m.mode == modeDone {
		m.renderOutcome(&b)
	}
	if m.loadErr != nil {
		b.WriteString(m.styles.Failed.Render("Could not list updates: " + m.loadErr.Error()))
		b.WriteString("\n")
	}
	m.renderList(&b)

	b.WriteString(m.styles.Help.Render(m.help.View(m.keys)))
	return b.String()
}

func (m *Model) renderRun(b *strings.Builder) {
	name := "Working"
	if m.runName != "" {
		name = updater.Title(m.runName)
	}
	fmt.Fprintf(b, "%s %s\n\n", m.spinner.View(), name)
	b.WriteString(m.progress.View())
	b.WriteString("\n\n")
	if m.status != "" {
		b.WriteString(m.styles.Status.Render(m.status))
		b.WriteString("\n")
	}
}

func (m *Model) renderOutcome(b *strings.Builder) {
	if m.startErr != nil {
		b.WriteString(m.styles.Failed.Render("✗ Could not start: " + m.startErr.Error()))
		b.WriteString("\n\n")
		return
	}
	if m.outcome == nil {
		return
	}
	if m.outcome.State == operation.StateSucceeded {
		b.WriteString(m.styles.Success.Render("✓ " + updater.Title(m.outcome.Operation) + " finished"))
	} else {
		b.WriteString(m.styles.Failed.Render("✗ " + updater.Title(m.outcome.Operation) + " failed: " + m.outcome.Reason))
	}
	b.WriteString("\n\n")
}

func (m *Model) renderList(b *strings.Builder) {
	if len(m.items) == 0 {
		b.WriteString(m.styles.Success.Render("Your system is up to date."))
		b.WriteString("\n")
		return
	}

	section := itemKind(-1)
	for i, it := range m.items {
		if it.kind != section {
			section = it.kind
			title := "APT packages"
			if section == kindFlatpak {
				title = "Flatpak"
			}
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(m.styles.Section.Render(title))
			b.WriteString("\n")
		}

		cursor := "  "
		if i == m.cursor {
			cursor = m.styles.Cursor.Render("> ")
		}
		check := "[x]"
		name := m.styles.Item.Render(it.title())
		if it.skipped {
			check = "[ ]"
			name = m.styles.Skipped.Render(it.title())
		}
		fmt.Fprintf(b, "%s%s %s %s\n", cursor, check, name, m.styles.Detail.Render(it.detail()))
	}

	skipped := 0
	for _, it := range m.items {
		if it.skipped {
			skipped++
		}
	}
	fmt.Fprintf(b, "\n%d update(s), %d skipped\n", len(m.items), skipped)
}
