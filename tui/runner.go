package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pikaos-linux/pikman-update-manager/operation"
)

// Run starts the TUI and blocks until the user quits. It returns the
// outcomes of the operations run during the session.
func Run(ctx context.Context, ctrl Controller, opts Options) ([]operation.Outcome, error) {
	model := NewModel(ctx, ctrl, opts)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	final, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("terminal UI failed: %w", err)
	}
	if fm, ok := final.(*Model); ok {
		return fm.completed, nil
	}
	return model.completed, nil
}
