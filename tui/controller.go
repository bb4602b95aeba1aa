package tui

import (
	"context"

	"github.com/pikaos-linux/pikman-update-manager/apt"
	"github.com/pikaos-linux/pikman-update-manager/flatpak"
	"github.com/pikaos-linux/pikman-update-manager/operation"
	"github.com/pikaos-linux/pikman-update-manager/updater"
)

// RunHandle is an operation the model can follow.
type RunHandle interface {
	Events() <-chan operation.Event
	Wait() operation.Outcome
}

// Controller is what the model needs from the update manager.
type Controller interface {
	CheckUpdates(ctx context.Context) (RunHandle, error)
	Upgrade(ctx context.Context, excluded []string) (RunHandle, error)
	UpdateFlatpaks(ctx context.Context, refs []flatpak.Ref) (RunHandle, error)
	Upgradable(ctx context.Context) ([]apt.Package, error)
	FlatpakUpdates(ctx context.Context) ([]flatpak.Ref, error)
}

// NewController adapts an updater.Manager.
func NewController(m *updater.Manager) Controller {
	return managerController{m}
}

type managerController struct {
	m *updater.Manager
}

func (c managerController) CheckUpdates(ctx context.Context) (RunHandle, error) {
	return wrap(c.m.CheckUpdates(ctx))
}

func (c managerController) Upgrade(ctx context.Context, excluded []string) (RunHandle, error) {
	return wrap(c.m.Upgrade(ctx, excluded))
}

func (c managerController) UpdateFlatpaks(ctx context.Context, refs []flatpak.Ref) (RunHandle, error) {
	return wrap(c.m.UpdateFlatpaks(ctx, refs))
}

func (c managerController) Upgradable(ctx context.Context) ([]apt.Package, error) {
	return c.m.Upgradable(ctx)
}

func (c managerController) FlatpakUpdates(ctx context.Context) ([]flatpak.Ref, error) {
	return c.m.FlatpakUpdates(ctx)
}

// wrap keeps a nil *updater.Run from turning into a non-nil interface.
func wrap(r *updater.Run, err error) (RunHandle, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}
