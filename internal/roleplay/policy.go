package roleplay

import (
	"context"
	"errors"
	"fmt"

	"callcoach/internal/domain"
	"callcoach/internal/usecase"
)

// Kind names a family of roleplays that share call behavior.
type Kind string

const (
	KindPractice Kind = "practice"
	KindMarathon Kind = "marathon"
	KindAdvanced Kind = "advanced"
)

var ErrUnknownMode = errors.New("mode is not offered by this roleplay")

// Policy is the per-roleplay strategy that drives one SessionController.
// Methods must be called on the scheduler's loop.
type Policy interface {
	Kind() Kind
	RoleplayID() string
	InitializeModeSelection()
	StartCall(mode string) error
	ProcessUserInput(text string) error
	// Interrupt cuts the AI off mid-sentence and hands the turn to the user.
	Interrupt() bool
	OnCallEnd(forced bool) error
	Snapshot() domain.Snapshot
	Close()
}

// policy holds what every kind shares. Kinds differ in their hooks and in
// which helpers they attach to the controller.
type policy struct {
	kind  Kind
	ctrl  *usecase.SessionController
	modes []domain.ModeOption
}

func newPolicy(ctx context.Context, kind Kind, roleplayID string, deps usecase.Dependencies, hooks usecase.Hooks, opts usecase.Options) (*policy, error) {
	opts.RoleplayID = roleplayID
	opts.Hooks = hooks
	ctrl, err := usecase.NewSessionController(ctx, deps, opts)
	if err != nil {
		return nil, fmt.Errorf("create %s roleplay %q: %w", kind, roleplayID, err)
	}
	return &policy{kind: kind, ctrl: ctrl, modes: hooks.ModeOptions()}, nil
}

func (p *policy) Kind() Kind {
	return p.kind
}

func (p *policy) RoleplayID() string {
	return p.ctrl.RoleplayID()
}

func (p *policy) InitializeModeSelection() {
	p.ctrl.ReturnToModeSelection()
}

func (p *policy) StartCall(mode string) error {
	if !p.offers(mode) {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return p.ctrl.StartSession(mode)
}

func (p *policy) ProcessUserInput(text string) error {
	return p.ctrl.ProcessUserInput(text)
}

func (p *policy) Interrupt() bool {
	return p.ctrl.Turns().HandleInterruption()
}

func (p *policy) OnCallEnd(forced bool) error {
	return p.ctrl.EndSession(forced)
}

func (p *policy) Snapshot() domain.Snapshot {
	snap := p.ctrl.Snapshot()
	snap.Kind = string(p.kind)
	return snap
}

func (p *policy) Close() {
	p.ctrl.Shutdown()
}

func (p *policy) offers(mode string) bool {
	for _, option := range p.modes {
		if option.ID == mode {
			return true
		}
	}
	return false
}
