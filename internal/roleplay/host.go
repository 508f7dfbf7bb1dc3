package roleplay

import (
	"context"
	"errors"
	"sync"

	"callcoach/internal/domain"
)

var (
	ErrCallInProgress = errors.New("end the current call before switching roleplays")
	ErrNoRoleplay     = errors.New("no roleplay selected")
)

// Loop runs fn on the engine goroutine and waits for it.
type Loop interface {
	Do(ctx context.Context, fn func()) error
}

// Host owns the active policy and is safe to call from any goroutine. Every
// call is run on the engine loop.
type Host struct {
	ctx     context.Context
	loop    Loop
	factory *Factory

	// policy is only touched on the loop.
	policy Policy
	// snapshot is read by shells outside the loop.
	snapMu   sync.Mutex
	snapshot domain.Snapshot
}

func NewHost(ctx context.Context, loop Loop, factory *Factory) *Host {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Host{ctx: ctx, loop: loop, factory: factory}
}

// Open switches to roleplayID and shows its mode selection. It refuses while
// a call is active.
func (h *Host) Open(roleplayID string) error {
	return h.run(func() error {
		if h.policy != nil {
			if h.policy.Snapshot().State().Active() {
				return ErrCallInProgress
			}
			h.policy.Close()
			h.policy = nil
		}
		policy, err := h.factory.New(h.ctx, roleplayID)
		if err != nil {
			return err
		}
		h.policy = policy
		policy.InitializeModeSelection()
		return nil
	})
}

func (h *Host) StartCall(mode string) error {
	return h.withPolicy(func(p Policy) error { return p.StartCall(mode) })
}

func (h *Host) Submit(text string) error {
	return h.withPolicy(func(p Policy) error { return p.ProcessUserInput(text) })
}

func (h *Host) Interrupt() error {
	return h.withPolicy(func(p Policy) error {
		p.Interrupt()
		return nil
	})
}

func (h *Host) EndCall() error {
	return h.withPolicy(func(p Policy) error { return p.OnCallEnd(true) })
}

func (h *Host) BackToModes() error {
	return h.withPolicy(func(p Policy) error {
		p.InitializeModeSelection()
		return nil
	})
}

// Close silences the active policy.
func (h *Host) Close() error {
	return h.run(func() error {
		if h.policy != nil {
			h.policy.Close()
			h.policy = nil
		}
		return nil
	})
}

// Snapshot is the engine view as of the last host call. Refresh updates it
// from the loop.
func (h *Host) Snapshot() domain.Snapshot {
	h.snapMu.Lock()
	defer h.snapMu.Unlock()
	return h.snapshot
}

func (h *Host) Refresh() (domain.Snapshot, error) {
	err := h.run(func() error { return nil })
	return h.Snapshot(), err
}

func (h *Host) withPolicy(fn func(Policy) error) error {
	return h.run(func() error {
		if h.policy == nil {
			return ErrNoRoleplay
		}
		return fn(h.policy)
	})
}

func (h *Host) run(fn func() error) error {
	var result error
	err := h.loop.Do(h.ctx, func() {
		result = fn()
		h.storeSnapshot()
	})
	if err != nil {
		return err
	}
	return result
}

func (h *Host) storeSnapshot() {
	var snap domain.Snapshot
	if h.policy != nil {
		snap = h.policy.Snapshot()
	}
	h.snapMu.Lock()
	h.snapshot = snap
	h.snapMu.Unlock()
}
