package usecase

import (
	"testing"
	"time"

	"callcoach/internal/domain"
)

func TestRecoveryResumesMatchingSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withRecovery())
	h.gateway.replies = []respondReply{{err: errNetwork}}
	h.gateway.active = []domain.ActiveSessionInfo{{Active: true, SessionID: "sess-1", RoleplayID: "1.1"}}
	h.connect(t, "practice")
	h.say(t, "hello")

	if h.gateway.activeCalls != 1 {
		t.Fatalf("expected one probe, got %d", h.gateway.activeCalls)
	}
	last := h.sink.states[len(h.sink.states)-1]
	if last.status != "Reconnected" || last.state != domain.CallStateConnected {
		t.Fatalf("unexpected status: %+v", last)
	}
	if !h.ctrl.Turns().Listening() {
		t.Fatalf("expected user turn after recovery")
	}
	if h.gateway.startCalls != 1 {
		t.Fatalf("recovery restarted the call")
	}
}

func TestRecoveryIsBoundedAndForcesModeSelection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withRecovery())
	h.gateway.replies = []respondReply{{err: domain.ErrSessionLost}}
	h.connect(t, "practice")
	h.say(t, "hello")

	if h.gateway.activeCalls != 1 {
		t.Fatalf("expected first probe, got %d", h.gateway.activeCalls)
	}
	if err := h.ctrl.ProcessUserInput("are you there"); err == nil {
		t.Fatalf("expected input refused while recovering")
	}

	h.sched.advance(2 * time.Second)
	h.sched.advance(2 * time.Second)
	if h.gateway.activeCalls != 3 {
		t.Fatalf("expected three probes, got %d", h.gateway.activeCalls)
	}
	if got := h.ctrl.recovery.Attempts(); got.Count != 3 || got.Count > got.Max {
		t.Fatalf("unexpected attempt count: %+v", got)
	}

	h.sched.advance(2 * time.Second)
	if h.gateway.activeCalls != 3 {
		t.Fatalf("fourth attempt reached the server")
	}
	if h.sink.modeSelections != 1 || h.ctrl.Snapshot().Session != nil {
		t.Fatalf("expected forced mode selection")
	}
	if got := h.sink.lastError(t); got.code != domain.ErrorCodeRecovery {
		t.Fatalf("expected recovery error, got %+v", got)
	}
}

func TestRecoveryCountResetsAfterSuccessfulRespond(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withRecovery())
	h.gateway.replies = []respondReply{
		{err: errNetwork},
		{result: domain.RespondResult{CallContinues: true}},
		{err: errNetwork},
	}
	h.gateway.active = []domain.ActiveSessionInfo{{Active: true}}
	h.connect(t, "practice")

	h.say(t, "one")
	h.say(t, "two")
	if got := h.ctrl.recovery.Attempts().Count; got != 0 {
		t.Fatalf("expected reset after success, got %d", got)
	}
	h.say(t, "three")
	if got := h.ctrl.recovery.Attempts().Count; got != 1 {
		t.Fatalf("expected a fresh attempt, got %d", got)
	}
}

func TestRecoveryProbeForOtherRoleplayFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withRecovery())
	h.gateway.replies = []respondReply{{err: errNetwork}}
	h.gateway.active = []domain.ActiveSessionInfo{{Active: true, RoleplayID: "2.1"}}
	h.connect(t, "practice")
	h.say(t, "hello")

	if h.ctrl.Turns().Listening() {
		t.Fatalf("mismatched session must not resume")
	}
	h.sched.advance(2 * time.Second)
	if h.gateway.activeCalls != 2 {
		t.Fatalf("expected retry, got %d probes", h.gateway.activeCalls)
	}
}

func TestRecoveryOutcomeString(t *testing.T) {
	t.Parallel()

	cases := map[RecoveryOutcome]string{
		RecoveryResumed:     "resumed",
		RecoveryFailed:      "failed",
		RecoveryExhausted:   "exhausted",
		RecoveryOutcome(42): "unknown",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Fatalf("%d: expected %q, got %q", outcome, want, got)
		}
	}
}
