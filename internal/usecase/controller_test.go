package usecase

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"callcoach/internal/domain"
)

func TestStartSessionDialsRingsAndConnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.startResult.InitialResponse = "Hello"

	if err := h.ctrl.StartSession("practice"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.sched.drain()
	if got := h.ctrl.Snapshot().State(); got != domain.CallStateDialing {
		t.Fatalf("expected dialing, got %s", got)
	}
	if h.gateway.lastMode != "practice" {
		t.Fatalf("unexpected mode sent: %q", h.gateway.lastMode)
	}

	h.sched.advance(4999 * time.Millisecond)
	if got := h.ctrl.Snapshot().State(); got != domain.CallStateRinging {
		t.Fatalf("expected ringing before 5s, got %s", got)
	}
	h.sched.advance(time.Millisecond)
	if got := h.ctrl.Snapshot().State(); got != domain.CallStateConnected {
		t.Fatalf("expected connected at 5s, got %s", got)
	}

	want := []domain.CallState{domain.CallStateDialing, domain.CallStateRinging, domain.CallStateConnected}
	if got := h.sink.callStates(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected transitions: %v", got)
	}

	turn := h.ctrl.Turns().State()
	if !turn.AISpeaking || turn.ActiveSpeaker != domain.SpeakerAI {
		t.Fatalf("expected ai turn, got %+v", turn)
	}
	if len(h.gateway.speechText) != 1 || h.gateway.speechText[0] != "Hello" {
		t.Fatalf("expected tts for greeting, got %v", h.gateway.speechText)
	}
	history := h.ctrl.Snapshot().Session.History
	if len(history) != 1 || history[0].Speaker != domain.SpeakerAI || history[0].Text != "Hello" {
		t.Fatalf("unexpected history: %+v", history)
	}

	h.finishPlayback(t)
	turn = h.ctrl.Turns().State()
	if turn.AISpeaking || turn.ActiveSpeaker != domain.SpeakerUser {
		t.Fatalf("expected user turn, got %+v", turn)
	}
	if !h.ctrl.Turns().Listening() || !h.capture.interruptible {
		t.Fatalf("expected interruptible listening")
	}
}

func TestStartSessionWithoutGreetingStartsUserTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t, "practice")

	if !h.ctrl.Turns().Listening() {
		t.Fatalf("expected user turn after connect")
	}
	if len(h.gateway.speechText) != 0 {
		t.Fatalf("expected no speech, got %v", h.gateway.speechText)
	}
}

func TestStartSessionValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.ctrl.StartSession("  "); !errors.Is(err, ErrNoMode) {
		t.Fatalf("expected ErrNoMode, got %v", err)
	}

	h.connect(t, "practice")
	if err := h.ctrl.StartSession("practice"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if h.gateway.startCalls != 1 {
		t.Fatalf("expected one start request, got %d", h.gateway.startCalls)
	}
}

func TestStartSessionFailureStaysIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.startErr = &domain.NetworkError{Op: "start", Err: errors.New("connection refused")}

	if err := h.ctrl.StartSession("practice"); err != nil {
		t.Fatalf("start failed synchronously: %v", err)
	}
	h.sched.advance(10 * time.Second)

	snap := h.ctrl.Snapshot()
	if snap.State() != domain.CallStateIdle || snap.Session != nil {
		t.Fatalf("expected idle without session, got %+v", snap)
	}
	if snap.Turn.Processing {
		t.Fatalf("expected processing cleared")
	}
	if got := h.sink.lastError(t); got.code != domain.ErrorCodeStart {
		t.Fatalf("expected start error, got %+v", got)
	}
}

func TestStartSessionAuthFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.startErr = fmt.Errorf("start: %w", domain.ErrAuthRequired)

	if err := h.ctrl.StartSession("practice"); err != nil {
		t.Fatalf("start failed synchronously: %v", err)
	}
	h.sched.drain()

	if h.sink.authRequired != 1 {
		t.Fatalf("expected auth required, got %d", h.sink.authRequired)
	}
	if len(h.sink.errors) != 0 {
		t.Fatalf("expected no error events, got %+v", h.sink.errors)
	}
}

func TestInterruptionStopsPlaybackAndStartsUserTurnOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.startResult.InitialResponse = "Thanks for picking up, I wanted to walk you through our pricing"
	h.connect(t, "practice")

	playback := h.player.last(t)
	h.sched.advance(500 * time.Millisecond)

	h.capture.listener.SpeechStarted()
	h.sched.drain()

	if !playback.stopped {
		t.Fatalf("expected playback to stop on interruption")
	}
	turn := h.ctrl.Turns().State()
	if turn.AISpeaking || turn.ActiveSpeaker != domain.SpeakerUser {
		t.Fatalf("expected user turn, got %+v", turn)
	}
	if got := h.sink.userTurnStarts(); got != 1 {
		t.Fatalf("expected one user turn, got %d", got)
	}

	playback.onEnded()
	h.sched.advance(4 * time.Second)

	if got := h.sink.userTurnStarts(); got != 1 {
		t.Fatalf("stale playback end started another user turn: %d", got)
	}
	if !h.ctrl.Turns().Listening() {
		t.Fatalf("expected to still be listening")
	}
}

func TestTypedInputDuringSpeechInterruptsAndSubmits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.startResult.InitialResponse = "Hi there, do you have a minute?"
	h.connect(t, "practice")
	playback := h.player.last(t)

	if err := h.ctrl.ProcessUserInput("Sure, go ahead"); err != nil {
		t.Fatalf("process input: %v", err)
	}
	h.sched.drain()

	if !playback.stopped {
		t.Fatalf("expected playback to stop")
	}
	if len(h.gateway.respondCalls) != 1 || h.gateway.respondCalls[0] != "Sure, go ahead" {
		t.Fatalf("unexpected respond calls: %v", h.gateway.respondCalls)
	}
}

func TestSimulatedSpeechWhenSynthesisFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.startResult.InitialResponse = "Hello there"
	h.gateway.speechErr = errors.New("tts unavailable")
	h.connect(t, "practice")

	if len(h.player.plays) != 0 {
		t.Fatalf("expected no playback")
	}
	h.sched.advance(999 * time.Millisecond)
	if !h.ctrl.Turns().State().AISpeaking {
		t.Fatalf("expected ai still speaking before the floor delay")
	}
	h.sched.advance(time.Millisecond)
	if h.ctrl.Turns().State().AISpeaking || !h.ctrl.Turns().Listening() {
		t.Fatalf("expected user turn after simulated delay")
	}
}

func TestSimulatedSpeechWithoutPlayerIsCapped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withoutPlayer())
	h.gateway.startResult.InitialResponse = strings.Repeat("word ", 40)
	h.connect(t, "practice")

	if len(h.gateway.speechText) != 0 {
		t.Fatalf("expected no tts request without a player")
	}
	h.sched.advance(4999 * time.Millisecond)
	if !h.ctrl.Turns().State().AISpeaking {
		t.Fatalf("expected ai still speaking")
	}
	h.sched.advance(time.Millisecond)
	if !h.ctrl.Turns().Listening() {
		t.Fatalf("expected user turn after capped delay")
	}
}

func TestSecondSubmissionWhileProcessingIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t, "practice")
	h.sched.hold = true

	if err := h.ctrl.ProcessUserInput("first"); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if !h.ctrl.Turns().State().Processing {
		t.Fatalf("expected processing")
	}
	if err := h.ctrl.ProcessUserInput("second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := h.ctrl.EndSession(false); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected end to be rejected while processing, got %v", err)
	}

	h.sched.release()
	if h.ctrl.Turns().State().Processing {
		t.Fatalf("expected processing cleared")
	}
	if len(h.gateway.respondCalls) != 1 || h.gateway.respondCalls[0] != "first" {
		t.Fatalf("unexpected respond calls: %v", h.gateway.respondCalls)
	}

	for _, turn := range h.sink.turns {
		if turn.Processing && turn.AISpeaking {
			t.Fatalf("processing overlapped ai speech: %+v", turn)
		}
	}
}

func TestVoiceTranscriptIsSubmitted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.replies = []respondReply{{result: domain.RespondResult{AIResponse: "Tell me more", CallContinues: true}}}
	h.connect(t, "practice")

	h.capture.listener.PartialTranscript("we can")
	h.say(t, "we can cut your costs")

	if len(h.sink.live) == 0 || h.sink.live[0] != "we can" {
		t.Fatalf("expected live transcript, got %v", h.sink.live)
	}
	if len(h.gateway.respondCalls) != 1 || h.gateway.respondCalls[0] != "we can cut your costs" {
		t.Fatalf("unexpected respond calls: %v", h.gateway.respondCalls)
	}
	history := h.ctrl.Snapshot().Session.History
	if len(history) != 2 || history[0].Speaker != domain.SpeakerUser || history[1].Text != "Tell me more" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestStaleMicrophoneEventsAreIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(deps *Dependencies, _ *Options) { deps.Config.BargeIn = false })
	h.gateway.speechErr = errors.New("no tts")
	h.connect(t, "practice")

	stale := h.capture.listener
	h.say(t, "hello")
	if h.capture.stops != 1 {
		t.Fatalf("expected microphone closed after submission, got %d stops", h.capture.stops)
	}

	stale.FinalTranscript("ghost words")
	h.sched.drain()
	if len(h.gateway.respondCalls) != 1 {
		t.Fatalf("stale transcript was submitted: %v", h.gateway.respondCalls)
	}
}

func TestTranscriptNormalizerIsApplied(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withNormalizer(fakeNormalizer{fn: strings.ToUpper}))
	h.connect(t, "practice")
	h.say(t, "hello")

	if len(h.gateway.respondCalls) != 1 || h.gateway.respondCalls[0] != "HELLO" {
		t.Fatalf("unexpected respond calls: %v", h.gateway.respondCalls)
	}
}

func TestInputEmptiedByNormalizerKeepsUserTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withNormalizer(fakeNormalizer{fn: func(string) string { return "" }}))
	h.connect(t, "practice")
	h.say(t, "um")

	if len(h.gateway.respondCalls) != 0 {
		t.Fatalf("expected nothing submitted, got %v", h.gateway.respondCalls)
	}
	if !h.ctrl.Turns().Listening() {
		t.Fatalf("expected user turn to reopen")
	}
}

func TestServerEndingCallTriggersAutomaticEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.replies = []respondReply{{result: domain.RespondResult{AIResponse: "Thanks, goodbye", CallContinues: false}}}
	h.gateway.endResult = domain.EndResult{OverallScore: 82, Coaching: map[string]string{"rapport": "Warm opener"}}
	h.connect(t, "practice")
	h.say(t, "I'll think about it")

	if err := h.ctrl.ProcessUserInput("wait"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected input refused while closing, got %v", err)
	}
	h.finishPlayback(t)

	h.sched.advance(1499 * time.Millisecond)
	if h.gateway.endCalls != 0 {
		t.Fatalf("ended too early")
	}
	h.sched.advance(time.Millisecond)

	if h.gateway.endCalls != 1 || h.gateway.lastForce {
		t.Fatalf("expected one unforced end, got %d forced=%t", h.gateway.endCalls, h.gateway.lastForce)
	}
	if got := h.ctrl.Snapshot().State(); got != domain.CallStateEnded {
		t.Fatalf("expected ended, got %s", got)
	}
	if len(h.sink.feedback) != 1 || h.sink.feedback[0].Score != 82 || h.sink.feedback[0].Fallback {
		t.Fatalf("unexpected feedback: %+v", h.sink.feedback)
	}
}

func TestServerEndingCallWithoutFinalLine(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.replies = []respondReply{{result: domain.RespondResult{CallContinues: false}}}
	h.connect(t, "practice")
	h.say(t, "bye")

	h.sched.advance(1500 * time.Millisecond)
	if h.gateway.endCalls != 1 {
		t.Fatalf("expected end after 1500ms, got %d calls", h.gateway.endCalls)
	}
}

func TestEndSessionFailureRendersFallbackFeedback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.endErr = &domain.NetworkError{Op: "end", Status: 502, Err: errors.New("bad gateway")}
	h.connect(t, "practice")

	if err := h.ctrl.EndSession(true); err != nil {
		t.Fatalf("end session: %v", err)
	}
	h.sched.drain()

	if len(h.sink.feedback) != 1 {
		t.Fatalf("expected feedback, got %d", len(h.sink.feedback))
	}
	feedback := h.sink.feedback[0]
	if feedback.Score != domain.NeutralScore || len(feedback.Coaching) != 0 || !feedback.Fallback {
		t.Fatalf("unexpected fallback feedback: %+v", feedback)
	}
	if h.ctrl.Turns().State().Processing {
		t.Fatalf("expected processing cleared")
	}
	if got := h.sink.lastError(t); got.code != domain.ErrorCodeEnd {
		t.Fatalf("expected end error, got %+v", got)
	}
	if !h.gateway.lastForce {
		t.Fatalf("expected forced end")
	}
	if h.capture.stops == 0 {
		t.Fatalf("expected microphone closed")
	}
}

func TestEndSessionWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.ctrl.EndSession(true); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if h.gateway.endCalls != 0 || len(h.sink.feedback) != 0 {
		t.Fatalf("expected no end request")
	}
}

func TestEndSessionDuringDialCancelsTimers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.ctrl.StartSession("practice"); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.sched.drain()
	if err := h.ctrl.EndSession(true); err != nil {
		t.Fatalf("end: %v", err)
	}
	h.sched.advance(10 * time.Second)

	if got := h.ctrl.Snapshot().State(); got != domain.CallStateEnded {
		t.Fatalf("expected ended, got %s", got)
	}
	for _, event := range h.sink.states {
		if event.state == domain.CallStateConnected {
			t.Fatalf("dial timers fired after end")
		}
	}
}

func TestRespondNetworkErrorRetriesUserTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.replies = []respondReply{{err: &domain.NetworkError{Op: "respond", Err: errors.New("timeout")}}}
	h.connect(t, "practice")
	h.say(t, "hello")

	if got := h.sink.lastError(t); got.code != domain.ErrorCodeRespond {
		t.Fatalf("expected respond error, got %+v", got)
	}
	if got := h.ctrl.Snapshot().State(); got != domain.CallStateConnected {
		t.Fatalf("expected call to stay connected, got %s", got)
	}
	if !h.ctrl.Turns().Listening() {
		t.Fatalf("expected user turn retried")
	}
}

func TestRespondSessionLostWithoutRecoveryReturnsToModeSelection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.replies = []respondReply{{err: domain.ErrSessionLost}}
	h.connect(t, "practice")
	h.say(t, "hello")

	if h.sink.modeSelections != 1 || len(h.sink.options) != 2 {
		t.Fatalf("expected mode selection with options, got %d %+v", h.sink.modeSelections, h.sink.options)
	}
	if h.ctrl.Snapshot().Session != nil {
		t.Fatalf("expected session dropped")
	}
}

func TestRespondAuthFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.replies = []respondReply{{err: domain.ErrAuthRequired}}
	h.connect(t, "practice")
	h.say(t, "hello")

	if h.sink.authRequired != 1 {
		t.Fatalf("expected auth required")
	}
}

func TestLateResultAfterModeSelectionIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.replies = []respondReply{{result: domain.RespondResult{AIResponse: "late reply", CallContinues: true}}}
	h.connect(t, "practice")

	h.sched.hold = true
	if err := h.ctrl.ProcessUserInput("hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.ctrl.ReturnToModeSelection()
	h.sched.release()

	if len(h.gateway.speechText) != 0 {
		t.Fatalf("late reply was spoken: %v", h.gateway.speechText)
	}
	snap := h.ctrl.Snapshot()
	if snap.Session != nil || snap.Turn.Processing {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestCallDurationTicksUntilEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(t, "practice")
	h.sched.advance(3 * time.Second)

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if fmt.Sprint(h.sink.durations) != fmt.Sprint(want) {
		t.Fatalf("unexpected ticks: %v", h.sink.durations)
	}

	if err := h.ctrl.EndSession(false); err != nil {
		t.Fatalf("end: %v", err)
	}
	h.sched.advance(3 * time.Second)
	if len(h.sink.durations) != 3 {
		t.Fatalf("ticker kept running after end: %v", h.sink.durations)
	}
	if got := h.ctrl.Snapshot().Elapsed; got != 3*time.Second {
		t.Fatalf("expected elapsed frozen at 3s, got %s", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gateway.startResult.InitialResponse = "Hello"
	h.connect(t, "practice")

	snap := h.ctrl.Snapshot()
	snap.Session.History[0].Text = "changed"
	if h.ctrl.Snapshot().Session.History[0].Text != "Hello" {
		t.Fatalf("snapshot shares history with the controller")
	}
}

func TestRoundTripRecoversPanics(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var got error
	err := roundTrip(h.ctrl.turns, func() (int, error) {
		panic("boom")
	}, func(_ int, err error) {
		got = err
	})
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	h.sched.drain()

	if got == nil || !strings.Contains(got.Error(), "boom") {
		t.Fatalf("expected panic error, got %v", got)
	}
	if h.ctrl.Turns().State().Processing {
		t.Fatalf("expected processing cleared after panic")
	}
}

func TestNewSessionControllerRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewSessionController(nil, Dependencies{}, Options{RoleplayID: "1.1"}); err == nil {
		t.Fatalf("expected missing dependency error")
	}
	h := newHarness(t)
	if _, err := NewSessionController(nil, Dependencies{Scheduler: h.sched, Gateway: h.gateway, Events: h.sink}, Options{}); err == nil {
		t.Fatalf("expected missing roleplay error")
	}
}
