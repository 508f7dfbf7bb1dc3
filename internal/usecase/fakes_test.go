package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"callcoach/internal/domain"
	"callcoach/internal/ports"
)

// fakeScheduler runs everything on the test goroutine against a virtual clock.
type fakeScheduler struct {
	now    time.Time
	queue  []func()
	timers []*fakeTimer
	seq    int

	// hold parks Go work until release is called.
	hold bool
	held []func() func()
}

type fakeTimer struct {
	at        time.Time
	seq       int
	fn        func()
	fired     bool
	cancelled bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Post(fn func()) {
	s.queue = append(s.queue, fn)
}

func (s *fakeScheduler) After(d time.Duration, fn func()) func() {
	s.seq++
	timer := &fakeTimer{at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, timer)
	return func() { timer.cancelled = true }
}

func (s *fakeScheduler) Go(work func() func()) {
	if s.hold {
		s.held = append(s.held, work)
		return
	}
	if next := work(); next != nil {
		s.Post(next)
	}
}

func (s *fakeScheduler) Now() time.Time {
	return s.now
}

func (s *fakeScheduler) drain() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

func (s *fakeScheduler) advance(d time.Duration) {
	target := s.now.Add(d)
	for {
		s.drain()
		next := s.nextTimer(target)
		if next == nil {
			break
		}
		s.now = next.at
		next.fired = true
		next.fn()
	}
	s.now = target
	s.drain()
}

func (s *fakeScheduler) nextTimer(limit time.Time) *fakeTimer {
	var best *fakeTimer
	for _, timer := range s.timers {
		if timer.fired || timer.cancelled || timer.at.After(limit) {
			continue
		}
		if best == nil || timer.at.Before(best.at) || (timer.at.Equal(best.at) && timer.seq < best.seq) {
			best = timer
		}
	}
	return best
}

func (s *fakeScheduler) release() {
	s.hold = false
	pending := s.held
	s.held = nil
	for _, work := range pending {
		if next := work(); next != nil {
			s.Post(next)
		}
	}
	s.drain()
}

type respondReply struct {
	result domain.RespondResult
	err    error
}

type fakeGateway struct {
	startResult domain.StartResult
	startErr    error
	startCalls  int
	lastMode    string

	replies      []respondReply
	respondCalls []string

	endResult domain.EndResult
	endErr    error
	endCalls  int
	lastForce bool

	speech     []byte
	speechErr  error
	speechText []string

	active      []domain.ActiveSessionInfo
	activeErr   error
	activeCalls int
}

func (g *fakeGateway) Start(_ context.Context, _ string, mode string) (domain.StartResult, error) {
	g.startCalls++
	g.lastMode = mode
	return g.startResult, g.startErr
}

func (g *fakeGateway) Respond(_ context.Context, _ string, userInput string) (domain.RespondResult, error) {
	g.respondCalls = append(g.respondCalls, userInput)
	if len(g.replies) == 0 {
		return domain.RespondResult{CallContinues: true}, nil
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply.result, reply.err
}

func (g *fakeGateway) End(_ context.Context, _ string, forced bool) (domain.EndResult, error) {
	g.endCalls++
	g.lastForce = forced
	return g.endResult, g.endErr
}

func (g *fakeGateway) SynthesizeSpeech(_ context.Context, text string) ([]byte, error) {
	g.speechText = append(g.speechText, text)
	return g.speech, g.speechErr
}

func (g *fakeGateway) ActiveSession(_ context.Context) (domain.ActiveSessionInfo, error) {
	g.activeCalls++
	if g.activeErr != nil {
		return domain.ActiveSessionInfo{}, g.activeErr
	}
	if len(g.active) == 0 {
		return domain.ActiveSessionInfo{}, nil
	}
	info := g.active[0]
	if len(g.active) > 1 {
		g.active = g.active[1:]
	}
	return info, nil
}

type fakePlayback struct {
	audio   []byte
	onEnded func()
	stopped bool
}

type fakePlayer struct {
	plays []*fakePlayback
	err   error
}

func (p *fakePlayer) Play(_ context.Context, audio []byte, onEnded func()) (func(), error) {
	if p.err != nil {
		return nil, p.err
	}
	playback := &fakePlayback{audio: audio, onEnded: onEnded}
	p.plays = append(p.plays, playback)
	return func() { playback.stopped = true }, nil
}

func (p *fakePlayer) last(t *testing.T) *fakePlayback {
	t.Helper()
	if len(p.plays) == 0 {
		t.Fatalf("expected audio to be playing")
	}
	return p.plays[len(p.plays)-1]
}

type fakeCapture struct {
	starts        int
	stops         int
	interruptible bool
	listener      ports.VoiceListener
	err           error
}

func (c *fakeCapture) StartListening(_ context.Context, interruptible bool, listener ports.VoiceListener) error {
	if c.err != nil {
		return c.err
	}
	c.starts++
	c.interruptible = interruptible
	c.listener = listener
	return nil
}

func (c *fakeCapture) StopListening() {
	c.stops++
}

type fakeNormalizer struct {
	fn  func(string) string
	err error
}

func (n fakeNormalizer) Apply(text string) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	return n.fn(text), nil
}

type stateEvent struct {
	state  domain.CallState
	status string
}

type errorEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeSink struct {
	modeSelections int
	options        []domain.ModeOption
	states         []stateEvent
	turns          []domain.TurnState
	transcript     []domain.TranscriptEntry
	live           []string
	durations      []time.Duration
	marathon       []domain.MarathonState
	stages         []domain.StageInfo
	evaluations    []domain.Evaluation
	feedback       []domain.Feedback
	errors         []errorEvent
	authRequired   int
}

func (s *fakeSink) ModeSelection(_ string, options []domain.ModeOption) {
	s.modeSelections++
	s.options = options
}

func (s *fakeSink) CallStateChanged(state domain.CallState, status string) {
	s.states = append(s.states, stateEvent{state: state, status: status})
}

func (s *fakeSink) TurnChanged(turn domain.TurnState) { s.turns = append(s.turns, turn) }

func (s *fakeSink) TranscriptAppended(entry domain.TranscriptEntry) {
	s.transcript = append(s.transcript, entry)
}

func (s *fakeSink) LiveTranscript(text string) { s.live = append(s.live, text) }

func (s *fakeSink) CallDuration(elapsed time.Duration) { s.durations = append(s.durations, elapsed) }

func (s *fakeSink) MarathonProgress(state domain.MarathonState) {
	s.marathon = append(s.marathon, state)
}

func (s *fakeSink) StageChanged(info domain.StageInfo) { s.stages = append(s.stages, info) }

func (s *fakeSink) TurnEvaluated(eval domain.Evaluation) { s.evaluations = append(s.evaluations, eval) }

func (s *fakeSink) FeedbackReady(feedback domain.Feedback) { s.feedback = append(s.feedback, feedback) }

func (s *fakeSink) SessionError(code domain.ErrorCode, detail string) {
	s.errors = append(s.errors, errorEvent{code: code, detail: detail})
}

func (s *fakeSink) AuthRequired() { s.authRequired++ }

// callStates returns the distinct consecutive call states seen.
func (s *fakeSink) callStates() []domain.CallState {
	var out []domain.CallState
	for _, event := range s.states {
		if len(out) > 0 && out[len(out)-1] == event.state {
			continue
		}
		out = append(out, event.state)
	}
	return out
}

// userTurnStarts counts hand-overs of the floor to the user.
func (s *fakeSink) userTurnStarts() int {
	count := 0
	previous := domain.SpeakerNone
	for _, turn := range s.turns {
		if turn.ActiveSpeaker == domain.SpeakerUser && previous != domain.SpeakerUser {
			count++
		}
		previous = turn.ActiveSpeaker
	}
	return count
}

func (s *fakeSink) lastError(t *testing.T) errorEvent {
	t.Helper()
	if len(s.errors) == 0 {
		t.Fatalf("expected an error event")
	}
	return s.errors[len(s.errors)-1]
}

type testHooks struct {
	plans map[string]domain.MarathonState
}

func (h testHooks) ModeOptions() []domain.ModeOption {
	return []domain.ModeOption{{ID: "practice", Label: "Practice"}, {ID: "marathon", Label: "Marathon"}}
}

func (h testHooks) MarathonPlan(mode string) (domain.MarathonState, bool) {
	plan, ok := h.plans[mode]
	return plan, ok
}

func (h testHooks) FormatFeedback(result domain.EndResult, marathon *domain.MarathonState) domain.Feedback {
	feedback := plainHooks{}.FormatFeedback(result, marathon)
	if result.MarathonResults != nil {
		passed := result.MarathonResults.Passed
		feedback.Passed = &passed
	}
	return feedback
}

type harness struct {
	sched   *fakeScheduler
	gateway *fakeGateway
	player  *fakePlayer
	capture *fakeCapture
	sink    *fakeSink
	ctrl    *SessionController
}

type harnessOption func(*Dependencies, *Options)

func withMarathon(plans map[string]domain.MarathonState) harnessOption {
	return func(_ *Dependencies, opts *Options) {
		opts.Marathon = true
		opts.Hooks = testHooks{plans: plans}
	}
}

func withRecovery() harnessOption {
	return func(_ *Dependencies, opts *Options) { opts.Recovery = true }
}

func withoutPlayer() harnessOption {
	return func(deps *Dependencies, _ *Options) { deps.Player = nil }
}

func withNormalizer(n ports.TranscriptNormalizer) harnessOption {
	return func(deps *Dependencies, _ *Options) { deps.Normalizer = n }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		sched:   newFakeScheduler(),
		gateway: &fakeGateway{startResult: domain.StartResult{SessionID: "sess-1"}, speech: []byte("audio")},
		player:  &fakePlayer{},
		capture: &fakeCapture{},
		sink:    &fakeSink{},
	}
	deps := Dependencies{
		Scheduler: h.sched,
		Gateway:   h.gateway,
		Player:    h.player,
		Capture:   h.capture,
		Events:    h.sink,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:    Config{BargeIn: true},
	}
	opts := Options{RoleplayID: "1.1", Hooks: testHooks{}}
	for _, option := range options {
		option(&deps, &opts)
	}

	ctrl, err := NewSessionController(context.Background(), deps, opts)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.ctrl = ctrl
	return h
}

// connect starts a call in mode and runs the dial and ring delays.
func (h *harness) connect(t *testing.T, mode string) {
	t.Helper()
	if err := h.ctrl.StartSession(mode); err != nil {
		t.Fatalf("start session: %v", err)
	}
	h.sched.drain()
	h.sched.advance(5 * time.Second)
	if got := h.ctrl.Snapshot().State(); got != domain.CallStateConnected {
		t.Fatalf("expected connected, got %s", got)
	}
}

// say delivers a final transcript from the microphone.
func (h *harness) say(t *testing.T, text string) {
	t.Helper()
	if h.capture.listener == nil {
		t.Fatalf("microphone was never opened")
	}
	h.capture.listener.FinalTranscript(text)
	h.sched.drain()
}

func (h *harness) finishPlayback(t *testing.T) {
	t.Helper()
	h.player.last(t).onEnded()
	h.sched.drain()
}

var errNetwork = &domain.NetworkError{Op: "respond", Status: 503, Err: errors.New("unavailable")}
