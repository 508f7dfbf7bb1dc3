package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callcoach/internal/domain"
	"callcoach/internal/ports"
)

var (
	ErrNoMode          = errors.New("select a mode before starting a call")
	ErrSessionActive   = errors.New("a call is already in progress")
	ErrNoActiveSession = errors.New("no active call")
)

// Config controls call pacing and request behavior.
type Config struct {
	DialDelay           time.Duration
	RingDelay           time.Duration
	EndDelay            time.Duration
	TransitionDelay     time.Duration
	TickInterval        time.Duration
	RecoveryRetryDelay  time.Duration
	MaxRecoveryAttempts int
	RequestTimeout      time.Duration
	BargeIn             bool
	Pacing              SpeechPacing
}

func DefaultConfig() Config {
	return Config{
		DialDelay:           2 * time.Second,
		RingDelay:           3 * time.Second,
		EndDelay:            1500 * time.Millisecond,
		TransitionDelay:     1500 * time.Millisecond,
		TickInterval:        time.Second,
		RecoveryRetryDelay:  2 * time.Second,
		MaxRecoveryAttempts: 3,
		RequestTimeout:      20 * time.Second,
		BargeIn:             true,
		Pacing:              DefaultSpeechPacing(),
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.DialDelay <= 0 {
		c.DialDelay = defaults.DialDelay
	}
	if c.RingDelay <= 0 {
		c.RingDelay = defaults.RingDelay
	}
	if c.EndDelay <= 0 {
		c.EndDelay = defaults.EndDelay
	}
	if c.TransitionDelay <= 0 {
		c.TransitionDelay = defaults.TransitionDelay
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.RecoveryRetryDelay <= 0 {
		c.RecoveryRetryDelay = defaults.RecoveryRetryDelay
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = defaults.MaxRecoveryAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	return c
}

// Dependencies are the collaborators shared by every controller.
type Dependencies struct {
	Scheduler  Scheduler
	Gateway    ports.NetworkGateway
	Player     ports.AudioPlayer
	Capture    ports.VoiceCapture
	Normalizer ports.TranscriptNormalizer
	Events     ports.EventSink
	Logger     *slog.Logger
	Config     Config
}

// Hooks let a roleplay kind shape what the controller shows.
type Hooks interface {
	ModeOptions() []domain.ModeOption
	// MarathonPlan returns the local marathon shape for mode, if it is one.
	MarathonPlan(mode string) (domain.MarathonState, bool)
	FormatFeedback(result domain.EndResult, marathon *domain.MarathonState) domain.Feedback
}

// Options select the behavior attached to one controller.
type Options struct {
	RoleplayID string
	Hooks      Hooks
	Marathon   bool
	Recovery   bool
}

// SessionController owns the call lifecycle of one roleplay. It must only be
// used from the scheduler's loop.
type SessionController struct {
	ctx        context.Context
	sched      Scheduler
	gateway    ports.NetworkGateway
	normalizer ports.TranscriptNormalizer
	events     ports.EventSink
	logger     *slog.Logger
	cfg        Config
	roleplayID string
	hooks      Hooks

	turns    *TurnCoordinator
	marathon *MarathonSequencer
	recovery *RecoveryManager

	session *domain.Session
	// gen changes whenever a session is created or dropped; continuations
	// that captured an older value are ignored.
	gen         int
	closing     bool
	recovering  bool
	stage       *domain.StageInfo
	connectedAt time.Time
	endedAt     time.Time
	timers      []func()
	stopTicker  func()
}

func NewSessionController(ctx context.Context, deps Dependencies, opts Options) (*SessionController, error) {
	if deps.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("network gateway is required")
	}
	if deps.Events == nil {
		return nil, errors.New("event sink is required")
	}
	if strings.TrimSpace(opts.RoleplayID) == "" {
		return nil, errors.New("roleplay id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.Hooks == nil {
		opts.Hooks = plainHooks{}
	}
	deps.Config = deps.Config.withDefaults()

	c := &SessionController{
		ctx:        ctx,
		sched:      deps.Scheduler,
		gateway:    deps.Gateway,
		normalizer: deps.Normalizer,
		events:     deps.Events,
		logger:     deps.Logger.With("roleplay", opts.RoleplayID),
		cfg:        deps.Config,
		roleplayID: opts.RoleplayID,
		hooks:      opts.Hooks,
	}
	deps.Logger = c.logger
	c.turns = newTurnCoordinator(ctx, deps, c)
	if opts.Marathon {
		c.marathon = newMarathonSequencer(c)
	}
	if opts.Recovery {
		c.recovery = newRecoveryManager(c, c.cfg.MaxRecoveryAttempts)
	}
	return c, nil
}

func (c *SessionController) RoleplayID() string {
	return c.roleplayID
}

// Turns exposes the turn coordinator of this controller.
func (c *SessionController) Turns() *TurnCoordinator {
	return c.turns
}

// StartSession asks the server for a new call in mode and walks it through
// dialing and ringing before connecting.
func (c *SessionController) StartSession(mode string) error {
	mode = strings.TrimSpace(mode)
	if mode == "" {
		return ErrNoMode
	}
	if c.session != nil && c.session.State.Active() {
		return ErrSessionActive
	}

	gen := c.gen
	roleplayID := c.roleplayID
	return roundTrip(c.turns, func() (domain.StartResult, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return c.gateway.Start(ctx, roleplayID, mode)
	}, func(res domain.StartResult, err error) {
		c.onStarted(gen, mode, res, err)
	})
}

func (c *SessionController) onStarted(gen int, mode string, res domain.StartResult, err error) {
	if gen != c.gen {
		c.logger.Debug("discarding start result for dropped selection")
		return
	}
	if err != nil {
		c.logger.Warn("start call failed", "mode", mode, "error", err)
		if errors.Is(err, domain.ErrAuthRequired) {
			c.events.AuthRequired()
			return
		}
		c.events.SessionError(domain.ErrorCodeStart, err.Error())
		return
	}

	c.gen++
	gen = c.gen
	c.cancelTimers()
	c.stopTick()
	c.closing = false
	c.recovering = false
	c.connectedAt = time.Time{}
	c.endedAt = time.Time{}
	c.stage = nil
	c.session = &domain.Session{
		ID:         res.SessionID,
		RoleplayID: c.roleplayID,
		Mode:       mode,
		State:      domain.CallStateIdle,
		StartedAt:  c.sched.Now(),
		History:    []domain.TranscriptEntry{},
	}
	c.logger.Info("call started", "session", res.SessionID, "mode", mode)

	if c.recovery != nil {
		c.recovery.reset()
	}
	if c.marathon != nil {
		c.marathon.begin(mode, res.MarathonStatus)
	}
	if res.StageInfo != nil {
		c.setStage(*res.StageInfo)
	}

	c.setState(domain.CallStateDialing)
	c.schedule(gen, c.cfg.DialDelay, func() {
		c.setState(domain.CallStateRinging)
		c.schedule(gen, c.cfg.RingDelay, func() {
			c.connect(res.InitialResponse)
		})
	})
}

func (c *SessionController) connect(initialResponse string) {
	c.setState(domain.CallStateConnected)
	c.connectedAt = c.sched.Now()
	c.startTicker()
	c.continueCall(initialResponse)
}

// ProcessUserInput submits typed or transcribed text for the current turn.
func (c *SessionController) ProcessUserInput(text string) error {
	if c.session == nil || !c.session.State.Active() {
		return ErrNoActiveSession
	}
	return c.turns.ProcessUserInput(text)
}

// EndSession ends the active call and renders feedback. It does nothing when
// no call is active.
func (c *SessionController) EndSession(forced bool) error {
	return c.finish(forced, nil)
}

// ReturnToModeSelection drops the session and everything pending on it.
func (c *SessionController) ReturnToModeSelection() {
	c.gen++
	c.cancelTimers()
	c.stopTick()
	c.turns.Stop()
	c.session = nil
	c.closing = false
	c.recovering = false
	c.stage = nil
	c.connectedAt = time.Time{}
	c.endedAt = time.Time{}
	if c.marathon != nil {
		c.marathon.reset()
	}
	if c.recovery != nil {
		c.recovery.reset()
	}
	c.events.LiveTranscript("")
	c.events.CallStateChanged(domain.CallStateIdle, statusText(domain.CallStateIdle))
	c.events.ModeSelection(c.roleplayID, c.hooks.ModeOptions())
}

// Shutdown silences the controller without talking to the server.
func (c *SessionController) Shutdown() {
	c.gen++
	c.cancelTimers()
	c.stopTick()
	c.turns.Stop()
}

func (c *SessionController) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		RoleplayID: c.roleplayID,
		Turn:       c.turns.State(),
		Elapsed:    c.elapsed(),
	}
	if c.session != nil {
		session := c.session.Clone()
		snap.Session = &session
	}
	if c.marathon != nil {
		snap.Marathon = c.marathon.snapshot()
	}
	if c.stage != nil {
		stage := *c.stage
		snap.Stage = &stage
	}
	return snap
}

func (c *SessionController) finish(forced bool, final *domain.EndResult) error {
	if c.session == nil || !c.session.State.Active() {
		return nil
	}
	if c.turns.state.Processing {
		return ErrBusy
	}

	c.cancelTimers()
	c.stopTick()
	c.turns.Stop()
	c.closing = false
	c.recovering = false
	if !c.connectedAt.IsZero() {
		c.endedAt = c.sched.Now()
	}
	c.setState(domain.CallStateEnded)
	c.events.LiveTranscript("")
	c.logger.Info("call ended", "session", c.session.ID, "forced", forced, "elapsed", c.elapsed())

	if final != nil {
		c.renderFeedback(*final, false)
		return nil
	}

	gen := c.gen
	sessionID := c.session.ID
	return roundTrip(c.turns, func() (domain.EndResult, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return c.gateway.End(ctx, sessionID, forced)
	}, func(res domain.EndResult, err error) {
		c.onEnded(gen, res, err)
	})
}

func (c *SessionController) onEnded(gen int, res domain.EndResult, err error) {
	if gen != c.gen {
		return
	}
	if err != nil {
		c.logger.Warn("end call failed, showing fallback feedback", "error", err)
		c.renderFeedback(domain.FallbackEndResult(), true)
		if errors.Is(err, domain.ErrAuthRequired) {
			c.events.AuthRequired()
			return
		}
		c.events.SessionError(domain.ErrorCodeEnd, err.Error())
		return
	}
	c.renderFeedback(res, false)
}

func (c *SessionController) renderFeedback(res domain.EndResult, fallback bool) {
	var marathon *domain.MarathonState
	if c.marathon != nil {
		marathon = c.marathon.snapshot()
		if res.MarathonResults == nil && marathon != nil {
			results := c.marathon.results()
			res.MarathonResults = &results
		}
	}
	feedback := c.hooks.FormatFeedback(res, marathon)
	feedback.Fallback = fallback
	c.events.FeedbackReady(feedback)
}

// submit sends one user utterance. Called by the turn coordinator once the
// user turn is over.
func (c *SessionController) submit(text string) error {
	normalized := text
	if c.normalizer != nil {
		out, err := c.normalizer.Apply(text)
		if err != nil {
			c.logger.Warn("transcript rules failed, sending raw text", "error", err)
		} else {
			normalized = strings.TrimSpace(out)
		}
	}
	if normalized == "" {
		c.turns.StartUserTurn()
		return nil
	}

	c.appendHistory(domain.SpeakerUser, normalized)
	gen := c.gen
	sessionID := c.session.ID
	return roundTrip(c.turns, func() (domain.RespondResult, error) {
		ctx, cancel := c.requestContext()
		defer cancel()
		return c.gateway.Respond(ctx, sessionID, normalized)
	}, func(res domain.RespondResult, err error) {
		c.onRespond(gen, res, err)
	})
}

func (c *SessionController) onRespond(gen int, res domain.RespondResult, err error) {
	if gen != c.gen || c.session == nil || c.session.State != domain.CallStateConnected {
		return
	}
	if err != nil {
		c.failRespond(gen, err)
		return
	}
	if c.recovery != nil {
		c.recovery.reset()
	}
	if res.StageInfo != nil {
		c.setStage(*res.StageInfo)
	}
	if res.Evaluation != nil {
		c.events.TurnEvaluated(*res.Evaluation)
	}
	if c.marathon != nil && c.marathon.handle(gen, res) {
		return
	}
	if !res.CallContinues {
		c.closeCall(gen, res.AIResponse, res.FinalResults)
		return
	}
	c.continueCall(res.AIResponse)
}

func (c *SessionController) continueCall(aiResponse string) {
	if strings.TrimSpace(aiResponse) != "" {
		c.turns.PlayAIResponse(aiResponse, nil)
		return
	}
	c.turns.StartUserTurn()
}

// closeCall lets the final AI line finish and then ends the call.
func (c *SessionController) closeCall(gen int, aiResponse string, final *domain.EndResult) {
	c.closing = true
	end := func() {
		c.schedule(gen, c.cfg.EndDelay, func() {
			if err := c.finish(false, final); err != nil {
				c.logger.Warn("automatic end failed", "error", err)
			}
		})
	}
	if strings.TrimSpace(aiResponse) != "" {
		c.turns.PlayAIResponse(aiResponse, end)
		return
	}
	end()
}

func (c *SessionController) failRespond(gen int, err error) {
	c.logger.Warn("respond failed", "session", c.session.ID, "error", err)
	sessionLost := errors.Is(err, domain.ErrSessionLost)
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		c.events.AuthRequired()
	case c.recovery != nil && (sessionLost || domain.IsNetworkError(err)):
		c.beginRecovery(gen)
	case sessionLost:
		c.events.SessionError(domain.ErrorCodeRespond, err.Error())
		c.ReturnToModeSelection()
	default:
		c.events.SessionError(domain.ErrorCodeRespond, err.Error())
		c.turns.StartUserTurn()
	}
}

func (c *SessionController) beginRecovery(gen int) {
	if gen != c.gen || c.session == nil {
		return
	}
	c.recovering = true
	c.events.CallStateChanged(c.session.State, "Reconnecting...")
	err := c.recovery.Attempt(*c.session, func(outcome RecoveryOutcome, err error) {
		c.onRecovery(gen, outcome, err)
	})
	if err != nil {
		c.logger.Warn("recovery could not start", "error", err)
		c.schedule(gen, c.cfg.RecoveryRetryDelay, func() { c.beginRecovery(gen) })
	}
}

func (c *SessionController) onRecovery(gen int, outcome RecoveryOutcome, err error) {
	if gen != c.gen || c.session == nil {
		return
	}
	attempt := c.recovery.Attempts()
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		c.recovering = false
		c.events.AuthRequired()
	case outcome == RecoveryResumed:
		c.logger.Info("session recovered", "attempt", attempt.Count)
		c.recovering = false
		c.events.CallStateChanged(c.session.State, "Reconnected")
		c.turns.StartUserTurn()
	case outcome == RecoveryFailed:
		c.logger.Warn("recovery attempt failed", "attempt", attempt.Count, "max", attempt.Max, "error", err)
		c.schedule(gen, c.cfg.RecoveryRetryDelay, func() { c.beginRecovery(gen) })
	default:
		c.logger.Error("recovery exhausted", "attempts", attempt.Count)
		c.events.SessionError(domain.ErrorCodeRecovery,
			fmt.Sprintf("the call could not be recovered after %d attempts", attempt.Count))
		c.ReturnToModeSelection()
	}
}

func (c *SessionController) acceptingInput() bool {
	return c.session != nil &&
		c.session.State == domain.CallStateConnected &&
		!c.closing &&
		!c.recovering
}

func (c *SessionController) appendHistory(speaker domain.Speaker, text string) {
	if c.session == nil {
		return
	}
	entry := domain.TranscriptEntry{Speaker: speaker, Text: text, Timestamp: c.sched.Now()}
	c.session.History = append(c.session.History, entry)
	c.events.TranscriptAppended(entry)
}

func (c *SessionController) authRequired() {
	c.events.AuthRequired()
}

func (c *SessionController) setState(state domain.CallState) {
	c.session.State = state
	c.events.CallStateChanged(state, statusText(state))
}

func (c *SessionController) setStage(info domain.StageInfo) {
	c.stage = &info
	c.events.StageChanged(info)
}

// schedule runs fn after d unless the session changed or the call tore down
// its timers in the meantime.
func (c *SessionController) schedule(gen int, d time.Duration, fn func()) {
	c.timers = append(c.timers, c.sched.After(d, func() {
		if gen != c.gen {
			return
		}
		fn()
	}))
}

func (c *SessionController) cancelTimers() {
	for _, cancel := range c.timers {
		cancel()
	}
	c.timers = nil
}

func (c *SessionController) startTicker() {
	c.stopTick()
	gen := c.gen
	var tick func()
	tick = func() {
		if gen != c.gen || c.session == nil || c.session.State != domain.CallStateConnected {
			return
		}
		c.events.CallDuration(c.elapsed())
		c.stopTicker = c.sched.After(c.cfg.TickInterval, tick)
	}
	c.stopTicker = c.sched.After(c.cfg.TickInterval, tick)
}

func (c *SessionController) stopTick() {
	if c.stopTicker != nil {
		c.stopTicker()
		c.stopTicker = nil
	}
}

func (c *SessionController) elapsed() time.Duration {
	if c.connectedAt.IsZero() {
		return 0
	}
	end := c.endedAt
	if end.IsZero() {
		end = c.sched.Now()
	}
	return end.Sub(c.connectedAt)
}

func (c *SessionController) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
}

func statusText(state domain.CallState) string {
	switch state {
	case domain.CallStateDialing:
		return "Dialing..."
	case domain.CallStateRinging:
		return "Ringing..."
	case domain.CallStateConnected:
		return "Connected"
	case domain.CallStateEnded:
		return "Call ended"
	default:
		return "Choose a mode to start"
	}
}

// plainHooks is used when a caller supplies no Hooks.
type plainHooks struct{}

func (plainHooks) ModeOptions() []domain.ModeOption {
	return []domain.ModeOption{{ID: "practice", Label: "Practice"}}
}

func (plainHooks) MarathonPlan(string) (domain.MarathonState, bool) {
	return domain.MarathonState{}, false
}

func (plainHooks) FormatFeedback(result domain.EndResult, _ *domain.MarathonState) domain.Feedback {
	feedback := domain.Feedback{Score: result.OverallScore}
	for category, text := range result.Coaching {
		feedback.Coaching = append(feedback.Coaching, domain.CoachingItem{Category: category, Text: text})
	}
	return feedback
}
