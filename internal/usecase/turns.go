package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"callcoach/internal/domain"
	"callcoach/internal/ports"
)

var (
	ErrBusy        = errors.New("a request is already in progress")
	ErrNotYourTurn = errors.New("input is not accepted right now")
)

// turnHost is the part of the session controller the coordinator calls back into.
type turnHost interface {
	acceptingInput() bool
	appendHistory(speaker domain.Speaker, text string)
	submit(text string) error
	authRequired()
}

// TurnCoordinator decides who holds the floor. All methods run on the loop.
type TurnCoordinator struct {
	ctx            context.Context
	sched          Scheduler
	gateway        ports.NetworkGateway
	player         ports.AudioPlayer
	capture        ports.VoiceCapture
	events         ports.EventSink
	logger         *slog.Logger
	pacing         SpeechPacing
	bargeIn        bool
	requestTimeout time.Duration
	host           turnHost

	state     domain.TurnState
	listening bool

	// micWanted is what the turn needs; micOpen and micStarting track the
	// device. Only one start is in flight at a time.
	micWanted   bool
	micOpen     bool
	micStarting bool
	micSeq      int
	// micEnded is the last session the device reported as stopped.
	micEnded int

	// playSeq identifies the current utterance; completions carrying an
	// older token belong to superseded speech.
	playSeq     int
	stopAudio   func()
	cancelDelay func()
	afterSpeech func()
}

func newTurnCoordinator(ctx context.Context, deps Dependencies, host turnHost) *TurnCoordinator {
	return &TurnCoordinator{
		ctx:            ctx,
		sched:          deps.Scheduler,
		gateway:        deps.Gateway,
		player:         deps.Player,
		capture:        deps.Capture,
		events:         deps.Events,
		logger:         deps.Logger,
		pacing:         deps.Config.Pacing,
		bargeIn:        deps.Config.BargeIn,
		requestTimeout: deps.Config.RequestTimeout,
		host:           host,
		state:          domain.TurnState{ActiveSpeaker: domain.SpeakerNone},
	}
}

func (t *TurnCoordinator) State() domain.TurnState {
	return t.state
}

// Listening reports whether a user turn is open.
func (t *TurnCoordinator) Listening() bool {
	return t.listening
}

// PlayAIResponse speaks text and then runs then, or opens the user turn when
// then is nil. Any speech already in flight is cut off first.
func (t *TurnCoordinator) PlayAIResponse(text string, then func()) {
	t.cancelPlayback()
	t.listening = false
	t.playSeq++
	token := t.playSeq
	t.afterSpeech = then

	text = strings.TrimSpace(text)
	t.state.AISpeaking = true
	t.state.ActiveSpeaker = domain.SpeakerAI
	if text != "" {
		t.host.appendHistory(domain.SpeakerAI, text)
	}
	t.emitTurn()

	if t.bargeIn {
		t.openMic()
	} else {
		t.closeMic()
	}

	if t.player == nil || t.gateway == nil || text == "" {
		t.simulateSpeech(token, text)
		return
	}

	t.sched.Go(func() func() {
		ctx, cancel := context.WithTimeout(t.ctx, t.requestTimeout)
		defer cancel()
		audio, err := t.gateway.SynthesizeSpeech(ctx, text)
		return func() { t.onSpeechAudio(token, text, audio, err) }
	})
}

func (t *TurnCoordinator) onSpeechAudio(token int, text string, audio []byte, err error) {
	if token != t.playSeq || !t.state.AISpeaking {
		return
	}
	if errors.Is(err, domain.ErrAuthRequired) {
		t.host.authRequired()
		return
	}
	if err != nil || len(audio) == 0 {
		if err != nil {
			t.logger.Warn("speech synthesis failed, simulating delay", "error", err)
		}
		t.simulateSpeech(token, text)
		return
	}

	stop, err := t.player.Play(t.ctx, audio, func() {
		t.sched.Post(func() { t.onSpeechEnded(token) })
	})
	if err != nil {
		t.logger.Warn("audio playback failed, simulating delay", "error", err)
		t.events.SessionError(domain.ErrorCodeAudio, err.Error())
		t.simulateSpeech(token, text)
		return
	}
	t.stopAudio = stop
}

func (t *TurnCoordinator) simulateSpeech(token int, text string) {
	t.cancelDelay = t.sched.After(t.pacing.Delay(text), func() {
		t.cancelDelay = nil
		t.onSpeechEnded(token)
	})
}

func (t *TurnCoordinator) onSpeechEnded(token int) {
	if !t.state.AISpeaking || token != t.playSeq {
		return
	}
	t.stopAudio = nil
	t.state.AISpeaking = false
	t.finishSpeech()
}

// finishSpeech runs the pending continuation, or hands the floor to the user.
func (t *TurnCoordinator) finishSpeech() {
	if then := t.afterSpeech; then != nil {
		t.afterSpeech = nil
		t.state.ActiveSpeaker = domain.SpeakerNone
		t.emitTurn()
		then()
		return
	}
	if t.listening {
		t.emitTurn()
		return
	}
	t.StartUserTurn()
}

// HandleInterruption cuts the AI off when the user starts talking. It reports
// whether there was anything to interrupt.
func (t *TurnCoordinator) HandleInterruption() bool {
	if !t.cutSpeech() {
		return false
	}
	t.logger.Debug("ai speech interrupted")
	t.finishSpeech()
	return true
}

// cutSpeech silences the AI without handing the floor to anyone.
func (t *TurnCoordinator) cutSpeech() bool {
	if !t.state.AISpeaking {
		return false
	}
	t.cancelPlayback()
	t.playSeq++
	t.state.AISpeaking = false
	return true
}

// StartUserTurn opens the microphone and gives the floor to the user.
func (t *TurnCoordinator) StartUserTurn() {
	if t.listening {
		return
	}
	t.listening = true
	t.state.ActiveSpeaker = domain.SpeakerUser
	t.openMic()
	t.emitTurn()
}

// ProcessUserInput submits one user utterance. A second submission while the
// previous one is outstanding is rejected with ErrBusy.
func (t *TurnCoordinator) ProcessUserInput(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if t.state.Processing {
		return ErrBusy
	}
	if !t.host.acceptingInput() {
		return ErrNoActiveSession
	}
	if !t.listening && !t.state.AISpeaking {
		return ErrNotYourTurn
	}
	if t.cutSpeech() {
		t.logger.Debug("ai speech cut by typed input")
		t.afterSpeech = nil
	}
	t.endUserTurn()
	return t.host.submit(text)
}

func (t *TurnCoordinator) endUserTurn() {
	t.listening = false
	if !t.bargeIn {
		t.closeMic()
	}
	t.state.ActiveSpeaker = domain.SpeakerNone
	t.emitTurn()
}

// Stop silences everything. Processing is left to the round trip that owns it.
func (t *TurnCoordinator) Stop() {
	t.cancelPlayback()
	t.playSeq++
	t.afterSpeech = nil
	t.listening = false
	t.closeMic()
	t.state.AISpeaking = false
	t.state.ActiveSpeaker = domain.SpeakerNone
	t.emitTurn()
}

func (t *TurnCoordinator) setProcessing(processing bool) {
	t.state.Processing = processing
	t.emitTurn()
}

func (t *TurnCoordinator) cancelPlayback() {
	if t.stopAudio != nil {
		t.stopAudio()
		t.stopAudio = nil
	}
	if t.cancelDelay != nil {
		t.cancelDelay()
		t.cancelDelay = nil
	}
}

func (t *TurnCoordinator) emitTurn() {
	t.events.TurnChanged(t.state)
}

func (t *TurnCoordinator) openMic() {
	if t.capture == nil {
		return
	}
	t.micWanted = true
	t.syncMic()
}

func (t *TurnCoordinator) closeMic() {
	t.micWanted = false
	t.syncMic()
}

// syncMic moves the device toward micWanted. Starting the device dials the
// transcription service, so it runs off the loop and reports back through
// onMicStarted.
func (t *TurnCoordinator) syncMic() {
	if t.capture == nil || t.micStarting {
		return
	}
	switch {
	case t.micWanted && !t.micOpen:
		t.micSeq++
		t.micStarting = true
		seq := t.micSeq
		listener := voiceEvents{turns: t, seq: seq}
		capture := t.capture
		ctx := t.ctx
		t.sched.Go(func() func() {
			err := capture.StartListening(ctx, true, listener)
			return func() { t.onMicStarted(seq, err) }
		})
	case !t.micWanted && t.micOpen:
		t.micOpen = false
		t.micSeq++
		t.capture.StopListening()
	}
}

func (t *TurnCoordinator) onMicStarted(seq int, err error) {
	t.micStarting = false
	if err != nil {
		if t.micWanted {
			t.logger.Warn("voice capture unavailable", "error", err)
			t.events.SessionError(domain.ErrorCodeVoice, err.Error())
		}
		t.micWanted = false
		return
	}
	if t.micEnded == seq {
		// The device failed before its start was reported.
		t.micWanted = false
		return
	}
	t.micOpen = true
	t.syncMic()
}

func (t *TurnCoordinator) onSpeechStarted() {
	if t.micWanted {
		t.HandleInterruption()
	}
}

func (t *TurnCoordinator) onPartial(text string) {
	if t.micWanted && (t.listening || t.state.AISpeaking) {
		t.events.LiveTranscript(text)
	}
}

func (t *TurnCoordinator) onFinal(text string) {
	t.events.LiveTranscript("")
	if t.state.AISpeaking && t.micWanted {
		t.HandleInterruption()
	}
	if !t.listening {
		t.logger.Debug("dropping transcript outside user turn", "text", text)
		return
	}
	if err := t.ProcessUserInput(text); err != nil {
		t.logger.Warn("transcript not submitted", "error", err)
	}
}

func (t *TurnCoordinator) onListeningStopped(err error) {
	t.micOpen = false
	t.micEnded = t.micSeq
	if err != nil {
		t.logger.Warn("voice capture stopped", "error", err)
		t.events.SessionError(domain.ErrorCodeVoice, err.Error())
	}
}

// voiceEvents moves device callbacks onto the loop and drops those from a
// microphone session that has since been closed.
type voiceEvents struct {
	turns *TurnCoordinator
	seq   int
}

func (v voiceEvents) post(fn func(t *TurnCoordinator)) {
	t := v.turns
	seq := v.seq
	t.sched.Post(func() {
		if seq != t.micSeq {
			return
		}
		fn(t)
	})
}

func (v voiceEvents) SpeechStarted() {
	v.post(func(t *TurnCoordinator) { t.onSpeechStarted() })
}

func (v voiceEvents) PartialTranscript(text string) {
	v.post(func(t *TurnCoordinator) { t.onPartial(text) })
}

func (v voiceEvents) FinalTranscript(text string) {
	v.post(func(t *TurnCoordinator) { t.onFinal(text) })
}

func (v voiceEvents) ListeningStopped(err error) {
	v.post(func(t *TurnCoordinator) { t.onListeningStopped(err) })
}
