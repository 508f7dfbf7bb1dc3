package ports

import (
	"context"
	"io"
	"time"

	"callcoach/internal/domain"
)

// NetworkGateway talks to the remote coaching service.
type NetworkGateway interface {
	Start(ctx context.Context, roleplayID string, mode string) (domain.StartResult, error)
	Respond(ctx context.Context, sessionID string, userInput string) (domain.RespondResult, error)
	End(ctx context.Context, sessionID string, forced bool) (domain.EndResult, error)
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
	ActiveSession(ctx context.Context) (domain.ActiveSessionInfo, error)
}

// StatsReader loads dashboard statistics. Failures are non-critical.
type StatsReader interface {
	Stats(ctx context.Context) (domain.Stats, error)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioPlayer plays synthesized speech. onEnded fires once when playback
// finishes on its own or fails mid-way; it does not fire after Stop.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte, onEnded func()) (stop func(), err error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// VoiceListener receives capture events. Calls arrive on device goroutines.
type VoiceListener interface {
	SpeechStarted()
	PartialTranscript(text string)
	FinalTranscript(text string)
	ListeningStopped(err error)
}

// VoiceCapture turns user speech into text.
type VoiceCapture interface {
	StartListening(ctx context.Context, interruptible bool, listener VoiceListener) error
	StopListening()
}

// TranscriptNormalizer rewrites user transcripts before submission.
type TranscriptNormalizer interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink is the render layer. It receives snapshots of engine state and
// owns all presentation.
type EventSink interface {
	ModeSelection(roleplayID string, options []domain.ModeOption)
	CallStateChanged(state domain.CallState, status string)
	TurnChanged(turn domain.TurnState)
	TranscriptAppended(entry domain.TranscriptEntry)
	LiveTranscript(text string)
	CallDuration(elapsed time.Duration)
	MarathonProgress(state domain.MarathonState)
	StageChanged(info domain.StageInfo)
	TurnEvaluated(eval domain.Evaluation)
	FeedbackReady(feedback domain.Feedback)
	SessionError(code domain.ErrorCode, detail string)
	AuthRequired()
}
