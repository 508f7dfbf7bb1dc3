package domain

import "time"

// CallState models the simulated phone call lifecycle.
type CallState string

const (
	CallStateIdle      CallState = "idle"
	CallStateDialing   CallState = "dialing"
	CallStateRinging   CallState = "ringing"
	CallStateConnected CallState = "connected"
	CallStateEnded     CallState = "ended"
)

// Active reports whether the call can still be ended.
func (s CallState) Active() bool {
	switch s {
	case CallStateDialing, CallStateRinging, CallStateConnected:
		return true
	default:
		return false
	}
}

// Speaker identifies who owns a turn or a transcript line.
type Speaker string

const (
	SpeakerNone Speaker = "none"
	SpeakerAI   Speaker = "ai"
	SpeakerUser Speaker = "user"

	// SpeakerSystem is only used for render-layer lines such as marathon
	// transitions. It never appears in Session.History.
	SpeakerSystem Speaker = "system"
)

// TranscriptEntry is one line of the conversation.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one simulated call from start request to end request.
type Session struct {
	ID         string            `json:"id"`
	RoleplayID string            `json:"roleplayId"`
	Mode       string            `json:"mode"`
	State      CallState         `json:"state"`
	StartedAt  time.Time         `json:"startedAt"`
	History    []TranscriptEntry `json:"conversationHistory"`
}

// Clone returns a copy that shares nothing with the receiver.
func (s Session) Clone() Session {
	out := s
	out.History = make([]TranscriptEntry, len(s.History))
	copy(out.History, s.History)
	return out
}

// TurnState tracks who holds the floor.
type TurnState struct {
	ActiveSpeaker Speaker `json:"activeSpeaker"`
	AISpeaking    bool    `json:"aiIsSpeaking"`
	Processing    bool    `json:"isProcessing"`
}

// MarathonState tracks a multi-call scenario.
type MarathonState struct {
	CurrentCall  int  `json:"currentCallNumber"`
	TotalCalls   int  `json:"totalCalls"`
	CallsPassed  int  `json:"callsPassed"`
	CallsFailed  int  `json:"callsFailed"`
	TargetPasses int  `json:"targetPasses"`
	Complete     bool `json:"complete"`
}

// Passed reports whether the marathon met its pass target.
func (m MarathonState) Passed() bool {
	return m.CallsPassed >= m.TargetPasses
}

// RecoveryAttempt counts recovery tries for the active session.
type RecoveryAttempt struct {
	Count int `json:"count"`
	Max   int `json:"max"`
}

// Exhausted reports whether no further recovery may be attempted.
func (r RecoveryAttempt) Exhausted() bool {
	return r.Count >= r.Max
}

// ModeOption is a selectable roleplay mode.
type ModeOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Snapshot is a read-only view of the engine for the render layer.
type Snapshot struct {
	RoleplayID string         `json:"roleplayId"`
	Kind       string         `json:"kind"`
	Session    *Session       `json:"session,omitempty"`
	Turn       TurnState      `json:"turn"`
	Marathon   *MarathonState `json:"marathon,omitempty"`
	Stage      *StageInfo     `json:"stage,omitempty"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// State returns the call state, idle when no session exists.
func (s Snapshot) State() CallState {
	if s.Session == nil {
		return CallStateIdle
	}
	return s.Session.State
}

// ErrorCode identifies errors surfaced to the user.
type ErrorCode string

const (
	ErrorCodeStartup   ErrorCode = "startup"
	ErrorCodeStart     ErrorCode = "start"
	ErrorCodeRespond   ErrorCode = "respond"
	ErrorCodeEnd       ErrorCode = "end"
	ErrorCodeRecovery  ErrorCode = "recovery"
	ErrorCodeVoice     ErrorCode = "voice"
	ErrorCodeAudio     ErrorCode = "audio"
	ErrorCodeBusy      ErrorCode = "busy"
	ErrorCodeClipboard ErrorCode = "clipboard"
)
