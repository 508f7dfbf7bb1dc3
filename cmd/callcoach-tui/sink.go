package main

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"callcoach/internal/domain"
)

type (
	modesMsg struct {
		roleplayID string
		options    []domain.ModeOption
	}
	callStateMsg struct {
		state  domain.CallState
		status string
	}
	turnMsg       domain.TurnState
	transcriptMsg domain.TranscriptEntry
	liveMsg       string
	durationMsg   time.Duration
	marathonMsg   domain.MarathonState
	stageMsg      domain.StageInfo
	evaluationMsg domain.Evaluation
	feedbackMsg   domain.Feedback
	errorMsg      struct {
		code   domain.ErrorCode
		detail string
	}
	authMsg struct{}
)

// programSink forwards engine events into the bubbletea program. Events sent
// before the program is attached are dropped.
type programSink struct {
	mu      sync.Mutex
	program *tea.Program
}

func (s *programSink) attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	s.mu.Unlock()
}

func (s *programSink) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (s *programSink) ModeSelection(roleplayID string, options []domain.ModeOption) {
	s.send(modesMsg{roleplayID: roleplayID, options: options})
}

func (s *programSink) CallStateChanged(state domain.CallState, status string) {
	s.send(callStateMsg{state: state, status: status})
}

func (s *programSink) TurnChanged(turn domain.TurnState)               { s.send(turnMsg(turn)) }
func (s *programSink) TranscriptAppended(entry domain.TranscriptEntry) { s.send(transcriptMsg(entry)) }
func (s *programSink) LiveTranscript(text string)                      { s.send(liveMsg(text)) }
func (s *programSink) CallDuration(elapsed time.Duration)              { s.send(durationMsg(elapsed)) }
func (s *programSink) MarathonProgress(state domain.MarathonState)     { s.send(marathonMsg(state)) }
func (s *programSink) StageChanged(info domain.StageInfo)              { s.send(stageMsg(info)) }
func (s *programSink) TurnEvaluated(eval domain.Evaluation)            { s.send(evaluationMsg(eval)) }
func (s *programSink) FeedbackReady(feedback domain.Feedback)          { s.send(feedbackMsg(feedback)) }
func (s *programSink) AuthRequired()                                   { s.send(authMsg{}) }

func (s *programSink) SessionError(code domain.ErrorCode, detail string) {
	s.send(errorMsg{code: code, detail: detail})
}
