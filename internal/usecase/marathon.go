package usecase

import (
	"fmt"
	"strings"

	"callcoach/internal/domain"
)

// MarathonSequencer runs several internal calls inside one session. The
// server drives transitions with newCallStarted and marathonComplete.
type MarathonSequencer struct {
	ctrl  *SessionController
	state *domain.MarathonState

	// recorded holds call numbers whose result has been counted.
	recorded     map[int]bool
	serverCounts bool
}

func newMarathonSequencer(ctrl *SessionController) *MarathonSequencer {
	return &MarathonSequencer{ctrl: ctrl}
}

func (m *MarathonSequencer) begin(mode string, status *domain.MarathonStatus) {
	plan, ok := m.ctrl.hooks.MarathonPlan(mode)
	if !ok && status == nil {
		m.reset()
		return
	}
	if plan.CurrentCall < 1 {
		plan.CurrentCall = 1
	}
	plan.CallsPassed, plan.CallsFailed, plan.Complete = 0, 0, false
	m.state = &plan
	m.recorded = make(map[int]bool)
	m.serverCounts = false
	if status != nil {
		m.apply(*status, true)
	}
	m.emit()
}

func (m *MarathonSequencer) reset() {
	m.state = nil
	m.recorded = nil
	m.serverCounts = false
}

// handle applies one respond result and reports whether it took over the
// rest of the turn.
func (m *MarathonSequencer) handle(gen int, res domain.RespondResult) bool {
	if m.state == nil {
		return false
	}
	if res.MarathonStatus != nil {
		m.apply(*res.MarathonStatus, false)
	}

	switch {
	case res.MarathonComplete || m.state.Complete || !res.CallContinues:
		m.record(res.CallResult)
		m.state.Complete = true
		m.emit()
		m.ctrl.logger.Info("marathon complete",
			"passed", m.state.CallsPassed, "failed", m.state.CallsFailed, "target", m.state.TargetPasses)
		final := res.FinalResults
		if final != nil && final.MarathonResults == nil {
			copied := *final
			results := m.results()
			copied.MarathonResults = &results
			final = &copied
		}
		m.ctrl.closeCall(gen, res.AIResponse, final)
		return true

	case res.NewCallStarted:
		m.record(res.CallResult)
		m.advance()
		m.emit()
		message := strings.TrimSpace(res.TransitionMessage)
		if message == "" {
			message = fmt.Sprintf("Call %d of %d", m.state.CurrentCall, m.state.TotalCalls)
		}
		m.ctrl.events.TranscriptAppended(domain.TranscriptEntry{
			Speaker:   domain.SpeakerSystem,
			Text:      message,
			Timestamp: m.ctrl.sched.Now(),
		})
		aiResponse := res.AIResponse
		m.ctrl.schedule(gen, m.ctrl.cfg.TransitionDelay, func() {
			m.ctrl.continueCall(aiResponse)
		})
		return true
	}

	if res.MarathonStatus != nil {
		m.emit()
	}
	return false
}

// apply copies the server's totals and counts. CurrentCall only follows the
// server when the marathon begins.
func (m *MarathonSequencer) apply(status domain.MarathonStatus, initial bool) {
	if status.TotalCalls > 0 {
		m.state.TotalCalls = status.TotalCalls
	}
	if status.TargetPasses > 0 {
		m.state.TargetPasses = status.TargetPasses
	}
	if status.CallsPassed != nil {
		m.state.CallsPassed = *status.CallsPassed
		m.serverCounts = true
	}
	if status.CallsFailed != nil {
		m.state.CallsFailed = *status.CallsFailed
		m.serverCounts = true
	}
	if initial && status.CurrentCall > 0 {
		m.state.CurrentCall = status.CurrentCall
	}
	if m.state.TotalCalls > 0 && m.state.CurrentCall > m.state.TotalCalls {
		m.state.CurrentCall = m.state.TotalCalls
	}
	if status.Complete {
		m.state.Complete = true
	}
}

// record counts the result of the current call once.
func (m *MarathonSequencer) record(result string) {
	call := m.state.CurrentCall
	if result == "" || m.recorded[call] {
		return
	}
	m.recorded[call] = true
	if m.serverCounts {
		return
	}
	switch result {
	case domain.CallResultPassed:
		m.state.CallsPassed++
	case domain.CallResultFailed:
		m.state.CallsFailed++
	default:
		m.ctrl.logger.Warn("unknown call result", "result", result, "call", call)
		delete(m.recorded, call)
	}
}

func (m *MarathonSequencer) advance() {
	if m.state.TotalCalls > 0 && m.state.CurrentCall >= m.state.TotalCalls {
		m.ctrl.logger.Warn("server started a call past the marathon total",
			"current", m.state.CurrentCall, "total", m.state.TotalCalls)
		return
	}
	m.state.CurrentCall++
}

func (m *MarathonSequencer) results() domain.MarathonResults {
	if m.state == nil {
		return domain.MarathonResults{}
	}
	return domain.MarathonResults{
		CallsCompleted: m.state.CallsPassed + m.state.CallsFailed,
		CallsPassed:    m.state.CallsPassed,
		CallsFailed:    m.state.CallsFailed,
		TargetPasses:   m.state.TargetPasses,
		Passed:         m.state.Passed(),
	}
}

func (m *MarathonSequencer) snapshot() *domain.MarathonState {
	if m.state == nil {
		return nil
	}
	state := *m.state
	return &state
}

func (m *MarathonSequencer) emit() {
	m.ctrl.events.MarathonProgress(*m.state)
}
