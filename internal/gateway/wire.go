package gateway

import (
	"bytes"
	"encoding/json"
	"strings"

	"callcoach/internal/domain"
)

type startRequest struct {
	RoleplayID string `json:"roleplayId"`
	Mode       string `json:"mode"`
}

type respondRequest struct {
	SessionID string `json:"sessionId"`
	UserInput string `json:"userInput"`
}

type endRequest struct {
	SessionID string `json:"sessionId"`
	ForcedEnd bool   `json:"forcedEnd"`
}

type ttsRequest struct {
	Text string `json:"text"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (b errorBody) text() string {
	if msg := strings.TrimSpace(b.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(b.Error)
}

const noActiveSession = "no_active_session"

// respondWire shadows the fields whose absence must not decode to a zero
// value.
type respondWire struct {
	domain.RespondResult
	CallContinues *bool    `json:"callContinues"`
	FinalResults  *endWire `json:"finalResults"`
	Error         string   `json:"error"`
}

func (w respondWire) result() domain.RespondResult {
	out := w.RespondResult
	out.CallContinues = w.CallContinues == nil || *w.CallContinues
	out.FinalResults = nil
	if w.FinalResults != nil {
		final := w.FinalResults.result()
		out.FinalResults = &final
	}
	return out
}

type endWire struct {
	Coaching        json.RawMessage         `json:"coaching"`
	OverallScore    *int                    `json:"overallScore"`
	MarathonResults *domain.MarathonResults `json:"marathonResults"`
	AdvancedResults *domain.AdvancedResults `json:"advancedResults"`
}

func (w endWire) result() domain.EndResult {
	out := domain.EndResult{
		Coaching:        decodeCoaching(w.Coaching),
		OverallScore:    domain.NeutralScore,
		MarathonResults: w.MarathonResults,
		AdvancedResults: w.AdvancedResults,
	}
	if w.OverallScore != nil {
		out.OverallScore = *w.OverallScore
	}
	return out
}

// decodeCoaching accepts a category map or a single summary string.
func decodeCoaching(raw json.RawMessage) map[string]string {
	coaching := map[string]string{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return coaching
	}

	var byCategory map[string]string
	if err := json.Unmarshal(raw, &byCategory); err == nil {
		for category, text := range byCategory {
			if text = strings.TrimSpace(text); text != "" {
				coaching[category] = text
			}
		}
		return coaching
	}

	var summary string
	if err := json.Unmarshal(raw, &summary); err == nil && strings.TrimSpace(summary) != "" {
		coaching["summary"] = strings.TrimSpace(summary)
	}
	return coaching
}
