package domain

// MarathonStatus is the server's view of a marathon.
type MarathonStatus struct {
	CurrentCall  int  `json:"currentCallNumber"`
	TotalCalls   int  `json:"totalCalls"`
	CallsPassed  *int `json:"callsPassed,omitempty"`
	CallsFailed  *int `json:"callsFailed,omitempty"`
	TargetPasses int  `json:"targetPasses"`
	Complete     bool `json:"marathonComplete"`
}

// StageInfo describes progress through a staged roleplay.
type StageInfo struct {
	Stage string `json:"stage"`
	Label string `json:"label,omitempty"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// Evaluation is per-turn feedback returned by advanced roleplays.
type Evaluation struct {
	Passed   bool   `json:"passed"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
}

// CallResult values reported for each internal marathon call.
const (
	CallResultPassed = "passed"
	CallResultFailed = "failed"
)

// StartResult is returned by NetworkGateway.Start.
type StartResult struct {
	SessionID       string          `json:"sessionId"`
	InitialResponse string          `json:"initialResponse,omitempty"`
	MarathonStatus  *MarathonStatus `json:"marathonStatus,omitempty"`
	StageInfo       *StageInfo      `json:"stageInfo,omitempty"`
}

// RespondResult is returned by NetworkGateway.Respond.
type RespondResult struct {
	AIResponse        string          `json:"aiResponse"`
	CallContinues     bool            `json:"callContinues"`
	MarathonStatus    *MarathonStatus `json:"marathonStatus,omitempty"`
	NewCallStarted    bool            `json:"newCallStarted,omitempty"`
	TransitionMessage string          `json:"transitionMessage,omitempty"`
	StageInfo         *StageInfo      `json:"stageInfo,omitempty"`
	Evaluation        *Evaluation     `json:"evaluation,omitempty"`
	CallResult        string          `json:"callResult,omitempty"`
	MarathonComplete  bool            `json:"marathonComplete,omitempty"`
	FinalResults      *EndResult      `json:"finalResults,omitempty"`
}

// MarathonResults summarizes a finished marathon.
type MarathonResults struct {
	CallsCompleted int  `json:"callsCompleted"`
	CallsPassed    int  `json:"callsPassed"`
	CallsFailed    int  `json:"callsFailed"`
	TargetPasses   int  `json:"targetPasses"`
	Passed         bool `json:"passed"`
}

// StageResult is one stage of an advanced roleplay.
type StageResult struct {
	Stage  string `json:"stage"`
	Passed bool   `json:"passed"`
	Score  int    `json:"score"`
}

// AdvancedResults is the end payload of staged roleplays.
type AdvancedResults struct {
	Stages  []StageResult `json:"stages"`
	Summary string        `json:"summary,omitempty"`
}

// EndResult is returned by NetworkGateway.End.
type EndResult struct {
	Coaching        map[string]string `json:"coaching"`
	OverallScore    int               `json:"overallScore"`
	MarathonResults *MarathonResults  `json:"marathonResults,omitempty"`
	AdvancedResults *AdvancedResults  `json:"advancedResults,omitempty"`
}

// NeutralScore is rendered when the end request fails or omits a score.
const NeutralScore = 50

// FallbackEndResult is rendered when the end request fails.
func FallbackEndResult() EndResult {
	return EndResult{Coaching: map[string]string{}, OverallScore: NeutralScore}
}

// ActiveSessionInfo is the server's debug view used by recovery.
type ActiveSessionInfo struct {
	Active     bool   `json:"active"`
	SessionID  string `json:"sessionId,omitempty"`
	RoleplayID string `json:"roleplayId,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// Matches reports whether info describes the given session.
func (i ActiveSessionInfo) Matches(s Session) bool {
	if !i.Active {
		return false
	}
	if i.RoleplayID != "" && i.RoleplayID != s.RoleplayID {
		return false
	}
	if i.SessionID != "" && s.ID != "" && i.SessionID != s.ID {
		return false
	}
	return true
}

// CoachingItem is one rendered coaching category.
type CoachingItem struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Feedback is the final view handed to the render layer.
type Feedback struct {
	Score    int            `json:"score"`
	Headline string         `json:"headline"`
	Coaching []CoachingItem `json:"coaching"`
	Details  []string       `json:"details,omitempty"`
	Passed   *bool          `json:"passed,omitempty"`
	Fallback bool           `json:"fallback,omitempty"`
}

// Stats is the dashboard summary; missing fields stay zero.
type Stats struct {
	TotalCalls   int     `json:"totalCalls"`
	AverageScore float64 `json:"averageScore"`
	BestScore    int     `json:"bestScore"`
	Streak       int     `json:"streak"`
}
