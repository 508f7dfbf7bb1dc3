package roleplay

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"callcoach/internal/domain"
	"callcoach/internal/usecase"
)

// Advanced roleplays move through server-defined stages and grade each
// turn. Lost sessions are recovered.
type Advanced struct {
	*policy
}

func NewAdvanced(ctx context.Context, roleplayID string, deps usecase.Dependencies) (*Advanced, error) {
	p, err := newPolicy(ctx, KindAdvanced, roleplayID, deps, advancedHooks{}, usecase.Options{Recovery: true})
	if err != nil {
		return nil, err
	}
	return &Advanced{policy: p}, nil
}

// Stage is the current stage of the call, nil before the server names one.
func (a *Advanced) Stage() *domain.StageInfo {
	return a.ctrl.Snapshot().Stage
}

type advancedHooks struct{}

func (advancedHooks) ModeOptions() []domain.ModeOption {
	return []domain.ModeOption{
		{ID: "practice", Label: "Practice", Description: "Work through each stage with feedback after every turn."},
		{ID: "simulation", Label: "Simulation", Description: "A full call graded stage by stage at the end."},
	}
}

func (advancedHooks) MarathonPlan(string) (domain.MarathonState, bool) {
	return domain.MarathonState{}, false
}

func (advancedHooks) FormatFeedback(result domain.EndResult, _ *domain.MarathonState) domain.Feedback {
	feedback := baseFeedback(result)
	advanced := result.AdvancedResults
	if advanced == nil || len(advanced.Stages) == 0 {
		return feedback
	}

	passed := true
	for _, stage := range advanced.Stages {
		verdict := "passed"
		if !stage.Passed {
			verdict = "not passed"
			passed = false
		}
		feedback.Details = append(feedback.Details, fmt.Sprintf("%s: %s (%d)", stageLabel(stage.Stage), verdict, stage.Score))
	}
	if summary := strings.TrimSpace(advanced.Summary); summary != "" {
		feedback.Details = append(feedback.Details, summary)
	}
	feedback.Passed = &passed
	return feedback
}

func stageLabel(stage string) string {
	stage = strings.TrimSpace(strings.ReplaceAll(stage, "_", " "))
	if stage == "" {
		return "Stage"
	}
	first, size := utf8.DecodeRuneInString(stage)
	return string(unicode.ToUpper(first)) + stage[size:]
}
