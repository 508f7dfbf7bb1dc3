package roleplay

import (
	"context"
	"fmt"

	"callcoach/internal/domain"
	"callcoach/internal/usecase"
)

type marathonPlan struct {
	option       domain.ModeOption
	totalCalls   int
	targetPasses int
}

var marathonPlans = []marathonPlan{
	{
		option:       domain.ModeOption{ID: "marathon", Label: "Marathon", Description: "10 calls back to back. Pass 6 to finish."},
		totalCalls:   10,
		targetPasses: 6,
	},
	{
		option:       domain.ModeOption{ID: "legend", Label: "Legend", Description: "6 calls back to back. Pass every one."},
		totalCalls:   6,
		targetPasses: 6,
	},
}

// Marathon runs several calls in one session and tallies passes. Lost
// sessions are recovered.
type Marathon struct {
	*policy
}

func NewMarathon(ctx context.Context, roleplayID string, deps usecase.Dependencies) (*Marathon, error) {
	p, err := newPolicy(ctx, KindMarathon, roleplayID, deps, marathonHooks{}, usecase.Options{Marathon: true, Recovery: true})
	if err != nil {
		return nil, err
	}
	return &Marathon{policy: p}, nil
}

// Progress is the current tally, nil outside a marathon.
func (m *Marathon) Progress() *domain.MarathonState {
	return m.ctrl.Snapshot().Marathon
}

type marathonHooks struct{}

func (marathonHooks) ModeOptions() []domain.ModeOption {
	options := make([]domain.ModeOption, 0, len(marathonPlans))
	for _, plan := range marathonPlans {
		options = append(options, plan.option)
	}
	return options
}

func (marathonHooks) MarathonPlan(mode string) (domain.MarathonState, bool) {
	for _, plan := range marathonPlans {
		if plan.option.ID == mode {
			return domain.MarathonState{CurrentCall: 1, TotalCalls: plan.totalCalls, TargetPasses: plan.targetPasses}, true
		}
	}
	return domain.MarathonState{}, false
}

func (marathonHooks) FormatFeedback(result domain.EndResult, marathon *domain.MarathonState) domain.Feedback {
	feedback := baseFeedback(result)
	results := result.MarathonResults
	if results == nil {
		return feedback
	}

	passed := results.Passed
	if marathon != nil && results.TargetPasses == 0 {
		passed = results.CallsPassed >= marathon.TargetPasses
	}
	feedback.Passed = &passed
	if passed {
		feedback.Headline = "Marathon passed"
	} else {
		feedback.Headline = "Marathon not passed"
	}

	target := results.TargetPasses
	if target == 0 && marathon != nil {
		target = marathon.TargetPasses
	}
	feedback.Details = append(feedback.Details,
		fmt.Sprintf("Calls completed: %d", results.CallsCompleted),
		fmt.Sprintf("Passed %d, failed %d (%d needed)", results.CallsPassed, results.CallsFailed, target),
	)
	return feedback
}
