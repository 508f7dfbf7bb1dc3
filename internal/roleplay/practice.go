package roleplay

import (
	"context"

	"callcoach/internal/domain"
	"callcoach/internal/usecase"
)

// Practice is a single open-ended call with no pass/fail verdict.
type Practice struct {
	*policy
}

func NewPractice(ctx context.Context, roleplayID string, deps usecase.Dependencies) (*Practice, error) {
	p, err := newPolicy(ctx, KindPractice, roleplayID, deps, practiceHooks{}, usecase.Options{})
	if err != nil {
		return nil, err
	}
	return &Practice{policy: p}, nil
}

type practiceHooks struct{}

func (practiceHooks) ModeOptions() []domain.ModeOption {
	return []domain.ModeOption{{
		ID:          "practice",
		Label:       "Practice",
		Description: "One call at your own pace with coaching at the end.",
	}}
}

func (practiceHooks) MarathonPlan(string) (domain.MarathonState, bool) {
	return domain.MarathonState{}, false
}

func (practiceHooks) FormatFeedback(result domain.EndResult, _ *domain.MarathonState) domain.Feedback {
	return baseFeedback(result)
}
