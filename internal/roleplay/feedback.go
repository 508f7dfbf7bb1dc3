package roleplay

import (
	"fmt"
	"sort"
	"strings"

	"callcoach/internal/domain"
)

func headline(score int) string {
	switch {
	case score >= 80:
		return "Great call"
	case score >= 60:
		return "Solid effort"
	default:
		return "Keep practicing"
	}
}

// baseFeedback renders the score and the coaching categories in a stable
// order.
func baseFeedback(result domain.EndResult) domain.Feedback {
	feedback := domain.Feedback{
		Score:    result.OverallScore,
		Headline: headline(result.OverallScore),
		Coaching: make([]domain.CoachingItem, 0, len(result.Coaching)),
	}
	for category, text := range result.Coaching {
		if strings.TrimSpace(text) == "" {
			continue
		}
		feedback.Coaching = append(feedback.Coaching, domain.CoachingItem{Category: category, Text: text})
	}
	sort.Slice(feedback.Coaching, func(i, j int) bool {
		return feedback.Coaching[i].Category < feedback.Coaching[j].Category
	})
	return feedback
}

// CoachingText flattens feedback into plain text for the clipboard.
func CoachingText(feedback domain.Feedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d/100)\n", feedback.Headline, feedback.Score)
	for _, detail := range feedback.Details {
		fmt.Fprintf(&b, "- %s\n", detail)
	}
	for _, item := range feedback.Coaching {
		fmt.Fprintf(&b, "\n%s:\n%s\n", item.Category, item.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
