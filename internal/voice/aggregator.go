package voice

import (
	"strings"
	"sync"

	"callcoach/internal/domain"
)

// utteranceAggregator collects the final segments of one utterance.
type utteranceAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func newUtteranceAggregator() *utteranceAggregator {
	return &utteranceAggregator{}
}

func (a *utteranceAggregator) Add(event domain.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
	}
}

// Preview is the utterance so far with the latest partial appended.
func (a *utteranceAggregator) Preview(partial string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(strings.Join(append(append([]string(nil), a.finals...), partial), " "))
}

// Take returns the utterance and clears the aggregator for the next one.
func (a *utteranceAggregator) Take() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := a.raw()
	a.finals = nil
	a.lastSpoken = ""
	return text
}

func (a *utteranceAggregator) raw() string {
	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}
	if a.lastSpoken == "" || strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}
	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	}
	return joined
}
