package usecase

import (
	"strings"
	"time"
)

// SpeechPacing bounds the simulated speaking time used when no audio plays.
type SpeechPacing struct {
	WordsPerMinute int
	MinDelay       time.Duration
	MaxDelay       time.Duration
}

func DefaultSpeechPacing() SpeechPacing {
	return SpeechPacing{WordsPerMinute: 150, MinDelay: time.Second, MaxDelay: 5 * time.Second}
}

// Delay returns words/wpm minutes of speech clamped to [MinDelay, MaxDelay].
func (p SpeechPacing) Delay(text string) time.Duration {
	defaults := DefaultSpeechPacing()
	if p.WordsPerMinute <= 0 {
		p.WordsPerMinute = defaults.WordsPerMinute
	}
	if p.MinDelay <= 0 {
		p.MinDelay = defaults.MinDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	return p.forWords(len(strings.Fields(text)))
}

// forWords expects normalized pacing. The ceiling check comes before the
// multiplication, which overflows for very large word counts.
func (p SpeechPacing) forWords(words int) time.Duration {
	if int64(words) > int64(p.MaxDelay)*int64(p.WordsPerMinute)/int64(time.Minute) {
		return p.MaxDelay
	}
	delay := time.Duration(words) * time.Minute / time.Duration(p.WordsPerMinute)
	if delay < p.MinDelay {
		return p.MinDelay
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
