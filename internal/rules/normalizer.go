package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// Normalizer rewrites user transcripts with the rules in a file before they
// are sent to the coaching service. Rules can be reloaded while in use.
type Normalizer struct {
	path      string
	loopLimit int
	rules     atomic.Pointer[[]rule]
}

// NewNormalizer loads path. A blank or missing path yields a normalizer that
// only tidies whitespace.
func NewNormalizer(path string, loopLimit int) (*Normalizer, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	n := &Normalizer{path: strings.TrimSpace(path), loopLimit: loopLimit}
	if err := n.Reload(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Normalizer) Path() string {
	return n.path
}

// Len reports how many rules are loaded.
func (n *Normalizer) Len() int {
	return len(*n.rules.Load())
}

// Reload re-reads the rules file. On error the previous rules stay active.
func (n *Normalizer) Reload() error {
	loaded, err := loadRules(n.path)
	if err != nil {
		return err
	}
	n.rules.Store(&loaded)
	return nil
}

// Apply runs every rule until the text stops changing or the loop limit is
// reached, then collapses whitespace.
func (n *Normalizer) Apply(text string) (string, error) {
	rules := *n.rules.Load()
	result := text
	for i := 0; i < n.loopLimit && len(rules) > 0; i++ {
		changed := false
		for _, r := range rules {
			if next, ok := r.apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return strings.Join(strings.Fields(result), " "), nil
}

func loadRules(path string) ([]rule, error) {
	if path == "" {
		return nil, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}
	parsed, err := parseRules(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return parsed, nil
}
