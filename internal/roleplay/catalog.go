package roleplay

import (
	"fmt"
	"strings"
)

// Catalog maps roleplay ids to their kind. Unknown ids are practice calls.
type Catalog struct {
	kinds map[string]Kind
}

// ParseCatalog reads "id=kind" pairs separated by commas, for example
// "1.1=practice,1.2=marathon,2.1=advanced".
func ParseCatalog(raw string) (Catalog, error) {
	catalog := Catalog{kinds: map[string]Kind{}}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, kind, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return Catalog{}, fmt.Errorf("invalid catalog entry %q", entry)
		}
		parsed, err := parseKind(kind)
		if err != nil {
			return Catalog{}, fmt.Errorf("catalog entry %q: %w", entry, err)
		}
		catalog.kinds[id] = parsed
	}
	return catalog, nil
}

func (c Catalog) KindFor(roleplayID string) Kind {
	if kind, ok := c.kinds[strings.TrimSpace(roleplayID)]; ok {
		return kind
	}
	return KindPractice
}

// IDs lists the configured roleplays, unordered.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c.kinds))
	for id := range c.kinds {
		ids = append(ids, id)
	}
	return ids
}

func parseKind(value string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(value))); kind {
	case KindPractice, KindMarathon, KindAdvanced:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown roleplay kind %q", value)
	}
}
