package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type rule interface {
	apply(input string) (output string, changed bool)
}

// parseRules compiles a rules file. Supported lines:
//
//	# comment
//	pull request => PR
//	s/\bdeep\s*gram\b/Deepgram/g
//	drop: um, uh, you know
func parseRules(contents string) ([]rule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]rule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		compiled, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, compiled)
	}
	return rules, nil
}

func parseLine(line string) (rule, error) {
	switch {
	case strings.HasPrefix(strings.ToLower(line), "drop:"):
		return parseDropRule(line[len("drop:"):])
	case strings.Contains(line, "=>"):
		return parseLiteralRule(line)
	case isSedExpression(line):
		return parseSedRule(line)
	default:
		return nil, errors.New("unsupported rule format")
	}
}

// literalRule replaces a phrase case-insensitively on word boundaries.
type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseLiteralRule(line string) (rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + wordBounded(regexp.QuoteMeta(from), from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, replacement: strings.TrimSpace(to)}, nil
}

func (r literalRule) apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

// dropRule removes filler words together with trailing punctuation.
type dropRule struct {
	re *regexp.Regexp
}

func parseDropRule(list string) (rule, error) {
	var words []string
	for _, word := range strings.Split(list, ",") {
		if word = strings.TrimSpace(word); word != "" {
			words = append(words, wordBounded(regexp.QuoteMeta(word), word))
		}
	}
	if len(words) == 0 {
		return nil, errors.New("drop rule needs at least one word")
	}
	re, err := regexp.Compile(`(?i)(?:` + strings.Join(words, "|") + `)[,.]?`)
	if err != nil {
		return nil, fmt.Errorf("invalid drop rule: %w", err)
	}
	return dropRule{re: re}, nil
}

func (r dropRule) apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, "")
	return output, output != input
}

// sedRule is s<d>pattern<d>replacement<d>flags. Matching is case-insensitive
// unless the pattern overrides it; only the first match is replaced without g.
type sedRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

var backReference = regexp.MustCompile(`\\(\d)`)

func parseSedRule(line string) (rule, error) {
	pattern, replacement, flags, err := splitSed(line)
	if err != nil {
		return nil, err
	}

	global := false
	modes := "i"
	for _, flag := range flags {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(modes, flag) {
				modes += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + modes + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return sedRule{
		re:          re,
		replacement: backReference.ReplaceAllString(strings.ReplaceAll(replacement, "$", "$$"), "$${$1}"),
		global:      global,
	}, nil
}

func (r sedRule) apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	match := r.re.FindStringSubmatchIndex(input)
	if match == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, match)
	output := input[:match[0]] + string(expanded) + input[match[1]:]
	return output, output != input
}

// splitSed splits a sed expression on its delimiter. An escaped delimiter is
// kept literally; other escapes pass through to the regexp.
func splitSed(line string) (pattern, replacement, flags string, err error) {
	delim := line[1]
	var (
		parts   []string
		current strings.Builder
		escaped bool
	)
	for i := 2; i < len(line); i++ {
		char := line[i]
		switch {
		case escaped:
			if char != delim {
				current.WriteByte('\\')
			}
			current.WriteByte(char)
			escaped = false
		case char == '\\':
			escaped = true
		case char == delim && len(parts) < 2:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(char)
		}
	}
	if escaped {
		current.WriteByte('\\')
	}
	if len(parts) != 2 {
		return "", "", "", errors.New("unterminated expression")
	}
	return parts[0], parts[1], strings.TrimSpace(current.String()), nil
}

func isSedExpression(line string) bool {
	return len(line) > 2 && line[0] == 's' && !isWordOrSpace(line[1])
}

// wordBounded adds \b on the sides of pattern where source starts or ends
// with a word character.
func wordBounded(pattern, source string) string {
	if source == "" {
		return pattern
	}
	if isWordOrSpace(source[0]) && source[0] != ' ' {
		pattern = `\b` + pattern
	}
	if last := source[len(source)-1]; isWordOrSpace(last) && last != ' ' {
		pattern += `\b`
	}
	return pattern
}

func isWordOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '_' || char == ' ' || char == '\t'
}
