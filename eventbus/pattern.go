package eventbus

import (
	"fmt"
	"regexp"
	"strings"
)

// matcher tests event types against one listener pattern.
//
// Pattern syntax:
//   - "*" alone matches every type
//   - "**" matches any remaining text, dots included
//   - "*" inside a pattern matches a non-empty run of characters without dots
//   - everything else is literal
type matcher struct {
	pattern string
	all     bool
	re      *regexp.Regexp
}

func compilePattern(pattern string) (*matcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if pattern == "*" {
		return &matcher{pattern: pattern, all: true}, nil
	}
	if !strings.Contains(pattern, "*") {
		return &matcher{pattern: pattern}, nil
	}

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '*' {
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			continue
		}
		if i+1 < len(pattern) && pattern[i+1] == '*' {
			b.WriteString(".*")
			i++
			continue
		}
		b.WriteString("[^.]+")
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPattern, pattern, err)
	}
	return &matcher{pattern: pattern, re: re}, nil
}

func (m *matcher) match(eventType string) bool {
	if m.all || eventType == m.pattern {
		return true
	}
	if m.re == nil {
		return false
	}
	return m.re.MatchString(eventType)
}

// MatchPattern reports whether eventType matches pattern. Invalid patterns
// never match.
func MatchPattern(pattern, eventType string) bool {
	m, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return m.match(eventType)
}
