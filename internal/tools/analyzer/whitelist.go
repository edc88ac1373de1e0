package analyzer

import (
	"regexp"
	"strings"
)

// Pattern is one whitelist entry: either a literal command (compared
// after normalization) or, when prefixed with "regex:", a full-match
// regular expression.
type Pattern struct {
	raw     string
	literal string
	re      *regexp.Regexp
}

// shellOperators must never be allowed to slip past a literal whitelist
// match; a command containing one of them only matches a whitelist entry
// that itself contains that exact operator.
var shellOperators = []string{"&&", "||", ";", "|", "`", "$(", "&"}

// NewPattern compiles one whitelist entry. Invalid regex patterns are
// reported via ok=false so the caller can drop them with a warning
// rather than crash.
func NewPattern(raw string) (Pattern, bool) {
	if strings.HasPrefix(raw, "regex:") {
		expr := strings.TrimPrefix(raw, "regex:")
		re, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return Pattern{}, false
		}
		return Pattern{raw: raw, re: re}, true
	}
	return Pattern{raw: raw, literal: normalize(raw)}, true
}

// normalize collapses whitespace the way shell word-splitting would,
// using the quote-aware tokenizer so quoting is preserved for regex
// patterns but collapsed consistently for literal comparison.
func normalize(cmd string) string {
	return strings.Join(tokens(cmd), " ")
}

// Matches reports whether cmd satisfies this whitelist entry.
func (p Pattern) Matches(cmd string) bool {
	if p.re != nil {
		return p.re.MatchString(cmd)
	}
	normalizedCmd := normalize(cmd)
	if normalizedCmd != p.literal {
		return false
	}
	// A literal match must not let shell operators piggyback on a
	// seemingly-safe command unless the pattern itself names them.
	for _, op := range shellOperators {
		if strings.Contains(normalizedCmd, op) && !strings.Contains(p.literal, op) {
			return false
		}
	}
	return true
}

// Whitelist is an ordered set of patterns checked against a command.
type Whitelist struct {
	patterns []Pattern
}

// NewWhitelist compiles raw into a Whitelist, dropping (not failing on)
// any entry that fails to compile.
func NewWhitelist(raw []string) *Whitelist {
	w := &Whitelist{}
	for _, r := range raw {
		if p, ok := NewPattern(r); ok {
			w.patterns = append(w.patterns, p)
		}
	}
	return w
}

// Matches reports whether any whitelist entry matches cmd.
func (w *Whitelist) Matches(cmd string) bool {
	if w == nil {
		return false
	}
	for _, p := range w.patterns {
		if p.Matches(cmd) {
			return true
		}
	}
	return false
}
