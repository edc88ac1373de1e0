// Package analyzer implements the Command Analyzer & Whitelist (C4): it
// maps a shell-style command string to a risk verdict by tokenizing it
// quote-aware, splitting it into pipeline segments at unquoted shell
// operators, and classifying the effective binary and its arguments of
// each segment against a fixed rule table.
//
// Grounded on internal/tools/security/shell_parser.go's
// AnalyzeCommandQuoteAware, whose unquotedRanges mask technique for
// ignoring metacharacters inside quotes is reused here for operator
// splitting rather than metacharacter flagging.
package analyzer

import "strings"

// unquotedMask returns a bool slice the same length as cmd where true
// means the byte at that index is not inside a single- or double-quoted
// span and not an escaping backslash or the quote character itself.
func unquotedMask(cmd string) []bool {
	mask := make([]bool, len(cmd))
	for i := range mask {
		mask[i] = true
	}

	inSingle, inDouble, escaped := false, false, false
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]

		if escaped {
			escaped = false
			mask[i] = false
			continue
		}
		if c == '\\' && !inSingle {
			escaped = true
			mask[i] = false
			continue
		}
		if c == '\'' && !inDouble {
			inSingle = !inSingle
			mask[i] = false
			continue
		}
		if c == '"' && !inSingle {
			inDouble = !inDouble
			mask[i] = false
			continue
		}
		if inSingle || inDouble {
			mask[i] = false
		}
	}
	return mask
}

// segment is one command in a pipeline/chain, with the operator that
// preceded it (empty for the first segment).
type segment struct {
	precedingOp string
	text        string
}

// splitSegments splits cmd at unquoted pipeline/chain operators
// (|, &&, ||, ;, & — but not a bare single & inside &&) so each segment
// can be classified independently; a pipeline's overall risk is the
// maximum across its segments.
func splitSegments(cmd string) []segment {
	mask := unquotedMask(cmd)
	ops := []string{"&&", "||", ";", "|", "&"}

	var segments []segment
	start := 0
	lastOp := ""
	i := 0
	for i < len(cmd) {
		matched := ""
		if mask[i] {
			for _, op := range ops {
				if strings.HasPrefix(cmd[i:], op) {
					// Don't split a "|" or "&" out of "||" / "&&".
					if op == "|" && strings.HasPrefix(cmd[i:], "||") {
						continue
					}
					if op == "&" && strings.HasPrefix(cmd[i:], "&&") {
						continue
					}
					matched = op
					break
				}
			}
		}
		if matched != "" {
			segments = append(segments, segment{precedingOp: lastOp, text: cmd[start:i]})
			lastOp = matched
			i += len(matched)
			start = i
			continue
		}
		i++
	}
	segments = append(segments, segment{precedingOp: lastOp, text: cmd[start:]})

	out := make([]segment, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.text) != "" {
			out = append(out, s)
		}
	}
	return out
}

// tokens splits a single segment into shell words, quote-aware, and
// strips quote and backslash-escape characters from each word the way
// shell word-splitting does.
func tokens(text string) []string {
	mask := unquotedMask(text)
	var out []string
	var cur strings.Builder
	inWord := false
	inSingle, inDouble, escaped := false, false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if mask[i] && (c == ' ' || c == '\t') {
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
			continue
		}
		// Quote/escape characters themselves are stripped from the
		// reconstructed word but the character they protect survives.
		inWord = true
		switch {
		case escaped:
			escaped = false
		case c == '\\' && !inSingle:
			escaped = true
			continue
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			continue
		case c == '"' && !inSingle:
			inDouble = !inDouble
			continue
		}
		cur.WriteByte(c)
	}
	if inWord {
		out = append(out, cur.String())
	}
	return out
}

// redirectTargets returns the filesystem paths named as redirection
// targets in a tokenized segment (">", ">>", "<" followed by a word).
func redirectTargets(toks []string) []string {
	var targets []string
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t == ">" || t == ">>" || t == "<" {
			if i+1 < len(toks) {
				targets = append(targets, toks[i+1])
			}
			continue
		}
		// Also catch glued forms like ">/etc/passwd".
		for _, prefix := range []string{">>", ">", "<"} {
			if strings.HasPrefix(t, prefix) && len(t) > len(prefix) {
				targets = append(targets, t[len(prefix):])
			}
		}
	}
	return targets
}
