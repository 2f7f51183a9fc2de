// Package sanitize recovers structured JSON from free-form model output.
//
// Recovery runs as an ordered chain of total functions. Each level is
// attempted only when the previous one fails, and each returns the
// recovered JSON bytes or false, never an error. Only when the whole chain
// is exhausted does Recover return ErrUnparseable.
package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnparseable is returned when no recovery level yields valid JSON.
// Callers treat it as retryable: it usually indicates a transient model
// quirk rather than a permanent failure.
var ErrUnparseable = eris.New("sanitize: no structured data recovered")

// A level takes raw model text and returns candidate JSON bytes.
type level func(text string) ([]byte, bool)

var levels = []level{
	direct,
	stripFences,
	braceSlice,
	repairText,
	extractFields,
}

// Recover runs the recovery chain over raw model text and returns the first
// candidate that parses as a JSON value.
func Recover(text string) (json.RawMessage, error) {
	for _, lvl := range levels {
		candidate, ok := lvl(text)
		if !ok {
			continue
		}
		if json.Valid(candidate) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, ErrUnparseable
}

// RecoverInto recovers JSON from text and unmarshals it into out.
func RecoverInto(text string, out any) error {
	raw, err := Recover(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ErrUnparseable
	}
	return nil
}

// direct parses the trimmed text as-is.
func direct(text string) ([]byte, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}
	return []byte(trimmed), true
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

// stripFences removes a markdown code fence wrapper.
func stripFences(text string) ([]byte, bool) {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	inner := strings.TrimSpace(m[1])
	if inner == "" {
		return nil, false
	}
	return []byte(inner), true
}

// braceSlice extracts the substring between the first { and the last }.
func braceSlice(text string) ([]byte, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(text[start : end+1]), true
}

var (
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//[^\n]*$`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// repairText applies textual surgery to almost-JSON: strips comments,
// removes trailing commas, quotes bare keys, converts single quotes, and
// escapes raw control characters inside strings.
func repairText(text string) ([]byte, bool) {
	candidate, ok := braceSlice(text)
	if !ok {
		candidate = []byte(strings.TrimSpace(text))
		if len(candidate) == 0 {
			return nil, false
		}
	}

	s := string(candidate)
	s = lineCommentRe.ReplaceAllString(s, "")
	s = blockCommentRe.ReplaceAllString(s, "")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = bareKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = singleToDoubleQuotes(s)
	s = escapeControls(s)

	return []byte(s), true
}

// singleToDoubleQuotes rewrites single-quoted strings as double-quoted while
// leaving apostrophes inside double-quoted strings alone.
func singleToDoubleQuotes(s string) string {
	var out strings.Builder
	inDouble := false
	inSingle := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			out.WriteByte(ch)
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			out.WriteByte(ch)
			escaped = true
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			out.WriteByte(ch)
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			out.WriteByte('"')
		case ch == '"' && inSingle:
			// A double quote inside a single-quoted string must be escaped
			// once that string becomes double-quoted.
			out.WriteString(`\"`)
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}

// escapeControls escapes raw control characters appearing inside string
// literals, which models emit for multi-line reasons.
func escapeControls(s string) string {
	var out bytes.Buffer
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			out.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			out.WriteByte(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			out.WriteByte(ch)
			continue
		}
		if inString && ch < 0x20 {
			switch ch {
			case '\n':
				out.WriteString(`\n`)
			case '\r':
				out.WriteString(`\r`)
			case '\t':
				out.WriteString(`\t`)
			default:
				fmt.Fprintf(&out, `\u%04x`, ch)
			}
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

var (
	scoreRe  = regexp.MustCompile(`(?i)"?score"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)"?`)
	reasonRe = regexp.MustCompile(`(?i)"?reason(?:ing)?"?\s*[:=]\s*"((?:[^"\\]|\\.)*)"`)
)

// extractFields assembles a minimal {score, reason} object from labeled
// fragments when the surrounding text is not JSON at all. It fails when no
// numeric score can be located; that failure is the chain's terminal signal.
func extractFields(text string) ([]byte, bool) {
	sm := scoreRe.FindStringSubmatch(text)
	if sm == nil {
		return nil, false
	}
	score, err := strconv.ParseFloat(sm[1], 64)
	if err != nil {
		return nil, false
	}

	reason := ""
	if rm := reasonRe.FindStringSubmatch(text); rm != nil {
		reason = rm[1]
	}

	obj := map[string]any{"score": score, "reason": reason}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	return b, true
}
