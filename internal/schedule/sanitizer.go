package schedule

import "strings"

// Default reasoning markers emitted by DeepSeek-R1 style models.
const (
	DefaultReasoningStart = "<think>"
	DefaultReasoningEnd   = "</think>"
)

// Sanitizer removes reasoning traces from model output and isolates the JSON answer.
// The zero value is not usable; use NewSanitizer or the package-level Sanitize.
type Sanitizer struct {
	start string
	end   string
}

// NewSanitizer creates a sanitizer for the given reasoning marker pair
func NewSanitizer(start, end string) *Sanitizer {
	return &Sanitizer{start: start, end: end}
}

var defaultSanitizer = NewSanitizer(DefaultReasoningStart, DefaultReasoningEnd)

// Sanitize strips reasoning blocks and extracts the first JSON object using the default markers.
func Sanitize(raw string) string {
	return defaultSanitizer.Sanitize(raw)
}

// Sanitize never fails. When no JSON object is found the stripped text is returned
// so the validator can report a parse error against it.
func (s *Sanitizer) Sanitize(raw string) string {
	return ExtractJSON(s.StripReasoning(raw))
}

// StripReasoning removes every start...end block. A closing marker without an opener
// that appears before the first '{' means the model's chat template already opened
// the block, so everything up to it is reasoning and gets dropped too. Markers after
// the first '{' may sit inside JSON strings and are left alone.
func (s *Sanitizer) StripReasoning(text string) string {
	if s.start == "" || s.end == "" {
		return strings.TrimSpace(text)
	}

	for {
		open := strings.Index(text, s.start)
		if open < 0 {
			break
		}
		closeRel := strings.Index(text[open+len(s.start):], s.end)
		if closeRel < 0 {
			break
		}
		closeEnd := open + len(s.start) + closeRel + len(s.end)
		text = text[:open] + text[closeEnd:]
	}

	head := text
	if brace := strings.IndexByte(text, '{'); brace >= 0 {
		head = text[:brace]
	}
	if last := strings.LastIndex(head, s.end); last >= 0 {
		text = text[last+len(s.end):]
	}

	return strings.TrimSpace(text)
}

// ExtractJSON returns the first balanced top-level {...} object in text.
// Braces inside JSON strings are ignored once the object has started.
// If no complete object exists the input is returned unchanged.
func ExtractJSON(text string) string {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if depth > 0 && inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return text
}
