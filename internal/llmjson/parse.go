// Package llmjson recovers JSON objects from free-form model output and
// validates them against embedded schemas.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	windowRadius  = 2
	maxWindowLine = 200
)

var (
	// ErrEmpty is returned when the input has no content.
	ErrEmpty = errors.New("empty model output")
	// ErrNoObject is returned when the input has no opening brace.
	ErrNoObject = errors.New("no json object found")

	jsonFence = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")
	anyFence  = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*\\s*(.*?)\\s*```")
)

// ParseError describes where recovery failed. Line and Column are 1-indexed
// positions within the normalized text of Length bytes.
type ParseError struct {
	Line   int
	Column int
	Offset int64
	Length int
	Window []string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("parse json (%d chars): %v", e.Length, e.Err)
	}
	return fmt.Sprintf("parse json at line %d column %d (%d chars): %v", e.Line, e.Column, e.Length, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Normalize applies the textual clean-ups performed before decoding: fence
// stripping, brace slicing and trailing comma removal.
func Normalize(text string) string {
	text = strings.TrimSpace(text)

	if m := jsonFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if strings.Contains(text, "```") {
		if m := anyFence.FindStringSubmatch(text); m != nil {
			text = m[1]
		}
	}

	return stripTrailingCommas(braceSpan(text))
}

// braceSpan cuts text to the span between the first '{' and the last '}'.
func braceSpan(text string) string {
	if first := strings.Index(text, "{"); first != -1 {
		text = text[first:]
	}
	if last := strings.LastIndex(text, "}"); last != -1 {
		text = text[:last+1]
	}
	return text
}

// stripTrailingCommas drops commas (and the whitespace after them) that
// directly precede '}' or ']'. String literals are left untouched.
func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(text) && isSpace(text[j]) {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Parse extracts the first recoverable JSON object from text. The widest
// brace-delimited span is taken, so concatenated objects yield only the first.
func Parse(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Err: ErrEmpty}
	}

	// Text that already holds a valid object is taken as is, so string
	// values containing fences or ",}" are never rewritten.
	var out map[string]any
	if raw := braceSpan(strings.TrimSpace(text)); strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &out); err == nil && out != nil {
			return out, nil
		}
		out = nil
	}

	cleaned := Normalize(text)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, &ParseError{Length: len(cleaned), Err: ErrNoObject}
	}

	strictErr := json.Unmarshal([]byte(cleaned), &out)
	if strictErr == nil {
		return out, nil
	}

	out = nil
	if err := json.NewDecoder(strings.NewReader(cleaned)).Decode(&out); err == nil && out != nil {
		return out, nil
	}

	return nil, newParseError(cleaned, strictErr)
}

func newParseError(text string, err error) *ParseError {
	offset := int64(len(text))
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		offset = syntaxErr.Offset
	}

	// Offset counts bytes read, the offending byte is the last of them.
	pos := int(offset) - 1
	if pos < 0 {
		pos = 0
	}
	if pos > len(text) {
		pos = len(text)
	}

	line := strings.Count(text[:pos], "\n") + 1
	column := pos - strings.LastIndex(text[:pos], "\n")

	return &ParseError{
		Line:   line,
		Column: column,
		Offset: offset,
		Length: len(text),
		Window: window(text, line),
		Err:    err,
	}
}

func window(text string, line int) []string {
	lines := strings.Split(text, "\n")
	errLine := line - 1
	start := max(0, errLine-windowRadius)
	end := min(len(lines), errLine+windowRadius+1)

	out := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		content := lines[i]
		if len(content) > maxWindowLine {
			content = content[:maxWindowLine] + "..."
		}
		prefix := "    "
		if i == errLine {
			prefix = ">>> "
		}
		out = append(out, fmt.Sprintf("%s%4d | %s", prefix, i+1, content))
	}
	return out
}
