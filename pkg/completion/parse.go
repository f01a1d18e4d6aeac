package completion

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrSchema marks a response whose text could not be parsed into the
// expected shape. A schema failure is terminal for the unit that asked:
// retrying the same prompt yields the same malformed answer.
var ErrSchema = errors.New("response does not match expected schema")

// ParseJSON extracts the first JSON object from a response's text and
// unmarshals it into T. An optional validate hook can reject structurally
// valid JSON that misses required fields. All failure paths wrap
// ErrSchema so callers can classify with errors.Is.
func ParseJSON[T any](resp *MessageResponse, validate func(T) error) (T, error) {
	var zero T
	if resp == nil {
		return zero, eris.Wrap(ErrSchema, "completion: nil response")
	}

	raw := extractJSONObject(resp.Text())
	if raw == "" {
		return zero, eris.Wrap(ErrSchema, "completion: no JSON object in response")
	}

	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return zero, eris.Wrap(ErrSchema, "completion: "+err.Error())
	}

	if validate != nil {
		if err := validate(out); err != nil {
			return zero, eris.Wrap(ErrSchema, "completion: "+err.Error())
		}
	}

	return out, nil
}

// extractJSONObject returns the first balanced top-level JSON object in
// s, tolerating prose or markdown fences around it. Returns "" when no
// balanced object is found.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
