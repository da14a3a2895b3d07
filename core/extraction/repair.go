package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soverin/bindery/model"
)

// ParseError describes why a structured payload could not be parsed.
// It is a value, two identical failures compare equal, which is how the
// correction loop detects that a provider keeps making the same mistake.
type ParseError struct {
	Kind    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Equal reports whether two parse errors describe the same failure.
func (e *ParseError) Equal(other *ParseError) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.Kind == other.Kind && e.Message == other.Message
}

// ParseMetadata parses a provider response into metadata. Markdown code
// fences around the payload are tolerated. On failure a best-effort
// local repair is attempted before reporting the parse error.
func ParseMetadata(payload string) (model.Metadata, *ParseError) {
	cleaned := stripCodeFence(payload)
	if strings.TrimSpace(cleaned) == "" {
		return nil, &ParseError{Kind: "empty", Message: "payload contains no content"}
	}

	var metadata model.Metadata
	err := json.Unmarshal([]byte(cleaned), &metadata)
	if err == nil {
		return metadata, nil
	}

	// Local best-effort repair before involving the provider again.
	repaired := RepairJSON(cleaned)
	if repairErr := json.Unmarshal([]byte(repaired), &metadata); repairErr == nil {
		return metadata, nil
	}

	return nil, &ParseError{Kind: "syntax", Message: err.Error()}
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// RepairJSON attempts to fix common JSON formatting issues from LLM
// responses. It specifically handles missing opening quotes before keys
// in JSON objects, e.g. `, type":` becomes `, "type":`.
func RepairJSON(s string) string {
	result := []rune(s)
	fixed := make([]rune, 0, len(result)+100)

	i := 0
	for i < len(result) {
		ch := result[i]

		// After { or , look for unquoted keys
		if ch == '{' || ch == ',' {
			fixed = append(fixed, ch)
			i++

			// Skip whitespace
			for i < len(result) && (result[i] == ' ' || result[i] == '\n' || result[i] == '\t') {
				fixed = append(fixed, result[i])
				i++
			}

			// Check if we have an unquoted key (starts with letter, not with quote)
			if i < len(result) && result[i] != '"' && isLetter(result[i]) {
				keyStart := i
				for i < len(result) && (isLetter(result[i]) || result[i] == '_' || result[i] == ' ') {
					i++
				}
				keyEnd := i

				// A `": ` right after the key means the opening quote was dropped
				if i+1 < len(result) && result[i] == '"' && result[i+1] == ':' {
					fixed = append(fixed, '"')
					for j := keyStart; j < keyEnd; j++ {
						if result[j] != ' ' || (j > keyStart && j < keyEnd-1) {
							fixed = append(fixed, result[j])
						}
					}
					continue
				} else {
					// Not an unquoted key, just copy what we skipped
					for j := keyStart; j < i; j++ {
						fixed = append(fixed, result[j])
					}
				}
			}
		} else {
			fixed = append(fixed, ch)
			i++
		}
	}

	return string(fixed)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
