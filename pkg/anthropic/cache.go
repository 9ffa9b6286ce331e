package anthropic

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// CachedSystem returns a single system block with a prompt-cache breakpoint.
// Rubric prompts are identical across every item of a scoring run, so the
// cache is hit from the second item on.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: "5m"}}}
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON returns the JSON payload of a model reply: the contents of the
// first fenced block if there is one, otherwise the outermost {...} or [...]
// span.
func ExtractJSON(text string) (string, error) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), nil
	}
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	best, bestStart := "", len(trimmed)
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(trimmed, pair[0])
		end := strings.LastIndex(trimmed, pair[1])
		if start < 0 || end <= start || start >= bestStart {
			continue
		}
		if candidate := trimmed[start : end+1]; json.Valid([]byte(candidate)) {
			best, bestStart = candidate, start
		}
	}
	if best == "" {
		return "", eris.New("anthropic: no JSON found in response")
	}
	return best, nil
}

// DecodeJSON extracts and unmarshals the JSON payload of a reply into v.
func DecodeJSON(text string, v any) error {
	payload, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return eris.Wrap(json.Unmarshal([]byte(payload), v), "anthropic: decode JSON response")
}
