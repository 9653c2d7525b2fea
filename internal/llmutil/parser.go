// Package llmutil cleans and parses the JSON that LLM providers return.
// Models routinely wrap payloads in markdown fences or conversational
// preamble even when told not to; everything here is defensive plumbing so
// the rest of the pipeline only ever sees typed structs.
package llmutil

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/quizforge/quizforge/internal/llmerrors"
)

// Backticks are written as \x60 because Go raw strings cannot contain them.
var fencedRe = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(.*?)\\s*\x60\x60\x60")

// StripFences removes a surrounding ```json / ``` markdown fence, if any.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if m := fencedRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// extract slices out the outermost JSON object or array embedded in
// conversational text. Returns s unchanged when no structure is found.
func extract(s string) string {
	objStart, objEnd := strings.Index(s, "{"), strings.LastIndex(s, "}")
	arrStart, arrEnd := strings.Index(s, "["), strings.LastIndex(s, "]")

	// Prefer whichever structure opens first.
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) && arrEnd > arrStart {
		return s[arrStart : arrEnd+1]
	}
	if objStart != -1 && objEnd > objStart {
		return s[objStart : objEnd+1]
	}
	return s
}

// ParseJSON parses an LLM response into T, tolerating markdown fences and
// surrounding chatter. Failures come back as parsing_error so the caller's
// error policy (retry, degrade, reject) can key off the kind.
func ParseJSON[T any](response string) (*T, error) {
	payload := StripFences(response)
	if !strings.HasPrefix(payload, "{") && !strings.HasPrefix(payload, "[") {
		payload = extract(payload)
	}

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, &llmerrors.APIError{
			Kind:    llmerrors.KindParsing,
			Message: "failed to parse LLM JSON response (payload: " + truncate(payload, 300) + ")",
			Err:     err,
		}
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
