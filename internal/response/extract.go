package response

import (
	"encoding/json"
	"regexp"
	"strings"
)

// AI answers embed structured updates in Markdown fences. The tagged
// form wins; an untagged fence is a fallback only when no tagged fence
// exists anywhere in the text. First match wins in both cases.
var (
	jsonFencePattern = regexp.MustCompile("(?is)```json[\\s\\n]*(.*?)```")
	anyFencePattern  = regexp.MustCompile("(?s)```[\\s\\n]*(.*?)```")
)

// ExtractJSONBlock pulls the first fenced JSON block out of free-text AI
// output and parses it. The result is only returned when it is a
// non-null JSON object; anything else (no fence, invalid JSON, array,
// scalar) yields ok=false. Extraction is best-effort and never fails the
// caller.
func ExtractJSONBlock(text string) (map[string]any, bool) {
	match := jsonFencePattern.FindStringSubmatch(text)
	if match == nil {
		match = anyFencePattern.FindStringSubmatch(text)
	}
	if match == nil {
		return nil, false
	}

	raw := strings.TrimSpace(match[1])
	if raw == "" {
		return nil, false
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, false
	}
	obj, ok := parsed.(map[string]any)
	if !ok || obj == nil {
		return nil, false
	}
	return obj, true
}
