package provider

import (
	"regexp"
	"strings"
)

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSONObject pulls a JSON object out of an LLM reply. Models are asked
// for bare JSON but routinely wrap it in markdown fences or surrounding
// prose, so extraction tolerates all three forms:
//
//	{...}
//	```json\n{...}\n```
//	Here is the analysis: {...}
//
// The returned string is the best candidate; callers still unmarshal it and
// fall back on failure. ok is false when no object-like region exists.
func ExtractJSONObject(content string) (string, bool) {
	s := strings.TrimSpace(content)
	if s == "" {
		return "", false
	}

	if m := fencedBlockRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
