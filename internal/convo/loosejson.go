package convo

import (
	"encoding/json"
	"regexp"
	"strings"
)

var jsonLabelRe = regexp.MustCompile(`(?i)^\s*json\s*:\s*`)

// stripCodeFences drops ``` fence marker lines while keeping the fenced
// content itself.
func stripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ExtractLooseJSON recovers a JSON object embedded in unstructured generated
// text: fences and a leading "JSON:" label are stripped, then the substring
// from the first '{' to the last '}' is parsed. Returns false when no valid
// object can be recovered.
func ExtractLooseJSON(text string) (string, bool) {
	cleaned := stripCodeFences(text)
	cleaned = jsonLabelRe.ReplaceAllString(strings.TrimSpace(cleaned), "")

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end < start {
		return "", false
	}
	candidate := cleaned[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}
