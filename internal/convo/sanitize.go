package convo

import (
	"regexp"
	"strings"
)

const followUpFallback = "Could you tell me a bit more about the trip you have in mind? A destination, rough dates, or a few interests all help."

const apologyFallback = "Sorry, I couldn't put together a valid itinerary just now. Could you ask again, or tell me a little more about the trip first?"

var (
	leadingLabelRe = regexp.MustCompile(`^\s*(?:Assistant|Answer|Response|Reply)\s*:\s*`)
	fenceOrJSONRe  = regexp.MustCompile("(?mi)^\\s*(?:```|json:)")
	roleLineRe     = regexp.MustCompile(`(?m)^\s*(?:User|Assistant|System)\s*:`)
	pureRoleLineRe = regexp.MustCompile(`^\s*(?:User|Assistant|System)\s*:\s*$`)
)

// SanitizeProse cleans a non-itinerary generated reply and guarantees a
// non-empty result.
func SanitizeProse(text string) string {
	out := sanitize(text)
	if out == "" {
		return followUpFallback
	}
	return out
}

// sanitize strips generation artifacts; may return the empty string.
func sanitize(text string) string {
	text = leadingLabelRe.ReplaceAllString(text, "")

	// Cut at the first line that starts a code fence or a "json:" marker.
	if loc := fenceOrJSONRe.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}

	// Cut at the first role-label line after the leading label was removed.
	if loc := roleLineRe.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}

	// A '{' hanging near the end with no closing brace is usually an
	// accidentally appended JSON fragment.
	if i := strings.LastIndexByte(text, '{'); i > 40 &&
		len(text)-i <= 300 &&
		!strings.ContainsRune(text[i:], '}') {
		text = text[:i]
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if pureRoleLineRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
