package convo

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// ParseItinerary recovers a strict ItineraryDraft from generated text.
// daysHint, when positive, is a hard day-count requirement.
func ParseItinerary(raw string, daysHint int) (*ItineraryDraft, error) {
	js, ok := ExtractLooseJSON(raw)
	if !ok {
		return nil, &formatError{reason: "no JSON object found"}
	}

	var draft ItineraryDraft
	if err := json.Unmarshal([]byte(js), &draft); err != nil {
		return nil, &formatError{reason: err.Error()}
	}

	if len(draft.Days) == 0 {
		return nil, &formatError{reason: "no days in itinerary"}
	}
	if daysHint > 0 && len(draft.Days) != daysHint {
		return nil, &formatError{reason: fmt.Sprintf("expected %d days, got %d", daysHint, len(draft.Days))}
	}
	if utf8.RuneCountInString(draft.Description) > maxDescriptionChars {
		runes := []rune(draft.Description)
		draft.Description = string(runes[:maxDescriptionChars])
	}
	return &draft, nil
}

// Encode serializes the draft as the canonical turn reply.
func (d *ItineraryDraft) Encode() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
