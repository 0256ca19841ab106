package convo

import (
	"strings"
	"testing"
	"unicode/utf8"
)

const sampleItinerary = `{
  "title": "Kyoto food crawl",
  "description": "Three days of markets, tea houses and izakayas.",
  "destination": "Kyoto",
  "days": [
    {"notes": "arrival", "activities": [{"description": "Nishiki Market tasting walk", "location": "Nishiki Market"}]},
    {"notes": "", "activities": [{"description": "Morning tea ceremony in Gion", "location": "Gion"}]},
    {"notes": "", "activities": [{"description": "Fushimi sake district tour", "location": "Fushimi"}]}
  ]
}`

func TestParseItinerary_Valid(t *testing.T) {
	draft, err := ParseItinerary("```json\n"+sampleItinerary+"\n```", 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if draft.Title != "Kyoto food crawl" || draft.Destination != "Kyoto" {
		t.Fatalf("unexpected draft: %+v", draft)
	}
	if len(draft.Days) != 3 {
		t.Fatalf("expected 3 days, got %d", len(draft.Days))
	}
}

func TestParseItinerary_DaysHintMismatch(t *testing.T) {
	if _, err := ParseItinerary(sampleItinerary, 5); err == nil {
		t.Fatalf("expected mismatch error for days hint 5")
	}
	if _, err := ParseItinerary(sampleItinerary, 3); err != nil {
		t.Fatalf("matching hint should pass: %v", err)
	}
}

func TestParseItinerary_NoDays(t *testing.T) {
	if _, err := ParseItinerary(`{"title": "Empty", "days": []}`, 0); err == nil {
		t.Fatalf("expected error for empty days")
	}
	if _, err := ParseItinerary("not json at all", 0); err == nil {
		t.Fatalf("expected error for non-JSON input")
	}
}

func TestParseItinerary_TruncatesDescription(t *testing.T) {
	long := strings.Repeat("x", 800)
	raw := `{"title": "T", "description": "` + long + `", "destination": "Oslo", "days": [{"activities": []}]}`
	draft, err := ParseItinerary(raw, 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if utf8.RuneCountInString(draft.Description) != maxDescriptionChars {
		t.Fatalf("expected description truncated to %d chars, got %d",
			maxDescriptionChars, utf8.RuneCountInString(draft.Description))
	}
}

func TestParseItinerary_TruncatesMultibyteDescription(t *testing.T) {
	long := strings.Repeat("ü", 800)
	raw := `{"title": "T", "description": "` + long + `", "destination": "Köln", "days": [{"activities": []}]}`
	draft, err := ParseItinerary(raw, 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !utf8.ValidString(draft.Description) {
		t.Fatalf("truncation corrupted a multi-byte character")
	}
	if utf8.RuneCountInString(draft.Description) != maxDescriptionChars {
		t.Fatalf("expected %d chars, got %d", maxDescriptionChars, utf8.RuneCountInString(draft.Description))
	}
}
