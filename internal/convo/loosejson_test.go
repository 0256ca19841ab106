package convo

import "testing"

func TestExtractLooseJSON_Fenced(t *testing.T) {
	in := "Here you go:\n```json\n{\"a\": 1}\n```\nEnjoy!"
	got, ok := ExtractLooseJSON(in)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if got != `{"a": 1}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractLooseJSON_JSONLabel(t *testing.T) {
	got, ok := ExtractLooseJSON(`JSON: {"intent":"GENERAL"}`)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if got != `{"intent":"GENERAL"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractLooseJSON_ProseWrapped(t *testing.T) {
	in := `Sure! Here is the plan {"title":"Trip","days":[{"activities":[]}]} hope it helps`
	got, ok := ExtractLooseJSON(in)
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}
	if got != `{"title":"Trip","days":[{"activities":[]}]}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

// extracting an already-extracted object must return it unchanged
func TestExtractLooseJSON_Idempotent(t *testing.T) {
	first, ok := ExtractLooseJSON("```\n{\"x\": [1, 2]}\n```")
	if !ok {
		t.Fatalf("first extraction failed")
	}
	second, ok := ExtractLooseJSON(first)
	if !ok {
		t.Fatalf("second extraction failed")
	}
	if second != first {
		t.Fatalf("not idempotent: %q vs %q", first, second)
	}
}

func TestExtractLooseJSON_Invalid(t *testing.T) {
	cases := []string{
		"",
		"no braces at all",
		`{"unterminated": `,
		"{broken}",
	}
	for _, in := range cases {
		if got, ok := ExtractLooseJSON(in); ok {
			t.Fatalf("expected failure for %q, got %q", in, got)
		}
	}
}
