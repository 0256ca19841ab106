package convo

import (
	"fmt"
	"strings"
)

const (
	contextTurnsDefault  = 14
	contextTurnsClassify = 12
	contextTurnsSuggest  = 18

	compactThreshold  = 50
	compactKeepRecent = 20
	compactKeepRaw    = 40

	maxSuggestionItems  = 8
	maxConstraintItems  = 6
	maxCombinedItems    = 12
	maxDescriptionChars = 500
)

const systemPreamble = `You are Voyago, a friendly and knowledgeable travel planning assistant. You help travelers explore destinations, narrow down preferences, and build day-by-day itineraries. Be concise and concrete.`

// renderTurns prints the newest n messages oldest-first as attributed lines.
func renderTurns(msgs []Message, n int) string {
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			b.WriteString("User: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("Note: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// BuildContextBlock assembles preamble + rolling summary + recent turns.
func BuildContextBlock(sess *ChatSession, msgs []Message, turns int) string {
	if turns <= 0 {
		turns = contextTurnsDefault
	}
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")
	if strings.TrimSpace(sess.Summary) != "" {
		b.WriteString("Conversation summary so far:\n")
		b.WriteString(strings.TrimSpace(sess.Summary))
		b.WriteString("\n\n")
	}
	b.WriteString("Recent conversation:\n")
	b.WriteString(renderTurns(msgs, turns))
	return b.String()
}

// BuildGenerationPrompt produces the prose-reply prompt. extraInstruction is
// optional (e.g. follow-up questions for missing fields).
func BuildGenerationPrompt(contextBlock, extraInstruction string) string {
	var b strings.Builder
	b.WriteString(contextBlock)
	b.WriteString("\n")
	if extraInstruction != "" {
		b.WriteString(extraInstruction)
		b.WriteString("\n")
	}
	b.WriteString("Answer only the traveler's latest message above, in plain conversational prose. Do not emit JSON, code fences, or role labels.\nAssistant:")
	return b.String()
}

// BuildClassificationPrompt asks for a strict-JSON IntentDecision for the
// latest user message.
func BuildClassificationPrompt(sess *ChatSession, msgs []Message, userMsg string) string {
	var b strings.Builder
	b.WriteString(BuildContextBlock(sess, msgs, contextTurnsClassify))
	b.WriteString("\nLatest user message: ")
	b.WriteString(userMsg)
	b.WriteString(`

Classify the latest user message. Reply with exactly one strict JSON object, double-quoted keys and strings, no trailing commas, no prose:
{
  "intent": "ITINERARY_CREATE" | "ITINERARY_UPDATE" | "GENERAL",
  "explicit_request": boolean (true only if the user explicitly asks to create an itinerary NOW),
  "ready_to_create": boolean (false only if essential trip details are still missing),
  "missing": ["field names still needed, e.g. destination, dates"],
  "create_type": "NEW" | "FROM_PRIOR_SUGGESTIONS" | null,
  "use_prior_context": boolean,
  "days_hint": positive integer or null,
  "destination_hint": string or null,
  "confidence": number between 0 and 1
}`)
	return b.String()
}

// BuildItineraryPrompt builds the strict-schema generation prompt. When
// daysHint is set the exact day count is mandated; otherwise a 3-5 day
// default range is allowed as long as text and day array stay consistent.
func BuildItineraryPrompt(contextBlock string, daysHint int, destinationHint string) string {
	var b strings.Builder
	b.WriteString(contextBlock)
	b.WriteString("\nCreate a travel itinerary for the traveler")
	if destinationHint != "" {
		b.WriteString(" for ")
		b.WriteString(destinationHint)
	}
	b.WriteString(".\n")
	if daysHint > 0 {
		fmt.Fprintf(&b, "The itinerary MUST contain exactly %d day objects in the \"days\" array, no more and no fewer.\n", daysHint)
	} else {
		b.WriteString("Choose a sensible length of 3-5 days; the narrative text and the length of the \"days\" array must agree.\n")
	}
	b.WriteString(`Reply with exactly one strict JSON object and nothing else. Double-quoted keys and strings, no trailing commas, no code fences:
{
  "title": string,
  "description": string (at most 500 characters),
  "destination": string,
  "days": [
    {
      "notes": string,
      "activities": [ { "description": string, "location": string } ]
    }
  ]
}
Every activity description must be concrete and specific to the destination, never a placeholder like "morning activity".`)
	return b.String()
}

// BuildRepairPrompt wraps a malformed reply for one strict re-emission.
func BuildRepairPrompt(raw string) string {
	return `The following text was supposed to be a strict JSON travel itinerary but is malformed or wrapped in prose:

` + raw + `

Re-emit it as exactly one strict JSON object matching this schema, with double-quoted keys and strings and no trailing commas:
{"title": string, "description": string, "destination": string, "days": [{"notes": string, "activities": [{"description": string, "location": string}]}]}
Output only the JSON object.`
}

// BuildSuggestionPrompt scans recent turns for destination suggestions and
// trip constraints already discussed.
func BuildSuggestionPrompt(msgs []Message) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nConversation:\n")
	b.WriteString(renderTurns(msgs, contextTurnsSuggest))
	fmt.Fprintf(&b, `
From the conversation above, extract the travel suggestions that were made and the traveler's constraints. At most %d suggestions and %d constraints, and no more than %d items combined. Reply with exactly one strict JSON object, no prose:
{"suggestions": ["short bullet", ...], "constraints": ["short bullet", ...]}`,
		maxSuggestionItems, maxConstraintItems, maxCombinedItems)
	return b.String()
}

// BuildSummaryPrompt summarizes everything except the newest keepRecent
// messages, for compaction.
func BuildSummaryPrompt(msgs []Message) string {
	older := msgs
	if len(older) > compactKeepRecent {
		older = older[:len(older)-compactKeepRecent]
	}
	var b strings.Builder
	b.WriteString("Summarize the following travel-planning conversation in 8-12 short bullet points. Keep every concrete preference: destinations, dates, budget, traveler count, interests, decisions made.\n\n")
	b.WriteString(renderTurns(older, 0))
	b.WriteString("\nSummary bullets:")
	return b.String()
}
