package convo

import (
	"context"
	"encoding/json"
	"log"
	"regexp"

	"github.com/voyago/voyago/internal/ai"
)

var (
	creationVerbRe  = regexp.MustCompile(`(?i)\b(?:create|make|generate|draft|plan|produce|build)\b`)
	itineraryNounRe = regexp.MustCompile(`(?i)(?:\bitinerary\b|day[ -]by[ -]day|travel plan|trip plan)`)
	turnIntoRe      = regexp.MustCompile(`(?i)turn (?:this|these|that|it) into an? itinerary|use (?:these|those|the) suggestions? to (?:make|create|build|generate) an? itinerary`)
)

// isExplicitItineraryRequest is the heuristic gate: a creation verb combined
// with an itinerary noun, or a "turn this into an itinerary" phrasing.
func isExplicitItineraryRequest(msg string) bool {
	if turnIntoRe.MatchString(msg) {
		return true
	}
	return creationVerbRe.MatchString(msg) && itineraryNounRe.MatchString(msg)
}

// ShouldGenerateItinerary is the gating rule: the itinerary branch is taken
// iff the classifier says ITINERARY_CREATE, the request is explicit (per
// classifier or per heuristic on the raw message), and readiness was not
// explicitly denied.
func ShouldGenerateItinerary(dec IntentDecision, rawMsg string) bool {
	if dec.Intent != IntentItineraryCreate {
		return false
	}
	if !dec.ExplicitRequest && !isExplicitItineraryRequest(rawMsg) {
		return false
	}
	return dec.Ready()
}

// fallbackDecision is used whenever the classification call fails or its
// output cannot be parsed. It never fails.
func fallbackDecision(rawMsg string) IntentDecision {
	notReady := false
	dec := IntentDecision{
		Intent:        IntentGeneral,
		ReadyToCreate: &notReady,
		Confidence:    0.4,
	}
	if isExplicitItineraryRequest(rawMsg) {
		dec.Intent = IntentItineraryCreate
		dec.ExplicitRequest = true
	}
	return dec
}

// classify issues one low-budget, temperature-0 generation call and parses a
// strict-JSON IntentDecision out of it. Any failure degrades to the
// heuristic fallback; a decision is always produced.
func (s *Service) classify(ctx context.Context, sess *ChatSession, history []Message, userMsg string) IntentDecision {
	raw, err := s.gen.Generate(ctx, ai.GenerateRequest{
		Prompt:       BuildClassificationPrompt(sess, history, userMsg),
		ModelID:      s.modelID,
		MaxNewTokens: 300,
		Temperature:  0,
	})
	if err != nil {
		log.Printf("[classify] session=%s generation failed: %v", sess.SessionID, err)
		return fallbackDecision(userMsg)
	}

	js, ok := ExtractLooseJSON(raw)
	if !ok {
		return fallbackDecision(userMsg)
	}
	var dec IntentDecision
	if err := json.Unmarshal([]byte(js), &dec); err != nil || dec.Intent == "" {
		return fallbackDecision(userMsg)
	}
	if dec.DaysHint < 0 {
		dec.DaysHint = 0
	}
	return dec
}
