package convo

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/voyago/voyago/internal/ai"
	"github.com/voyago/voyago/internal/common"
	"github.com/voyago/voyago/internal/notify"
)

// Generator is the outbound text-generation contract. *ai.Client satisfies
// it; tests plug in fakes.
type Generator interface {
	Generate(ctx context.Context, req ai.GenerateRequest) (string, error)
}

type Service struct {
	repo     *Repo
	gen      Generator
	locker   Locker
	notifier notify.Notifier
	modelID  string
}

func NewService(repo *Repo, gen Generator, locker Locker, notifier notify.Notifier, modelID string) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if modelID == "" {
		modelID = ai.DefaultModelID
	}
	return &Service{repo: repo, gen: gen, locker: locker, notifier: notifier, modelID: modelID}
}

func (s *Service) CreateSession(ctx context.Context, userID uint64) (*ChatSession, error) {
	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	sess := &ChatSession{
		SessionID: sid,
		UserID:    userID,
		Title:     DefaultTitle,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, &PersistenceError{Op: "create session", Err: err}
	}
	return sess, nil
}

func (s *Service) getOwnedSession(ctx context.Context, userID uint64, sessionID string) (*ChatSession, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		// hide existence of foreign sessions
		return nil, gorm.ErrRecordNotFound
	}
	return sess, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uint64) ([]ChatSession, error) {
	return s.repo.ListSessions(ctx, userID)
}

func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*ChatSession, []Message, error) {
	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

func (s *Service) PatchSession(ctx context.Context, userID uint64, sessionID string, title *string, archived *bool) (*ChatSession, error) {
	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			return nil, &ValidationError{Msg: "title must not be empty"}
		}
		sess.Title = t
	}
	if archived != nil {
		sess.Archived = *archived
	}
	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return nil, &PersistenceError{Op: "patch session", Err: err}
	}
	return sess, nil
}

// ProcessTurn runs the full turn state machine: classify, branch per the
// gating rule, generate, validate or sanitize, append, compact, persist.
// On success the reply is always non-empty; itinerary failure demotes to
// prose rather than erroring.
func (s *Service) ProcessTurn(ctx context.Context, userID uint64, sessionID, message string) (*TurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &ValidationError{Msg: "message is required"}
	}

	if sessionID == "" {
		created, err := s.CreateSession(ctx, userID)
		if err != nil {
			return nil, err
		}
		sessionID = created.SessionID
	}

	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "acquire session lock", Err: err}
	}
	defer release()

	// Load under the lock. A load taken before Acquire could carry a stale
	// summary/title/scratchpad and write it back over a concurrent turn's
	// compaction.
	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Archived {
		return nil, &ValidationError{Msg: "session is archived"}
	}

	if err := s.repo.AppendMessage(ctx, &Message{
		SessionID: sess.SessionID,
		Role:      RoleUser,
		Content:   message,
	}); err != nil {
		return nil, &PersistenceError{Op: "append user message", Err: err}
	}

	msgs, err := s.repo.ListMessages(ctx, sess.SessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "load messages", Err: err}
	}

	// history for classification excludes the message being classified
	dec := s.classify(ctx, sess, msgs[:len(msgs)-1], message)

	expecting := ShouldGenerateItinerary(dec, message)
	itineraryValid := false
	var reply string

	if expecting {
		reply, itineraryValid, err = s.itineraryTurn(ctx, sess, msgs, dec)
		if err != nil {
			return nil, err
		}
		// gate only holds if the JSON round-tripped
		expecting = itineraryValid
	} else {
		reply, err = s.generalTurn(ctx, sess, msgs, dec)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.AppendMessage(ctx, &Message{
		SessionID: sess.SessionID,
		Role:      RoleAssistant,
		Content:   reply,
	}); err != nil {
		return nil, &PersistenceError{Op: "append assistant message", Err: err}
	}

	count, err := s.repo.CountMessages(ctx, sess.SessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "count messages", Err: err}
	}
	if count >= compactThreshold {
		if err := s.compact(ctx, sess); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return nil, &PersistenceError{Op: "save session", Err: err}
	}

	preview := reply
	if len(preview) > 120 {
		cut := 120
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}
	if err := s.notifier.Publish(ctx, "chat", "turn", map[string]any{
		"session_id":      sess.SessionID,
		"user_id":         userID,
		"itinerary_valid": itineraryValid,
		"reply_preview":   preview,
	}); err != nil {
		log.Printf("[ProcessTurn] notify failed session=%s: %v", sess.SessionID, err)
	}

	return &TurnResult{
		SessionID:          sess.SessionID,
		Reply:              reply,
		ExpectingItinerary: expecting,
		ItineraryValid:     itineraryValid,
		Classification:     dec,
	}, nil
}

// itineraryTurn generates and validates a strict itinerary document, with
// one repair attempt. On double failure the turn demotes to sanitized prose.
func (s *Service) itineraryTurn(ctx context.Context, sess *ChatSession, msgs []Message, dec IntentDecision) (reply string, valid bool, err error) {
	contextBlock := BuildContextBlock(sess, msgs, contextTurnsDefault)

	if dec.CreateType == CreateTypeFromPriorSuggestions || dec.UsePriorContext {
		bundle, err := s.extractSuggestions(ctx, msgs)
		if err != nil {
			return "", false, err
		}
		if block := renderSuggestions(bundle); block != "" {
			contextBlock += "\n" + block
		}
	}

	raw, err := s.gen.Generate(ctx, ai.GenerateRequest{
		Prompt:       BuildItineraryPrompt(contextBlock, dec.DaysHint, dec.DestinationHint),
		ModelID:      s.modelID,
		MaxNewTokens: 1500,
		Temperature:  0.7,
	})
	if err != nil {
		return "", false, err
	}

	draft, perr := ParseItinerary(raw, dec.DaysHint)
	if perr != nil {
		repaired, rerr := s.gen.Generate(ctx, ai.GenerateRequest{
			Prompt:       BuildRepairPrompt(raw),
			ModelID:      s.modelID,
			MaxNewTokens: 1500,
			Temperature:  0,
		})
		if rerr != nil {
			return "", false, rerr
		}
		draft, perr = ParseItinerary(repaired, dec.DaysHint)
		if perr == nil {
			raw = repaired
		}
	}

	if perr != nil {
		log.Printf("[itineraryTurn] session=%s demoting after failed repair: %v", sess.SessionID, perr)
		fallback := sanitize(raw)
		if fallback == "" {
			fallback = apologyFallback
		}
		return fallback, false, nil
	}

	encoded, encErr := draft.Encode()
	if encErr != nil {
		// marshal of a just-unmarshalled value; effectively unreachable
		return apologyFallback, false, nil
	}

	s.noteItinerary(sess, dec, draft)
	return encoded, true, nil
}

func (s *Service) generalTurn(ctx context.Context, sess *ChatSession, msgs []Message, dec IntentDecision) (string, error) {
	extra := ""
	if !dec.Ready() && len(dec.Missing) > 0 {
		extra = "Ask up to 2 follow-up questions to learn: " + strings.Join(dec.Missing, ", ") + "."
	}
	raw, err := s.gen.Generate(ctx, ai.GenerateRequest{
		Prompt:        BuildGenerationPrompt(BuildContextBlock(sess, msgs, contextTurnsDefault), extra),
		ModelID:       s.modelID,
		MaxNewTokens:  700,
		StopSequences: []string{"\nUser:"},
		Temperature:   0.7,
	})
	if err != nil {
		return "", err
	}
	return SanitizeProse(raw), nil
}

// compact folds everything but the newest 20 messages into the rolling
// summary, then truncates the raw log to the newest 40. Lossy by design.
func (s *Service) compact(ctx context.Context, sess *ChatSession) error {
	msgs, err := s.repo.ListMessages(ctx, sess.SessionID)
	if err != nil {
		return &PersistenceError{Op: "load messages for compaction", Err: err}
	}
	if len(msgs) <= compactKeepRecent {
		return nil
	}

	summary, err := s.gen.Generate(ctx, ai.GenerateRequest{
		Prompt:       BuildSummaryPrompt(msgs),
		ModelID:      s.modelID,
		MaxNewTokens: 500,
		Temperature:  0,
	})
	if err != nil {
		return err
	}

	summary = strings.TrimSpace(summary)
	if summary != "" {
		if sess.Summary == "" {
			sess.Summary = summary
		} else {
			sess.Summary = sess.Summary + "\n" + summary
		}
	}

	if err := s.repo.TruncateMessages(ctx, sess.SessionID, compactKeepRaw); err != nil {
		return &PersistenceError{Op: "truncate messages", Err: err}
	}
	return nil
}

// extractSuggestions mines prior turns for suggestion/constraint bullets.
// A failed generation call fails the turn; an unparseable reply yields an
// empty bundle.
func (s *Service) extractSuggestions(ctx context.Context, msgs []Message) (*SuggestionBundle, error) {
	raw, err := s.gen.Generate(ctx, ai.GenerateRequest{
		Prompt:       BuildSuggestionPrompt(msgs),
		ModelID:      s.modelID,
		MaxNewTokens: 400,
		Temperature:  0,
	})
	if err != nil {
		return nil, err
	}

	var bundle SuggestionBundle
	js, ok := ExtractLooseJSON(raw)
	if !ok {
		return &bundle, nil
	}
	if err := json.Unmarshal([]byte(js), &bundle); err != nil {
		return &SuggestionBundle{}, nil
	}

	if len(bundle.Suggestions) > maxSuggestionItems {
		bundle.Suggestions = bundle.Suggestions[:maxSuggestionItems]
	}
	if len(bundle.Constraints) > maxConstraintItems {
		bundle.Constraints = bundle.Constraints[:maxConstraintItems]
	}
	for len(bundle.Suggestions)+len(bundle.Constraints) > maxCombinedItems {
		if len(bundle.Constraints) > 0 {
			bundle.Constraints = bundle.Constraints[:len(bundle.Constraints)-1]
		} else {
			bundle.Suggestions = bundle.Suggestions[:len(bundle.Suggestions)-1]
		}
	}
	return &bundle, nil
}

func renderSuggestions(bundle *SuggestionBundle) string {
	if bundle == nil || (len(bundle.Suggestions) == 0 && len(bundle.Constraints) == 0) {
		return ""
	}
	var b strings.Builder
	if len(bundle.Suggestions) > 0 {
		b.WriteString("Suggestions already discussed:\n")
		for _, sg := range bundle.Suggestions {
			b.WriteString("- ")
			b.WriteString(sg)
			b.WriteString("\n")
		}
	}
	if len(bundle.Constraints) > 0 {
		b.WriteString("Traveler constraints:\n")
		for _, c := range bundle.Constraints {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// noteItinerary records hints from a successful itinerary turn in the
// scratchpad and upgrades the default session title.
func (s *Service) noteItinerary(sess *ChatSession, dec IntentDecision, draft *ItineraryDraft) {
	sp := sess.Scratchpad()

	dest := draft.Destination
	if dest == "" {
		dest = dec.DestinationHint
	}
	if dest != "" {
		known := false
		for _, d := range sp.Destinations {
			if strings.EqualFold(d.Name, dest) {
				known = true
				break
			}
		}
		if !known {
			sp.Destinations = append(sp.Destinations, Destination{Name: dest})
		}
	}
	sess.SetScratchpad(sp)

	if sess.Title == DefaultTitle && draft.Title != "" {
		sess.Title = draft.Title
	}
}
