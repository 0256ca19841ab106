package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/voyago/voyago/internal/ai"
)

// scriptedGen routes each prompt kind to a canned reply and records every
// prompt it saw.
type scriptedGen struct {
	classifyOut  string
	itineraryOut string
	repairOut    string
	generalOut   string
	summaryOut   string
	suggestOut   string

	failKind string // prompt kind that should fail with a network error

	prompts []string
}

func promptKind(p string) string {
	switch {
	case strings.Contains(p, "Classify the latest user message"):
		return "classify"
	case strings.Contains(p, "Re-emit it as exactly one strict JSON object"):
		return "repair"
	case strings.Contains(p, "Create a travel itinerary"):
		return "itinerary"
	case strings.Contains(p, "extract the travel suggestions"):
		return "suggest"
	case strings.Contains(p, "Summarize the following travel-planning conversation"):
		return "summary"
	default:
		return "general"
	}
}

func (g *scriptedGen) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	_ = ctx
	g.prompts = append(g.prompts, req.Prompt)
	kind := promptKind(req.Prompt)
	if kind == g.failKind {
		return "", &ai.NetworkError{Op: "generate", Err: errors.New("dial tcp: connection refused")}
	}
	switch kind {
	case "classify":
		return g.classifyOut, nil
	case "repair":
		return g.repairOut, nil
	case "itinerary":
		return g.itineraryOut, nil
	case "suggest":
		return g.suggestOut, nil
	case "summary":
		return g.summaryOut, nil
	default:
		return g.generalOut, nil
	}
}

func (g *scriptedGen) promptsOfKind(kind string) []string {
	var out []string
	for _, p := range g.prompts {
		if promptKind(p) == kind {
			out = append(out, p)
		}
	}
	return out
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ChatSession{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, gen Generator) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	return NewService(NewRepo(db), gen, nil, nil, "test-model"), db
}

const sixDayItinerary = `{
  "title": "Japan food and culture",
  "description": "Six days across Tokyo and Kyoto built around markets, temples and izakayas.",
  "destination": "Japan",
  "days": [
    {"notes": "Tokyo arrival", "activities": [{"description": "Tsukiji outer market breakfast crawl", "location": "Tsukiji"}]},
    {"notes": "", "activities": [{"description": "Sushi-making class in Asakusa", "location": "Asakusa"}]},
    {"notes": "", "activities": [{"description": "Day trip to Nikko shrines", "location": "Nikko"}]},
    {"notes": "Shinkansen to Kyoto", "activities": [{"description": "Nishiki Market tasting walk", "location": "Kyoto"}]},
    {"notes": "", "activities": [{"description": "Tea ceremony and Gion evening walk", "location": "Gion"}]},
    {"notes": "", "activities": [{"description": "Fushimi Inari sunrise hike", "location": "Fushimi"}]}
  ]
}`

func TestProcessTurn_ItineraryCreation(t *testing.T) {
	gen := &scriptedGen{
		classifyOut: `{"intent":"ITINERARY_CREATE","explicit_request":true,"ready_to_create":true,
			"create_type":"NEW","use_prior_context":false,"days_hint":6,"destination_hint":"Japan","confidence":0.93}`,
		itineraryOut: "```json\n" + sixDayItinerary + "\n```",
	}
	svc, db := newTestService(t, gen)

	res, err := svc.ProcessTurn(context.Background(), 1, "",
		"Create a 6-day itinerary for Japan focused on food and culture")
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if !res.ExpectingItinerary || !res.ItineraryValid {
		t.Fatalf("expected a valid itinerary turn, got %+v", res)
	}

	var draft ItineraryDraft
	if err := json.Unmarshal([]byte(res.Reply), &draft); err != nil {
		t.Fatalf("reply is not strict JSON: %v\n%s", err, res.Reply)
	}
	if len(draft.Days) != 6 {
		t.Fatalf("expected 6 days, got %d", len(draft.Days))
	}

	itinPrompts := gen.promptsOfKind("itinerary")
	if len(itinPrompts) != 1 {
		t.Fatalf("expected one itinerary prompt, got %d", len(itinPrompts))
	}
	if !strings.Contains(itinPrompts[0], "exactly 6 day objects") {
		t.Fatalf("itinerary prompt must carry the day count:\n%s", itinPrompts[0])
	}
	if len(gen.promptsOfKind("repair")) != 0 {
		t.Fatalf("no repair should run on a valid first attempt")
	}

	var msgs []Message
	if err := db.Where("session_id = ?", res.SessionID).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("expected user+assistant rows, got %+v", msgs)
	}

	var sess ChatSession
	if err := db.Where("session_id = ?", res.SessionID).First(&sess).Error; err != nil {
		t.Fatalf("query session: %v", err)
	}
	if sess.Title != "Japan food and culture" {
		t.Fatalf("default title should upgrade to the draft title, got %q", sess.Title)
	}
	sp := sess.Scratchpad()
	if len(sp.Destinations) != 1 || sp.Destinations[0].Name != "Japan" {
		t.Fatalf("destination should land in the scratchpad: %+v", sp)
	}
}

func TestProcessTurn_VagueMessageStaysGeneral(t *testing.T) {
	gen := &scriptedGen{
		classifyOut: `{"intent":"GENERAL","explicit_request":false,"use_prior_context":false,"confidence":0.8}`,
		generalOut:  "Assistant: Vietnam and Thailand are both great on a budget. Do you prefer beaches or cities?",
	}
	svc, _ := newTestService(t, gen)

	res, err := svc.ProcessTurn(context.Background(), 2, "", "maybe somewhere in Asia, budget friendly")
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if res.ExpectingItinerary || res.ItineraryValid {
		t.Fatalf("vague message must not trigger the itinerary branch: %+v", res)
	}
	if strings.HasPrefix(res.Reply, "Assistant:") {
		t.Fatalf("reply was not sanitized: %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "Vietnam") {
		t.Fatalf("unexpected reply: %q", res.Reply)
	}
	if len(gen.promptsOfKind("itinerary")) != 0 {
		t.Fatalf("itinerary prompt must not be issued")
	}
}

func TestProcessTurn_NotReadyAsksFollowUps(t *testing.T) {
	gen := &scriptedGen{
		classifyOut: `{"intent":"ITINERARY_CREATE","explicit_request":true,"ready_to_create":false,
			"missing":["destination","dates"],"confidence":0.85}`,
		generalOut: "Where would you like to go, and roughly when?",
	}
	svc, _ := newTestService(t, gen)

	res, err := svc.ProcessTurn(context.Background(), 3, "", "create an itinerary for my trip")
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if res.ExpectingItinerary {
		t.Fatalf("not-ready classification must block the itinerary branch")
	}

	general := gen.promptsOfKind("general")
	if len(general) != 1 {
		t.Fatalf("expected one general prompt, got %d", len(general))
	}
	if !strings.Contains(general[0], "follow-up questions") || !strings.Contains(general[0], "destination, dates") {
		t.Fatalf("missing fields should steer the prompt:\n%s", general[0])
	}
}

func TestProcessTurn_DemotesAfterFailedRepair(t *testing.T) {
	gen := &scriptedGen{
		classifyOut: `{"intent":"ITINERARY_CREATE","explicit_request":true,"ready_to_create":true,"confidence":0.9}`,
		itineraryOut: "Here are some ideas for your trip: visit the old town, try the night market, " +
			"and take the river ferry at sunset.",
		repairOut: `{"title": "still broken`,
	}
	svc, db := newTestService(t, gen)

	res, err := svc.ProcessTurn(context.Background(), 4, "", "create an itinerary for Bangkok")
	if err != nil {
		t.Fatalf("demotion must not surface an error: %v", err)
	}
	if res.ExpectingItinerary || res.ItineraryValid {
		t.Fatalf("demoted turn must read as prose: %+v", res)
	}
	if res.Reply == "" {
		t.Fatalf("demoted reply must be non-empty")
	}
	if !strings.Contains(res.Reply, "night market") {
		t.Fatalf("demoted reply should keep the raw prose: %q", res.Reply)
	}
	if len(gen.promptsOfKind("repair")) != 1 {
		t.Fatalf("exactly one repair attempt expected")
	}

	var msgs []Message
	if err := db.Where("session_id = ?", res.SessionID).Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("demoted turn still persists both rows, got %d", len(msgs))
	}
}

func TestProcessTurn_RepairRecovers(t *testing.T) {
	gen := &scriptedGen{
		classifyOut:  `{"intent":"ITINERARY_CREATE","explicit_request":true,"ready_to_create":true,"days_hint":6,"confidence":0.9}`,
		itineraryOut: "Sure! Here is a lovely plan for your six days, enjoy the trip!",
		repairOut:    sixDayItinerary,
	}
	svc, _ := newTestService(t, gen)

	res, err := svc.ProcessTurn(context.Background(), 5, "", "create a 6 day itinerary for Japan")
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if !res.ItineraryValid {
		t.Fatalf("repair output was valid, turn should succeed: %+v", res)
	}
	var draft ItineraryDraft
	if err := json.Unmarshal([]byte(res.Reply), &draft); err != nil {
		t.Fatalf("reply is not strict JSON: %v", err)
	}
}

func TestProcessTurn_GenerationFailureFailsTurn(t *testing.T) {
	gen := &scriptedGen{
		classifyOut: `{"intent":"GENERAL","explicit_request":false,"confidence":0.7}`,
		failKind:    "general",
	}
	svc, _ := newTestService(t, gen)

	_, err := svc.ProcessTurn(context.Background(), 6, "", "what should I pack for Norway?")
	var netErr *ai.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected network error to surface, got %v", err)
	}
}

func TestProcessTurn_ClassifierFailureFallsBack(t *testing.T) {
	gen := &scriptedGen{
		failKind:   "classify",
		generalOut: "Happy to help plan something.",
	}
	svc, _ := newTestService(t, gen)

	// vague message + failed classifier -> general branch, no error
	res, err := svc.ProcessTurn(context.Background(), 7, "", "thinking about a holiday")
	if err != nil {
		t.Fatalf("classifier failure must not fail the turn: %v", err)
	}
	if res.ExpectingItinerary {
		t.Fatalf("fallback must stay conservative: %+v", res)
	}
}

func TestProcessTurn_ArchivedSessionRejected(t *testing.T) {
	gen := &scriptedGen{}
	svc, db := newTestService(t, gen)

	sess, err := svc.CreateSession(context.Background(), 8)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := db.Model(&ChatSession{}).Where("session_id = ?", sess.SessionID).
		Update("archived", true).Error; err != nil {
		t.Fatalf("archive session: %v", err)
	}

	_, err = svc.ProcessTurn(context.Background(), 8, sess.SessionID, "hello")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessTurn_ForeignSessionHidden(t *testing.T) {
	gen := &scriptedGen{}
	svc, _ := newTestService(t, gen)

	sess, err := svc.CreateSession(context.Background(), 9)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = svc.ProcessTurn(context.Background(), 10, sess.SessionID, "hello")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign session must look like not-found, got %v", err)
	}
}

func TestProcessTurn_EmptyMessageRejected(t *testing.T) {
	svc, _ := newTestService(t, &scriptedGen{})
	_, err := svc.ProcessTurn(context.Background(), 11, "", "   ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessTurn_CompactionTrimsAndSummarizes(t *testing.T) {
	gen := &scriptedGen{
		classifyOut: `{"intent":"GENERAL","explicit_request":false,"confidence":0.8}`,
		generalOut:  "Sounds good, noted.",
		summaryOut:  "- traveler wants two weeks in Portugal\n- budget around 2000 euros",
	}
	svc, db := newTestService(t, gen)

	sess, err := svc.CreateSession(context.Background(), 12)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.Summary = "- earlier: traveler prefers trains"
	if err := db.Save(sess).Error; err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	repo := NewRepo(db)
	for i := 0; i < 49; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := repo.AppendMessage(context.Background(), &Message{
			SessionID: sess.SessionID,
			Role:      role,
			Content:   fmt.Sprintf("seed-%02d", i),
		}); err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
	}

	res, err := svc.ProcessTurn(context.Background(), 12, sess.SessionID, "also I like port wine")
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}

	count, err := repo.CountMessages(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count > 41 {
		t.Fatalf("compaction should trim the log, got %d rows", count)
	}

	var after ChatSession
	if err := db.Where("session_id = ?", res.SessionID).First(&after).Error; err != nil {
		t.Fatalf("query session: %v", err)
	}
	if !strings.Contains(after.Summary, "prefers trains") {
		t.Fatalf("existing summary must never shrink: %q", after.Summary)
	}
	if !strings.Contains(after.Summary, "Portugal") {
		t.Fatalf("new summary must be appended: %q", after.Summary)
	}

	if len(gen.promptsOfKind("summary")) != 1 {
		t.Fatalf("expected one summarize call")
	}
}

func TestProcessTurn_SummaryFailureFailsTurn(t *testing.T) {
	gen := &scriptedGen{
		classifyOut: `{"intent":"GENERAL","explicit_request":false,"confidence":0.8}`,
		generalOut:  "Sure.",
		failKind:    "summary",
	}
	svc, db := newTestService(t, gen)

	sess, err := svc.CreateSession(context.Background(), 13)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	repo := NewRepo(db)
	for i := 0; i < 49; i++ {
		if err := repo.AppendMessage(context.Background(), &Message{
			SessionID: sess.SessionID,
			Role:      RoleUser,
			Content:   "seed",
		}); err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
	}

	_, err = svc.ProcessTurn(context.Background(), 13, sess.SessionID, "more plans")
	var netErr *ai.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("summary failure must fail the whole turn, got %v", err)
	}
}

func TestProcessTurn_PriorSuggestionsFeedItinerary(t *testing.T) {
	gen := &scriptedGen{
		classifyOut: `{"intent":"ITINERARY_CREATE","explicit_request":true,"ready_to_create":true,
			"create_type":"FROM_PRIOR_SUGGESTIONS","use_prior_context":true,"days_hint":3,"confidence":0.9}`,
		suggestOut:   `{"suggestions":["Kyoto temples","Nishiki Market"],"constraints":["mid-range budget"]}`,
		itineraryOut: sampleItinerary,
	}
	svc, db := newTestService(t, gen)

	sess, err := svc.CreateSession(context.Background(), 14)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	repo := NewRepo(db)
	seed := []Message{
		{SessionID: sess.SessionID, Role: RoleUser, Content: "what should I see in Kyoto?"},
		{SessionID: sess.SessionID, Role: RoleAssistant, Content: "Kyoto temples and the Nishiki Market are the highlights."},
	}
	for i := range seed {
		if err := repo.AppendMessage(context.Background(), &seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	res, err := svc.ProcessTurn(context.Background(), 14, sess.SessionID, "turn this into an itinerary")
	if err != nil {
		t.Fatalf("process turn: %v", err)
	}
	if !res.ItineraryValid {
		t.Fatalf("expected valid itinerary: %+v", res)
	}

	if len(gen.promptsOfKind("suggest")) != 1 {
		t.Fatalf("suggestion extraction should run once")
	}
	itin := gen.promptsOfKind("itinerary")
	if len(itin) != 1 || !strings.Contains(itin[0], "Nishiki Market") || !strings.Contains(itin[0], "mid-range budget") {
		t.Fatalf("extracted suggestions must feed the itinerary prompt:\n%s", itin[0])
	}
}

// gatedGen parks the first general generation until hold is closed, so a
// test can keep one turn inside the locked region while another runs.
type gatedGen struct {
	*scriptedGen
	entered chan struct{}
	hold    chan struct{}
	once    sync.Once
}

func (g *gatedGen) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	if promptKind(req.Prompt) == "general" {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.entered)
			<-g.hold
		}
	}
	return g.scriptedGen.Generate(ctx, req)
}

func TestProcessTurn_ConcurrentTurnKeepsCompactionSummary(t *testing.T) {
	gen := &gatedGen{
		scriptedGen: &scriptedGen{
			classifyOut: `{"intent":"GENERAL","explicit_request":false,"confidence":0.8}`,
			generalOut:  "Noted.",
			summaryOut:  "- traveler settled on Portugal in June",
		},
		entered: make(chan struct{}),
		hold:    make(chan struct{}),
	}
	svc, db := newTestService(t, gen)

	sess, err := svc.CreateSession(context.Background(), 17)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	repo := NewRepo(db)
	for i := 0; i < 49; i++ {
		if err := repo.AppendMessage(context.Background(), &Message{
			SessionID: sess.SessionID,
			Role:      RoleUser,
			Content:   fmt.Sprintf("seed-%02d", i),
		}); err != nil {
			t.Fatalf("seed msg %d: %v", i, err)
		}
	}

	// turn A will compact; it parks mid-generation while holding the lock
	errA := make(chan error, 1)
	go func() {
		_, err := svc.ProcessTurn(context.Background(), 17, sess.SessionID, "one more request")
		errA <- err
	}()
	<-gen.entered

	// turn B arrives while A is still inside the locked region
	errB := make(chan error, 1)
	go func() {
		_, err := svc.ProcessTurn(context.Background(), 17, sess.SessionID, "and another")
		errB <- err
	}()
	time.Sleep(100 * time.Millisecond)

	close(gen.hold)
	if err := <-errA; err != nil {
		t.Fatalf("turn A: %v", err)
	}
	if err := <-errB; err != nil {
		t.Fatalf("turn B: %v", err)
	}

	var after ChatSession
	if err := db.Where("session_id = ?", sess.SessionID).First(&after).Error; err != nil {
		t.Fatalf("query session: %v", err)
	}
	if !strings.Contains(after.Summary, "Portugal") {
		t.Fatalf("a later turn must not write back a stale session over the compaction summary: %q", after.Summary)
	}
}

type recordingNotifier struct {
	payloads []map[string]any
}

func (n *recordingNotifier) Publish(ctx context.Context, channel, event string, payload any) error {
	_ = ctx
	if m, ok := payload.(map[string]any); ok {
		n.payloads = append(n.payloads, m)
	}
	return nil
}

func TestProcessTurn_PreviewKeepsRuneBoundary(t *testing.T) {
	// 1 ASCII byte then 3-byte runes: a 120-byte cut lands mid-rune
	reply := "a" + strings.Repeat("日", 60)
	gen := &scriptedGen{
		classifyOut: `{"intent":"GENERAL","explicit_request":false,"confidence":0.8}`,
		generalOut:  reply,
	}
	notifier := &recordingNotifier{}
	db := openTestDB(t)
	svc := NewService(NewRepo(db), gen, nil, notifier, "test-model")

	if _, err := svc.ProcessTurn(context.Background(), 18, "", "tell me everything"); err != nil {
		t.Fatalf("process turn: %v", err)
	}

	if len(notifier.payloads) != 1 {
		t.Fatalf("expected one published event, got %d", len(notifier.payloads))
	}
	preview, _ := notifier.payloads[0]["reply_preview"].(string)
	if !utf8.ValidString(preview) {
		t.Fatalf("preview is not valid UTF-8: %q", preview)
	}
	if !strings.HasPrefix(reply, preview) {
		t.Fatalf("preview must be a prefix of the reply")
	}
	if len(preview) > 120 {
		t.Fatalf("preview too long: %d bytes", len(preview))
	}
}

func TestPatchSession(t *testing.T) {
	svc, _ := newTestService(t, &scriptedGen{})

	sess, err := svc.CreateSession(context.Background(), 15)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	title := "Portugal planning"
	archived := true
	got, err := svc.PatchSession(context.Background(), 15, sess.SessionID, &title, &archived)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.Title != title || !got.Archived {
		t.Fatalf("patch not applied: %+v", got)
	}

	empty := "  "
	if _, err := svc.PatchSession(context.Background(), 15, sess.SessionID, &empty, nil); err == nil {
		t.Fatalf("empty title must be rejected")
	}

	if _, err := svc.PatchSession(context.Background(), 16, sess.SessionID, &title, nil); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign patch must look like not-found, got %v", err)
	}
}
