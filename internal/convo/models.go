package convo

import (
	"encoding/json"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const DefaultTitle = "Travel chat"

// ChatSession is the durable conversation record. Messages live in their own
// table; Summary accumulates compacted history and only ever grows.
type ChatSession struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID      string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID         uint64    `gorm:"not null;index:idx_chat_sessions_owner_recency,priority:1" json:"-"`
	Title          string    `gorm:"type:varchar(255);not null" json:"title"`
	Summary        string    `gorm:"type:text" json:"summary"`
	ScratchpadJSON string    `gorm:"column:scratchpad;type:text" json:"-"`
	Archived       bool      `gorm:"not null;default:false" json:"archived"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `gorm:"index:idx_chat_sessions_owner_recency,priority:2" json:"updated_at"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

// Scratchpad returns the structured travel preferences, empty on absent or
// unparseable data.
func (s *ChatSession) Scratchpad() Scratchpad {
	var sp Scratchpad
	if s.ScratchpadJSON != "" {
		_ = json.Unmarshal([]byte(s.ScratchpadJSON), &sp)
	}
	return sp
}

func (s *ChatSession) SetScratchpad(sp Scratchpad) {
	b, err := json.Marshal(sp)
	if err != nil {
		return
	}
	s.ScratchpadJSON = string(b)
}

// Message rows are append-only; id order is chronological and never
// reordered.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);not null;index" json:"session_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

type Destination struct {
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
}

type TravelConstraints struct {
	BudgetLevel string `json:"budget_level,omitempty"`
	Pace        string `json:"pace,omitempty"`
	Travelers   int    `json:"travelers,omitempty"`
	DateStart   string `json:"date_start,omitempty"`
	DateEnd     string `json:"date_end,omitempty"`
	HomeAirport string `json:"home_airport,omitempty"`
}

// Scratchpad holds extracted preferences, distinct from the prose summary.
type Scratchpad struct {
	Destinations []Destination     `json:"destinations,omitempty"`
	Interests    []string          `json:"interests,omitempty"`
	Constraints  TravelConstraints `json:"constraints,omitempty"`
	ShortNotes   string            `json:"short_notes,omitempty"`
}

const (
	IntentItineraryCreate = "ITINERARY_CREATE"
	IntentItineraryUpdate = "ITINERARY_UPDATE"
	IntentGeneral         = "GENERAL"

	CreateTypeNew                  = "NEW"
	CreateTypeFromPriorSuggestions = "FROM_PRIOR_SUGGESTIONS"
)

// IntentDecision is the classifier verdict for one turn. ReadyToCreate is a
// pointer because an omitted field must read as true.
type IntentDecision struct {
	Intent          string   `json:"intent"`
	ExplicitRequest bool     `json:"explicit_request"`
	ReadyToCreate   *bool    `json:"ready_to_create,omitempty"`
	Missing         []string `json:"missing,omitempty"`
	CreateType      string   `json:"create_type,omitempty"`
	UsePriorContext bool     `json:"use_prior_context"`
	DaysHint        int      `json:"days_hint,omitempty"`
	DestinationHint string   `json:"destination_hint,omitempty"`
	Confidence      float64  `json:"confidence"`
}

func (d IntentDecision) Ready() bool {
	return d.ReadyToCreate == nil || *d.ReadyToCreate
}

type Activity struct {
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

type DayPlan struct {
	Notes      string     `json:"notes,omitempty"`
	Activities []Activity `json:"activities"`
}

// ItineraryDraft is the strict JSON document emitted on a successful
// itinerary turn.
type ItineraryDraft struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Destination string    `json:"destination"`
	Days        []DayPlan `json:"days"`
}

type SuggestionBundle struct {
	Suggestions []string `json:"suggestions"`
	Constraints []string `json:"constraints"`
}

// TurnResult is the caller-facing outcome of one processed turn.
// ExpectingItinerary reflects the post-demotion state, not the raw gate.
type TurnResult struct {
	SessionID          string         `json:"session_id"`
	Reply              string         `json:"reply"`
	ExpectingItinerary bool           `json:"expecting_itinerary"`
	ItineraryValid     bool           `json:"itinerary_valid"`
	Classification     IntentDecision `json:"classification"`
}
