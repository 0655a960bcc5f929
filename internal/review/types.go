package review

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Status is the review lifecycle of both approvals and proposals.
// Approvals terminate at approved/rejected/expired; proposals add a
// committed state so a side effect executes at most once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCommitted Status = "committed"
)

// ActionType is the closed set of proposal actions the committer
// dispatches on.
type ActionType string

const (
	ActionAdd             ActionType = "add"
	ActionRemove          ActionType = "remove"
	ActionEventMemory     ActionType = "event_memory"
	ActionConsolidate     ActionType = "consolidate"
	ActionPromote         ActionType = "promote"
	ActionEventSuggestion ActionType = "event_suggestion"
	ActionCircleAdd       ActionType = "circle_add"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionAdd, ActionRemove, ActionEventMemory, ActionConsolidate,
		ActionPromote, ActionEventSuggestion, ActionCircleAdd:
		return true
	}
	return false
}

// Approval is a single pending tool invocation awaiting human
// confirmation before the side effect runs.
type Approval struct {
	ID              string
	ChatID          int64
	ToolName        string
	ToolArgs        map[string]any
	Preview         string
	Status          Status
	OriginalMessage string
	CreatedAt       time.Time
}

// Proposal is an agent-suggested change. Resolution (approve/reject)
// and commit (execute the side effect) are two distinct steps.
type Proposal struct {
	ID         string
	ActionType ActionType
	Payload    json.RawMessage
	Reason     string
	Status     Status
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// AuditEntry records one committed proposal action. Append-only.
type AuditEntry struct {
	ProposalID string
	Action     string
	Details    string
	CreatedAt  time.Time
}

type AddPayload struct {
	Fact       string `json:"fact"`
	Weight     int    `json:"weight"`
	MemoryType string `json:"memory_type"`
}

type RemovePayload struct {
	Query string `json:"query"`
}

type EventMemoryPayload struct {
	Text       string `json:"text"`
	Weight     int    `json:"weight"`
	MemoryType string `json:"memory_type"`
	EventID    int64  `json:"event_id"`
	Date       string `json:"date,omitempty"`
}

type ConsolidatePayload struct {
	SourceIDs   []string `json:"source_ids"`
	SourceTexts []string `json:"source_texts"`
	MergedText  string   `json:"merged_text"`
	Weight      int      `json:"weight"`
	MemoryType  string   `json:"memory_type"`
}

const (
	PromoteShortToLong = "short_to_long"
	PromoteBumpWeight  = "bump_weight"
)

type PromotePayload struct {
	MemoryID string `json:"memory_id"`
	Action   string `json:"action"`
	Text     string `json:"text,omitempty"`
}

type EventSuggestionPayload struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Date            string `json:"date"`
	Source          string `json:"source,omitempty"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

type CircleAddPayload struct {
	CircleID   int64  `json:"circle_id"`
	CircleName string `json:"circle_name,omitempty"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back off to a rune boundary so previews stay valid UTF-8.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
