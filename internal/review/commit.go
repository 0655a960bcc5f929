package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hollyoak/steward/internal/memory"
)

// Dashboard is the external entity store the committer writes calendar
// events and circle memberships into.
type Dashboard interface {
	CreateEvent(ctx context.Context, date, title, description, eventType string) (int64, error)
	AddCircleMember(ctx context.Context, circleID int64, entityType, entityID string) error
}

// ActionLog records user-preference signals (event approved, rejected)
// that agents consult before re-proposing suggestions.
type ActionLog interface {
	LogAction(ctx context.Context, action, title, eventDate, proposalID, source string) error
}

// Committer executes approved proposals. Resolution and commit are two
// distinct steps: Commit refuses anything not currently approved, and
// a successful commit consumes the proposal so it runs at most once.
type Committer struct {
	store     *Store
	memories  *memory.Store
	dashboard Dashboard
	actions   ActionLog
}

func NewCommitter(store *Store, memories *memory.Store, dashboard Dashboard, actions ActionLog) *Committer {
	return &Committer{store: store, memories: memories, dashboard: dashboard, actions: actions}
}

// Commit dispatches an approved proposal to its action handler. All
// failures come back as (false, message); a failed commit leaves the
// proposal approved so it can be retried without re-approval.
func (c *Committer) Commit(ctx context.Context, id string) (bool, string) {
	prop, found, err := c.store.GetProposal(ctx, id)
	if err != nil {
		return false, err.Error()
	}
	if !found {
		return false, "Proposal not found"
	}
	if prop.Status != StatusApproved {
		return false, "Proposal must be approved first"
	}

	msg, details, err := c.dispatch(ctx, prop)
	if err != nil {
		log.Printf("[review] commit %s (%s) failed: %v", prop.ID, prop.ActionType, err)
		return false, err.Error()
	}

	if err := c.store.AppendAudit(ctx, prop.ID, string(prop.ActionType), details); err != nil {
		log.Printf("[review] audit %s: %v", prop.ID, err)
	}
	if _, err := c.store.MarkProposalCommitted(ctx, prop.ID); err != nil {
		log.Printf("[review] consume %s: %v", prop.ID, err)
	}
	return true, msg
}

func (c *Committer) dispatch(ctx context.Context, prop Proposal) (msg, details string, err error) {
	switch prop.ActionType {
	case ActionAdd:
		return c.commitAdd(ctx, prop)
	case ActionRemove:
		return c.commitRemove(ctx, prop)
	case ActionEventMemory:
		return c.commitEventMemory(ctx, prop)
	case ActionConsolidate:
		return c.commitConsolidate(ctx, prop)
	case ActionPromote:
		return c.commitPromote(ctx, prop)
	case ActionEventSuggestion:
		return c.commitEventSuggestion(ctx, prop)
	case ActionCircleAdd:
		return c.commitCircleAdd(ctx, prop)
	default:
		return "", "", fmt.Errorf("Unknown action: %s", prop.ActionType)
	}
}

func (c *Committer) commitAdd(ctx context.Context, prop Proposal) (string, string, error) {
	var payload AddPayload
	if err := json.Unmarshal(prop.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("decode add payload: %w", err)
	}
	if payload.Fact == "" {
		return "", "", fmt.Errorf("empty fact")
	}
	memID, err := c.memories.Add(ctx, payload.Fact, payload.Weight, memory.Type(payload.MemoryType), "proposal")
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("Added memory: %s...", truncate(payload.Fact, 60)),
		fmt.Sprintf("Added memory %s", memID), nil
}

func (c *Committer) commitRemove(ctx context.Context, prop Proposal) (string, string, error) {
	var payload RemovePayload
	if err := json.Unmarshal(prop.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("decode remove payload: %w", err)
	}
	matches, err := c.memories.Search(ctx, payload.Query, 1, "", true)
	if err != nil {
		return "", "", err
	}
	if len(matches) == 0 {
		return "", "", fmt.Errorf("No matching memory found")
	}
	if _, err := c.memories.Delete(ctx, matches[0].ID); err != nil {
		return "", "", err
	}
	return "Removed memory", fmt.Sprintf("Removed %s", matches[0].ID), nil
}

func (c *Committer) commitEventMemory(ctx context.Context, prop Proposal) (string, string, error) {
	var payload EventMemoryPayload
	if err := json.Unmarshal(prop.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("decode event_memory payload: %w", err)
	}
	if payload.Text == "" {
		return "", "", fmt.Errorf("empty event text")
	}
	if _, err := c.memories.Add(ctx, payload.Text, payload.Weight, memory.Type(payload.MemoryType), "event"); err != nil {
		return "", "", err
	}
	return fmt.Sprintf("Added event memory: %s...", truncate(payload.Text, 60)),
		fmt.Sprintf("From event %d", payload.EventID), nil
}

// commitConsolidate inserts the merged record before deleting the
// sources: a crash between the steps leaves a duplicate rather than a
// hole.
func (c *Committer) commitConsolidate(ctx context.Context, prop Proposal) (string, string, error) {
	var payload ConsolidatePayload
	if err := json.Unmarshal(prop.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("decode consolidate payload: %w", err)
	}
	if payload.MergedText == "" {
		return "", "", fmt.Errorf("empty merged text")
	}
	memID, err := c.memories.Add(ctx, payload.MergedText, payload.Weight, memory.Type(payload.MemoryType), "consolidation")
	if err != nil {
		return "", "", err
	}
	for _, sid := range payload.SourceIDs {
		if _, err := c.memories.Delete(ctx, sid); err != nil {
			log.Printf("[review] consolidate %s: delete source %s: %v", prop.ID, sid, err)
		}
	}
	return fmt.Sprintf("Consolidated %d memories", len(payload.SourceIDs)),
		fmt.Sprintf("Merged %v -> %s", payload.SourceIDs, memID), nil
}

func (c *Committer) commitPromote(ctx context.Context, prop Proposal) (string, string, error) {
	var payload PromotePayload
	if err := json.Unmarshal(prop.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("decode promote payload: %w", err)
	}
	switch payload.Action {
	case PromoteShortToLong:
		long := memory.TypeLong
		found, err := c.memories.Update(ctx, payload.MemoryID, nil, &long)
		if err != nil {
			return "", "", err
		}
		if !found {
			return "", "", fmt.Errorf("memory %s not found", payload.MemoryID)
		}
		return "Promoted to long-term", fmt.Sprintf("%s short->long", payload.MemoryID), nil
	case PromoteBumpWeight:
		rec, found, err := c.memories.Get(ctx, payload.MemoryID)
		if err != nil {
			return "", "", err
		}
		if !found {
			return "", "", fmt.Errorf("memory %s not found", payload.MemoryID)
		}
		bumped := rec.Weight + 1
		if bumped > memory.MaxWeight {
			bumped = memory.MaxWeight
		}
		if _, err := c.memories.Update(ctx, payload.MemoryID, &bumped, nil); err != nil {
			return "", "", err
		}
		return "Bumped weight", fmt.Sprintf("%s bump weight", payload.MemoryID), nil
	default:
		return "", "", fmt.Errorf("Unknown promote action")
	}
}

func (c *Committer) commitEventSuggestion(ctx context.Context, prop Proposal) (string, string, error) {
	var payload EventSuggestionPayload
	if err := json.Unmarshal(prop.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("decode event_suggestion payload: %w", err)
	}
	if c.dashboard == nil {
		return "", "", fmt.Errorf("no dashboard store configured")
	}
	title := payload.Title
	if title == "" {
		title = "(From email)"
	}
	date := payload.Date
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	eventID, err := c.dashboard.CreateEvent(ctx, date, title, payload.Description, "event")
	if err != nil {
		return "", "", err
	}
	if c.actions != nil {
		if err := c.actions.LogAction(ctx, "event_approved", title, truncate(date, 10), prop.ID, truncate(payload.Description, 100)); err != nil {
			log.Printf("[review] event_suggestion %s: log action: %v", prop.ID, err)
		}
	}
	return fmt.Sprintf("Created event: %s...", truncate(title, 50)),
		fmt.Sprintf("Created event %d", eventID), nil
}

func (c *Committer) commitCircleAdd(ctx context.Context, prop Proposal) (string, string, error) {
	var payload CircleAddPayload
	if err := json.Unmarshal(prop.Payload, &payload); err != nil {
		return "", "", fmt.Errorf("decode circle_add payload: %w", err)
	}
	if payload.CircleID == 0 || payload.EntityID == "" {
		return "", "", fmt.Errorf("Missing circle_id or entity_id")
	}
	if c.dashboard == nil {
		return "", "", fmt.Errorf("no dashboard store configured")
	}
	entityType := payload.EntityType
	if entityType == "" {
		entityType = "contact"
	}
	if err := c.dashboard.AddCircleMember(ctx, payload.CircleID, entityType, payload.EntityID); err != nil {
		return "", "", err
	}
	circleName := payload.CircleName
	if circleName == "" {
		circleName = "circle"
	}
	return fmt.Sprintf("Added to %s", circleName),
		fmt.Sprintf("Added %s %s to circle %d", entityType, payload.EntityID, payload.CircleID), nil
}
