package review

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ToolExecutor dispatches an approved tool call. Unknown tool names
// must return an error.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// DateResolver re-resolves a natural-language date phrase against the
// current clock. ok is false when the text carries no date phrase.
type DateResolver func(text string, now time.Time) (iso string, ok bool)

const toolCalendarCreateEvent = "calendar_create_event"

// chatScopedTools receive the approving chat's id injected into their
// arguments at execution time.
var chatScopedTools = map[string]bool{
	"reminder_create": true,
	"reminder_cancel": true,
	"todo_add":        true,
	"todo_complete":   true,
	"todo_remove":     true,
	"wishlist_add":    true,
	"wishlist_remove": true,
}

// ApprovalService runs the approval state machine: a sensitive tool
// call parks as a pending approval and executes only after the owning
// chat confirms it.
type ApprovalService struct {
	store       *Store
	executor    ToolExecutor
	resolveDate DateResolver
	location    *time.Location
	now         func() time.Time
}

func NewApprovalService(store *Store, executor ToolExecutor, resolveDate DateResolver, location *time.Location) *ApprovalService {
	if location == nil {
		location = time.UTC
	}
	return &ApprovalService{
		store:       store,
		executor:    executor,
		resolveDate: resolveDate,
		location:    location,
		now:         time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (s *ApprovalService) SetNow(now func() time.Time) {
	s.now = now
}

func (s *ApprovalService) Create(ctx context.Context, chatID int64, toolName string, toolArgs map[string]any, preview, originalMessage string) (string, error) {
	id, err := s.store.CreateApproval(ctx, chatID, toolName, toolArgs, preview, originalMessage)
	if err != nil {
		return "", err
	}
	log.Printf("[approval] created %s tool=%s chat=%d", id, toolName, chatID)
	return id, nil
}

func (s *ApprovalService) ListPending(ctx context.Context, chatID int64) ([]Approval, error) {
	return s.store.ListPendingApprovals(ctx, chatID)
}

// Execute confirms a pending approval and runs the stored tool call.
// The approval is consumed once the status flips to approved; an
// executor failure is reported but does not revert it.
func (s *ApprovalService) Execute(ctx context.Context, id string, chatID int64) (bool, string) {
	rec, found, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return false, err.Error()
	}
	if !found {
		return false, fmt.Sprintf("Unknown approval ID: %s. It may have expired. Try the action again.", id)
	}
	if rec.Status != StatusPending {
		return false, fmt.Sprintf("Approval already %s", rec.Status)
	}
	if s.expired(rec.CreatedAt) {
		return false, "Approval expired (older than 24 hours)."
	}
	if rec.ChatID != chatID {
		return false, "Approval belongs to another chat."
	}

	won, err := s.store.MarkApproval(ctx, id, StatusPending, StatusApproved)
	if err != nil {
		return false, err.Error()
	}
	if !won {
		return false, "Failed to approve"
	}

	args := make(map[string]any, len(rec.ToolArgs)+1)
	for k, v := range rec.ToolArgs {
		args[k] = v
	}
	// The literal date may have drifted between request and approval;
	// re-resolve it from the original message for calendar creation.
	if rec.ToolName == toolCalendarCreateEvent && s.resolveDate != nil && rec.OriginalMessage != "" {
		if iso, ok := s.resolveDate(rec.OriginalMessage, s.now().In(s.location)); ok {
			args["start"] = iso
			if start, err := time.Parse("2006-01-02", iso); err == nil {
				args["end"] = start.AddDate(0, 0, 1).Format("2006-01-02")
			}
		}
	}
	if chatScopedTools[rec.ToolName] {
		args["chat_id"] = chatID
	}

	log.Printf("[approval] execute %s tool=%s", rec.ID, rec.ToolName)
	result, err := s.executor.Execute(ctx, rec.ToolName, args)
	if err != nil {
		return false, err.Error()
	}

	msg := "Done. " + result
	if err := s.store.AddMessage(ctx, chatID, "user", "APPROVE "+rec.ID); err != nil {
		log.Printf("[approval] log message: %v", err)
	}
	if err := s.store.AddMessage(ctx, chatID, "assistant", msg); err != nil {
		log.Printf("[approval] log message: %v", err)
	}
	return true, msg
}

// Reject declines a pending approval with the same ownership and
// expiry checks as Execute.
func (s *ApprovalService) Reject(ctx context.Context, id string, chatID int64) (bool, string) {
	rec, found, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return false, err.Error()
	}
	if !found {
		return false, fmt.Sprintf("Unknown approval ID: %s", id)
	}
	if rec.Status != StatusPending {
		return false, fmt.Sprintf("Approval already %s", rec.Status)
	}
	if s.expired(rec.CreatedAt) {
		return false, "Approval expired (older than 24 hours)."
	}
	if rec.ChatID != chatID {
		return false, "Approval belongs to another chat."
	}

	won, err := s.store.MarkApproval(ctx, id, StatusPending, StatusRejected)
	if err != nil {
		return false, err.Error()
	}
	if !won {
		return false, "Failed to reject"
	}

	msg := fmt.Sprintf("Rejected approval %s.", rec.ID)
	if err := s.store.AddMessage(ctx, chatID, "user", "REJECT "+rec.ID); err != nil {
		log.Printf("[approval] log message: %v", err)
	}
	if err := s.store.AddMessage(ctx, chatID, "assistant", msg); err != nil {
		log.Printf("[approval] log message: %v", err)
	}
	return true, msg
}

func (s *ApprovalService) expired(createdAt time.Time) bool {
	if createdAt.IsZero() {
		return false
	}
	return s.now().Sub(createdAt) > approvalTTL
}
