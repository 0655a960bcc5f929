package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// User-action kinds recorded for preference learning.
const (
	ActionCalendarAdded = "calendar_added"
	ActionTodoAdded     = "todo_added"
	ActionEventDeleted  = "event_deleted"
	ActionEventApproved = "event_approved"
	ActionEventRejected = "event_rejected"
)

type UserAction struct {
	Action    string
	Title     string
	EventDate string
	Source    string
	CreatedAt string
}

// LogAction appends one user-action record. Title is capped at 200
// chars and the date at 10 so matching stays cheap.
func (s *Store) LogAction(ctx context.Context, action, title, eventDate, proposalID, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_actions
		(action, proposal_id, title, event_date, source, created_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		action, proposalID, truncate(title, 200), truncate(eventDate, 10), source)
	if err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

// RecentRejections returns event_rejected actions from the last days,
// newest first. Agents use these to avoid re-proposing suggestions the
// user already declined.
func (s *Store) RecentRejections(ctx context.Context, days, limit int) ([]UserAction, error) {
	if days <= 0 {
		days = 30
	}
	if limit <= 0 {
		limit = 100
	}
	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx, `SELECT title, event_date, source, created_at
		FROM user_actions WHERE action = 'event_rejected' AND created_at >= ?
		ORDER BY created_at DESC LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent rejections: %w", err)
	}
	defer rows.Close()

	var actions []UserAction
	for rows.Next() {
		a := UserAction{Action: ActionEventRejected}
		if err := rows.Scan(&a.Title, &a.EventDate, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("recent rejections: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent rejections: %w", err)
	}
	return actions, nil
}

// WasRejectedRecently reports whether the user declined a similar
// suggestion within the last days. Titles match on a normalized
// 60-char prefix in either containment direction; when a source hint
// is given the rejection must also carry it.
func (s *Store) WasRejectedRecently(ctx context.Context, title, sourceHint string, days int) (bool, error) {
	titleKey := truncate(strings.ToLower(strings.TrimSpace(title)), 60)
	if titleKey == "" {
		return false, nil
	}

	rejections, err := s.RecentRejections(ctx, days, 50)
	if err != nil {
		return false, err
	}
	for _, r := range rejections {
		rKey := truncate(strings.ToLower(strings.TrimSpace(r.Title)), 60)
		if rKey == "" {
			continue
		}
		if !strings.Contains(rKey, titleKey) && !strings.Contains(titleKey, rKey) {
			continue
		}
		if sourceHint != "" && r.Source != "" {
			if strings.Contains(strings.ToLower(r.Source), strings.ToLower(sourceHint)) {
				return true, nil
			}
			continue
		}
		return true, nil
	}
	return false, nil
}

// ActionCounts returns per-action totals over the last days, used to
// infer whether the user prefers calendar entries over todos.
func (s *Store) ActionCounts(ctx context.Context, days int) (map[string]int, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM user_actions
		WHERE created_at >= ? AND action IN (?, ?, ?, ?, ?) GROUP BY action`,
		since, ActionCalendarAdded, ActionTodoAdded, ActionEventDeleted, ActionEventApproved, ActionEventRejected)
	if err != nil {
		return nil, fmt.Errorf("action counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("action counts: %w", err)
		}
		counts[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("action counts: %w", err)
	}
	return counts, nil
}
