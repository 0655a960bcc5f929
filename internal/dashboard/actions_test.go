package dashboard

import (
	"context"
	"testing"
	"time"
)

func TestLogActionAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []struct{ action, title string }{
		{ActionCalendarAdded, "Dentist"},
		{ActionCalendarAdded, "Parent evening"},
		{ActionTodoAdded, "Buy gift"},
		{ActionEventRejected, "Newsletter webinar"},
	}
	for _, r := range records {
		if err := s.LogAction(ctx, r.action, r.title, "2026-09-01", "", "test"); err != nil {
			t.Fatalf("LogAction %s: %v", r.action, err)
		}
	}

	counts, err := s.ActionCounts(ctx, 0)
	if err != nil {
		t.Fatalf("ActionCounts: %v", err)
	}
	if counts[ActionCalendarAdded] != 2 {
		t.Fatalf("calendar_added = %d, want 2", counts[ActionCalendarAdded])
	}
	if counts[ActionTodoAdded] != 1 {
		t.Fatalf("todo_added = %d, want 1", counts[ActionTodoAdded])
	}
	if counts[ActionEventRejected] != 1 {
		t.Fatalf("event_rejected = %d, want 1", counts[ActionEventRejected])
	}
}

func TestLogAction_TruncatesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := ""
	for i := 0; i < 150; i++ {
		long += "xy"
	}
	if err := s.LogAction(ctx, ActionEventRejected, long, "2026-09-01T18:00:00", "", ""); err != nil {
		t.Fatalf("LogAction: %v", err)
	}

	rejections, err := s.RecentRejections(ctx, 0, 0)
	if err != nil {
		t.Fatalf("RecentRejections: %v", err)
	}
	if len(rejections) != 1 {
		t.Fatalf("got %d rejections, want 1", len(rejections))
	}
	if len(rejections[0].Title) != 200 {
		t.Fatalf("title length = %d, want 200", len(rejections[0].Title))
	}
	if rejections[0].EventDate != "2026-09-01" {
		t.Fatalf("event date = %q, want day precision", rejections[0].EventDate)
	}
}

func TestRecentRejections_FiltersActionAndAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.LogAction(ctx, ActionEventRejected, "Spam seminar", "2026-09-05", "", "email"); err != nil {
		t.Fatalf("LogAction: %v", err)
	}
	if err := s.LogAction(ctx, ActionEventApproved, "Dentist", "2026-09-05", "", ""); err != nil {
		t.Fatalf("LogAction: %v", err)
	}
	// Backdate a rejection beyond the lookback window.
	old := time.Now().AddDate(0, 0, -90).Format("2006-01-02 15:04:05")
	if _, err := s.db.Exec(`INSERT INTO user_actions (action, title, event_date, source, created_at)
		VALUES ('event_rejected', 'Old webinar', '2026-06-01', '', ?)`, old); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	rejections, err := s.RecentRejections(ctx, 30, 10)
	if err != nil {
		t.Fatalf("RecentRejections: %v", err)
	}
	if len(rejections) != 1 {
		t.Fatalf("got %d rejections, want 1", len(rejections))
	}
	if rejections[0].Title != "Spam seminar" {
		t.Fatalf("title = %q", rejections[0].Title)
	}
	if rejections[0].Action != ActionEventRejected {
		t.Fatalf("action = %q", rejections[0].Action)
	}
}

func TestWasRejectedRecently(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.LogAction(ctx, ActionEventRejected, "Quarterly Marketing Webinar", "2026-09-10", "", "newsletter@corp.com"); err != nil {
		t.Fatalf("LogAction: %v", err)
	}

	cases := []struct {
		name       string
		title      string
		sourceHint string
		want       bool
	}{
		{"exact", "Quarterly Marketing Webinar", "", true},
		{"case and prefix", "quarterly marketing", "", true},
		{"superset title", "Quarterly Marketing Webinar follow-up", "", true},
		{"matching source hint", "Quarterly Marketing Webinar", "newsletter", true},
		{"wrong source hint", "Quarterly Marketing Webinar", "boss@corp.com", false},
		{"unrelated title", "Dentist appointment", "", false},
		{"blank title", "   ", "", false},
	}
	for _, c := range cases {
		got, err := s.WasRejectedRecently(ctx, c.title, c.sourceHint, 30)
		if err != nil {
			t.Fatalf("%s: WasRejectedRecently: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: WasRejectedRecently = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestWasRejectedRecently_HintIgnoredWhenRejectionHasNoSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.LogAction(ctx, ActionEventRejected, "Team offsite", "2026-09-12", "", ""); err != nil {
		t.Fatalf("LogAction: %v", err)
	}

	got, err := s.WasRejectedRecently(ctx, "Team offsite", "calendar-import", 30)
	if err != nil {
		t.Fatalf("WasRejectedRecently: %v", err)
	}
	if !got {
		t.Fatal("rejection without a source should match regardless of hint")
	}
}
