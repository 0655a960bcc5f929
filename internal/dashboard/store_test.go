package dashboard

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "dashboard.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertContactAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertContact(ctx, "Ada Lovelace", "ada@example.com", "555-0100", "mathematician")
	if err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero contact id")
	}

	got, found, err := s.ContactIDByEmail(ctx, "  ADA@Example.COM ")
	if err != nil {
		t.Fatalf("ContactIDByEmail: %v", err)
	}
	if !found || got != id {
		t.Fatalf("ContactIDByEmail = (%d, %v), want (%d, true)", got, found, id)
	}
}

func TestContactIDByEmail_Missing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, found, err := s.ContactIDByEmail(ctx, "nobody@example.com"); err != nil || found {
		t.Fatalf("ContactIDByEmail = (found=%v, err=%v), want not found", found, err)
	}
	if _, found, err := s.ContactIDByEmail(ctx, "   "); err != nil || found {
		t.Fatalf("blank email: found=%v err=%v, want not found", found, err)
	}
}

func TestContactExistsByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertContact(ctx, "Grace Hopper", "", "", ""); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}

	exists, err := s.ContactExistsByName(ctx, "  grace hopper  ")
	if err != nil {
		t.Fatalf("ContactExistsByName: %v", err)
	}
	if !exists {
		t.Fatal("expected case-insensitive name match")
	}

	exists, err = s.ContactExistsByName(ctx, "Grace")
	if err != nil {
		t.Fatalf("ContactExistsByName: %v", err)
	}
	if exists {
		t.Fatal("partial name should not match")
	}
}

func TestListContacts_OrderedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Zoe", "Alan", "Mira"} {
		if _, err := s.InsertContact(ctx, name, "", "", ""); err != nil {
			t.Fatalf("InsertContact %s: %v", name, err)
		}
	}

	contacts, err := s.ListContacts(ctx, 0)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 3 {
		t.Fatalf("got %d contacts, want 3", len(contacts))
	}
	want := []string{"Alan", "Mira", "Zoe"}
	for i, c := range contacts {
		if c.Name != want[i] {
			t.Fatalf("contacts[%d].Name = %q, want %q", i, c.Name, want[i])
		}
	}
}

func TestGetOrCreateCircle_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateCircle(ctx, "Frequent correspondents", "people the user emails often")
	if err != nil {
		t.Fatalf("GetOrCreateCircle: %v", err)
	}
	second, err := s.GetOrCreateCircle(ctx, "Frequent correspondents", "different description, same circle")
	if err != nil {
		t.Fatalf("GetOrCreateCircle second: %v", err)
	}
	if first != second {
		t.Fatalf("circle ids differ: %d vs %d", first, second)
	}
}

func TestCircleMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	circleID, err := s.GetOrCreateCircle(ctx, "Family", "")
	if err != nil {
		t.Fatalf("GetOrCreateCircle: %v", err)
	}

	member, err := s.IsCircleMember(ctx, circleID, "contact", "7")
	if err != nil {
		t.Fatalf("IsCircleMember: %v", err)
	}
	if member {
		t.Fatal("contact should not be a member yet")
	}

	if err := s.AddCircleMember(ctx, circleID, "contact", "7"); err != nil {
		t.Fatalf("AddCircleMember: %v", err)
	}
	// Adding again is a no-op, not an error.
	if err := s.AddCircleMember(ctx, circleID, "contact", "7"); err != nil {
		t.Fatalf("AddCircleMember repeat: %v", err)
	}

	member, err = s.IsCircleMember(ctx, circleID, "contact", "7")
	if err != nil {
		t.Fatalf("IsCircleMember: %v", err)
	}
	if !member {
		t.Fatal("expected membership after add")
	}
}

func TestCreateEvent_DefaultType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	today := time.Now().Format("2006-01-02")
	if _, err := s.CreateEvent(ctx, today, "Dentist", "checkup", ""); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	events, err := s.ListEvents(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventType != "event" {
		t.Fatalf("EventType = %q, want %q", events[0].EventType, "event")
	}
}

func TestListEvents_Window(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	dates := map[string]string{
		"past":     now.AddDate(0, 0, -10).Format("2006-01-02"),
		"upcoming": now.AddDate(0, 0, 3).Format("2006-01-02"),
		"far":      now.AddDate(0, 0, 60).Format("2006-01-02"),
	}
	for title, date := range dates {
		if _, err := s.CreateEvent(ctx, date, title, "", "event"); err != nil {
			t.Fatalf("CreateEvent %s: %v", title, err)
		}
	}

	events, err := s.ListEvents(ctx, 0, 14)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Title != "upcoming" {
		t.Fatalf("got %v, want only the upcoming event", events)
	}
}

func TestEventExists_NormalizedContainment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	date := "2026-09-20"
	if _, err := s.CreateEvent(ctx, date, "School   Autumn Concert", "", "event"); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	cases := []struct {
		title string
		date  string
		want  bool
	}{
		{"school autumn concert", date, true},
		{"Autumn Concert", date, true},                           // substring of existing
		{"School Autumn Concert (rescheduled)", date, true},      // existing is substring
		{"School Autumn Concert", date + "T18:00:00", true},      // timestamp truncated to day
		{"School Autumn Concert", "2026-09-21", false},           // other day
		{"Piano recital", date, false},
		{"   ", date, false},
	}
	for _, c := range cases {
		got, err := s.EventExists(ctx, c.title, c.date)
		if err != nil {
			t.Fatalf("EventExists(%q, %q): %v", c.title, c.date, err)
		}
		if got != c.want {
			t.Fatalf("EventExists(%q, %q) = %v, want %v", c.title, c.date, got, c.want)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := normalizeTitle("  Weekly   TEAM  sync "); got != "weekly team sync" {
		t.Fatalf("normalizeTitle = %q", got)
	}
	long := ""
	for i := 0; i < 50; i++ {
		long += "ab"
	}
	if got := normalizeTitle(long); len(got) != 80 {
		t.Fatalf("normalizeTitle cap = %d chars, want 80", len(got))
	}
}
