package agents

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hollyoak/steward/internal/dashboard"
	"github.com/hollyoak/steward/internal/review"
)

func TestContactAgent_ProcessInbox(t *testing.T) {
	reviews := newReviewStore(t)
	dash := newDashStore(t)
	agent := NewContactAgent(reviews, dash, "me@self.com", 15)
	ctx := context.Background()

	messages := []InboxMessage{
		{From: "Alice Andersson <alice@example.com>", To: "me@self.com", Subject: "lunch?"},
		{From: "alice@example.com", To: "me@self.com; bob@example.com", Subject: "re: lunch"},
		{From: "ALICE@example.com", To: "me@self.com", Subject: "re: re: lunch"},
	}

	proposed, err := agent.ProcessInbox(ctx, messages)
	if err != nil {
		t.Fatalf("ProcessInbox: %v", err)
	}
	if proposed != 2 {
		t.Fatalf("proposed = %d, want 2", proposed)
	}

	// Unknown correspondents became stub contacts named after the
	// mailbox local part; the owner's own address was dropped.
	contacts, err := dash.ListContacts(ctx, 10)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2", len(contacts))
	}
	if contacts[0].Name != "alice" || contacts[0].Email != "alice@example.com" {
		t.Fatalf("contacts[0] = %+v", contacts[0])
	}
	if contacts[1].Name != "bob" {
		t.Fatalf("contacts[1] = %+v", contacts[1])
	}

	proposals := pendingByAction(t, reviews, review.ActionCircleAdd)
	if len(proposals) != 2 {
		t.Fatalf("got %d circle_add proposals, want 2", len(proposals))
	}
	if !strings.Contains(string(proposals[0].Payload), "Frequent correspondents") {
		t.Fatalf("payload = %s", proposals[0].Payload)
	}

	// Re-running against the same inbox raises nothing new while the
	// proposals are still pending.
	proposed, err = agent.ProcessInbox(ctx, messages)
	if err != nil {
		t.Fatalf("second ProcessInbox: %v", err)
	}
	if proposed != 0 {
		t.Fatalf("second run proposed = %d, want 0", proposed)
	}
}

func TestContactAgent_ProcessInbox_Cap(t *testing.T) {
	reviews := newReviewStore(t)
	dash := newDashStore(t)
	agent := NewContactAgent(reviews, dash, "", 1)
	ctx := context.Background()

	messages := []InboxMessage{
		{From: "alice@example.com"},
		{From: "alice@example.com"},
		{From: "bob@example.com"},
	}

	proposed, err := agent.ProcessInbox(ctx, messages)
	if err != nil {
		t.Fatalf("ProcessInbox: %v", err)
	}
	if proposed != 1 {
		t.Fatalf("proposed = %d, want cap of 1", proposed)
	}
	// The most frequent correspondent wins the single slot.
	proposals := pendingByAction(t, reviews, review.ActionCircleAdd)
	contacts, err := dash.ListContacts(ctx, 10)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Email != "alice@example.com" {
		t.Fatalf("contacts = %+v", contacts)
	}
	if len(proposals) != 1 {
		t.Fatalf("proposals = %d, want 1", len(proposals))
	}
}

func TestContactAgent_SkipsExistingMembers(t *testing.T) {
	reviews := newReviewStore(t)
	dash := newDashStore(t)
	agent := NewContactAgent(reviews, dash, "", 15)
	ctx := context.Background()

	contactID, err := dash.InsertContact(ctx, "alice", "alice@example.com", "", "")
	if err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	circleID, err := dash.GetOrCreateCircle(ctx, "Frequent correspondents",
		"People you email often (from inbox activity)")
	if err != nil {
		t.Fatalf("GetOrCreateCircle: %v", err)
	}
	if err := dash.AddCircleMember(ctx, circleID, "contact", fmt.Sprintf("%d", contactID)); err != nil {
		t.Fatalf("AddCircleMember: %v", err)
	}

	proposed, err := agent.ProcessInbox(ctx, []InboxMessage{{From: "alice@example.com"}})
	if err != nil {
		t.Fatalf("ProcessInbox: %v", err)
	}
	if proposed != 0 {
		t.Fatalf("proposed = %d, want 0 for existing member", proposed)
	}
}

func TestContactAgent_SkipsRecentRejections(t *testing.T) {
	reviews := newReviewStore(t)
	dash := newDashStore(t)
	agent := NewContactAgent(reviews, dash, "", 15)
	ctx := context.Background()

	if _, err := dash.InsertContact(ctx, "alice", "alice@example.com", "", ""); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	// The user already declined adding contact 1 to this circle.
	if err := dash.LogAction(ctx, dashboard.ActionEventRejected,
		"Frequent correspondents 1", "", "", ""); err != nil {
		t.Fatalf("LogAction: %v", err)
	}

	proposed, err := agent.ProcessInbox(ctx, []InboxMessage{{From: "alice@example.com"}})
	if err != nil {
		t.Fatalf("ProcessInbox: %v", err)
	}
	if proposed != 0 {
		t.Fatalf("proposed = %d, want 0 after rejection", proposed)
	}
}

func TestContactAgent_BuildCircles(t *testing.T) {
	reviews := newReviewStore(t)
	dash := newDashStore(t)
	agent := NewContactAgent(reviews, dash, "", 15)
	ctx := context.Background()

	if _, err := dash.InsertContact(ctx, "alice", "alice@example.com", "", ""); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	if _, err := dash.InsertContact(ctx, "bob", "bob@example.com", "", ""); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}

	correspondents := map[string]int{
		"alice@example.com":   9,
		"stranger@nowhere.io": 3, // no contact record, skipped
	}
	attendees := map[string]int{"bob@example.com": 2}

	proposed, err := agent.BuildCircles(ctx, correspondents, attendees)
	if err != nil {
		t.Fatalf("BuildCircles: %v", err)
	}
	if proposed != 2 {
		t.Fatalf("proposed = %d, want 2", proposed)
	}

	proposals := pendingByAction(t, reviews, review.ActionCircleAdd)
	var sawCorr, sawAttend bool
	for _, p := range proposals {
		payload := string(p.Payload)
		if strings.Contains(payload, "Frequent correspondents") {
			sawCorr = true
		}
		if strings.Contains(payload, "Event attendees") {
			sawAttend = true
		}
	}
	if !sawCorr || !sawAttend {
		t.Fatalf("correspondents=%v attendees=%v, want both circles", sawCorr, sawAttend)
	}
}

func TestParseEmailHeader(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Alice Andersson <Alice@Example.com>", "alice@example.com"},
		{"alice@example.com", "alice@example.com"},
		{"\"Support\" <help+tickets@sub.example.co.uk>", "help+tickets@sub.example.co.uk"},
		{"not an address", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := parseEmailHeader(c.header); got != c.want {
			t.Fatalf("parseEmailHeader(%q) = %q, want %q", c.header, got, c.want)
		}
	}
}

func TestSortedByCount(t *testing.T) {
	entries := sortedByCount(map[string]int{
		"b@x.com": 2,
		"a@x.com": 2,
		"c@x.com": 5,
	})
	got := []string{entries[0].email, entries[1].email, entries[2].email}
	want := []string{"c@x.com", "a@x.com", "b@x.com"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
