package agents

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/hollyoak/steward/internal/dashboard"
	"github.com/hollyoak/steward/internal/review"
)

const (
	circleFrequentCorrespondents = "Frequent correspondents"
	circleEventAttendees         = "Event attendees"

	rejectionLookbackDays = 14
)

// InboxMessage is one scanned mail header handed to the contact agent.
type InboxMessage struct {
	From    string
	To      string
	Subject string
}

// ContactAgent keeps the contact book in sync with observed activity:
// unknown correspondents become contacts, known ones become circle
// membership proposals.
type ContactAgent struct {
	reviews      *review.Store
	dash         *dashboard.Store
	myEmail      string
	maxProposals int
}

func NewContactAgent(reviews *review.Store, dash *dashboard.Store, myEmail string, maxProposals int) *ContactAgent {
	if maxProposals <= 0 {
		maxProposals = 15
	}
	return &ContactAgent{
		reviews:      reviews,
		dash:         dash,
		myEmail:      strings.ToLower(strings.TrimSpace(myEmail)),
		maxProposals: maxProposals,
	}
}

// ProcessInbox tallies correspondents from inbox headers, ensures each
// has a contact record, and proposes circle additions for the most
// frequent ones. Returns the number of proposals created.
func (a *ContactAgent) ProcessInbox(ctx context.Context, messages []InboxMessage) (int, error) {
	counts := make(map[string]int)
	for _, m := range messages {
		if email := parseEmailHeader(m.From); email != "" {
			counts[email]++
		}
		for _, addr := range strings.FieldsFunc(m.To, func(r rune) bool { return r == ',' || r == ';' }) {
			if email := parseEmailHeader(addr); email != "" {
				counts[email]++
			}
		}
	}
	if a.myEmail != "" {
		delete(counts, a.myEmail)
	}

	circleID, err := a.dash.GetOrCreateCircle(ctx, circleFrequentCorrespondents,
		"People you email often (from inbox activity)")
	if err != nil {
		return 0, err
	}

	proposed := 0
	for _, entry := range sortedByCount(counts) {
		if proposed >= a.maxProposals {
			break
		}
		contactID, err := a.ensureContact(ctx, entry.email)
		if err != nil {
			log.Printf("[contact-agent] ensure contact %s: %v", entry.email, err)
			continue
		}

		n, err := a.proposeCircleAdd(ctx, circleID, circleFrequentCorrespondents, contactID,
			fmt.Sprintf("Add contact from inbox (%d emails)", entry.count))
		if err != nil {
			return proposed, err
		}
		proposed += n
	}

	log.Printf("[contact-agent] inbox pass: %d correspondents, %d proposals", len(counts), proposed)
	return proposed, nil
}

// BuildCircles proposes circle memberships from correspondence and
// calendar-attendance tallies gathered elsewhere.
func (a *ContactAgent) BuildCircles(ctx context.Context, correspondents, attendees map[string]int) (int, error) {
	corrID, err := a.dash.GetOrCreateCircle(ctx, circleFrequentCorrespondents,
		"People you email often (from inbox activity)")
	if err != nil {
		return 0, err
	}
	attendID, err := a.dash.GetOrCreateCircle(ctx, circleEventAttendees,
		"People who attend events with you")
	if err != nil {
		return 0, err
	}

	proposed := 0
	for _, entry := range sortedByCount(correspondents) {
		if proposed >= a.maxProposals {
			break
		}
		contactID, found, err := a.dash.ContactIDByEmail(ctx, entry.email)
		if err != nil || !found {
			continue
		}
		n, err := a.proposeCircleAdd(ctx, corrID, circleFrequentCorrespondents, contactID,
			fmt.Sprintf("Add contact %d to %s (%d emails)", contactID, circleFrequentCorrespondents, entry.count))
		if err != nil {
			return proposed, err
		}
		proposed += n
	}
	for _, entry := range sortedByCount(attendees) {
		if proposed >= a.maxProposals {
			break
		}
		contactID, found, err := a.dash.ContactIDByEmail(ctx, entry.email)
		if err != nil || !found {
			continue
		}
		n, err := a.proposeCircleAdd(ctx, attendID, circleEventAttendees, contactID,
			fmt.Sprintf("Add contact %d to %s (%d events)", contactID, circleEventAttendees, entry.count))
		if err != nil {
			return proposed, err
		}
		proposed += n
	}
	return proposed, nil
}

// ensureContact resolves an email to a contact id, inserting a stub
// contact named after the mailbox local part when none exists.
func (a *ContactAgent) ensureContact(ctx context.Context, email string) (int64, error) {
	id, found, err := a.dash.ContactIDByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}
	name := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		name = email[:at]
	}
	return a.dash.InsertContact(ctx, name, email, "", "")
}

func (a *ContactAgent) proposeCircleAdd(ctx context.Context, circleID int64, circleName string, contactID int64, reason string) (int, error) {
	entityID := fmt.Sprintf("%d", contactID)
	member, err := a.dash.IsCircleMember(ctx, circleID, "contact", entityID)
	if err != nil || member {
		return 0, err
	}

	needle := fmt.Sprintf(`"circle_id":%d,"circle_name":%q,"entity_type":"contact","entity_id":%q`, circleID, circleName, entityID)
	dup, err := a.reviews.HasPendingProposal(ctx, review.ActionCircleAdd, needle)
	if err != nil || dup {
		return 0, err
	}

	rejected, err := a.dash.WasRejectedRecently(ctx, circleName+" "+entityID, "", rejectionLookbackDays)
	if err != nil || rejected {
		return 0, err
	}

	payload := review.CircleAddPayload{
		CircleID:   circleID,
		CircleName: circleName,
		EntityType: "contact",
		EntityID:   entityID,
	}
	if _, err := a.reviews.CreateProposal(ctx, review.ActionCircleAdd, payload, reason); err != nil {
		return 0, err
	}
	return 1, nil
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// parseEmailHeader extracts the address from a header value like
// `Name <someone@example.com>`.
func parseEmailHeader(header string) string {
	return strings.ToLower(emailPattern.FindString(header))
}

type emailCount struct {
	email string
	count int
}

// sortedByCount orders tallies highest first, ties by address for a
// stable walk.
func sortedByCount(counts map[string]int) []emailCount {
	entries := make([]emailCount, 0, len(counts))
	for email, count := range counts {
		entries = append(entries, emailCount{email: email, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].email < entries[j].email
	})
	return entries
}
