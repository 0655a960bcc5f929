package agents

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/hollyoak/steward/internal/dashboard"
	"github.com/hollyoak/steward/internal/review"
	"github.com/hollyoak/steward/internal/schedule"
)

const (
	eventMemoryDaysBack     = 7
	schedulingLookaheadDays = 14
)

// TemplateDue is a scheduled template whose next occurrence needs
// attention soon.
type TemplateDue struct {
	Template dashboard.Template
	NextDue  string
}

// EventsSummary reports one events-agent run.
type EventsSummary struct {
	ScheduledCreated   int
	EventMemory        int
	RequiresScheduling []TemplateDue
}

// EventsAgent fires due recurring templates into the calendar and
// proposes memories for recent events.
type EventsAgent struct {
	reviews          *review.Store
	dash             *dashboard.Store
	maxEventMemories int
	now              func() time.Time
}

func NewEventsAgent(reviews *review.Store, dash *dashboard.Store, maxEventMemories int) *EventsAgent {
	if maxEventMemories <= 0 {
		maxEventMemories = 15
	}
	return &EventsAgent{
		reviews:          reviews,
		dash:             dash,
		maxEventMemories: maxEventMemories,
		now:              time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (a *EventsAgent) SetNow(now func() time.Time) {
	a.now = now
}

func (a *EventsAgent) Run(ctx context.Context) (EventsSummary, error) {
	var summary EventsSummary

	created, err := a.ProcessTemplates(ctx)
	if err != nil {
		log.Printf("[events-agent] templates pass: %v", err)
	}
	summary.ScheduledCreated = created

	proposed, err := a.ProposeEventMemories(ctx)
	if err != nil {
		log.Printf("[events-agent] event memory pass: %v", err)
	}
	summary.EventMemory = proposed

	due, err := a.RequiresScheduling(ctx, schedulingLookaheadDays)
	if err != nil {
		log.Printf("[events-agent] scheduling lookahead: %v", err)
	}
	summary.RequiresScheduling = due

	log.Printf("[events-agent] run complete: created=%d event_memory=%d due_soon=%d",
		summary.ScheduledCreated, summary.EventMemory, len(summary.RequiresScheduling))
	return summary, nil
}

// ProcessTemplates creates a calendar event for every template whose
// next occurrence has arrived, then advances the anchor so the same
// period never fires twice. A duplicate already on the calendar still
// advances the anchor.
func (a *EventsAgent) ProcessTemplates(ctx context.Context) (int, error) {
	templates, err := a.dash.ListTemplates(ctx)
	if err != nil {
		return 0, err
	}

	today := a.now().Format("2006-01-02")
	created := 0
	for _, tpl := range templates {
		nextDue, ok := schedule.NextDue(tpl.AnchorDate, tpl.Recurrence)
		if !ok || nextDue > today {
			continue
		}

		exists, err := a.dash.EventExists(ctx, tpl.Title, nextDue)
		if err != nil {
			return created, err
		}
		if exists {
			if err := a.dash.UpdateTemplateAnchor(ctx, tpl.ID, nextDue); err != nil {
				return created, err
			}
			continue
		}

		description := fmt.Sprintf("%s [scheduled template #%d]", tpl.Description, tpl.ID)
		if _, err := a.dash.CreateEvent(ctx, nextDue, tpl.Title, description, "reminder"); err != nil {
			return created, err
		}
		if err := a.dash.UpdateTemplateAnchor(ctx, tpl.ID, nextDue); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// ProposeEventMemories raises event_memory proposals for recent
// calendar activity. Reminder entries and events already proposed are
// skipped; completed todos weigh more than plain events.
func (a *EventsAgent) ProposeEventMemories(ctx context.Context) (int, error) {
	events, err := a.dash.ListEvents(ctx, eventMemoryDaysBack, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, ev := range events {
		if count >= a.maxEventMemories {
			break
		}
		if ev.Title == "" || ev.EventType == "reminder" {
			continue
		}

		text := ev.Title
		if ev.Description != "" {
			text += ": " + clip(ev.Description, 80)
		}
		dup, err := a.reviews.HasPendingProposal(ctx, review.ActionEventMemory, fmt.Sprintf(`"event_id":%d`, ev.ID))
		if err != nil {
			return count, err
		}
		if dup {
			continue
		}

		weight := 4
		if ev.EventType == "completed" {
			weight = 5
		}
		payload := review.EventMemoryPayload{
			Text:       clip(text, 500),
			Weight:     weight,
			MemoryType: "long",
			EventID:    ev.ID,
			Date:       clip(ev.Date, 10),
		}
		if _, err := a.reviews.CreateProposal(ctx, review.ActionEventMemory, payload,
			fmt.Sprintf("Event on %s", payload.Date)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// RequiresScheduling lists templates due within daysAhead, soonest
// first.
func (a *EventsAgent) RequiresScheduling(ctx context.Context, daysAhead int) ([]TemplateDue, error) {
	templates, err := a.dash.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := a.now().AddDate(0, 0, daysAhead).Format("2006-01-02")
	var due []TemplateDue
	for _, tpl := range templates {
		nextDue, ok := schedule.NextDue(tpl.AnchorDate, tpl.Recurrence)
		if !ok || nextDue > cutoff {
			continue
		}
		due = append(due, TemplateDue{Template: tpl, NextDue: nextDue})
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDue < due[j].NextDue })
	return due, nil
}
