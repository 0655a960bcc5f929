package agents

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/hollyoak/steward/internal/memory"
	"github.com/hollyoak/steward/internal/review"
)

const (
	consolidateMinTextLen = 10
	consolidateMergedCap  = 500
	staleImportantDays    = 30
	promoteMinShortWeight = 6
	bumpMinWeight         = 7
)

// MemorySummary counts the proposals one memory-agent run created.
type MemorySummary struct {
	Add         int
	Remove      int
	Consolidate int
	Promote     int
}

// MemoryAgent reviews the memory store and pending approvals, raising
// proposals a human resolves later. It never commits anything itself.
type MemoryAgent struct {
	reviews           *review.Store
	memories          *memory.Store
	maxConsolidations int
	maxPromotions     int
	now               func() time.Time
}

func NewMemoryAgent(reviews *review.Store, memories *memory.Store, maxConsolidations, maxPromotions int) *MemoryAgent {
	if maxConsolidations <= 0 {
		maxConsolidations = 5
	}
	if maxPromotions <= 0 {
		maxPromotions = 10
	}
	return &MemoryAgent{
		reviews:           reviews,
		memories:          memories,
		maxConsolidations: maxConsolidations,
		maxPromotions:     maxPromotions,
		now:               time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (a *MemoryAgent) SetNow(now func() time.Time) {
	a.now = now
}

func (a *MemoryAgent) Run(ctx context.Context) (MemorySummary, error) {
	var summary MemorySummary

	if err := a.proposeFromApprovals(ctx, &summary); err != nil {
		log.Printf("[memory-agent] approvals pass: %v", err)
	}
	if err := a.proposeConsolidations(ctx, &summary); err != nil {
		log.Printf("[memory-agent] consolidation pass: %v", err)
	}
	if err := a.proposePromotions(ctx, &summary); err != nil {
		log.Printf("[memory-agent] promotion pass: %v", err)
	}

	log.Printf("[memory-agent] run complete: add=%d remove=%d consolidate=%d promote=%d",
		summary.Add, summary.Remove, summary.Consolidate, summary.Promote)
	return summary, nil
}

// proposeFromApprovals turns pending memory tool approvals into
// reviewable proposals so they surface in the same queue as agent
// suggestions.
func (a *MemoryAgent) proposeFromApprovals(ctx context.Context, summary *MemorySummary) error {
	pending, err := a.reviews.ListAllPendingApprovals(ctx)
	if err != nil {
		return err
	}

	for _, approval := range pending {
		switch approval.ToolName {
		case "memory_store":
			fact := approvalArg(approval.ToolArgs, "fact", "content", "text")
			if fact == "" {
				continue
			}
			dup, err := a.reviews.HasPendingProposal(ctx, review.ActionAdd, clip(fact, 40))
			if err != nil || dup {
				continue
			}
			payload := review.AddPayload{
				Fact:       fact,
				Weight:     approvalArgInt(approval.ToolArgs, "weight", memory.DefaultWeight),
				MemoryType: approvalMemType(approval.ToolArgs),
			}
			if _, err := a.reviews.CreateProposal(ctx, review.ActionAdd, payload,
				fmt.Sprintf("From approval %s", approval.ID)); err != nil {
				return err
			}
			summary.Add++
		case "memory_remove":
			query := approvalArg(approval.ToolArgs, "query")
			if query == "" {
				continue
			}
			dup, err := a.reviews.HasPendingProposal(ctx, review.ActionRemove, clip(query, 40))
			if err != nil || dup {
				continue
			}
			if _, err := a.reviews.CreateProposal(ctx, review.ActionRemove, review.RemovePayload{Query: query},
				fmt.Sprintf("From approval %s", approval.ID)); err != nil {
				return err
			}
			summary.Remove++
		}
	}
	return nil
}

// proposeConsolidations walks recent records and raises one merge
// proposal per record for its closest unseen near-duplicate.
func (a *MemoryAgent) proposeConsolidations(ctx context.Context, summary *MemorySummary) error {
	records, err := a.memories.List(ctx, 30)
	if err != nil {
		return err
	}

	seenPairs := make(map[string]bool)
	for _, rec := range records {
		if summary.Consolidate >= a.maxConsolidations {
			break
		}
		if len(rec.Text) < consolidateMinTextLen {
			continue
		}

		similar, err := a.memories.Search(ctx, clip(rec.Text, 80), 4, "", true)
		if err != nil {
			return err
		}
		for _, s := range similar {
			if s.ID == rec.ID || s.Text == "" {
				continue
			}
			pair := pairKey(rec.ID, s.ID)
			if seenPairs[pair] {
				continue
			}
			seenPairs[pair] = true

			weight := rec.Weight
			if s.Weight > weight {
				weight = s.Weight
			}
			memType := memory.TypeShort
			if rec.Type == memory.TypeLong || s.Type == memory.TypeLong {
				memType = memory.TypeLong
			}
			payload := review.ConsolidatePayload{
				SourceIDs:   []string{rec.ID, s.ID},
				SourceTexts: []string{clip(rec.Text, 300), clip(s.Text, 300)},
				MergedText:  clip(rec.Text+". "+s.Text, consolidateMergedCap),
				Weight:      weight,
				MemoryType:  string(memType),
			}
			if _, err := a.reviews.CreateProposal(ctx, review.ActionConsolidate, payload, "Similar memories"); err != nil {
				return err
			}
			summary.Consolidate++
			break // one consolidation per record
		}
	}
	return nil
}

// proposePromotions flags high-weight short-term records for
// promotion and important stale records for a weight bump.
func (a *MemoryAgent) proposePromotions(ctx context.Context, summary *MemorySummary) error {
	records, err := a.memories.List(ctx, 50)
	if err != nil {
		return err
	}

	now := a.now()
	for _, rec := range records {
		if summary.Promote >= a.maxPromotions {
			break
		}
		switch {
		case rec.Type == memory.TypeShort && rec.Weight >= promoteMinShortWeight:
			payload := review.PromotePayload{
				MemoryID: rec.ID,
				Action:   review.PromoteShortToLong,
				Text:     clip(rec.Text, 80),
			}
			if _, err := a.reviews.CreateProposal(ctx, review.ActionPromote, payload, "High-weight short-term memory"); err != nil {
				return err
			}
			summary.Promote++
		case rec.Weight >= bumpMinWeight && !rec.LastTouched.IsZero() &&
			now.Sub(rec.LastTouched) > staleImportantDays*24*time.Hour:
			payload := review.PromotePayload{
				MemoryID: rec.ID,
				Action:   review.PromoteBumpWeight,
				Text:     clip(rec.Text, 80),
			}
			if _, err := a.reviews.CreateProposal(ctx, review.ActionPromote, payload, "Important memory not touched in 30+ days"); err != nil {
				return err
			}
			summary.Promote++
		}
	}
	return nil
}

func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

func approvalArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func approvalArgInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func approvalMemType(args map[string]any) string {
	if v, ok := args["memory_type"].(string); ok && v != "" {
		return v
	}
	return string(memory.TypeLong)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back off to a rune boundary so dedup needles stay valid UTF-8.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
