package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	boostRecentDays = 7
	boostWarmDays   = 30

	boostRecent = 1.3
	boostWarm   = 1.1
)

// Store ranks and maintains weighted memories on top of a similarity
// index. Scoring: similarity x weight x recency boost.
type Store struct {
	idx Index
	now func() time.Time
}

func NewStore(idx Index) *Store {
	return &Store{idx: idx, now: time.Now}
}

// SetNow overrides the clock, for tests.
func (s *Store) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) Add(ctx context.Context, text string, weight int, typ Type, source string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("memory add: empty text")
	}
	if weight == 0 {
		weight = DefaultWeight
	}
	if source == "" {
		source = "manual"
	}

	rec := Record{
		ID:          uuid.NewString(),
		Text:        text,
		Weight:      clampWeight(weight),
		Type:        normalizeType(typ),
		LastTouched: s.now().UTC(),
		Source:      source,
	}
	if err := s.idx.Add(ctx, rec); err != nil {
		return "", fmt.Errorf("memory add: %w", err)
	}
	return rec.ID, nil
}

// Search returns the top n records for query. With useWeight a 3x
// candidate superset is fetched and re-ranked by
// similarity x weight x recency boost; the sort is stable so ties keep
// the index's own similarity order. With useWeight=false the raw index
// order is returned unchanged.
func (s *Store) Search(ctx context.Context, query string, n int, filter Type, useWeight bool) ([]Record, error) {
	if n <= 0 {
		n = 5
	}

	fetch := n
	if useWeight {
		fetch = n * 3
		if fetch > 100 {
			fetch = 100
		}
	}

	matches, err := s.idx.Query(ctx, query, fetch, filter)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	if !useWeight {
		if len(matches) > n {
			matches = matches[:n]
		}
		out := make([]Record, 0, len(matches))
		for _, m := range matches {
			out = append(out, m.Record)
		}
		return out, nil
	}

	now := s.now().UTC()
	type scored struct {
		rec   Record
		score float64
	}
	ranked := make([]scored, 0, len(matches))
	for _, m := range matches {
		sim := 1.0 - m.Distance
		boost := recencyBoost(m.Record.LastTouched, now)
		ranked = append(ranked, scored{rec: m.Record, score: sim * float64(m.Record.Weight) * boost})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]Record, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.rec)
	}
	return out, nil
}

// Refresh finds the single best match for query and touches it,
// optionally bumping its weight by one (capped). Returns the refreshed
// text, or ok=false when nothing matches.
func (s *Store) Refresh(ctx context.Context, query string, bumpWeight bool) (string, bool, error) {
	matches, err := s.idx.Query(ctx, query, 1, "")
	if err != nil {
		return "", false, fmt.Errorf("memory refresh: %w", err)
	}
	if len(matches) == 0 {
		return "", false, nil
	}

	rec := matches[0].Record
	rec.LastTouched = s.now().UTC()
	if bumpWeight {
		rec.Weight = clampWeight(rec.Weight + 1)
	}
	if err := s.idx.UpdateMeta(ctx, rec); err != nil {
		return "", false, fmt.Errorf("memory refresh: %w", err)
	}
	return rec.Text, true, nil
}

// TouchOnSearch touches every record a search for query would return.
// Used after memories were successfully recalled in conversation, as
// opposed to Refresh which reinforces a single explicit fact. Returns
// the count touched.
func (s *Store) TouchOnSearch(ctx context.Context, query string, n int) (int, error) {
	if n <= 0 {
		n = 5
	}
	matches, err := s.idx.Query(ctx, query, n, "")
	if err != nil {
		return 0, fmt.Errorf("memory touch: %w", err)
	}

	now := s.now().UTC()
	touched := 0
	for _, m := range matches {
		rec := m.Record
		rec.LastTouched = now
		if err := s.idx.UpdateMeta(ctx, rec); err != nil {
			continue
		}
		touched++
	}
	return touched, nil
}

func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	return s.idx.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.idx.List(ctx, limit)
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.idx.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("memory delete: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := s.idx.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("memory delete: %w", err)
	}
	return true, nil
}

// Update changes a record's weight and/or type. Either pointer may be
// nil to leave the field alone. The record is touched as a side effect.
func (s *Store) Update(ctx context.Context, id string, weight *int, typ *Type) (bool, error) {
	rec, ok, err := s.idx.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("memory update: %w", err)
	}
	if !ok {
		return false, nil
	}

	if weight != nil {
		rec.Weight = clampWeight(*weight)
	}
	if typ != nil {
		rec.Type = normalizeType(*typ)
	}
	rec.LastTouched = s.now().UTC()

	if err := s.idx.UpdateMeta(ctx, rec); err != nil {
		return false, fmt.Errorf("memory update: %w", err)
	}
	return true, nil
}

func recencyBoost(lastTouched, now time.Time) float64 {
	if lastTouched.IsZero() {
		return 1.0
	}
	age := now.Sub(lastTouched)
	if age < 0 {
		age = 0
	}
	days := int(age.Hours() / 24)
	switch {
	case days <= boostRecentDays:
		return boostRecent
	case days <= boostWarmDays:
		return boostWarm
	default:
		return 1.0
	}
}
