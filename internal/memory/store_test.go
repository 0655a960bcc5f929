package memory

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// fakeIndex is an in-memory Index with scripted distances.
type fakeIndex struct {
	records   map[string]Record
	distances map[string]float64 // record id -> query distance
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		records:   make(map[string]Record),
		distances: make(map[string]float64),
	}
}

func (f *fakeIndex) Add(ctx context.Context, rec Record) error {
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, text string, n int, filter Type) ([]Match, error) {
	var matches []Match
	for id, rec := range f.records {
		if filter != "" && rec.Type != filter {
			continue
		}
		dist, ok := f.distances[id]
		if !ok {
			dist = 0.5
		}
		matches = append(matches, Match{Record: rec, Distance: dist})
	}
	// ascending distance, like the real index
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].Distance < matches[i].Distance {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

func (f *fakeIndex) Get(ctx context.Context, id string) (Record, bool, error) {
	rec, ok := f.records[id]
	return rec, ok, nil
}

func (f *fakeIndex) List(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeIndex) UpdateMeta(ctx context.Context, rec Record) error {
	if _, ok := f.records[rec.ID]; !ok {
		return fmt.Errorf("no record %s", rec.ID)
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, id string) error {
	delete(f.records, id)
	return nil
}

func (f *fakeIndex) seed(id, text string, weight int, typ Type, touched time.Time, dist float64) {
	f.records[id] = Record{ID: id, Text: text, Weight: weight, Type: typ, LastTouched: touched}
	f.distances[id] = dist
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStoreAdd(t *testing.T) {
	idx := newFakeIndex()
	store := NewStore(idx)

	id, err := store.Add(context.Background(), "  user likes coffee  ", 0, "", "")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}

	rec, ok := idx.records[id]
	if !ok {
		t.Fatal("record not stored")
	}
	if rec.Text != "user likes coffee" {
		t.Errorf("text = %q, want trimmed text", rec.Text)
	}
	if rec.Weight != DefaultWeight {
		t.Errorf("weight = %d, want default %d", rec.Weight, DefaultWeight)
	}
	if rec.Type != TypeLong {
		t.Errorf("type = %q, want long", rec.Type)
	}
	if rec.Source != "manual" {
		t.Errorf("source = %q, want manual", rec.Source)
	}
}

func TestStoreAdd_EmptyText(t *testing.T) {
	store := NewStore(newFakeIndex())
	if _, err := store.Add(context.Background(), "   ", 5, TypeLong, "test"); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestStoreAdd_ClampsWeight(t *testing.T) {
	idx := newFakeIndex()
	store := NewStore(idx)

	id, err := store.Add(context.Background(), "fact", 99, TypeShort, "test")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if got := idx.records[id].Weight; got != MaxWeight {
		t.Errorf("weight = %d, want clamped to %d", got, MaxWeight)
	}
}

func TestStoreSearch_WeightedRanking(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	idx := newFakeIndex()
	// Slightly closer match with low weight loses to a heavier one.
	// a: sim 0.9 x weight 2 x boost 1.0 = 1.8
	// b: sim 0.8 x weight 8 x boost 1.0 = 6.4
	old := now.AddDate(0, -6, 0)
	idx.seed("a", "low weight", 2, TypeLong, old, 0.1)
	idx.seed("b", "high weight", 8, TypeLong, old, 0.2)

	store := NewStore(idx)
	store.SetNow(fixedClock(now))

	got, err := store.Search(context.Background(), "query", 2, "", true)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ID != "b" {
		t.Errorf("first result = %s, want b (weight should dominate)", got[0].ID)
	}
}

func TestStoreSearch_RecencyBoost(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	idx := newFakeIndex()
	// Same similarity and weight; only recency differs.
	// recent: 0.7 x 5 x 1.3 = 4.55, stale: 0.7 x 5 x 1.0 = 3.5
	idx.seed("stale", "old fact", 5, TypeLong, now.AddDate(0, -3, 0), 0.3)
	idx.seed("recent", "fresh fact", 5, TypeLong, now.AddDate(0, 0, -2), 0.3)

	store := NewStore(idx)
	store.SetNow(fixedClock(now))

	got, err := store.Search(context.Background(), "query", 2, "", true)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if got[0].ID != "recent" {
		t.Errorf("first result = %s, want recent", got[0].ID)
	}
}

func TestStoreSearch_NoWeighting(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	idx := newFakeIndex()
	idx.seed("near", "closest", 1, TypeLong, now, 0.1)
	idx.seed("far", "heavier but farther", 10, TypeLong, now, 0.4)

	store := NewStore(idx)
	store.SetNow(fixedClock(now))

	got, err := store.Search(context.Background(), "query", 2, "", false)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if got[0].ID != "near" {
		t.Errorf("first result = %s, want raw similarity order", got[0].ID)
	}
}

func TestStoreSearch_TypeFilter(t *testing.T) {
	idx := newFakeIndex()
	idx.seed("s", "short one", 5, TypeShort, time.Time{}, 0.1)
	idx.seed("l", "long one", 5, TypeLong, time.Time{}, 0.2)

	store := NewStore(idx)
	got, err := store.Search(context.Background(), "query", 5, TypeShort, true)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s" {
		t.Errorf("filter result = %+v, want only short record", got)
	}
}

func TestStoreSearch_Empty(t *testing.T) {
	store := NewStore(newFakeIndex())
	got, err := store.Search(context.Background(), "query", 5, "", true)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil result, got %+v", got)
	}
}

func TestStoreRefresh(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	idx := newFakeIndex()
	idx.seed("a", "user likes tea", 5, TypeLong, now.AddDate(0, -2, 0), 0.1)

	store := NewStore(idx)
	store.SetNow(fixedClock(now))

	text, ok, err := store.Refresh(context.Background(), "tea", true)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if !ok {
		t.Fatal("Refresh should find a match")
	}
	if text != "user likes tea" {
		t.Errorf("text = %q", text)
	}
	rec := idx.records["a"]
	if rec.Weight != 6 {
		t.Errorf("weight = %d, want bumped to 6", rec.Weight)
	}
	if !rec.LastTouched.Equal(now) {
		t.Errorf("last touched = %v, want %v", rec.LastTouched, now)
	}
}

func TestStoreRefresh_WeightCap(t *testing.T) {
	now := time.Now().UTC()
	idx := newFakeIndex()
	idx.seed("a", "fact", MaxWeight, TypeLong, now, 0.1)

	store := NewStore(idx)
	if _, _, err := store.Refresh(context.Background(), "fact", true); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if got := idx.records["a"].Weight; got != MaxWeight {
		t.Errorf("weight = %d, want capped at %d", got, MaxWeight)
	}
}

func TestStoreRefresh_NoMatch(t *testing.T) {
	store := NewStore(newFakeIndex())
	_, ok, err := store.Refresh(context.Background(), "anything", false)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if ok {
		t.Error("expected no match")
	}
}

func TestStoreTouchOnSearch(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	idx := newFakeIndex()
	old := now.AddDate(0, -1, 0)
	idx.seed("a", "fact one", 5, TypeLong, old, 0.1)
	idx.seed("b", "fact two", 5, TypeLong, old, 0.2)

	store := NewStore(idx)
	store.SetNow(fixedClock(now))

	touched, err := store.TouchOnSearch(context.Background(), "fact", 5)
	if err != nil {
		t.Fatalf("TouchOnSearch error: %v", err)
	}
	if touched != 2 {
		t.Errorf("touched = %d, want 2", touched)
	}
	for _, id := range []string{"a", "b"} {
		if !idx.records[id].LastTouched.Equal(now) {
			t.Errorf("record %s not touched", id)
		}
	}
}

func TestStoreDelete(t *testing.T) {
	idx := newFakeIndex()
	idx.seed("a", "fact", 5, TypeLong, time.Time{}, 0.1)

	store := NewStore(idx)
	ok, err := store.Delete(context.Background(), "a")
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if !ok {
		t.Error("Delete should report true for existing record")
	}

	ok, err = store.Delete(context.Background(), "a")
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if ok {
		t.Error("Delete should report false for missing record")
	}
}

func TestStoreUpdate(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	idx := newFakeIndex()
	idx.seed("a", "fact", 4, TypeShort, time.Time{}, 0.1)

	store := NewStore(idx)
	store.SetNow(fixedClock(now))

	weight := 20
	typ := TypeLong
	ok, err := store.Update(context.Background(), "a", &weight, &typ)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if !ok {
		t.Fatal("Update should find record")
	}

	rec := idx.records["a"]
	if rec.Weight != MaxWeight {
		t.Errorf("weight = %d, want clamped to %d", rec.Weight, MaxWeight)
	}
	if rec.Type != TypeLong {
		t.Errorf("type = %q, want long", rec.Type)
	}
	if !rec.LastTouched.Equal(now) {
		t.Error("update should touch record")
	}
}

func TestStoreUpdate_PartialNil(t *testing.T) {
	idx := newFakeIndex()
	idx.seed("a", "fact", 4, TypeShort, time.Time{}, 0.1)

	store := NewStore(idx)
	typ := TypeLong
	if _, err := store.Update(context.Background(), "a", nil, &typ); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	rec := idx.records["a"]
	if rec.Weight != 4 {
		t.Errorf("weight = %d, want unchanged", rec.Weight)
	}
	if rec.Type != TypeLong {
		t.Errorf("type = %q, want long", rec.Type)
	}
}

func TestStoreUpdate_Missing(t *testing.T) {
	store := NewStore(newFakeIndex())
	ok, err := store.Update(context.Background(), "nope", nil, nil)
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing record")
	}
}

func TestRecencyBoost(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		touched time.Time
		want    float64
	}{
		{"zero time", time.Time{}, 1.0},
		{"two days", now.AddDate(0, 0, -2), boostRecent},
		{"exactly seven days", now.AddDate(0, 0, -7), boostRecent},
		{"twenty days", now.AddDate(0, 0, -20), boostWarm},
		{"sixty days", now.AddDate(0, 0, -60), 1.0},
		{"future touch", now.AddDate(0, 0, 1), boostRecent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recencyBoost(tt.touched, now); got != tt.want {
				t.Errorf("recencyBoost = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeType(t *testing.T) {
	if normalizeType("short") != TypeShort {
		t.Error("short should stay short")
	}
	for _, typ := range []Type{"", "long", "weird"} {
		if normalizeType(typ) != TypeLong {
			t.Errorf("normalizeType(%q) should default to long", typ)
		}
	}
}

func TestClampWeight(t *testing.T) {
	cases := map[int]int{-5: 1, 0: 1, 1: 1, 5: 5, 10: 10, 11: 10}
	for in, want := range cases {
		if got := clampWeight(in); got != want {
			t.Errorf("clampWeight(%d) = %d, want %d", in, got, want)
		}
	}
}
