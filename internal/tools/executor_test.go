package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hollyoak/steward/internal/dashboard"
	"github.com/hollyoak/steward/internal/memory"
)

// fakeIndex matches stored records by substring containment, which is
// enough to exercise the tool handlers without an embedding service.
type fakeIndex struct {
	recs map[string]memory.Record
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{recs: make(map[string]memory.Record)}
}

func (f *fakeIndex) Add(ctx context.Context, rec memory.Record) error {
	f.recs[rec.ID] = rec
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, text string, n int, filter memory.Type) ([]memory.Match, error) {
	needle := strings.ToLower(text)
	var matches []memory.Match
	for _, rec := range f.recs {
		if filter != "" && rec.Type != filter {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Text), needle) {
			matches = append(matches, memory.Match{Record: rec, Distance: 0.1})
		}
	}
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

func (f *fakeIndex) Get(ctx context.Context, id string) (memory.Record, bool, error) {
	rec, ok := f.recs[id]
	return rec, ok, nil
}

func (f *fakeIndex) List(ctx context.Context, limit int) ([]memory.Record, error) {
	var out []memory.Record
	for _, rec := range f.recs {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeIndex) UpdateMeta(ctx context.Context, rec memory.Record) error {
	f.recs[rec.ID] = rec
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, id string) error {
	delete(f.recs, id)
	return nil
}

func newTestExecutor(t *testing.T) (*Executor, *memory.Store, *dashboard.Store) {
	t.Helper()
	dash, err := dashboard.NewStore(filepath.Join(t.TempDir(), "dashboard.db"))
	if err != nil {
		t.Fatalf("dashboard.NewStore: %v", err)
	}
	t.Cleanup(func() { dash.Close() })
	memories := memory.NewStore(newFakeIndex())
	return NewExecutor(memories, dash), memories, dash
}

func TestExecute_UnknownTool(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	_, err := e.Execute(context.Background(), "frobnicate", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool: frobnicate") {
		t.Fatalf("err = %v", err)
	}
}

func TestRequiresApproval(t *testing.T) {
	e, _, _ := newTestExecutor(t)

	sensitive := []string{
		"memory_store", "memory_remove", "calendar_create_event",
		"reminder_create", "reminder_cancel",
		"todo_add", "todo_complete", "todo_remove",
		"wishlist_add", "wishlist_remove",
	}
	for _, name := range sensitive {
		if !e.RequiresApproval(name) {
			t.Fatalf("%s should require approval", name)
		}
	}
	for _, name := range []string{"memory_search", "calendar_list_events", "no_such_tool"} {
		if e.RequiresApproval(name) {
			t.Fatalf("%s should not require approval", name)
		}
	}
}

func TestMemoryStoreTool(t *testing.T) {
	e, memories, _ := newTestExecutor(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, "memory_store", map[string]any{"fact": "user prefers tea", "weight": float64(7)})
	if err != nil {
		t.Fatalf("memory_store: %v", err)
	}
	if !strings.HasPrefix(res, "Stored memory ") {
		t.Fatalf("result = %q", res)
	}

	recs, err := memories.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 || recs[0].Text != "user prefers tea" || recs[0].Weight != 7 || recs[0].Source != "chat" {
		t.Fatalf("record = %+v", recs)
	}
}

func TestMemoryStoreTool_AlternateKeys(t *testing.T) {
	e, memories, _ := newTestExecutor(t)
	ctx := context.Background()

	if _, err := e.Execute(ctx, "memory_store", map[string]any{"content": "cat is called Miso"}); err != nil {
		t.Fatalf("content key: %v", err)
	}
	if _, err := e.Execute(ctx, "memory_store", map[string]any{"text": "allergic to peanuts"}); err != nil {
		t.Fatalf("text key: %v", err)
	}
	recs, err := memories.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	if _, err := e.Execute(ctx, "memory_store", nil); err == nil {
		t.Fatal("expected error for missing fact")
	}
}

func TestMemorySearchTool(t *testing.T) {
	e, memories, _ := newTestExecutor(t)
	ctx := context.Background()

	if _, err := memories.Add(ctx, "user plays tennis on Saturdays", 5, "", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := e.Execute(ctx, "memory_search", map[string]any{"query": "tennis"})
	if err != nil {
		t.Fatalf("memory_search: %v", err)
	}
	if res != "- user plays tennis on Saturdays" {
		t.Fatalf("result = %q", res)
	}

	res, err = e.Execute(ctx, "memory_search", map[string]any{"query": "kayaking"})
	if err != nil {
		t.Fatalf("memory_search: %v", err)
	}
	if res != "No memories found." {
		t.Fatalf("result = %q", res)
	}
}

func TestMemoryRemoveTool(t *testing.T) {
	e, memories, _ := newTestExecutor(t)
	ctx := context.Background()

	if _, err := memories.Add(ctx, "old office address is Elm Street", 5, "", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := e.Execute(ctx, "memory_remove", map[string]any{"query": "office address"})
	if err != nil {
		t.Fatalf("memory_remove: %v", err)
	}
	if res != "Removed memory: old office address is Elm Street" {
		t.Fatalf("result = %q", res)
	}

	if _, err := e.Execute(ctx, "memory_remove", map[string]any{"query": "office address"}); err == nil {
		t.Fatal("expected error when nothing matches")
	}
}

func TestCalendarTools(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	date := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	res, err := e.Execute(ctx, "calendar_create_event", map[string]any{
		"title": "Dentist",
		"start": date,
	})
	if err != nil {
		t.Fatalf("calendar_create_event: %v", err)
	}
	if !strings.Contains(res, "Dentist") || !strings.Contains(res, date) {
		t.Fatalf("result = %q", res)
	}

	res, err = e.Execute(ctx, "calendar_list_events", nil)
	if err != nil {
		t.Fatalf("calendar_list_events: %v", err)
	}
	if res != "- "+date+": Dentist" {
		t.Fatalf("result = %q", res)
	}

	if _, err := e.Execute(ctx, "calendar_create_event", map[string]any{"start": date}); err == nil {
		t.Fatal("expected error for missing title")
	}
	if _, err := e.Execute(ctx, "calendar_create_event", map[string]any{"title": "x"}); err == nil {
		t.Fatal("expected error for missing start")
	}
}

func TestReminderTools(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	// chat_id arrives as float64 when decoded from JSON.
	res, err := e.Execute(ctx, "reminder_create", map[string]any{
		"chat_id":   float64(42),
		"text":      "take out the bins",
		"remind_at": "2026-09-02 07:30",
	})
	if err != nil {
		t.Fatalf("reminder_create: %v", err)
	}
	if !strings.Contains(res, "2026-09-02 07:30") {
		t.Fatalf("result = %q", res)
	}

	res, err = e.Execute(ctx, "reminder_cancel", map[string]any{"chat_id": int64(42), "reminder_id": 1})
	if err != nil {
		t.Fatalf("reminder_cancel: %v", err)
	}
	if res != "Cancelled reminder #1" {
		t.Fatalf("result = %q", res)
	}

	if _, err := e.Execute(ctx, "reminder_cancel", map[string]any{"chat_id": int64(42), "reminder_id": 1}); err == nil {
		t.Fatal("expected error cancelling twice")
	}
	if _, err := e.Execute(ctx, "reminder_create", map[string]any{"text": "no chat"}); err == nil {
		t.Fatal("expected error for missing chat_id")
	}
}

func TestTodoTools(t *testing.T) {
	e, _, dash := newTestExecutor(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, "todo_add", map[string]any{"chat_id": int64(42), "content": "buy fika pastries"})
	if err != nil {
		t.Fatalf("todo_add: %v", err)
	}
	if res != "Added todo #1: buy fika pastries" {
		t.Fatalf("result = %q", res)
	}

	res, err = e.Execute(ctx, "todo_complete", map[string]any{"chat_id": int64(42), "todo_id": 1})
	if err != nil {
		t.Fatalf("todo_complete: %v", err)
	}
	if res != "Completed todo #1: buy fika pastries" {
		t.Fatalf("result = %q", res)
	}

	// Completion leaves a calendar trace for the nightly agents.
	events, err := dash.ListEvents(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "completed" || events[0].Title != "buy fika pastries" {
		t.Fatalf("events = %+v", events)
	}

	if _, err := e.Execute(ctx, "todo_complete", map[string]any{"chat_id": int64(42), "todo_id": 1}); err == nil {
		t.Fatal("expected error completing twice")
	}

	if _, err := e.Execute(ctx, "todo_add", map[string]any{"chat_id": int64(42), "content": "stale item"}); err != nil {
		t.Fatalf("todo_add: %v", err)
	}
	res, err = e.Execute(ctx, "todo_remove", map[string]any{"chat_id": int64(42), "todo_id": 2})
	if err != nil {
		t.Fatalf("todo_remove: %v", err)
	}
	if res != "Removed todo #2" {
		t.Fatalf("result = %q", res)
	}
}

func TestWishlistTools(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, "wishlist_add", map[string]any{"chat_id": int64(7), "content": "record player"})
	if err != nil {
		t.Fatalf("wishlist_add: %v", err)
	}
	if res != "Added wishlist item #1" {
		t.Fatalf("result = %q", res)
	}

	res, err = e.Execute(ctx, "wishlist_remove", map[string]any{"chat_id": int64(7), "item_id": 1})
	if err != nil {
		t.Fatalf("wishlist_remove: %v", err)
	}
	if res != "Removed wishlist item #1" {
		t.Fatalf("result = %q", res)
	}

	if _, err := e.Execute(ctx, "wishlist_remove", map[string]any{"chat_id": int64(7), "item_id": 1}); err == nil {
		t.Fatal("expected error removing twice")
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s":     "  padded  ",
		"i":     7,
		"i64":   int64(8),
		"f":     9.0,
		"wrong": []string{"x"},
	}
	if got := argString(args, "s"); got != "padded" {
		t.Fatalf("argString = %q", got)
	}
	if got := argString(args, "i"); got != "" {
		t.Fatalf("argString non-string = %q", got)
	}
	if got := argInt(args, "i", 0); got != 7 {
		t.Fatalf("argInt = %d", got)
	}
	if got := argInt(args, "i64", 0); got != 8 {
		t.Fatalf("argInt int64 = %d", got)
	}
	if got := argInt(args, "f", 0); got != 9 {
		t.Fatalf("argInt float64 = %d", got)
	}
	if got := argInt(args, "missing", 13); got != 13 {
		t.Fatalf("argInt fallback = %d", got)
	}
	if got := argInt(args, "wrong", 13); got != 13 {
		t.Fatalf("argInt wrong type = %d", got)
	}
	if _, ok := argChatID(map[string]any{"chat_id": "42"}); ok {
		t.Fatal("string chat_id must not resolve")
	}
}

func TestList_SortedWithArgs(t *testing.T) {
	e, _, _ := newTestExecutor(t)

	listed := e.List()
	if len(listed) != len(e.Names()) {
		t.Fatalf("List() has %d tools, Names() has %d", len(listed), len(e.Names()))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i-1].Name >= listed[i].Name {
			t.Fatalf("List() not sorted: %s before %s", listed[i-1].Name, listed[i].Name)
		}
	}
	for _, tl := range listed {
		if tl.Description == "" {
			t.Errorf("tool %s has no description", tl.Name)
		}
		if len(tl.Args) == 0 {
			t.Errorf("tool %s has no argument schema", tl.Name)
		}
	}
}
