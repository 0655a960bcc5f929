package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hollyoak/steward/internal/dashboard"
	"github.com/hollyoak/steward/internal/memory"
)

// Handler runs one tool call against structured arguments and returns
// a human-readable result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Arg describes one tool parameter for the agent runtime's schema.
type Arg struct {
	Name        string
	Type        string // JSON schema type
	Description string
	Required    bool
}

// Tool is one registered capability of the assistant.
type Tool struct {
	Name        string
	Description string
	Args        []Arg
	Handler     Handler
	Sensitive   bool
}

// Executor is the tool dispatcher. Sensitive tools are expected to be
// routed through the approval pipeline before Execute is called.
type Executor struct {
	tools map[string]Tool
}

func NewExecutor(memories *memory.Store, dash *dashboard.Store) *Executor {
	e := &Executor{tools: make(map[string]Tool)}
	e.registerBuiltins(memories, dash)
	return e
}

func (e *Executor) Register(t Tool) {
	e.tools[t.Name] = t
}

func (e *Executor) Names() []string {
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// List returns every registered tool sorted by name, for exposing the
// registry to the agent runtime.
func (e *Executor) List() []Tool {
	out := make([]Tool, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RequiresApproval reports whether a tool call must be confirmed by a
// human before executing.
func (e *Executor) RequiresApproval(name string) bool {
	tool, ok := e.tools[name]
	return ok && tool.Sensitive
}

func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := e.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, args)
}

func (e *Executor) registerBuiltins(memories *memory.Store, dash *dashboard.Store) {
	e.Register(Tool{
		Name:        "memory_store",
		Description: "Store a fact in long-term memory",
		Sensitive:   true,
		Args: []Arg{
			{Name: "fact", Type: "string", Description: "The fact to remember", Required: true},
			{Name: "weight", Type: "integer", Description: "Importance 1-10, default 5"},
			{Name: "memory_type", Type: "string", Description: "short or long, default long"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			fact := argString(args, "fact")
			if fact == "" {
				fact = argString(args, "content")
			}
			if fact == "" {
				fact = argString(args, "text")
			}
			if fact == "" {
				return "", fmt.Errorf("memory_store: missing fact")
			}
			weight := argInt(args, "weight", memory.DefaultWeight)
			memType := memory.Type(argString(args, "memory_type"))
			id, err := memories.Add(ctx, fact, weight, memType, "chat")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Stored memory %s", id), nil
		},
	})

	e.Register(Tool{
		Name:        "memory_remove",
		Description: "Remove the memory best matching a query",
		Sensitive:   true,
		Args: []Arg{
			{Name: "query", Type: "string", Description: "Text matching the memory to remove", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query := argString(args, "query")
			if query == "" {
				return "", fmt.Errorf("memory_remove: missing query")
			}
			matches, err := memories.Search(ctx, query, 1, "", true)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "", fmt.Errorf("no matching memory found")
			}
			if _, err := memories.Delete(ctx, matches[0].ID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Removed memory: %s", matches[0].Text), nil
		},
	})

	e.Register(Tool{
		Name:        "memory_search",
		Description: "Search stored memories",
		Args: []Arg{
			{Name: "query", Type: "string", Description: "What to look for", Required: true},
			{Name: "n", Type: "integer", Description: "Max results, default 5"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query := argString(args, "query")
			if query == "" {
				return "", fmt.Errorf("memory_search: missing query")
			}
			matches, err := memories.Search(ctx, query, argInt(args, "n", 5), "", true)
			if err != nil {
				return "", err
			}
			if len(matches) == 0 {
				return "No memories found.", nil
			}
			var b strings.Builder
			for i, m := range matches {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "- %s", m.Text)
			}
			return b.String(), nil
		},
	})

	e.Register(Tool{
		Name:        "calendar_create_event",
		Description: "Create a calendar event",
		Sensitive:   true,
		Args: []Arg{
			{Name: "title", Type: "string", Description: "Event title", Required: true},
			{Name: "start", Type: "string", Description: "Start date, YYYY-MM-DD", Required: true},
			{Name: "description", Type: "string", Description: "Optional details"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			title := argString(args, "title")
			if title == "" {
				return "", fmt.Errorf("calendar_create_event: missing title")
			}
			start := argString(args, "start")
			if start == "" {
				return "", fmt.Errorf("calendar_create_event: missing start")
			}
			id, err := dash.CreateEvent(ctx, start, title, argString(args, "description"), "event")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Created event #%d: %s on %s", id, title, start), nil
		},
	})

	e.Register(Tool{
		Name:        "calendar_list_events",
		Description: "List upcoming calendar events",
		Args: []Arg{
			{Name: "days_ahead", Type: "integer", Description: "Window in days, default 14"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			events, err := dash.ListEvents(ctx, 0, argInt(args, "days_ahead", 14))
			if err != nil {
				return "", err
			}
			if len(events) == 0 {
				return "No upcoming events.", nil
			}
			var b strings.Builder
			for i, ev := range events {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "- %s: %s", ev.Date, ev.Title)
			}
			return b.String(), nil
		},
	})

	e.Register(Tool{
		Name:        "reminder_create",
		Description: "Create a reminder",
		Sensitive:   true,
		Args: []Arg{
			{Name: "text", Type: "string", Description: "What to remind about", Required: true},
			{Name: "remind_at", Type: "string", Description: "When to fire, YYYY-MM-DD HH:MM", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := argChatID(args)
			if !ok {
				return "", fmt.Errorf("reminder_create: missing chat_id")
			}
			text := argString(args, "text")
			remindAt := argString(args, "remind_at")
			if text == "" || remindAt == "" {
				return "", fmt.Errorf("reminder_create: missing text or remind_at")
			}
			id, err := dash.CreateReminder(ctx, chatID, text, remindAt)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Reminder #%d set for %s", id, remindAt), nil
		},
	})

	e.Register(Tool{
		Name:        "reminder_cancel",
		Description: "Cancel a pending reminder",
		Sensitive:   true,
		Args: []Arg{
			{Name: "reminder_id", Type: "integer", Description: "Id of the reminder to cancel", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := argChatID(args)
			if !ok {
				return "", fmt.Errorf("reminder_cancel: missing chat_id")
			}
			id := int64(argInt(args, "reminder_id", 0))
			cancelled, err := dash.CancelReminder(ctx, chatID, id)
			if err != nil {
				return "", err
			}
			if !cancelled {
				return "", fmt.Errorf("reminder %d not found or not pending", id)
			}
			return fmt.Sprintf("Cancelled reminder #%d", id), nil
		},
	})

	e.Register(Tool{
		Name:        "todo_add",
		Description: "Add a todo item",
		Sensitive:   true,
		Args: []Arg{
			{Name: "content", Type: "string", Description: "The todo text", Required: true},
			{Name: "due_date", Type: "string", Description: "Optional due date, YYYY-MM-DD"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := argChatID(args)
			if !ok {
				return "", fmt.Errorf("todo_add: missing chat_id")
			}
			content := argString(args, "content")
			if content == "" {
				return "", fmt.Errorf("todo_add: missing content")
			}
			id, err := dash.AddTodo(ctx, chatID, content, argString(args, "due_date"))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Added todo #%d: %s", id, content), nil
		},
	})

	e.Register(Tool{
		Name:        "todo_complete",
		Description: "Mark a todo item done",
		Sensitive:   true,
		Args: []Arg{
			{Name: "todo_id", Type: "integer", Description: "Id of the todo to complete", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := argChatID(args)
			if !ok {
				return "", fmt.Errorf("todo_complete: missing chat_id")
			}
			id := int64(argInt(args, "todo_id", 0))
			todo, done, err := dash.CompleteTodo(ctx, chatID, id)
			if err != nil {
				return "", err
			}
			if !done {
				return "", fmt.Errorf("todo %d not found or not pending", id)
			}
			// Completed todos become calendar entries for the memory agent.
			if _, err := dash.CreateEvent(ctx, todayDate(), todo.Content, fmt.Sprintf("TODO #%d completed", id), "completed"); err != nil {
				return "", err
			}
			return fmt.Sprintf("Completed todo #%d: %s", id, todo.Content), nil
		},
	})

	e.Register(Tool{
		Name:        "todo_remove",
		Description: "Remove a todo item",
		Sensitive:   true,
		Args: []Arg{
			{Name: "todo_id", Type: "integer", Description: "Id of the todo to remove", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := argChatID(args)
			if !ok {
				return "", fmt.Errorf("todo_remove: missing chat_id")
			}
			id := int64(argInt(args, "todo_id", 0))
			removed, err := dash.RemoveTodo(ctx, chatID, id)
			if err != nil {
				return "", err
			}
			if !removed {
				return "", fmt.Errorf("todo %d not found", id)
			}
			return fmt.Sprintf("Removed todo #%d", id), nil
		},
	})

	e.Register(Tool{
		Name:        "wishlist_add",
		Description: "Add a wishlist item",
		Sensitive:   true,
		Args: []Arg{
			{Name: "content", Type: "string", Description: "The wishlist item", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := argChatID(args)
			if !ok {
				return "", fmt.Errorf("wishlist_add: missing chat_id")
			}
			content := argString(args, "content")
			if content == "" {
				return "", fmt.Errorf("wishlist_add: missing content")
			}
			id, err := dash.AddWishlistItem(ctx, chatID, content)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Added wishlist item #%d", id), nil
		},
	})

	e.Register(Tool{
		Name:        "wishlist_remove",
		Description: "Remove a wishlist item",
		Sensitive:   true,
		Args: []Arg{
			{Name: "item_id", Type: "integer", Description: "Id of the item to remove", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := argChatID(args)
			if !ok {
				return "", fmt.Errorf("wishlist_remove: missing chat_id")
			}
			id := int64(argInt(args, "item_id", 0))
			removed, err := dash.RemoveWishlistItem(ctx, chatID, id)
			if err != nil {
				return "", err
			}
			if !removed {
				return "", fmt.Errorf("wishlist item %d not found", id)
			}
			return fmt.Sprintf("Removed wishlist item #%d", id), nil
		},
	})
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func argInt(args map[string]any, key string, fallback int) int {
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

func argChatID(args map[string]any) (int64, bool) {
	switch v := args["chat_id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}
