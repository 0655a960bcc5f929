package dashboard

import (
	"context"
	"fmt"
)

type Reminder struct {
	ID       int64
	ChatID   int64
	Text     string
	RemindAt string
	Status   string
}

type Todo struct {
	ID      int64
	ChatID  int64
	Content string
	Status  string
	DueDate string
}

type WishlistItem struct {
	ID      int64
	ChatID  int64
	Content string
}

func (s *Store) initListSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			remind_at TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS todos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			due_date TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS wishlist (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init list schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateReminder(ctx context.Context, chatID int64, text, remindAt string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO reminders (chat_id, text, remind_at)
		VALUES (?, ?, ?)`, chatID, text, remindAt)
	if err != nil {
		return 0, fmt.Errorf("create reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create reminder: %w", err)
	}
	return id, nil
}

// CancelReminder cancels a pending reminder owned by the chat.
func (s *Store) CancelReminder(ctx context.Context, chatID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET status = 'cancelled'
		WHERE id = ? AND chat_id = ? AND status = 'pending'`, id, chatID)
	if err != nil {
		return false, fmt.Errorf("cancel reminder: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel reminder: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) AddTodo(ctx context.Context, chatID int64, content, dueDate string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO todos (chat_id, content, due_date)
		VALUES (?, ?, ?)`, chatID, content, dueDate)
	if err != nil {
		return 0, fmt.Errorf("add todo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add todo: %w", err)
	}
	return id, nil
}

func (s *Store) CompleteTodo(ctx context.Context, chatID, id int64) (Todo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE todos SET status = 'done'
		WHERE id = ? AND chat_id = ? AND status = 'pending'`, id, chatID)
	if err != nil {
		return Todo{}, false, fmt.Errorf("complete todo: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Todo{}, false, fmt.Errorf("complete todo: %w", err)
	}
	if affected == 0 {
		return Todo{}, false, nil
	}

	var t Todo
	row := s.db.QueryRowContext(ctx, `SELECT id, chat_id, content, status, COALESCE(due_date, '')
		FROM todos WHERE id = ?`, id)
	if err := row.Scan(&t.ID, &t.ChatID, &t.Content, &t.Status, &t.DueDate); err != nil {
		return Todo{}, false, fmt.Errorf("complete todo: %w", err)
	}
	return t, true, nil
}

func (s *Store) RemoveTodo(ctx context.Context, chatID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, fmt.Errorf("remove todo: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove todo: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) ListTodos(ctx context.Context, chatID int64) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, content, status, COALESCE(due_date, '')
		FROM todos WHERE chat_id = ? AND status = 'pending' ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	var todos []Todo
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Content, &t.Status, &t.DueDate); err != nil {
			return nil, fmt.Errorf("list todos: %w", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return todos, nil
}

func (s *Store) AddWishlistItem(ctx context.Context, chatID int64, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO wishlist (chat_id, content) VALUES (?, ?)`, chatID, content)
	if err != nil {
		return 0, fmt.Errorf("add wishlist item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add wishlist item: %w", err)
	}
	return id, nil
}

func (s *Store) RemoveWishlistItem(ctx context.Context, chatID, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM wishlist WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, fmt.Errorf("remove wishlist item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove wishlist item: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) ListWishlist(ctx context.Context, chatID int64, limit int) ([]WishlistItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, chat_id, content FROM wishlist
		WHERE chat_id = ? ORDER BY id LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	defer rows.Close()

	var items []WishlistItem
	for rows.Next() {
		var w WishlistItem
		if err := rows.Scan(&w.ID, &w.ChatID, &w.Content); err != nil {
			return nil, fmt.Errorf("list wishlist: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	return items, nil
}
