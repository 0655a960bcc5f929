package dashboard

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store holds the relational entity records around the assistant:
// contacts, circles and their memberships, calendar events, recurring
// templates and the user-action preference log.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

type Contact struct {
	ID    int64
	Name  string
	Email string
	Phone string
	Notes string
}

type Circle struct {
	ID          int64
	Name        string
	Description string
}

type Event struct {
	ID          int64
	Date        string
	Title       string
	Description string
	EventType   string
}

type Template struct {
	ID          int64
	Title       string
	Description string
	Recurrence  string
	AnchorDate  string
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initListSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS circles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS circle_members (
			circle_id INTEGER NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			PRIMARY KEY (circle_id, entity_type, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL DEFAULT 'event',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_date ON events(date)`,
		`CREATE TABLE IF NOT EXISTS scheduled_templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			recurrence TEXT NOT NULL,
			anchor_date TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			event_id INTEGER,
			proposal_id TEXT,
			title TEXT,
			event_date TEXT,
			source TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_actions_action ON user_actions(action)`,
		`CREATE INDEX IF NOT EXISTS idx_user_actions_created ON user_actions(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Contacts ---

func (s *Store) InsertContact(ctx context.Context, name, email, phone, notes string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO contacts (name, email, phone, notes)
		VALUES (?, ?, ?, ?)`, name, email, phone, notes)
	if err != nil {
		return 0, fmt.Errorf("insert contact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert contact: %w", err)
	}
	return id, nil
}

func (s *Store) ContactIDByEmail(ctx context.Context, email string) (int64, bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return 0, false, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT id FROM contacts WHERE LOWER(TRIM(email)) = ?`, normalized)
	var id int64
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("contact by email: %w", err)
	}
	return id, true, nil
}

func (s *Store) ContactExistsByName(ctx context.Context, name string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM contacts WHERE TRIM(LOWER(name)) = TRIM(LOWER(?))`, name)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("contact by name: %w", err)
	}
	return true, nil
}

func (s *Store) ListContacts(ctx context.Context, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, phone, notes
		FROM contacts ORDER BY name LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes); err != nil {
			return nil, fmt.Errorf("list contacts: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

// --- Circles ---

func (s *Store) GetOrCreateCircle(ctx context.Context, name, description string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM circles WHERE name = ?`, name)
	var id int64
	err := row.Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("get circle: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO circles (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return 0, fmt.Errorf("create circle: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create circle: %w", err)
	}
	return id, nil
}

func (s *Store) IsCircleMember(ctx context.Context, circleID int64, entityType, entityID string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM circle_members
		WHERE circle_id = ? AND entity_type = ? AND entity_id = ?`, circleID, entityType, entityID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("circle member: %w", err)
	}
	return true, nil
}

// AddCircleMember is idempotent: adding an existing member is a no-op.
func (s *Store) AddCircleMember(ctx context.Context, circleID int64, entityType, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO circle_members (circle_id, entity_type, entity_id)
		VALUES (?, ?, ?)`, circleID, entityType, entityID)
	if err != nil {
		return fmt.Errorf("add circle member: %w", err)
	}
	return nil
}

// --- Events ---

func (s *Store) CreateEvent(ctx context.Context, date, title, description, eventType string) (int64, error) {
	if eventType == "" {
		eventType = "event"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO events (date, title, description, event_type)
		VALUES (?, ?, ?, ?)`, date, title, description, eventType)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return id, nil
}

// ListEvents returns events between daysBack days ago and daysAhead
// days from now, ordered by date then title.
func (s *Store) ListEvents(ctx context.Context, daysBack, daysAhead int) ([]Event, error) {
	today := time.Now()
	from := today.AddDate(0, 0, -daysBack).Format("2006-01-02")
	to := today.AddDate(0, 0, daysAhead).Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx, `SELECT id, date, title, description, event_type
		FROM events WHERE date >= ? AND date <= ? ORDER BY date, title`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Date, &e.Title, &e.Description, &e.EventType); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// EventExists reports whether an event with the same or similar
// normalized title already sits on the given date.
func (s *Store) EventExists(ctx context.Context, title, date string) (bool, error) {
	norm := normalizeTitle(title)
	if norm == "" {
		return false, nil
	}
	day := truncate(date, 10)

	rows, err := s.db.QueryContext(ctx, `SELECT title FROM events WHERE date >= ? AND date <= ?`, day, day)
	if err != nil {
		return false, fmt.Errorf("event exists: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var existing string
		if err := rows.Scan(&existing); err != nil {
			return false, fmt.Errorf("event exists: %w", err)
		}
		en := normalizeTitle(existing)
		if en == "" {
			continue
		}
		if en == norm || strings.Contains(en, norm) || strings.Contains(norm, en) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("event exists: %w", err)
	}
	return false, nil
}

// --- Scheduled templates ---

func (s *Store) AddTemplate(ctx context.Context, title, description, recurrence, anchorDate string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_templates (title, description, recurrence, anchor_date)
		VALUES (?, ?, ?, ?)`, title, description, recurrence, anchorDate)
	if err != nil {
		return 0, fmt.Errorf("add template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add template: %w", err)
	}
	return id, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, description, recurrence, anchor_date
		FROM scheduled_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Recurrence, &t.AnchorDate); err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// UpdateTemplateAnchor advances a template past a fired period so it
// is not re-triggered for the same date.
func (s *Store) UpdateTemplateAnchor(ctx context.Context, id int64, anchorDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_templates SET anchor_date = ? WHERE id = ?`, anchorDate, id)
	if err != nil {
		return fmt.Errorf("update template anchor: %w", err)
	}
	return nil
}

// normalizeTitle lowercases, trims and collapses whitespace for
// duplicate matching, capped at 80 chars.
func normalizeTitle(title string) string {
	return truncate(strings.Join(strings.Fields(strings.ToLower(title)), " "), 80)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
