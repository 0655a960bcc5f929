package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const approvalTTL = 24 * time.Hour

// Store persists approvals, proposals, the audit log and the
// conversation log in one sqlite database. Every state transition is a
// conditional UPDATE on the current status, so concurrent resolvers
// race safely and exactly one wins.
type Store struct {
	db *sql.DB
	mu sync.Mutex
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
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			tool_args TEXT NOT NULL DEFAULT '{}',
			preview TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			original_message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status)`,
		`CREATE TABLE IF NOT EXISTS proposals (
			id TEXT PRIMARY KEY,
			action_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			resolved_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			proposal_id TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
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

// --- Approvals ---

func (s *Store) CreateApproval(ctx context.Context, chatID int64, toolName string, toolArgs map[string]any, preview, originalMessage string) (string, error) {
	if toolArgs == nil {
		toolArgs = map[string]any{}
	}
	argsJSON, err := json.Marshal(toolArgs)
	if err != nil {
		return "", fmt.Errorf("create approval: marshal args: %w", err)
	}

	id := uuid.NewString()[:8]
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO approvals
		(id, chat_id, tool_name, tool_args, preview, status, original_message, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`,
		id, chatID, toolName, string(argsJSON), preview, originalMessage, nowUTC())
	if err != nil {
		return "", fmt.Errorf("create approval: %w", err)
	}
	return id, nil
}

// GetApproval looks an approval up case-insensitively, tolerating a
// human typing the id back in either case.
func (s *Store) GetApproval(ctx context.Context, id string) (Approval, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, chat_id, tool_name, tool_args, preview, status, original_message, created_at
		FROM approvals WHERE LOWER(id) = LOWER(?)`, strings.TrimSpace(id))

	var a Approval
	var argsJSON, status, createdAt string
	err := row.Scan(&a.ID, &a.ChatID, &a.ToolName, &argsJSON, &a.Preview, &status, &a.OriginalMessage, &createdAt)
	if err == sql.ErrNoRows {
		return Approval{}, false, nil
	}
	if err != nil {
		return Approval{}, false, fmt.Errorf("get approval: %w", err)
	}
	if err := json.Unmarshal([]byte(argsJSON), &a.ToolArgs); err != nil {
		return Approval{}, false, fmt.Errorf("get approval %s: decode args: %w", a.ID, err)
	}
	a.Status = Status(status)
	a.CreatedAt = parseTime(createdAt)
	return a, true, nil
}

// ListPendingApprovals sweeps expired records first, then returns what
// is still pending for one chat, newest first. Chat ids can be
// negative (Telegram groups), so the filter is an exact match.
func (s *Store) ListPendingApprovals(ctx context.Context, chatID int64) ([]Approval, error) {
	return s.listPending(ctx, ` AND chat_id = ?`, chatID)
}

// ListAllPendingApprovals spans every chat, for admin listings and the
// background agents.
func (s *Store) ListAllPendingApprovals(ctx context.Context) ([]Approval, error) {
	return s.listPending(ctx, ``)
}

func (s *Store) listPending(ctx context.Context, filter string, args ...any) ([]Approval, error) {
	if err := s.expireStale(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, chat_id, tool_name, tool_args, preview, status, original_message, created_at
		FROM approvals WHERE status = 'pending'` + filter + ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []Approval
	for rows.Next() {
		var a Approval
		var argsJSON, status, createdAt string
		if err := rows.Scan(&a.ID, &a.ChatID, &a.ToolName, &argsJSON, &a.Preview, &status, &a.OriginalMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("list approvals: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &a.ToolArgs); err != nil {
			return nil, fmt.Errorf("list approvals: decode args for %s: %w", a.ID, err)
		}
		a.Status = Status(status)
		a.CreatedAt = parseTime(createdAt)
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return approvals, nil
}

func (s *Store) expireStale(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-approvalTTL).Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `UPDATE approvals SET status = 'expired'
		WHERE status = 'pending' AND created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("expire approvals: %w", err)
	}
	return nil
}

// MarkApproval flips an approval from one status to another. The
// conditional WHERE makes it a compare-and-swap: false means another
// caller already won or the record is gone.
func (s *Store) MarkApproval(ctx context.Context, id string, from, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE approvals SET status = ?
		WHERE LOWER(id) = LOWER(?) AND status = ?`,
		string(to), strings.TrimSpace(id), string(from))
	if err != nil {
		return false, fmt.Errorf("mark approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark approval: %w", err)
	}
	return affected > 0, nil
}

// --- Proposals ---

func (s *Store) CreateProposal(ctx context.Context, action ActionType, payload any, reason string) (string, error) {
	if !action.Valid() {
		return "", fmt.Errorf("create proposal: unknown action type %q", action)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("create proposal: marshal payload: %w", err)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO proposals
		(id, action_type, payload, reason, status, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?)`,
		id, string(action), string(payloadJSON), reason, nowUTC())
	if err != nil {
		return "", fmt.Errorf("create proposal: %w", err)
	}
	return id, nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (Proposal, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, action_type, payload, reason, status, created_at, COALESCE(resolved_at, '')
		FROM proposals WHERE LOWER(id) = LOWER(?)`, strings.TrimSpace(id))
	return scanProposal(row)
}

// ListPendingProposals returns pending proposals oldest first, so a
// reviewer works through them in the order agents raised them.
func (s *Store) ListPendingProposals(ctx context.Context) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, action_type, payload, reason, status, created_at, COALESCE(resolved_at, '')
		FROM proposals WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []Proposal
	for rows.Next() {
		p, _, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("list proposals: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return proposals, nil
}

// ResolveProposal moves a pending proposal to approved or rejected.
// Returns false when the proposal is missing or already resolved.
func (s *Store) ResolveProposal(ctx context.Context, id string, status Status) (bool, error) {
	if status != StatusApproved && status != StatusRejected {
		return false, fmt.Errorf("resolve proposal: invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE proposals SET status = ?, resolved_at = ?
		WHERE LOWER(id) = LOWER(?) AND status = 'pending'`,
		string(status), nowUTC(), strings.TrimSpace(id))
	if err != nil {
		return false, fmt.Errorf("resolve proposal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve proposal: %w", err)
	}
	return affected > 0, nil
}

// MarkProposalCommitted consumes an approved proposal after its side
// effect ran, so a second commit of the same id fails the approved
// precondition instead of re-executing.
func (s *Store) MarkProposalCommitted(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE proposals SET status = 'committed'
		WHERE LOWER(id) = LOWER(?) AND status = 'approved'`, strings.TrimSpace(id))
	if err != nil {
		return false, fmt.Errorf("mark proposal committed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark proposal committed: %w", err)
	}
	return affected > 0, nil
}

// HasPendingProposal reports whether a pending proposal of the given
// action type carries the needle in its payload. Agents use this to
// avoid re-proposing the same change.
func (s *Store) HasPendingProposal(ctx context.Context, action ActionType, needle string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM proposals
		WHERE status = 'pending' AND action_type = ? AND payload LIKE ?`,
		string(action), "%"+needle+"%")
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("has pending proposal: %w", err)
	}
	return count > 0, nil
}

// --- Audit log ---

func (s *Store) AppendAudit(ctx context.Context, proposalID, action, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (proposal_id, action, details, created_at)
		VALUES (?, ?, ?, ?)`, proposalID, action, details, nowUTC())
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT proposal_id, action, details, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ProposalID, &e.Action, &e.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return entries, nil
}

// --- Conversation log ---

func (s *Store) AddMessage(ctx context.Context, chatID int64, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`, chatID, role, content, nowUTC())
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, chatID int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT role, content FROM messages
		WHERE chat_id = ? ORDER BY id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("recent messages: %w", err)
		}
		lines = append(lines, role+": "+content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	// Reverse to chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

func scanProposal(row rowScanner) (Proposal, bool, error) {
	var p Proposal
	var action, payload, status, createdAt, resolvedAt string
	err := row.Scan(&p.ID, &action, &payload, &p.Reason, &status, &createdAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return Proposal{}, false, nil
	}
	if err != nil {
		return Proposal{}, false, fmt.Errorf("scan proposal: %w", err)
	}
	p.ActionType = ActionType(action)
	p.Payload = json.RawMessage(payload)
	p.Status = Status(status)
	p.CreatedAt = parseTime(createdAt)
	if resolvedAt != "" {
		p.ResolvedAt = parseTime(resolvedAt)
	}
	return p, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}
