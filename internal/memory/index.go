package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex keeps records and their embedding vectors in a single
// sqlite table and ranks queries by cosine distance in process.
type SQLiteIndex struct {
	db       *sql.DB
	embedder Embedder
	mu       sync.Mutex
}

func NewSQLiteIndex(dbPath string, embedder Embedder) (*SQLiteIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("memory index: nil embedder")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	idx := &SQLiteIndex{db: db, embedder: embedder}
	if err := idx.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) configure() error {
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

func (s *SQLiteIndex) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_index (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			weight INTEGER NOT NULL DEFAULT 5,
			mem_type TEXT NOT NULL DEFAULT 'long',
			source TEXT NOT NULL DEFAULT '',
			last_touched TEXT NOT NULL DEFAULT '',
			embedding BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_type ON memory_index(mem_type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteIndex) Add(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("index add: empty id")
	}
	if rec.Text == "" {
		return fmt.Errorf("index add: empty text")
	}

	vec, err := s.embedder.Embed(ctx, rec.Text)
	if err != nil {
		return fmt.Errorf("index add: %w", err)
	}
	blob, err := encodeVector(vec)
	if err != nil {
		return fmt.Errorf("index add: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO memory_index
		(id, text, weight, mem_type, source, last_touched, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Text, clampWeight(rec.Weight), string(normalizeType(rec.Type)),
		rec.Source, formatTouched(rec.LastTouched), blob)
	if err != nil {
		return fmt.Errorf("index add: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Query(ctx context.Context, text string, n int, filter Type) ([]Match, error) {
	if n <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}

	query := `SELECT id, text, weight, mem_type, source, last_touched, embedding FROM memory_index`
	args := []any{}
	if filter != "" {
		query += ` WHERE mem_type = ?`
		args = append(args, string(filter))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		rec, blob, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("index query: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("index query: record %s: %w", rec.ID, err)
		}
		sim, err := cosineSimilarity(queryVec, vec)
		if err != nil {
			return nil, fmt.Errorf("index query: record %s: %w", rec.ID, err)
		}
		matches = append(matches, Match{Record: rec, Distance: 1 - sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

func (s *SQLiteIndex) Get(ctx context.Context, id string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, text, weight, mem_type, source, last_touched, embedding
		FROM memory_index WHERE id = ?`, id)
	rec, _, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("index get: %w", err)
	}
	return rec, true, nil
}

func (s *SQLiteIndex) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, weight, mem_type, source, last_touched, embedding
		FROM memory_index ORDER BY last_touched DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("index list: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, _, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("index list: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index list: %w", err)
	}
	return records, nil
}

// UpdateMeta rewrites weight, type and last_touched without re-embedding.
func (s *SQLiteIndex) UpdateMeta(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE memory_index
		SET weight = ?, mem_type = ?, last_touched = ? WHERE id = ?`,
		clampWeight(rec.Weight), string(normalizeType(rec.Type)), formatTouched(rec.LastTouched), rec.ID)
	if err != nil {
		return fmt.Errorf("index update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("index update: record %s not found", rec.ID)
	}
	return nil
}

func (s *SQLiteIndex) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_index WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index delete: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, []byte, error) {
	var rec Record
	var memType, touched string
	var blob []byte
	if err := row.Scan(&rec.ID, &rec.Text, &rec.Weight, &memType, &rec.Source, &touched, &blob); err != nil {
		return Record{}, nil, err
	}
	rec.Type = Type(memType)
	if touched != "" {
		if ts, err := time.Parse(time.RFC3339, touched); err == nil {
			rec.LastTouched = ts
		}
	}
	return rec, blob, nil
}

func formatTouched(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
