// Package sqlite provides a single-file Link Store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/link-validator/internal/links"
)

const selectColumns = `id, url, project_id, name, status, last_checked, created_at, updated_at`

// LinkStore persists links in a SQLite database.
type LinkStore struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*LinkStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &LinkStore{db: db, path: path}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *LinkStore) Path() string { return s.path }

// Close closes the database handle.
func (s *LinkStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *LinkStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Create inserts a link row.
func (s *LinkStore) Create(ctx context.Context, link links.Link) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO external_links (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID,
		link.URL,
		nullableString(link.ProjectID),
		nullableString(link.Name),
		string(link.Status),
		nullableTime(link.LastChecked),
		formatTime(link.CreatedAt),
		formatTime(link.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// Get loads a link by id.
func (s *LinkStore) Get(ctx context.Context, id string) (links.Link, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM external_links WHERE id = ?`, id)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return links.Link{}, links.ErrNotFound
		}
		return links.Link{}, fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

// Update overwrites the mutable columns of a link.
func (s *LinkStore) Update(ctx context.Context, link links.Link) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE external_links SET url = ?, project_id = ?, name = ?, status = ?, updated_at = ? WHERE id = ?`,
		link.URL,
		nullableString(link.ProjectID),
		nullableString(link.Name),
		string(link.Status),
		formatTime(link.UpdatedAt),
		link.ID,
	)
	if err != nil {
		return fmt.Errorf("update link: %w", err)
	}
	return requireRow(res)
}

// UpdateMetadata writes project, name and updated_at only.
func (s *LinkStore) UpdateMetadata(ctx context.Context, link links.Link) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE external_links SET project_id = ?, name = ?, updated_at = ? WHERE id = ?`,
		nullableString(link.ProjectID),
		nullableString(link.Name),
		formatTime(link.UpdatedAt),
		link.ID,
	)
	if err != nil {
		return fmt.Errorf("update link metadata: %w", err)
	}
	return requireRow(res)
}

// RecordOutcome writes the probe result columns only.
func (s *LinkStore) RecordOutcome(ctx context.Context, id string, outcome links.Outcome) error {
	checked := formatTime(outcome.CheckedAt)
	res, err := s.db.ExecContext(ctx,
		`UPDATE external_links SET status = ?, last_checked = ?, updated_at = ? WHERE id = ?`,
		string(outcome.Status), checked, checked, id,
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return requireRow(res)
}

// Delete removes a link row.
func (s *LinkStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM external_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return requireRow(res)
}

// DeleteAll removes every row.
func (s *LinkStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM external_links`)
	if err != nil {
		return 0, fmt.Errorf("delete all links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// List returns links matching filter, oldest first.
func (s *LinkStore) List(ctx context.Context, filter links.ListFilter) ([]links.Link, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	query := `SELECT ` + selectColumns + ` FROM external_links`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}
	return s.queryLinks(ctx, query, args...)
}

// CountByStatus groups rows by status.
func (s *LinkStore) CountByStatus(ctx context.Context) (links.Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM external_links GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}
	defer rows.Close()

	counts := links.Counts{}
	for _, st := range links.Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[links.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// ListStalePending returns PENDING rows whose updated_at precedes before.
func (s *LinkStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]links.Link, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryLinks(ctx,
		`SELECT `+selectColumns+` FROM external_links WHERE status = ? AND updated_at < ? ORDER BY updated_at LIMIT ?`,
		string(links.StatusPending), formatTime(before), limit,
	)
}

func (s *LinkStore) queryLinks(ctx context.Context, query string, args ...any) ([]links.Link, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	out := []links.Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (links.Link, error) {
	var (
		link                 links.Link
		projectID, name      sql.NullString
		status               string
		lastChecked          sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&link.ID, &link.URL, &projectID, &name, &status, &lastChecked, &createdAt, &updatedAt); err != nil {
		return links.Link{}, err //nolint:wrapcheck // callers wrap with operation context
	}
	parsed, err := links.ParseStatus(status)
	if err != nil {
		return links.Link{}, err
	}
	link.Status = parsed
	if projectID.Valid {
		link.ProjectID = &projectID.String
	}
	if name.Valid {
		link.Name = &name.String
	}
	if lastChecked.Valid {
		t, err := parseTime(lastChecked.String)
		if err != nil {
			return links.Link{}, err
		}
		link.LastChecked = &t
	}
	if link.CreatedAt, err = parseTime(createdAt); err != nil {
		return links.Link{}, err
	}
	if link.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return links.Link{}, err
	}
	return link, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return links.ErrNotFound
	}
	return nil
}

// Timestamps are stored as fixed-width RFC3339 text so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
