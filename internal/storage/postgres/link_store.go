// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/link-validator/internal/links"
)

const selectColumns = `id::text, url, project_id::text, name, status, last_checked, created_at, updated_at`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// LinkStore persists links in the external_links table.
type LinkStore struct {
	pool pool
}

// NewLinkStore connects a pgx pool using cfg.
func NewLinkStore(ctx context.Context, cfg Config) (*LinkStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LinkStore{pool: p}, nil
}

// NewLinkStoreWithPool wraps an existing pool (primarily for testing).
func NewLinkStoreWithPool(p pool) (*LinkStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LinkStore{pool: p}, nil
}

// Close releases the pool.
func (s *LinkStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping checks connectivity.
func (s *LinkStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Create inserts a link row.
func (s *LinkStore) Create(ctx context.Context, link links.Link) error {
	const query = `
INSERT INTO external_links (id, url, project_id, name, status, last_checked, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		link.ID,
		link.URL,
		link.ProjectID,
		link.Name,
		string(link.Status),
		link.LastChecked,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// Get loads a link by id.
func (s *LinkStore) Get(ctx context.Context, id string) (links.Link, error) {
	if !validID(id) {
		return links.Link{}, links.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM external_links WHERE id = $1`, id)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return links.Link{}, links.ErrNotFound
		}
		return links.Link{}, fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

// Update overwrites the mutable columns of a link.
func (s *LinkStore) Update(ctx context.Context, link links.Link) error {
	if !validID(link.ID) {
		return links.ErrNotFound
	}
	const query = `
UPDATE external_links
SET url = $2, project_id = $3, name = $4, status = $5, updated_at = $6
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		link.ID,
		link.URL,
		link.ProjectID,
		link.Name,
		string(link.Status),
		link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return links.ErrNotFound
	}
	return nil
}

// UpdateMetadata writes the caller-owned columns only, so a probe result
// landing in between is kept.
func (s *LinkStore) UpdateMetadata(ctx context.Context, link links.Link) error {
	if !validID(link.ID) {
		return links.ErrNotFound
	}
	const query = `
UPDATE external_links
SET project_id = $2, name = $3, updated_at = $4
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, link.ID, link.ProjectID, link.Name, link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update link metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return links.ErrNotFound
	}
	return nil
}

// RecordOutcome writes the probe result columns only.
func (s *LinkStore) RecordOutcome(ctx context.Context, id string, outcome links.Outcome) error {
	if !validID(id) {
		return links.ErrNotFound
	}
	const query = `
UPDATE external_links
SET status = $2, last_checked = $3, updated_at = $3
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(outcome.Status), outcome.CheckedAt)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return links.ErrNotFound
	}
	return nil
}

// Delete removes a link row.
func (s *LinkStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return links.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM external_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return links.ErrNotFound
	}
	return nil
}

// DeleteAll truncates the table contents.
func (s *LinkStore) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM external_links`)
	if err != nil {
		return 0, fmt.Errorf("delete all links: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns links matching filter, oldest first.
func (s *LinkStore) List(ctx context.Context, filter links.ListFilter) ([]links.Link, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ProjectID != "" {
		if !validID(filter.ProjectID) {
			return []links.Link{}, nil
		}
		args = append(args, filter.ProjectID)
		clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + selectColumns + ` FROM external_links`)
	if len(clauses) > 0 {
		b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY created_at, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return s.queryLinks(ctx, b.String(), args...)
}

// CountByStatus groups rows by status.
func (s *LinkStore) CountByStatus(ctx context.Context) (links.Counts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM external_links GROUP BY status`)
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
	query := `SELECT ` + selectColumns + ` FROM external_links
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at
LIMIT $3`
	return s.queryLinks(ctx, query, string(links.StatusPending), before, limit)
}

func (s *LinkStore) queryLinks(ctx context.Context, query string, args ...any) ([]links.Link, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func scanLink(row pgx.Row) (links.Link, error) {
	var (
		link   links.Link
		status string
	)
	if err := row.Scan(
		&link.ID,
		&link.URL,
		&link.ProjectID,
		&link.Name,
		&status,
		&link.LastChecked,
		&link.CreatedAt,
		&link.UpdatedAt,
	); err != nil {
		return links.Link{}, err //nolint:wrapcheck // callers wrap with operation context
	}
	parsed, err := links.ParseStatus(status)
	if err != nil {
		return links.Link{}, err
	}
	link.Status = parsed
	return link, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
