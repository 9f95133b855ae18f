package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/ulid"
)

// Repository defines operations for the journal
type Repository interface {
	// Append stores a settled entry
	Append(ctx context.Context, entry *Entry) error

	// List returns entries newest first, optionally filtered by knowledge base
	List(ctx context.Context, knowledgeBaseID string, limit, offset int) ([]*Entry, error)

	// Latest returns the newest entry for a knowledge base, or nil
	Latest(ctx context.Context, knowledgeBaseID string) (*Entry, error)

	// Prune deletes entries completed before t and returns how many were removed
	Prune(ctx context.Context, before time.Time) (int64, error)
}

var columns = []string{
	"id", "operation_id", "operation", "knowledge_base_id", "resource_ids",
	"outcome", "error_kind", "error_message", "members_after", "started_at", "completed_at",
}

// SQLRepository implements Repository on the operations table
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// Append stores a settled entry
func (r *SQLRepository) Append(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = ulid.JournalID()
	}

	ids, err := json.Marshal(entry.ResourceIDs)
	if err != nil {
		return fmt.Errorf("marshaling resource ids: %w", err)
	}

	query, args, err := r.builder.Insert("operations").
		Columns(columns...).
		Values(
			entry.ID,
			entry.OperationID,
			entry.Operation,
			entry.KnowledgeBaseID,
			string(ids),
			entry.Outcome,
			entry.ErrorKind,
			entry.ErrorMessage,
			entry.MembersAfter,
			entry.StartedAt,
			entry.CompletedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building append query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing append query: %w", err)
	}
	return nil
}

// List returns entries newest first
func (r *SQLRepository) List(ctx context.Context, knowledgeBaseID string, limit, offset int) ([]*Entry, error) {
	q := r.builder.Select(columns...).
		From("operations").
		OrderBy("completed_at DESC", "id DESC")

	if knowledgeBaseID != "" {
		q = q.Where(sq.Eq{"knowledge_base_id": knowledgeBaseID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list query: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operation rows: %w", err)
	}
	return entries, nil
}

// Latest returns the newest entry for a knowledge base
func (r *SQLRepository) Latest(ctx context.Context, knowledgeBaseID string) (*Entry, error) {
	query, args, err := r.builder.Select(columns...).
		From("operations").
		Where(sq.Eq{"knowledge_base_id": knowledgeBaseID}).
		OrderBy("completed_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building latest query: %w", err)
	}

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// Prune deletes entries completed before t
func (r *SQLRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := r.builder.Delete("operations").
		Where(sq.Lt{"completed_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building prune query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("executing prune query: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading pruned row count: %w", err)
	}
	if n > 0 {
		r.logger.Debug("Pruned journal entries", "count", n, "before", before)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		entry Entry
		ids   string
	)
	err := s.Scan(
		&entry.ID,
		&entry.OperationID,
		&entry.Operation,
		&entry.KnowledgeBaseID,
		&ids,
		&entry.Outcome,
		&entry.ErrorKind,
		&entry.ErrorMessage,
		&entry.MembersAfter,
		&entry.StartedAt,
		&entry.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning operation row: %w", err)
	}
	if ids != "" {
		if err := json.Unmarshal([]byte(ids), &entry.ResourceIDs); err != nil {
			return nil, fmt.Errorf("decoding resource ids: %w", err)
		}
	}
	return &entry, nil
}
