package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
	_ "modernc.org/sqlite"
)

const dbDirMode = 0o700

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	id            TEXT PRIMARY KEY,
	tool_type     TEXT NOT NULL,
	ai_payload    TEXT NOT NULL,
	final_payload TEXT,
	status        TEXT NOT NULL,
	error_detail  TEXT NOT NULL DEFAULT '',
	external_ref  TEXT NOT NULL DEFAULT '',
	session_id    TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS drafts_status_idx ON drafts (status, created_at);
CREATE INDEX IF NOT EXISTS drafts_session_idx ON drafts (session_id);
`

const selectColumns = `id, tool_type, ai_payload, final_payload, status, error_detail, external_ref, session_id, created_at, updated_at`

// Repository is the default staging store. Status changes are conditional
// UPDATEs, which keeps the compare-and-set safe across processes sharing the
// database file.
type Repository struct {
	db *sql.DB
}

var _ ports.DraftRepository = (*Repository)(nil)

func Open(ctx context.Context, path string) (*Repository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dbDirMode); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Insert(ctx context.Context, draft domain.ActionDraft) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if draft.Status != domain.StatusPending {
		return fmt.Errorf("%w: new drafts must be %s, got %s", domain.ErrInvalidState, domain.StatusPending, draft.Status)
	}
	if err := draft.Validate(); err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = draft.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO drafts (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(draft.ID),
		string(draft.ToolType),
		string(draft.AIPayload),
		nullPayload(draft.FinalPayload),
		string(draft.Status),
		draft.ErrorDetail,
		draft.ExternalRef,
		draft.SessionID,
		draft.CreatedAt.UnixNano(),
		draft.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDraftExists, draft.ID)
		}
		return fmt.Errorf("insert draft: %w", err)
	}

	return nil
}

func (r *Repository) GetByID(ctx context.Context, id domain.DraftID) (domain.ActionDraft, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActionDraft{}, err
	}
	return getByID(ctx, r.db, id)
}

// List returns drafts ordered by created_at ascending, id as tiebreak.
func (r *Repository) List(ctx context.Context, filter domain.DraftFilter) ([]domain.ActionDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT ` + selectColumns + ` FROM drafts`
	args := make([]any, 0, len(filter.Statuses))
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	drafts := make([]domain.ActionDraft, 0)
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}

	return drafts, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id domain.DraftID, from, to domain.DraftStatus, update domain.StatusUpdate) (domain.ActionDraft, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActionDraft{}, err
	}
	if !domain.CanTransition(from, to) {
		return domain.ActionDraft{}, fmt.Errorf("%w: %s to %s", domain.ErrInvalidState, from, to)
	}

	at := update.At
	if at.IsZero() {
		at = time.Now()
	}

	return r.conditionalUpdate(ctx, id, from, `
		UPDATE drafts SET
			status = ?,
			error_detail = ?,
			final_payload = COALESCE(?, final_payload),
			external_ref = CASE WHEN ? = '' THEN external_ref ELSE ? END,
			updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(to),
		update.ErrorDetail,
		nullPayload(update.FinalPayload),
		update.ExternalRef, update.ExternalRef,
		at.UnixNano(),
		string(id), string(from),
	)
}

func (r *Repository) SetFinalPayload(ctx context.Context, id domain.DraftID, payload json.RawMessage) (domain.ActionDraft, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActionDraft{}, err
	}
	if len(payload) == 0 {
		return domain.ActionDraft{}, fmt.Errorf("%w: final payload is empty", domain.ErrInvalidPayload)
	}

	return r.conditionalUpdate(ctx, id, domain.StatusPending, `
		UPDATE drafts SET final_payload = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		string(payload),
		time.Now().UnixNano(),
		string(id), string(domain.StatusPending),
	)
}

// conditionalUpdate runs a status-guarded UPDATE and reads the row back in
// the same transaction.
func (r *Repository) conditionalUpdate(ctx context.Context, id domain.DraftID, expected domain.DraftStatus, query string, args ...any) (domain.ActionDraft, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActionDraft{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.ActionDraft{}, fmt.Errorf("update draft: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.ActionDraft{}, fmt.Errorf("update draft: %w", err)
	}

	draft, err := getByID(ctx, tx, id)
	if err != nil {
		return domain.ActionDraft{}, err
	}
	if affected == 0 {
		return domain.ActionDraft{}, fmt.Errorf("%w: draft %s is %s, expected %s", domain.ErrStatusConflict, id, draft.Status, expected)
	}

	if err := tx.Commit(); err != nil {
		return domain.ActionDraft{}, fmt.Errorf("commit transaction: %w", err)
	}
	return draft, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getByID(ctx context.Context, q queryer, id domain.DraftID) (domain.ActionDraft, error) {
	row := q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM drafts WHERE id = ?`, string(id))
	draft, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ActionDraft{}, fmt.Errorf("%w: %s", domain.ErrDraftNotFound, id)
		}
		return domain.ActionDraft{}, err
	}
	return draft, nil
}

func scanDraft(row scanner) (domain.ActionDraft, error) {
	var (
		draft                domain.ActionDraft
		id, toolType, status string
		aiPayload            string
		finalPayload         sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &toolType, &aiPayload, &finalPayload, &status,
		&draft.ErrorDetail, &draft.ExternalRef, &draft.SessionID, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ActionDraft{}, err
		}
		return domain.ActionDraft{}, fmt.Errorf("scan draft: %w", err)
	}

	draft.ID = domain.DraftID(id)
	draft.ToolType = domain.ToolType(toolType)
	draft.Status = domain.DraftStatus(status)
	draft.AIPayload = json.RawMessage(aiPayload)
	if finalPayload.Valid && finalPayload.String != "" {
		draft.FinalPayload = json.RawMessage(finalPayload.String)
	}
	draft.CreatedAt = time.Unix(0, createdAt).UTC()
	draft.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return draft, nil
}

func nullPayload(payload json.RawMessage) sql.NullString {
	if len(payload) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(payload), Valid: true}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
