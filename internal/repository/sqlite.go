package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/repository/migrations"
)

type sqliteRepo struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// NewSQLiteRepository opens (creating if needed) the database at path and applies migrations.
func NewSQLiteRepository(ctx context.Context, path string, log *slog.Logger) (DocumentJobRepository, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// WAL lets pollers read while a worker writes
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	r := &sqliteRepo{db: db, log: log, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("sqlite job store ready", "path", path)
	return r, nil
}

func (r *sqliteRepo) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := r.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	pending, err := pendingMigrations(migrations.SQLite, "sqlite", current)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if _, err := r.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("executing migration %s: %w", m.name, err)
		}
		if _, err := r.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("recording migration %s: %w", m.name, err)
		}
		r.log.Debug("applied migration", "name", m.name)
	}
	return nil
}

func (r *sqliteRepo) Create(ctx context.Context, filename, contentType, filePath string, status constants.JobStatus) (*entity.DocumentJob, error) {
	if err := validateCreate(filename, filePath, status); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	job := &entity.DocumentJob{
		ID:          uuid.New(),
		Filename:    filename,
		ContentType: contentType,
		FilePath:    filePath,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO document_jobs (id, filename, content_type, file_path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), filename, contentType, filePath, string(status), now.UnixNano(), now.UnixNano())
	if err != nil {
		r.log.Error("document_job create failed", "file_path", filePath, "error", err)
		return nil, common.PersistenceError("create document job", err)
	}
	r.log.Info("document_job created", "job_id", job.ID, "status", status)
	return job, nil
}

const openStatuses = "('pending', 'processing')"

func (r *sqliteRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE document_jobs SET status = 'processing', updated_at = ? WHERE id = ? AND status IN "+openStatuses,
		r.now().UTC().UnixNano(), id.String())
	return r.checkTransition(ctx, id, res, err)
}

func (r *sqliteRepo) MarkProcessed(ctx context.Context, id uuid.UUID, text string) error {
	now := r.now().UTC().UnixNano()
	res, err := r.db.ExecContext(ctx, `
		UPDATE document_jobs
		SET status = 'processed', processed_text = ?, error = NULL, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		text, now, now, id.String())
	if err := r.checkTransition(ctx, id, res, err); err != nil {
		return err
	}
	r.log.Info("document_job processed", "job_id", id, "text_len", len(text))
	return nil
}

func (r *sqliteRepo) MarkError(ctx context.Context, id uuid.UUID, reason string) error {
	now := r.now().UTC().UnixNano()
	res, err := r.db.ExecContext(ctx, `
		UPDATE document_jobs
		SET status = 'error', error = ?, processed_text = NULL, processed_at = ?, updated_at = ?
		WHERE id = ? AND status IN `+openStatuses,
		reason, now, now, id.String())
	if err := r.checkTransition(ctx, id, res, err); err != nil {
		return err
	}
	r.log.Warn("document_job failed", "job_id", id, "error", reason)
	return nil
}

// checkTransition turns a guarded UPDATE that matched no row into ErrNotFound or ErrTerminalState.
func (r *sqliteRepo) checkTransition(ctx context.Context, id uuid.UUID, res sql.Result, err error) error {
	if err != nil {
		return common.PersistenceError("update document job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return common.PersistenceError("update document job", err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = r.db.QueryRowContext(ctx, "SELECT status FROM document_jobs WHERE id = ?", id.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return transitionError(id, "", false)
	}
	if err != nil {
		return common.PersistenceError("read document job", err)
	}
	return transitionError(id, constants.JobStatus(status), true)
}

const selectColumns = "id, filename, content_type, file_path, status, processed_text, error, processed_at, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*entity.DocumentJob, error) {
	var (
		id, status           string
		text, errMsg         sql.NullString
		processedAt          sql.NullInt64
		createdAt, updatedAt int64
		job                  entity.DocumentJob
	)
	if err := row.Scan(&id, &job.Filename, &job.ContentType, &job.FilePath, &status, &text, &errMsg, &processedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", id, err)
	}
	job.ID = parsed
	job.Status = constants.JobStatus(status)
	if text.Valid {
		job.ProcessedText = &text.String
	}
	if errMsg.Valid {
		job.Error = &errMsg.String
	}
	if processedAt.Valid {
		t := time.Unix(0, processedAt.Int64).UTC()
		job.ProcessedAt = &t
	}
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &job, nil
}

func (r *sqliteRepo) Get(ctx context.Context, id uuid.UUID) (*entity.DocumentJob, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM document_jobs WHERE id = ?", id.String())
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transitionError(id, "", false)
	}
	if err != nil {
		return nil, common.PersistenceError("get document job", err)
	}
	return job, nil
}

func (r *sqliteRepo) List(ctx context.Context, filter ListFilter) ([]*entity.DocumentJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	q := "SELECT " + selectColumns + " FROM document_jobs"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, common.PersistenceError("list document jobs", err)
	}
	defer rows.Close()

	var out []*entity.DocumentJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, common.PersistenceError("scan document job", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, common.PersistenceError("list document jobs", err)
	}
	return out, nil
}

func (r *sqliteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *sqliteRepo) Close() error {
	return r.db.Close()
}
