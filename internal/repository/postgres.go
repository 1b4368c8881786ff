package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/repository/migrations"
)

type documentJobRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewDocumentJobRepository returns the Postgres-backed store. The schema is migrated on construction.
func NewDocumentJobRepository(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) (DocumentJobRepository, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &documentJobRepo{pool: pool, log: log}
	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

func (r *documentJobRepo) migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := r.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	pending, err := pendingMigrations(migrations.Postgres, "postgres", current)
	if err != nil {
		return err
	}
	for _, m := range pending {
		err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("executing migration %s: %w", m.name, err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
				return fmt.Errorf("recording migration %s: %w", m.name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		r.log.Info("applied migration", "name", m.name)
	}
	return nil
}

func (r *documentJobRepo) Create(ctx context.Context, filename, contentType, filePath string, status constants.JobStatus) (*entity.DocumentJob, error) {
	if err := validateCreate(filename, filePath, status); err != nil {
		return nil, err
	}
	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO document_jobs (id, filename, content_type, file_path, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+selectColumns,
		id, filename, contentType, filePath, string(status))
	job, err := scanPgJob(row)
	if err != nil {
		r.log.Error("document_job create failed", "file_path", filePath, "error", err)
		return nil, common.PersistenceError("create document job", err)
	}
	r.log.Info("document_job created", "job_id", job.ID, "status", status)
	return job, nil
}

func (r *documentJobRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE document_jobs SET status = 'processing', updated_at = now() WHERE id = $1 AND status IN "+openStatuses,
		id)
	return r.checkTransition(ctx, id, tag, err)
}

func (r *documentJobRepo) MarkProcessed(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE document_jobs
		SET status = 'processed', processed_text = $2, error = NULL, processed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, text)
	if err := r.checkTransition(ctx, id, tag, err); err != nil {
		return err
	}
	r.log.Info("document_job processed", "job_id", id, "text_len", len(text))
	return nil
}

func (r *documentJobRepo) MarkError(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE document_jobs
		SET status = 'error', error = $2, processed_text = NULL, processed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN `+openStatuses,
		id, reason)
	if err := r.checkTransition(ctx, id, tag, err); err != nil {
		return err
	}
	r.log.Warn("document_job failed", "job_id", id, "error", reason)
	return nil
}

func (r *documentJobRepo) checkTransition(ctx context.Context, id uuid.UUID, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return common.PersistenceError("update document job", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err = r.pool.QueryRow(ctx, "SELECT status FROM document_jobs WHERE id = $1", id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return transitionError(id, "", false)
	}
	if err != nil {
		return common.PersistenceError("read document job", err)
	}
	return transitionError(id, constants.JobStatus(status), true)
}

func scanPgJob(row pgx.Row) (*entity.DocumentJob, error) {
	var (
		job         entity.DocumentJob
		status      string
		processedAt *time.Time
	)
	if err := row.Scan(&job.ID, &job.Filename, &job.ContentType, &job.FilePath, &status,
		&job.ProcessedText, &job.Error, &processedAt, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = constants.JobStatus(status)
	if processedAt != nil {
		t := processedAt.UTC()
		job.ProcessedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

func (r *documentJobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.DocumentJob, error) {
	job, err := scanPgJob(r.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM document_jobs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, transitionError(id, "", false)
	}
	if err != nil {
		return nil, common.PersistenceError("get document job", err)
	}
	return job, nil
}

func (r *documentJobRepo) List(ctx context.Context, filter ListFilter) ([]*entity.DocumentJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := "SELECT " + selectColumns + " FROM document_jobs"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, common.PersistenceError("list document jobs", err)
	}
	defer rows.Close()

	var out []*entity.DocumentJob
	for rows.Next() {
		job, err := scanPgJob(rows)
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

func (r *documentJobRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller of Open.
func (r *documentJobRepo) Close() error { return nil }
