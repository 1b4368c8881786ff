package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/entity"
)

// maxTxAttempts bounds optimistic retries of a WATCHed transition.
const maxTxAttempts = 5

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisClient connects and pings with a bounded timeout.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type redisRepo struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

// NewRedisRepository stores each job as a hash with a sorted-set index for listing.
func NewRedisRepository(rdb *redis.Client, prefix string, log *slog.Logger) DocumentJobRepository {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "cv"
	}
	return &redisRepo{rdb: rdb, prefix: prefix, log: log, now: time.Now}
}

func (r *redisRepo) jobKey(id uuid.UUID) string { return r.prefix + ":job:" + id.String() }
func (r *redisRepo) pathKey(p string) string    { return r.prefix + ":path:" + p }
func (r *redisRepo) indexKey() string           { return r.prefix + ":jobs:by_created" }
func (r *redisRepo) seqKey() string             { return r.prefix + ":jobs:seq" }

func (r *redisRepo) Create(ctx context.Context, filename, contentType, filePath string, status constants.JobStatus) (*entity.DocumentJob, error) {
	if err := validateCreate(filename, filePath, status); err != nil {
		return nil, err
	}
	id := uuid.New()

	ok, err := r.rdb.SetNX(ctx, r.pathKey(filePath), id.String(), 0).Result()
	if err != nil {
		return nil, common.PersistenceError("create document job", err)
	}
	if !ok {
		return nil, common.PersistenceError("create document job", errDuplicatePath(filePath))
	}

	// score by counter so jobs created in the same instant keep their order
	seq, err := r.rdb.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return nil, common.PersistenceError("create document job", err)
	}

	now := r.now().UTC()
	job := &entity.DocumentJob{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		FilePath:    filePath,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.jobKey(id), map[string]any{
		"id":           id.String(),
		"filename":     filename,
		"content_type": contentType,
		"file_path":    filePath,
		"status":       string(status),
		"created_at":   now.UnixNano(),
		"updated_at":   now.UnixNano(),
	})
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(seq), Member: id.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		_ = r.rdb.Del(ctx, r.pathKey(filePath)).Err()
		r.log.Error("document_job create failed", "file_path", filePath, "error", err)
		return nil, common.PersistenceError("create document job", err)
	}
	r.log.Info("document_job created", "job_id", id, "status", status)
	return job, nil
}

// transition applies fields under WATCH so a concurrent terminal write aborts this one.
func (r *redisRepo) transition(ctx context.Context, id uuid.UUID, to constants.JobStatus, fields map[string]any, del ...string) error {
	key := r.jobKey(id)
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) {
			return transitionError(id, "", false)
		}
		if err != nil {
			return err
		}
		from := constants.JobStatus(current)
		if !constants.CanTransition(from, to) {
			return transitionError(id, from, true)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if len(del) > 0 {
				pipe.HDel(ctx, key, del...)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			r.log.Debug("document_job transition raced, retrying", "job_id", id, "attempt", attempt+1)
			continue
		case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrTerminalState), errors.Is(err, common.ErrInvalidTransition):
			return err
		default:
			return common.PersistenceError("update document job", err)
		}
	}
	return common.PersistenceError("update document job", redis.TxFailedErr)
}

func (r *redisRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, constants.JobStatusProcessing, map[string]any{
		"status":     string(constants.JobStatusProcessing),
		"updated_at": r.now().UTC().UnixNano(),
	})
}

func (r *redisRepo) MarkProcessed(ctx context.Context, id uuid.UUID, text string) error {
	now := r.now().UTC().UnixNano()
	err := r.transition(ctx, id, constants.JobStatusProcessed, map[string]any{
		"status":         string(constants.JobStatusProcessed),
		"processed_text": text,
		"processed_at":   now,
		"updated_at":     now,
	}, "error")
	if err != nil {
		return err
	}
	r.log.Info("document_job processed", "job_id", id, "text_len", len(text))
	return nil
}

func (r *redisRepo) MarkError(ctx context.Context, id uuid.UUID, reason string) error {
	now := r.now().UTC().UnixNano()
	err := r.transition(ctx, id, constants.JobStatusError, map[string]any{
		"status":       string(constants.JobStatusError),
		"error":        reason,
		"processed_at": now,
		"updated_at":   now,
	}, "processed_text")
	if err != nil {
		return err
	}
	r.log.Warn("document_job failed", "job_id", id, "error", reason)
	return nil
}

func (r *redisRepo) Get(ctx context.Context, id uuid.UUID) (*entity.DocumentJob, error) {
	res, err := r.rdb.HGetAll(ctx, r.jobKey(id)).Result()
	if err != nil {
		return nil, common.PersistenceError("get document job", err)
	}
	if len(res) == 0 {
		return nil, transitionError(id, "", false)
	}
	return decodeRedisJob(id, res)
}

func (r *redisRepo) List(ctx context.Context, filter ListFilter) ([]*entity.DocumentJob, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, common.PersistenceError("list document jobs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, raw := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.prefix+":job:"+raw)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, common.PersistenceError("list document jobs", err)
	}

	var out []*entity.DocumentJob
	for i, cmd := range cmds {
		res, err := cmd.Result()
		if err != nil || len(res) == 0 {
			continue
		}
		id, err := uuid.Parse(ids[i])
		if err != nil {
			continue
		}
		job, err := decodeRedisJob(id, res)
		if err != nil {
			r.log.Warn("skipping malformed document_job", "job_id", ids[i], "error", err)
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func decodeRedisJob(id uuid.UUID, res map[string]string) (*entity.DocumentJob, error) {
	job := &entity.DocumentJob{
		ID:          id,
		Filename:    res["filename"],
		ContentType: res["content_type"],
		FilePath:    res["file_path"],
		Status:      constants.JobStatus(res["status"]),
	}
	if v, ok := res["processed_text"]; ok {
		job.ProcessedText = &v
	}
	if v, ok := res["error"]; ok {
		job.Error = &v
	}
	var err error
	if job.CreatedAt, err = unixNanoField(res, "created_at"); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = unixNanoField(res, "updated_at"); err != nil {
		return nil, err
	}
	if _, ok := res["processed_at"]; ok {
		t, err := unixNanoField(res, "processed_at")
		if err != nil {
			return nil, err
		}
		job.ProcessedAt = &t
	}
	return job, nil
}

func unixNanoField(res map[string]string, field string) (time.Time, error) {
	n, err := strconv.ParseInt(res[field], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return time.Unix(0, n).UTC(), nil
}

func (r *redisRepo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *redisRepo) Close() error {
	return r.rdb.Close()
}
