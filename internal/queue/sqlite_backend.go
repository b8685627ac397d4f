package queue

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

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const jobColumns = "id, batch_id, filename, source_path, fingerprint, options_json, stages_json, status, stage, progress, priority, seq, created_at, started_at, completed_at, updated_at, error_message, result_refs_json"

type sqliteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the SQLite job database at path.
func OpenSQLite(path string) (Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	backend := &sqliteBackend{db: db, path: path}
	if err := backend.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (b *sqliteBackend) exec(ctx context.Context, query string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return retryOnBusy(ctx, func() error {
		_, err := b.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (b *sqliteBackend) SaveJob(ctx context.Context, job *Job) error {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	stages, err := json.Marshal(job.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}
	var refs sql.NullString
	if len(job.ResultRefs) > 0 {
		raw, err := json.Marshal(job.ResultRefs)
		if err != nil {
			return fmt.Errorf("encode result refs: %w", err)
		}
		refs = sql.NullString{String: string(raw), Valid: true}
	}
	return b.exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			batch_id = excluded.batch_id,
			filename = excluded.filename,
			source_path = excluded.source_path,
			fingerprint = excluded.fingerprint,
			options_json = excluded.options_json,
			stages_json = excluded.stages_json,
			status = excluded.status,
			stage = excluded.stage,
			progress = excluded.progress,
			priority = excluded.priority,
			seq = excluded.seq,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at,
			error_message = excluded.error_message,
			result_refs_json = excluded.result_refs_json`,
		job.ID,
		nullableString(job.BatchID),
		job.Filename,
		nullableString(job.SourcePath),
		nullableString(job.Fingerprint),
		string(options),
		string(stages),
		string(job.Status),
		nullableString(job.Stage),
		job.Progress,
		job.Priority,
		int64(job.Seq),
		formatTime(job.CreatedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		formatTime(job.UpdatedAt),
		nullableString(job.Error),
		refs,
	)
}

func (b *sqliteBackend) DeleteJob(ctx context.Context, id string) error {
	return b.exec(ctx, `DELETE FROM jobs WHERE id = ?`, id)
}

func (b *sqliteBackend) SaveBatch(ctx context.Context, batch *Batch) error {
	ids, err := json.Marshal(batch.JobIDs)
	if err != nil {
		return fmt.Errorf("encode batch members: %w", err)
	}
	return b.exec(ctx,
		`INSERT INTO batches (id, name, job_ids_json, total_files, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			job_ids_json = excluded.job_ids_json,
			total_files = excluded.total_files`,
		batch.ID, batch.Name, string(ids), batch.TotalFiles, formatTime(batch.CreatedAt),
	)
}

func (b *sqliteBackend) DeleteBatch(ctx context.Context, id string) error {
	return b.exec(ctx, `DELETE FROM batches WHERE id = ?`, id)
}

func (b *sqliteBackend) LoadAll(ctx context.Context) ([]*Job, []*Batch, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY seq`)
	if err != nil {
		return nil, nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate jobs: %w", err)
	}

	batchRows, err := b.db.QueryContext(ctx, `SELECT id, name, job_ids_json, total_files, created_at FROM batches`)
	if err != nil {
		return nil, nil, fmt.Errorf("query batches: %w", err)
	}
	defer batchRows.Close()

	var batches []*Batch
	for batchRows.Next() {
		var (
			batch      Batch
			idsRaw     string
			createdRaw string
		)
		if err := batchRows.Scan(&batch.ID, &batch.Name, &idsRaw, &batch.TotalFiles, &createdRaw); err != nil {
			return nil, nil, fmt.Errorf("scan batch: %w", err)
		}
		if err := json.Unmarshal([]byte(idsRaw), &batch.JobIDs); err != nil {
			return nil, nil, fmt.Errorf("decode batch %s members: %w", batch.ID, err)
		}
		batch.CreatedAt = parseTimeString(createdRaw)
		batches = append(batches, &batch)
	}
	if err := batchRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate batches: %w", err)
	}
	return jobs, batches, nil
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job         Job
		batchID     sql.NullString
		sourcePath  sql.NullString
		fingerprint sql.NullString
		optionsRaw  string
		stagesRaw   string
		statusRaw   string
		stage       sql.NullString
		seq         int64
		createdRaw  string
		startedRaw  sql.NullString
		doneRaw     sql.NullString
		updatedRaw  string
		errorMsg    sql.NullString
		refsRaw     sql.NullString
	)
	if err := scanner.Scan(
		&job.ID, &batchID, &job.Filename, &sourcePath, &fingerprint,
		&optionsRaw, &stagesRaw, &statusRaw, &stage, &job.Progress, &job.Priority, &seq,
		&createdRaw, &startedRaw, &doneRaw, &updatedRaw, &errorMsg, &refsRaw,
	); err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal([]byte(optionsRaw), &job.Options); err != nil {
		return nil, fmt.Errorf("decode job %s options: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(stagesRaw), &job.Stages); err != nil {
		return nil, fmt.Errorf("decode job %s stages: %w", job.ID, err)
	}
	if refsRaw.Valid && refsRaw.String != "" {
		if err := json.Unmarshal([]byte(refsRaw.String), &job.ResultRefs); err != nil {
			return nil, fmt.Errorf("decode job %s result refs: %w", job.ID, err)
		}
	}
	job.BatchID = batchID.String
	job.SourcePath = sourcePath.String
	job.Fingerprint = fingerprint.String
	job.Status = Status(statusRaw)
	job.Stage = stage.String
	job.Seq = uint64(seq)
	job.CreatedAt = parseTimeString(createdRaw)
	job.UpdatedAt = parseTimeString(updatedRaw)
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(doneRaw)
	job.Error = errorMsg.String
	return &job, nil
}

func nullableString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimeString(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	ts := parseTimeString(raw.String)
	if ts.IsZero() {
		return nil
	}
	return &ts
}
