// Package repositories holds PostgreSQL persistence for cross-process
// export history.
package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"vidforge/internal/export"
	"vidforge/internal/pkg/errors"
)

// ExportRecord is one row of persisted export history.
type ExportRecord struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Progress       float64    `json:"progress"`
	InputFile      string     `json:"input_file"`
	OutputFile     string     `json:"output_file"`
	PresetName     string     `json:"preset_name"`
	TargetPlatform string     `json:"target_platform"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	PublishedKey   string     `json:"published_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type ExportHistoryRepository struct {
	db *pgxpool.Pool
}

func NewExportHistoryRepository(db *pgxpool.Pool) *ExportHistoryRepository {
	return &ExportHistoryRepository{db: db}
}

// EnsureSchema creates the history table when it does not exist yet.
func (r *ExportHistoryRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS export_history (
			id              TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			progress        DOUBLE PRECISION NOT NULL,
			input_file      TEXT NOT NULL,
			output_file     TEXT NOT NULL,
			preset_name     TEXT NOT NULL,
			target_platform TEXT NOT NULL,
			error_message   TEXT,
			published_key   TEXT,
			correlation_id  TEXT,
			created_at      TIMESTAMPTZ NOT NULL,
			started_at      TIMESTAMPTZ,
			completed_at    TIMESTAMPTZ
		)
	`)
	if err != nil {
		return errors.Wrap(err, "repositories.exports.schema", "failed to ensure export_history table")
	}
	return nil
}

// RecordExport upserts a terminal export record. Retried jobs get their
// own rows; the id is the conflict key so re-recording is idempotent.
// A nil receiver is a no-op so an unconfigured repository can be wired
// directly into the orchestrator.
func (r *ExportHistoryRepository) RecordExport(ctx context.Context, job *export.Job) error {
	if r == nil {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO export_history
			(id, status, progress, input_file, output_file, preset_name,
			 target_platform, error_message, published_key, correlation_id,
			 created_at, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			status        = EXCLUDED.status,
			progress      = EXCLUDED.progress,
			error_message = EXCLUDED.error_message,
			published_key = EXCLUDED.published_key,
			completed_at  = EXCLUDED.completed_at
	`,
		job.ID, string(job.Status), job.Progress, job.InputFile, job.OutputFile,
		job.Preset.Name, job.TargetPlatform, nullIfEmpty(job.ErrorMessage),
		nullIfEmpty(job.PublishedKey), nullIfEmpty(job.CorrelationID),
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return errors.Wrap(err, "repositories.exports.record", "failed to record export")
	}
	return nil
}

// Get looks up one recorded export by id.
func (r *ExportHistoryRepository) Get(ctx context.Context, id string) (*ExportRecord, error) {
	var rec ExportRecord
	err := r.db.QueryRow(ctx, `
		SELECT id, status, progress, input_file, output_file, preset_name,
		       target_platform, COALESCE(error_message, ''),
		       COALESCE(published_key, ''), created_at, completed_at
		FROM export_history
		WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.Status, &rec.Progress, &rec.InputFile, &rec.OutputFile,
		&rec.PresetName, &rec.TargetPlatform, &rec.ErrorMessage,
		&rec.PublishedKey, &rec.CreatedAt, &rec.CompletedAt,
	)
	if err != nil {
		return nil, errors.NotFound("export record", id)
	}
	return &rec, nil
}

// List returns recorded exports most-recent-first, optionally filtered by
// status, bounded by limit.
func (r *ExportHistoryRepository) List(ctx context.Context, status export.Status, limit int) ([]ExportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, status, progress, input_file, output_file, preset_name,
		       target_platform, COALESCE(error_message, ''),
		       COALESCE(published_key, ''), created_at, completed_at
		FROM export_history
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, errors.Wrap(err, "repositories.exports.list", "failed to query export history")
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var rec ExportRecord
		if err := rows.Scan(
			&rec.ID, &rec.Status, &rec.Progress, &rec.InputFile, &rec.OutputFile,
			&rec.PresetName, &rec.TargetPlatform, &rec.ErrorMessage,
			&rec.PublishedKey, &rec.CreatedAt, &rec.CompletedAt,
		); err != nil {
			return nil, errors.Wrap(err, "repositories.exports.list", "failed to scan export row")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
