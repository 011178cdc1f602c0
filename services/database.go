package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"multisvg/models"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS svg_conversions (
	submission_id   TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	filename        TEXT NOT NULL,
	mode            TEXT NOT NULL,
	laser_power     INTEGER NOT NULL,
	speed           DOUBLE PRECISION NOT NULL,
	pass_depth      INTEGER NOT NULL,
	status          TEXT NOT NULL,
	download_url    TEXT,
	processing_time DOUBLE PRECISION,
	elapsed_ms      BIGINT,
	message         TEXT,
	archive_status  TEXT,
	archive_key     TEXT,
	archive_error   TEXT,
	archive_retries INTEGER NOT NULL DEFAULT 0,
	metadata        JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS contact_messages (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

func (d *DatabaseService) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (d *DatabaseService) RecordSubmission(ctx context.Context, submissionID string, sessionID string, filename string, params models.Params) error {
	query := `INSERT INTO svg_conversions
		(submission_id, session_id, filename, mode, laser_power, speed, pass_depth, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'processing', $8, $8)`
	now := time.Now()
	_, err := d.db.ExecContext(ctx, query,
		submissionID, sessionID, filename, string(params.Mode), params.LaserPower, params.Speed, params.PassDepth, now)
	return err
}

func (d *DatabaseService) RecordOutcome(ctx context.Context, submissionID string, result *models.ConversionResult, elapsed time.Duration) error {
	status := "failed"
	if result.Success {
		status = "completed"
	}

	query := `UPDATE svg_conversions
		SET status = $1, download_url = $2, processing_time = $3, elapsed_ms = $4, message = $5,
			completed_at = $6, updated_at = $6
		WHERE submission_id = $7`
	_, err := d.db.ExecContext(ctx, query,
		status,
		nullString(result.DownloadURL),
		nullFloat(result.ProcessingTime),
		elapsed.Milliseconds(),
		nullString(result.Message),
		time.Now(),
		submissionID,
	)
	return err
}

func buildArchiveStatusQuery(submissionID string, status string, objectKey string, metadata map[string]interface{}, now time.Time) (string, []interface{}) {
	query := `UPDATE svg_conversions SET archive_status = $1, updated_at = $2`
	args := []interface{}{status, now}
	argIndex := 3

	if status == "completed" {
		query += fmt.Sprintf(`, archive_key = $%d`, argIndex)
		args = append(args, objectKey)
		argIndex++

		if metadata != nil {
			metadataJSON, _ := json.Marshal(metadata)
			query += fmt.Sprintf(`, metadata = $%d`, argIndex)
			args = append(args, metadataJSON)
			argIndex++
		}
	}

	query += fmt.Sprintf(` WHERE submission_id = $%d`, argIndex)
	args = append(args, submissionID)

	return query, args
}

func (d *DatabaseService) UpdateArchiveStatus(ctx context.Context, submissionID string, status string, objectKey string, metadata map[string]interface{}) error {
	query, args := buildArchiveStatusQuery(submissionID, status, objectKey, metadata, time.Now())
	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

func (d *DatabaseService) UpdateArchiveError(ctx context.Context, submissionID string, errorMsg string) error {
	query := `UPDATE svg_conversions SET archive_error = $1, updated_at = $2 WHERE submission_id = $3`
	_, err := d.db.ExecContext(ctx, query, errorMsg, time.Now(), submissionID)
	return err
}

func (d *DatabaseService) IncrementArchiveRetry(ctx context.Context, submissionID string) error {
	query := `UPDATE svg_conversions SET archive_retries = archive_retries + 1, updated_at = $1 WHERE submission_id = $2`
	_, err := d.db.ExecContext(ctx, query, time.Now(), submissionID)
	return err
}

func (d *DatabaseService) InsertContactMessage(ctx context.Context, name string, email string, message string) error {
	query := `INSERT INTO contact_messages (name, email, message, created_at) VALUES ($1, $2, $3, $4)`
	_, err := d.db.ExecContext(ctx, query, name, email, message, time.Now())
	return err
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
