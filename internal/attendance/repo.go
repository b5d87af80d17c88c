package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campusevents/internal/apperr"
	"campusevents/internal/classify"
)

// Repository persists attendance configs and per-student records.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetConfig returns the config of an event.
func (r *Repository) GetConfig(ctx context.Context, eventID string) (Config, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT event_id, strategy, checkpoints, criteria, confidence, reasoning, auto_generated, created_at, updated_at
		FROM attendance_configs WHERE event_id = $1
	`, eventID)
	var (
		cfg                   Config
		strategy              string
		checkpoints, criteria string
	)
	err := row.Scan(&cfg.EventID, &strategy, &checkpoints, &criteria, &cfg.Confidence, &cfg.Reasoning,
		&cfg.AutoGenerated, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, fmt.Errorf("attendance config for %s: %w", eventID, apperr.ErrNotFound)
		}
		return Config{}, apperr.Persistence("get config", err)
	}
	cfg.Strategy = classify.Strategy(strategy)
	if err := json.Unmarshal([]byte(checkpoints), &cfg.Checkpoints); err != nil {
		return Config{}, apperr.Persistence("decode checkpoints", err)
	}
	if err := json.Unmarshal([]byte(criteria), &cfg.Criteria); err != nil {
		return Config{}, apperr.Persistence("decode criteria", err)
	}
	return cfg, nil
}

// SaveConfig inserts or replaces the config of an event. created_at is kept
// from the first insert.
func (r *Repository) SaveConfig(ctx context.Context, cfg Config) error {
	checkpoints, err := json.Marshal(cfg.Checkpoints)
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}
	criteria, err := json.Marshal(cfg.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = now
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance_configs (event_id, strategy, checkpoints, criteria, confidence, reasoning, auto_generated, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (event_id) DO UPDATE SET
			strategy = EXCLUDED.strategy,
			checkpoints = EXCLUDED.checkpoints,
			criteria = EXCLUDED.criteria,
			confidence = EXCLUDED.confidence,
			reasoning = EXCLUDED.reasoning,
			auto_generated = EXCLUDED.auto_generated,
			updated_at = EXCLUDED.updated_at
	`, cfg.EventID, string(cfg.Strategy), string(checkpoints), string(criteria), cfg.Confidence, cfg.Reasoning,
		cfg.AutoGenerated, cfg.CreatedAt.UTC(), cfg.UpdatedAt.UTC())
	if err != nil {
		return apperr.Persistence("save config", err)
	}
	return nil
}

// GetRecord returns a student's record for an event.
func (r *Repository) GetRecord(ctx context.Context, eventID, studentID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT event_id, student_id, marks, percentage, final_status, updated_at
		FROM attendance_records WHERE event_id = $1 AND student_id = $2
	`, eventID, studentID)
	var (
		rec   Record
		marks string
		final string
	)
	if err := row.Scan(&rec.EventID, &rec.StudentID, &marks, &rec.Percentage, &final, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("attendance record %s/%s: %w", eventID, studentID, apperr.ErrNotFound)
		}
		return Record{}, apperr.Persistence("get record", err)
	}
	rec.FinalStatus = FinalStatus(final)
	if err := json.Unmarshal([]byte(marks), &rec.Marks); err != nil {
		return Record{}, apperr.Persistence("decode marks", err)
	}
	if rec.Marks == nil {
		rec.Marks = map[string]Mark{}
	}
	return rec, nil
}

// UpsertRecord stores a record.
func (r *Repository) UpsertRecord(ctx context.Context, rec Record) error {
	marks, err := json.Marshal(rec.Marks)
	if err != nil {
		return fmt.Errorf("encode marks: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (event_id, student_id, marks, percentage, final_status, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (event_id, student_id) DO UPDATE SET
			marks = EXCLUDED.marks,
			percentage = EXCLUDED.percentage,
			final_status = EXCLUDED.final_status,
			updated_at = EXCLUDED.updated_at
	`, rec.EventID, rec.StudentID, string(marks), rec.Percentage, string(rec.FinalStatus), rec.UpdatedAt.UTC())
	if err != nil {
		return apperr.Persistence("upsert record", err)
	}
	return nil
}

// ListRecords returns every record of an event ordered by student.
func (r *Repository) ListRecords(ctx context.Context, eventID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, student_id, marks, percentage, final_status, updated_at
		FROM attendance_records WHERE event_id = $1 ORDER BY student_id
	`, eventID)
	if err != nil {
		return nil, apperr.Persistence("list records", err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var (
			rec   Record
			marks string
			final string
		)
		if err := rows.Scan(&rec.EventID, &rec.StudentID, &marks, &rec.Percentage, &final, &rec.UpdatedAt); err != nil {
			return nil, apperr.Persistence("scan record", err)
		}
		rec.FinalStatus = FinalStatus(final)
		if err := json.Unmarshal([]byte(marks), &rec.Marks); err != nil {
			return nil, apperr.Persistence("decode marks", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
