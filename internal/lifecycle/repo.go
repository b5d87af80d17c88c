package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campusevents/internal/apperr"
)

const eventColumns = `id, name, event_type, description, venue, venue_capacity, registration_mode,
	team_min, team_max, starts_at, ends_at, registration_start, registration_end, certificate_end,
	status, sub_status, updated_at`

// Repository persists the event fields this core reads and the status fields it writes.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns a single event by id.
func (r *Repository) Get(ctx context.Context, id string) (Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, fmt.Errorf("event %s: %w", id, apperr.ErrNotFound)
		}
		return Event{}, apperr.Persistence("get event", err)
	}
	return evt, nil
}

// FindPending returns every event the scheduler still has to drive.
func (r *Repository) FindPending(ctx context.Context) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events
		WHERE status IN ($1, $2) ORDER BY id`, StatusUpcoming, StatusOngoing)
	if err != nil {
		return nil, apperr.Persistence("find pending events", err)
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Persistence("scan event", err)
		}
		res = append(res, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("find pending events", err)
	}
	return res, nil
}

// UpdateStatus writes the derived lifecycle position of an event.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, sub SubStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events SET status = $2, sub_status = $3, updated_at = $4
		WHERE id = $1
	`, id, status, sub, time.Now().UTC())
	if err != nil {
		return apperr.Persistence("update status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("event %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Upsert stores the event as sent by the registration subsystem.
func (r *Repository) Upsert(ctx context.Context, evt Event) error {
	if evt.UpdatedAt.IsZero() {
		evt.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			event_type = EXCLUDED.event_type,
			description = EXCLUDED.description,
			venue = EXCLUDED.venue,
			venue_capacity = EXCLUDED.venue_capacity,
			registration_mode = EXCLUDED.registration_mode,
			team_min = EXCLUDED.team_min,
			team_max = EXCLUDED.team_max,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			registration_start = EXCLUDED.registration_start,
			registration_end = EXCLUDED.registration_end,
			certificate_end = EXCLUDED.certificate_end,
			status = EXCLUDED.status,
			sub_status = EXCLUDED.sub_status,
			updated_at = EXCLUDED.updated_at
	`, evt.ID, evt.Name, evt.Type, evt.Description, evt.Venue, nullInt(evt.VenueCapacity), evt.RegistrationMode,
		evt.TeamMin, evt.TeamMax, nullTime(evt.Start), nullTime(evt.End), nullTime(evt.RegistrationStart),
		nullTime(evt.RegistrationEnd), nullTime(evt.CertificateEnd), evt.Status, evt.SubStatus, evt.UpdatedAt)
	if err != nil {
		return apperr.Persistence("upsert event", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (Event, error) {
	var (
		evt                                   Event
		capacity                              sql.NullInt64
		start, end, regStart, regEnd, certEnd sql.NullTime
	)
	err := s.Scan(&evt.ID, &evt.Name, &evt.Type, &evt.Description, &evt.Venue, &capacity, &evt.RegistrationMode,
		&evt.TeamMin, &evt.TeamMax, &start, &end, &regStart, &regEnd, &certEnd,
		&evt.Status, &evt.SubStatus, &evt.UpdatedAt)
	if err != nil {
		return Event{}, err
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		evt.VenueCapacity = &c
	}
	evt.Start = timePtr(start)
	evt.End = timePtr(end)
	evt.RegistrationStart = timePtr(regStart)
	evt.RegistrationEnd = timePtr(regEnd)
	evt.CertificateEnd = timePtr(certEnd)
	return evt, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// Transition is one row of the status audit trail.
type Transition struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	OldSub    SubStatus `json:"old_sub_status"`
	NewSub    SubStatus `json:"new_sub_status"`
	Source    string    `json:"source"`
	ChangedAt time.Time `json:"changed_at"`
}

// StatusLog is the append-only audit trail of automatic and manual transitions.
type StatusLog struct {
	db *sql.DB
}

// NewStatusLog creates a status log over db.
func NewStatusLog(db *sql.DB) *StatusLog {
	return &StatusLog{db: db}
}

// Record appends one transition.
func (l *StatusLog) Record(ctx context.Context, tr Transition) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.ChangedAt.IsZero() {
		tr.ChangedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO event_status_log (id, event_id, old_status, new_status, old_sub, new_sub, source, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, tr.ID, tr.EventID, tr.OldStatus, tr.NewStatus, tr.OldSub, tr.NewSub, tr.Source, tr.ChangedAt.UTC())
	if err != nil {
		return apperr.Persistence("record transition", err)
	}
	return nil
}

// List returns the transitions of one event, oldest first.
func (l *StatusLog) List(ctx context.Context, eventID string) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_id, old_status, new_status, old_sub, new_sub, source, changed_at
		FROM event_status_log WHERE event_id = $1 ORDER BY changed_at, id
	`, eventID)
	if err != nil {
		return nil, apperr.Persistence("list transitions", err)
	}
	defer rows.Close()
	var res []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.ID, &tr.EventID, &tr.OldStatus, &tr.NewStatus, &tr.OldSub, &tr.NewSub, &tr.Source, &tr.ChangedAt); err != nil {
			return nil, apperr.Persistence("scan transition", err)
		}
		res = append(res, tr)
	}
	return res, rows.Err()
}
