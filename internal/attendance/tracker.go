package attendance

import (
	"fmt"
	"math"
	"time"

	"campusevents/internal/apperr"
	"campusevents/internal/classify"
)

// Recompute refreshes percentage and final status of rec against cfg. Marks
// for checkpoints no longer in cfg are kept but do not count.
func Recompute(cfg Config, rec *Record, eventEnd *time.Time, now time.Time) {
	total, done := 0.0, 0.0
	mandatoryDone := 0
	allDone := true
	for _, cp := range cfg.Checkpoints {
		total += cp.Weight
		if rec.IsMarked(cp.ID) {
			done += cp.Weight
			if cp.Mandatory {
				mandatoryDone++
			}
		} else if cp.Weight > 0 {
			allDone = false
		}
	}

	pct := 0.0
	if total > 0 {
		pct = math.Round(done/total*10000) / 100
		if !allDone && pct >= 100 {
			pct = 99.99
		}
	}
	rec.Percentage = math.Max(0, math.Min(100, pct))
	rec.FinalStatus = finalStatus(cfg, rec, mandatoryDone, eventEnd, now)
}

func finalStatus(cfg Config, rec *Record, mandatoryDone int, eventEnd *time.Time, now time.Time) FinalStatus {
	if cfg.Strategy == classify.SingleMark && len(cfg.Checkpoints) == 1 && rec.IsMarked(cfg.Checkpoints[0].ID) {
		return FinalPresent
	}
	if rec.Percentage >= cfg.Criteria.Threshold() && mandatoryDone >= cfg.Criteria.MinMandatory {
		return FinalPresent
	}
	if rec.Percentage > 0 {
		return FinalPartial
	}
	if eventEnd != nil && !now.Before(*eventEnd) {
		return FinalAbsent
	}
	return FinalPending
}

// Tracker applies marks to records. It holds no state; callers serialise
// access to a record.
type Tracker struct{}

// Mark completes one checkpoint for the record's student and recomputes.
func (Tracker) Mark(cfg Config, rec *Record, checkpointID string, metadata map[string]string, eventEnd *time.Time, now time.Time) error {
	if _, ok := cfg.Checkpoint(checkpointID); !ok {
		return fmt.Errorf("checkpoint %s: %w", checkpointID, apperr.ErrUnknownCheckpoint)
	}
	if rec.IsMarked(checkpointID) {
		return fmt.Errorf("checkpoint %s for student %s: %w", checkpointID, rec.StudentID, apperr.ErrAlreadyMarked)
	}
	if rec.Marks == nil {
		rec.Marks = map[string]Mark{}
	}
	rec.Marks[checkpointID] = Mark{Marked: true, At: now, Metadata: metadata}
	rec.UpdatedAt = now
	Recompute(cfg, rec, eventEnd, now)
	return nil
}

// ActiveCheckpoint picks the checkpoint open at now, preferring ones the
// student has not marked yet. If only marked ones are open the first of
// them is returned so the caller gets AlreadyMarked.
func ActiveCheckpoint(cfg Config, rec Record, now time.Time) (Checkpoint, error) {
	var fallback *Checkpoint
	for i, cp := range cfg.Checkpoints {
		if !cp.Contains(now) {
			continue
		}
		if !rec.IsMarked(cp.ID) {
			return cp, nil
		}
		if fallback == nil {
			fallback = &cfg.Checkpoints[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Checkpoint{}, apperr.ErrNoActiveCheckpoint
}

// NextCheckpoint returns the first unmarked checkpoint that has not expired.
// single_mark has no natural next step.
func NextCheckpoint(cfg Config, rec Record, now time.Time) *Checkpoint {
	if cfg.Strategy == classify.SingleMark {
		return nil
	}
	for i, cp := range cfg.Checkpoints {
		if rec.IsMarked(cp.ID) {
			continue
		}
		if cp.End == nil || now.Before(*cp.End) {
			return &cfg.Checkpoints[i]
		}
	}
	return nil
}

// CheckpointStatus is one line of a student's breakdown.
type CheckpointStatus struct {
	Checkpoint
	Marked   bool       `json:"marked"`
	MarkedAt *time.Time `json:"marked_at,omitempty"`
}

// Report is the full attendance breakdown for one student.
type Report struct {
	EventID     string             `json:"event_id"`
	StudentID   string             `json:"student_id"`
	Strategy    classify.Strategy  `json:"strategy"`
	Percentage  float64            `json:"percentage"`
	FinalStatus FinalStatus        `json:"final_status"`
	Criteria    Criteria           `json:"criteria"`
	Checkpoints []CheckpointStatus `json:"checkpoints"`
	Next        *Checkpoint        `json:"next,omitempty"`
}

// BuildReport recomputes rec and renders its breakdown.
func BuildReport(cfg Config, rec Record, eventEnd *time.Time, now time.Time) Report {
	Recompute(cfg, &rec, eventEnd, now)
	lines := make([]CheckpointStatus, len(cfg.Checkpoints))
	for i, cp := range cfg.Checkpoints {
		lines[i] = CheckpointStatus{Checkpoint: cp}
		if m, ok := rec.Marks[cp.ID]; ok && m.Marked {
			at := m.At
			lines[i].Marked = true
			lines[i].MarkedAt = &at
		}
	}
	return Report{
		EventID:     cfg.EventID,
		StudentID:   rec.StudentID,
		Strategy:    cfg.Strategy,
		Percentage:  rec.Percentage,
		FinalStatus: rec.FinalStatus,
		Criteria:    cfg.Criteria,
		Checkpoints: lines,
		Next:        NextCheckpoint(cfg, rec, now),
	}
}
