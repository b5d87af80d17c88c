package attendance

import (
	"time"

	"campusevents/internal/classify"
)

// DefaultMinPercentage is the eligibility threshold used when a config does not set one.
const DefaultMinPercentage = 75.0

// CheckpointKind says what a checkpoint represents.
type CheckpointKind string

const (
	KindSession   CheckpointKind = "session"
	KindDay       CheckpointKind = "day"
	KindMilestone CheckpointKind = "milestone"
	KindWindow    CheckpointKind = "window"
)

// Checkpoint is one unit of required presence within a config.
type Checkpoint struct {
	ID        string         `json:"id" validate:"required"`
	Name      string         `json:"name" validate:"required"`
	Kind      CheckpointKind `json:"kind" validate:"required,oneof=session day milestone window"`
	Start     time.Time      `json:"start"`
	End       *time.Time     `json:"end,omitempty"`
	Mandatory bool           `json:"mandatory"`
	Weight    float64        `json:"weight" validate:"gte=0"`
}

// Contains reports whether now falls in the checkpoint window. Checkpoints
// without an end stay open from their start onward.
func (c Checkpoint) Contains(now time.Time) bool {
	if now.Before(c.Start) {
		return false
	}
	return c.End == nil || now.Before(*c.End)
}

// Criteria decide when a student counts as present.
type Criteria struct {
	// MinPercentage of total weight; zero means DefaultMinPercentage.
	MinPercentage float64 `json:"min_percentage" validate:"gte=0,lte=100"`
	// MinMandatory is the minimum number of marked mandatory checkpoints; zero disables it.
	MinMandatory int `json:"min_mandatory" validate:"gte=0"`
}

// Threshold returns the effective percentage threshold.
func (c Criteria) Threshold() float64 {
	if c.MinPercentage <= 0 {
		return DefaultMinPercentage
	}
	return c.MinPercentage
}

// Config is the per-event attendance bundle. Once saved it is only changed by
// organizers, never regenerated behind their back.
type Config struct {
	EventID       string            `json:"event_id" validate:"required"`
	Strategy      classify.Strategy `json:"strategy" validate:"required,oneof=single_mark day_based session_based milestone_based continuous"`
	Checkpoints   []Checkpoint      `json:"checkpoints" validate:"required,min=1,dive"`
	Criteria      Criteria          `json:"criteria"`
	Confidence    float64           `json:"confidence"`
	Reasoning     string            `json:"reasoning"`
	AutoGenerated bool              `json:"auto_generated"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Checkpoint looks up a checkpoint by id.
func (c Config) Checkpoint(id string) (Checkpoint, bool) {
	for _, cp := range c.Checkpoints {
		if cp.ID == id {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// TotalWeight sums the weight of every checkpoint.
func (c Config) TotalWeight() float64 {
	total := 0.0
	for _, cp := range c.Checkpoints {
		total += cp.Weight
	}
	return total
}

// FinalStatus is a student's computed outcome for an event.
type FinalStatus string

const (
	FinalPending FinalStatus = "pending"
	FinalPresent FinalStatus = "present"
	FinalPartial FinalStatus = "partial"
	FinalAbsent  FinalStatus = "absent"
)

// Mark records completion of one checkpoint.
type Mark struct {
	Marked   bool              `json:"marked"`
	At       time.Time         `json:"at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Record is a student's progress against a config.
type Record struct {
	EventID     string          `json:"event_id"`
	StudentID   string          `json:"student_id"`
	Marks       map[string]Mark `json:"marks"`
	Percentage  float64         `json:"percentage"`
	FinalStatus FinalStatus     `json:"final_status"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewRecord returns an empty pending record.
func NewRecord(eventID, studentID string) Record {
	return Record{
		EventID:     eventID,
		StudentID:   studentID,
		Marks:       map[string]Mark{},
		FinalStatus: FinalPending,
	}
}

// IsMarked reports whether the checkpoint is completed.
func (r Record) IsMarked(checkpointID string) bool {
	m, ok := r.Marks[checkpointID]
	return ok && m.Marked
}
