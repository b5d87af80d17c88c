// Package lifecycle derives an event's status from its boundary timestamps and
// persists the transitions applied by the scheduler.
package lifecycle

import "time"

// Status is the coarse lifecycle state of an event.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusUpcoming        Status = "upcoming"
	StatusOngoing         Status = "ongoing"
	StatusCompleted       Status = "completed"
)

// SubStatus is the fine-grained phase, driven purely by time.
type SubStatus string

const (
	SubRegistrationNotStarted SubStatus = "registration_not_started"
	SubRegistrationOpen       SubStatus = "registration_open"
	SubRegistrationClosed     SubStatus = "registration_closed"
	SubEventStarted           SubStatus = "event_started"
	SubEventEnded             SubStatus = "event_ended"
	SubCertificateAvailable   SubStatus = "certificate_available"
	SubEventCompleted         SubStatus = "event_completed"
)

var subStatusOrder = []SubStatus{
	SubRegistrationNotStarted,
	SubRegistrationOpen,
	SubRegistrationClosed,
	SubEventStarted,
	SubEventEnded,
	SubCertificateAvailable,
	SubEventCompleted,
}

// Rank returns the position of s in the lifecycle sequence, or -1 when unknown.
func (s SubStatus) Rank() int {
	for i, v := range subStatusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Managed reports whether the scheduler is allowed to advance an event in
// this status. Drafts and events awaiting approval are left alone.
func (s Status) Managed() bool {
	switch s {
	case StatusUpcoming, StatusOngoing:
		return true
	}
	return false
}

// Event is the slice of the campus event document this core reads. Only the
// status fields are ever written back.
type Event struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Type              string     `json:"type"`
	Description       string     `json:"description"`
	Venue             string     `json:"venue"`
	VenueCapacity     *int       `json:"venue_capacity,omitempty"`
	RegistrationMode  string     `json:"registration_mode"`
	TeamMin           int        `json:"team_min,omitempty"`
	TeamMax           int        `json:"team_max,omitempty"`
	Start             *time.Time `json:"start,omitempty"`
	End               *time.Time `json:"end,omitempty"`
	RegistrationStart *time.Time `json:"registration_start,omitempty"`
	RegistrationEnd   *time.Time `json:"registration_end,omitempty"`
	CertificateEnd    *time.Time `json:"certificate_end,omitempty"`
	Status            Status     `json:"status"`
	SubStatus         SubStatus  `json:"sub_status"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Boundaries returns the timestamps the state machine depends on.
func (e Event) Boundaries() Boundaries {
	return Boundaries{
		RegistrationStart: e.RegistrationStart,
		RegistrationEnd:   e.RegistrationEnd,
		Start:             e.Start,
		End:               e.End,
		CertificateEnd:    e.CertificateEnd,
	}
}

// Text concatenates the free-text fields used by the classifiers.
func (e Event) Text() string {
	return e.Name + " " + e.Type + " " + e.Description
}

// Boundaries are the five lifecycle timestamps of an event. Nil means unset.
type Boundaries struct {
	RegistrationStart *time.Time
	RegistrationEnd   *time.Time
	Start             *time.Time
	End               *time.Time
	CertificateEnd    *time.Time
}

// Equal reports whether both sets point at the same instants.
func (b Boundaries) Equal(o Boundaries) bool {
	return sameTime(b.RegistrationStart, o.RegistrationStart) &&
		sameTime(b.RegistrationEnd, o.RegistrationEnd) &&
		sameTime(b.Start, o.Start) &&
		sameTime(b.End, o.End) &&
		sameTime(b.CertificateEnd, o.CertificateEnd)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
