package lifecycle

import "time"

// DeriveStatus maps an instant and an event's boundaries to its lifecycle
// position. Intervals are half-open and unset boundaries skip their row, so the
// latest crossed boundary always wins. The function is pure.
func DeriveStatus(now time.Time, b Boundaries) (Status, SubStatus) {
	switch {
	case reached(now, b.CertificateEnd):
		return StatusCompleted, SubEventCompleted
	case reached(now, b.End):
		if b.CertificateEnd != nil {
			return StatusOngoing, SubCertificateAvailable
		}
		return StatusCompleted, SubEventCompleted
	case reached(now, b.Start):
		return StatusOngoing, SubEventStarted
	case reached(now, b.RegistrationEnd):
		return StatusUpcoming, SubRegistrationClosed
	case reached(now, b.RegistrationStart):
		return StatusUpcoming, SubRegistrationOpen
	default:
		return StatusUpcoming, SubRegistrationNotStarted
	}
}

// Derive is DeriveStatus applied to the event's own boundaries.
func (e Event) Derive(now time.Time) (Status, SubStatus) {
	return DeriveStatus(now, e.Boundaries())
}

// Terminal reports whether the event can no longer change phase.
func (e Event) Terminal() bool {
	return e.Status == StatusCompleted && e.SubStatus == SubEventCompleted
}

func reached(now time.Time, t *time.Time) bool {
	return t != nil && !now.Before(*t)
}
