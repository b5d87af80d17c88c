package attendance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusevents/internal/classify"
)

var checkpointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:campusevents:checkpoint"))

// CheckpointID derives the stable id of the index-th generated checkpoint.
func CheckpointID(eventID string, index int) string {
	return uuid.NewSHA1(checkpointNamespace, []byte(eventID+":"+strconv.Itoa(index))).String()
}

const maxPhases = 10

var (
	numberWords = map[string]int{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	}
	countedMarker = regexp.MustCompile(`\b(\d+|one|two|three|four|five|six|seven|eight|nine|ten)\s+(rounds?|phases?)\b`)
	indexedMarker = regexp.MustCompile(`\b(round|phase)\s+(\d+)\b`)
	bareMarker    = regexp.MustCompile(`\b(rounds?|phases?)\b`)
	presentation  = regexp.MustCompile(`\bpresentations?\b`)
	submission    = regexp.MustCompile(`\b(submissions?|deliverables?|projects?)\b`)
)

// GenerateCheckpoints lays out the checkpoints of a strategy over the event
// window. It never fails: without a usable window it returns one full-span
// checkpoint. Every generated checkpoint is mandatory with positive weight.
func GenerateCheckpoints(eventID string, strategy classify.Strategy, start, end *time.Time, description string) []Checkpoint {
	if start == nil || end == nil {
		var s time.Time
		if start != nil {
			s = *start
		}
		return []Checkpoint{fullSpan(eventID, s, end)}
	}
	s, e := start.UTC(), end.UTC()
	if e.Before(s) {
		e = s
	}
	text := strings.ToLower(description)

	switch strategy {
	case classify.DayBased:
		return dayCheckpoints(eventID, s, e)
	case classify.SessionBased:
		return sessionCheckpoints(eventID, s, e, text)
	case classify.MilestoneBased:
		return milestoneCheckpoints(eventID, s, e, text)
	case classify.Continuous:
		return continuousCheckpoints(eventID, s, e)
	default:
		return []Checkpoint{fullSpan(eventID, s, &e)}
	}
}

func fullSpan(eventID string, start time.Time, end *time.Time) Checkpoint {
	return Checkpoint{
		ID:        CheckpointID(eventID, 0),
		Name:      "Event attendance",
		Kind:      KindSession,
		Start:     start,
		End:       end,
		Mandatory: true,
		Weight:    1,
	}
}

func dayCheckpoints(eventID string, s, e time.Time) []Checkpoint {
	days := classify.CalendarDays(s, e)
	y, m, d := s.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	out := make([]Checkpoint, 0, days)
	for i := 0; i < days; i++ {
		from := midnight.AddDate(0, 0, i)
		to := midnight.AddDate(0, 0, i+1)
		if from.Before(s) {
			from = s
		}
		if to.After(e) {
			to = e
		}
		out = append(out, Checkpoint{
			ID:        CheckpointID(eventID, i),
			Name:      fmt.Sprintf("Day %d", i+1),
			Kind:      KindDay,
			Start:     from,
			End:       timeRef(to),
			Mandatory: true,
			Weight:    1,
		})
	}
	return out
}

// phaseNames reads "three rounds", "round 2" or "phase" markers from the
// description. Nil means no explicit markers.
func phaseNames(text string) []string {
	label, count := "", 0
	for _, m := range countedMarker.FindAllStringSubmatch(text, -1) {
		n, ok := numberWords[m[1]]
		if !ok {
			n, _ = strconv.Atoi(m[1])
		}
		if n > count {
			label, count = strings.TrimSuffix(m[2], "s"), n
		}
	}
	for _, m := range indexedMarker.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(m[2])
		if n > count {
			label, count = m[1], n
		}
	}
	if count == 0 {
		if m := bareMarker.FindStringSubmatch(text); m != nil {
			label, count = strings.TrimSuffix(m[1], "s"), 1
		}
	}
	if count == 0 {
		return nil
	}
	if count > maxPhases {
		count = maxPhases
	}
	title := strings.ToUpper(label[:1]) + label[1:]
	names := make([]string, count)
	for i := range names {
		names[i] = fmt.Sprintf("%s %d", title, i+1)
	}
	return names
}

func sessionCheckpoints(eventID string, s, e time.Time, text string) []Checkpoint {
	core := phaseNames(text)
	if core == nil {
		core = []string{"Main session"}
	}
	if presentation.MatchString(text) {
		core = append(core, "Presentations")
	}
	names := append([]string{"Opening"}, core...)
	names = append(names, "Closing and results")
	return split(eventID, s, e, names, KindSession)
}

type gate struct {
	name  string
	start time.Time
	end   *time.Time
}

func milestoneCheckpoints(eventID string, s, e time.Time, text string) []Checkpoint {
	span := e.Sub(s)
	gates := []gate{
		{"Registration confirmed", s, nil},
		{"Participation", s, timeRef(e)},
	}
	if submission.MatchString(text) {
		gates = append(gates, gate{"Submission", s.Add(span / 2), nil})
	}
	gates = append(gates, gate{"Completion", s.Add(span * 3 / 4), nil})

	out := make([]Checkpoint, len(gates))
	for i, g := range gates {
		out[i] = Checkpoint{
			ID:        CheckpointID(eventID, i),
			Name:      g.name,
			Kind:      KindMilestone,
			Start:     g.start,
			End:       g.end,
			Mandatory: true,
			Weight:    1,
		}
	}
	return out
}

const week = 7 * 24 * time.Hour

func continuousCheckpoints(eventID string, s, e time.Time) []Checkpoint {
	span := e.Sub(s)
	if span >= 3*week {
		n := int(span / week)
		if span%week != 0 {
			n++
		}
		out := make([]Checkpoint, 0, n)
		for i := 0; i < n; i++ {
			from := s.Add(time.Duration(i) * week)
			to := from.Add(week)
			if to.After(e) {
				to = e
			}
			out = append(out, window(eventID, i, fmt.Sprintf("Week %d", i+1), from, to))
		}
		return out
	}
	return split(eventID, s, e, []string{"Check-in 1", "Check-in 2", "Check-in 3"}, KindWindow)
}

// split divides [s, e] evenly between the named checkpoints; the last one
// absorbs the rounding remainder.
func split(eventID string, s, e time.Time, names []string, kind CheckpointKind) []Checkpoint {
	step := e.Sub(s) / time.Duration(len(names))
	out := make([]Checkpoint, len(names))
	for i, name := range names {
		from := s.Add(time.Duration(i) * step)
		to := from.Add(step)
		if i == len(names)-1 {
			to = e
		}
		out[i] = window(eventID, i, name, from, to)
		out[i].Kind = kind
	}
	return out
}

func window(eventID string, i int, name string, from, to time.Time) Checkpoint {
	return Checkpoint{
		ID:        CheckpointID(eventID, i),
		Name:      name,
		Kind:      KindWindow,
		Start:     from,
		End:       timeRef(to),
		Mandatory: true,
		Weight:    1,
	}
}

func timeRef(t time.Time) *time.Time { return &t }
