package classify

import (
	"fmt"
	"math"
	"strings"
	"time"

	"campusevents/internal/lifecycle"
)

// keywordRules drive the base score of every strategy.
var keywordRules = []Rule{
	rule(SingleMark, `\bguest lecture\b`, 1.5),
	rule(SingleMark, `\b(lecture|talk|seminar|webinar|keynote|orientation|assembly|screening)s?\b`, 1),
	rule(SingleMark, `\b(meeting|meetup|info session|q&a)\b`, 1),
	rule(SingleMark, `\b(one|single|half)[- ]day\b`, 1),
	rule(DayBased, `\b(\d+|two|three|four|five|six|seven)[- ]days?\b`, 1.5),
	rule(DayBased, `\bmulti[- ]day\b`, 1.5),
	rule(DayBased, `\bday \d+\b`, 1),
	rule(DayBased, `\b(daily|week[- ]long)\b`, 1),
	rule(DayBased, `\b(workshops?|festival|fest|boot ?camp|training (program|programme|camp))\b`, 1),
	rule(SessionBased, `\b(rounds?|sessions?|phases?|stages?|heats?)\b`, 1),
	rule(SessionBased, `\b(hackathon|competition|contest|quiz|tournament|olympiad)\b`, 1),
	rule(SessionBased, `\b(presentations?|qualifiers?|prelims?|semi[- ]?finals?)\b`, 1),
	rule(MilestoneBased, `\b(exhibition|showcase|ceremony|expo|fair)\b`, 1),
	rule(MilestoneBased, `\b(milestones?|deliverables?|submissions?|checkpoints?)\b`, 1),
	rule(MilestoneBased, `\b(project|capstone|portfolio)\b`, 0.5),
	rule(Continuous, `\b(internship|fellowship|mentorship|apprenticeship)\b`, 1.5),
	rule(Continuous, `\bresearch program(me)?\b`, 1.5),
	rule(Continuous, `\b(\d+|several|multiple)[- ](weeks?|months?)\b`, 1),
	rule(Continuous, `\b(semester[- ]long|ongoing|weekly|monthly|year[- ]long)\b`, 1),
}

// Weights tune how much each signal contributes. The pipeline is additive,
// so precedence between duration and specialized patterns is a matter of
// these numbers rather than a hard-coded order.
type Weights struct {
	Keyword            float64 `json:"keyword"`
	Duration           float64 `json:"duration"`
	VenueMax           float64 `json:"venue_max"`
	SpecialistAgree    float64 `json:"specialist_agree"`
	SpecialistDisagree float64 `json:"specialist_disagree"`
	// SpecialistPull is added (times confidence) to the specialized
	// recommendation when it disagrees with the leader. Off by default;
	// CLASSIFY_WEIGHT_SPECIALIST_PULL opts in.
	SpecialistPull float64 `json:"specialist_pull"`
}

// DefaultWeights returns the stock tuning.
func DefaultWeights() Weights {
	return Weights{
		Keyword:            1,
		Duration:           2,
		VenueMax:           3,
		SpecialistAgree:    3,
		SpecialistDisagree: -0.5,
		SpecialistPull:     0,
	}
}

// Input is the event metadata the classifier reads.
type Input struct {
	Name        string
	Type        string
	Description string
	Venue       string
	Capacity    *int
	Start       *time.Time
	End         *time.Time
}

// InputFromEvent extracts classifier input from an event document.
func InputFromEvent(e lifecycle.Event) Input {
	return Input{
		Name:        e.Name,
		Type:        e.Type,
		Description: e.Description,
		Venue:       e.Venue,
		Capacity:    e.VenueCapacity,
		Start:       e.Start,
		End:         e.End,
	}
}

// Result is the explained outcome of a classification.
type Result struct {
	Strategy       Strategy       `json:"strategy"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	Scores         Scores         `json:"scores"`
	SpanDays       int            `json:"span_days"`
	Venue          VenueAnalysis  `json:"venue_analysis"`
	Specialization Specialization `json:"specialization_analysis"`
}

// Classifier picks an attendance strategy. It holds no mutable state.
type Classifier struct {
	weights Weights
}

// New creates a classifier with the given weights.
func New(w Weights) *Classifier {
	return &Classifier{weights: w}
}

// Classify runs the scoring pipeline with the default weights.
func Classify(in Input) Result {
	return New(DefaultWeights()).Classify(in)
}

// Classify scores every strategy and returns the winner. It never fails:
// input without any signal falls back to single_mark.
func (c *Classifier) Classify(in Input) Result {
	w := c.weights
	text := normalize(in.Name, in.Type, in.Description)
	var reasons []string

	// 1. base keyword scoring
	scores, fired := scan(keywordRules, text)
	for k := range scores {
		scores[k] *= w.Keyword
	}
	if len(fired) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d keyword rules matched", len(fired)))
	}

	// 2. duration
	days := 0
	if in.Start != nil && in.End != nil {
		days = CalendarDays(*in.Start, *in.End)
	}
	switch {
	case days == 0:
		reasons = append(reasons, "event span unknown")
	case days <= 1:
		scores[SingleMark] += w.Duration
		scores[SessionBased] += w.Duration / 2
		reasons = append(reasons, "single-day event favours single_mark/session_based")
	case days <= 7:
		scores[DayBased] += w.Duration
		scores[SessionBased] += w.Duration / 2
		reasons = append(reasons, fmt.Sprintf("%d-day event favours day_based/session_based", days))
	default:
		scores[Continuous] += w.Duration
		reasons = append(reasons, fmt.Sprintf("%d-day event favours continuous", days))
	}

	// 3. venue bonus, only for strategies that already have evidence
	venue := ClassifyVenue(normalize(in.Venue, in.Name, in.Type, in.Description), in.Capacity)
	for _, s := range Priority {
		if scores[s] > 0 {
			scores[s] += venue.Suitability[s] * w.VenueMax
		}
	}
	reasons = append(reasons, venue.Reasoning)

	// 4. specialized archetypes
	spec := MatchSpecialized(text)
	if spec.HasMatch {
		leader, _, _ := scores.Best()
		if spec.Strategy == leader {
			scores[leader] += spec.Confidence * w.SpecialistAgree
			reasons = append(reasons, fmt.Sprintf("specialized match agrees with %s", leader))
		} else {
			scores[leader] += w.SpecialistDisagree
			scores[spec.Strategy] += spec.Confidence * w.SpecialistPull
			reasons = append(reasons, fmt.Sprintf("specialized match suggests %s over %s", spec.Strategy, leader))
		}
	}

	// 5. selection
	best, top, second := scores.Best()
	confidence := 0.0
	if top > 0 {
		confidence = math.Min(0.95, math.Max(0, top-second)/top)
	} else {
		best = SingleMark
		reasons = append(reasons, "no usable signal, defaulting to single_mark")
	}
	reasons = append(reasons, fmt.Sprintf("selected %s (score %.2f, runner-up %.2f)", best, top, math.Max(second, 0)))

	for k, v := range scores {
		scores[k] = round2(v)
	}
	return Result{
		Strategy:       best,
		Confidence:     round2(confidence),
		Reasoning:      strings.Join(reasons, "; "),
		Scores:         scores,
		SpanDays:       days,
		Venue:          venue,
		Specialization: spec,
	}
}

// CalendarDays counts the UTC calendar days touched by [start, end], minimum 1.
// A span that ends before it starts counts as a single day.
func CalendarDays(start, end time.Time) int {
	s := dateOf(start)
	e := dateOf(end)
	if e.Before(s) {
		return 1
	}
	return int(e.Sub(s).Hours()/24) + 1
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
