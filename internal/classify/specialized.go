package classify

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Archetype is a named high-priority event kind recognised by an
// exact or near-exact phrase. Bonus is added on top of the rule-bank score.
type Archetype struct {
	Name     string
	Strategy Strategy
	Pattern  *regexp.Regexp
	Bonus    float64
}

var specializedRules = []Rule{
	rule(SingleMark, `\bthesis defen[cs]e\b`, 1),
	rule(SingleMark, `\bviva( voce)?\b`, 1),
	rule(SingleMark, `\b(convocation|graduation)\b`, 1),
	rule(SingleMark, `\b(guest lecture|invited talk|panel discussion)\b`, 1),
	rule(SessionBased, `\bhackathon\b`, 1),
	rule(SessionBased, `\bplacement drive\b`, 1),
	rule(SessionBased, `\bcampus (recruitment|placement|hiring)\b`, 1),
	rule(SessionBased, `\bcoding (contest|competition|challenge)\b`, 1),
	rule(SessionBased, `\b(debate|moot court|model united nations)\b`, 1),
	rule(SessionBased, `\binterview rounds?\b`, 1),
	rule(DayBased, `\bboot ?camp\b`, 1),
	rule(DayBased, `\b(summer|winter) school\b`, 1),
	rule(DayBased, `\btraining camp\b`, 1),
	rule(DayBased, `\bfaculty development program(me)?\b`, 1),
	rule(DayBased, `\bsports meet\b`, 1),
	rule(MilestoneBased, `\bscience fair\b`, 1),
	rule(MilestoneBased, `\bproject (expo|exhibition|showcase)\b`, 1),
	rule(MilestoneBased, `\b(startup pitch|capstone|design challenge)\b`, 1),
	rule(Continuous, `\bresearch internship\b`, 1),
	rule(Continuous, `\binternship\b`, 1),
	rule(Continuous, `\b(fellowship|mentorship program(me)?)\b`, 1),
	rule(Continuous, `\b(research|incubation) program(me)?\b`, 1),
}

// Archetypes are checked after the rule bank; every one that matches adds its bonus.
var Archetypes = []Archetype{
	{Name: "thesis_defense", Strategy: SingleMark, Pattern: regexp.MustCompile(`\b(ph\.?d\.? |master'?s )?thesis defen[cs]e\b`), Bonus: 10},
	{Name: "viva", Strategy: SingleMark, Pattern: regexp.MustCompile(`\bviva( voce)?\b`), Bonus: 8},
	{Name: "convocation", Strategy: SingleMark, Pattern: regexp.MustCompile(`\bconvocation\b`), Bonus: 8},
	{Name: "hackathon", Strategy: SessionBased, Pattern: regexp.MustCompile(`\bhackathon\b`), Bonus: 9},
	{Name: "placement_drive", Strategy: SessionBased, Pattern: regexp.MustCompile(`\b(placement|recruitment) drive\b`), Bonus: 9},
	{Name: "coding_contest", Strategy: SessionBased, Pattern: regexp.MustCompile(`\bcoding (contest|competition)\b`), Bonus: 7},
	{Name: "bootcamp", Strategy: DayBased, Pattern: regexp.MustCompile(`\bboot ?camp\b`), Bonus: 7},
	{Name: "science_fair", Strategy: MilestoneBased, Pattern: regexp.MustCompile(`\bscience fair\b`), Bonus: 8},
	{Name: "research_internship", Strategy: Continuous, Pattern: regexp.MustCompile(`\bresearch internship\b`), Bonus: 10},
}

// Specialization is the output of MatchSpecialized.
type Specialization struct {
	HasMatch   bool     `json:"has_match"`
	Strategy   Strategy `json:"strategy,omitempty"`
	Confidence float64  `json:"confidence"`
	Scores     Scores   `json:"scores"`
	Archetypes []string `json:"archetypes,omitempty"`
	Reasoning  string   `json:"reasoning"`
}

// MatchSpecialized looks for niche event archetypes in the event text.
func MatchSpecialized(text string) Specialization {
	text = normalize(text)
	scores, fired := scan(specializedRules, text)

	var names []string
	for _, a := range Archetypes {
		if a.Pattern.MatchString(text) {
			scores[a.Strategy] += a.Bonus
			names = append(names, a.Name)
		}
	}

	best, top, second := scores.Best()
	if top <= 0 {
		return Specialization{Scores: scores, Reasoning: "no specialized archetype detected"}
	}
	if second < 0 {
		second = 0
	}
	confidence := math.Min(0.95, top/(top+second+2))

	sort.Strings(names)
	reason := fmt.Sprintf("specialized patterns favour %s (score %.1f, %d rule hits)", best, top, len(fired))
	if len(names) > 0 {
		reason += "; archetypes: " + strings.Join(names, ", ")
	}
	return Specialization{
		HasMatch:   true,
		Strategy:   best,
		Confidence: round2(confidence),
		Scores:     scores,
		Archetypes: names,
		Reasoning:  reason,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
