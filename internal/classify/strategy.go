// Package classify decides how attendance is tracked for an event. Every
// decision is a deterministic scan of declarative rule tables, so identical
// input always yields identical output.
package classify

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Strategy is the attendance tracking mode of an event.
type Strategy string

const (
	SingleMark     Strategy = "single_mark"
	DayBased       Strategy = "day_based"
	SessionBased   Strategy = "session_based"
	MilestoneBased Strategy = "milestone_based"
	Continuous     Strategy = "continuous"
)

// Priority is the tie-break order used whenever two strategies score equally.
var Priority = []Strategy{SingleMark, SessionBased, DayBased, MilestoneBased, Continuous}

// ParseStrategy validates a user supplied strategy name.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range Priority {
		if p == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// Scores holds one score per strategy.
type Scores map[Strategy]float64

func newScores() Scores {
	s := make(Scores, len(Priority))
	for _, p := range Priority {
		s[p] = 0
	}
	return s
}

// Best returns the leading strategy, its score and the runner-up score.
// Ties resolve toward the earlier entry in Priority.
func (s Scores) Best() (Strategy, float64, float64) {
	best := Priority[0]
	for _, p := range Priority[1:] {
		if s[p] > s[best] {
			best = p
		}
	}
	second := math.Inf(-1)
	for _, p := range Priority {
		if p != best && s[p] > second {
			second = s[p]
		}
	}
	return best, s[best], second
}

// Rule is one row of a rule bank: a pattern hit adds Weight to Strategy.
type Rule struct {
	Strategy Strategy
	Pattern  *regexp.Regexp
	Weight   float64
}

func rule(s Strategy, pattern string, weight float64) Rule {
	return Rule{Strategy: s, Pattern: regexp.MustCompile(pattern), Weight: weight}
}

// Hits counts non-overlapping matches of the rule in text.
func (r Rule) Hits(text string) int {
	return len(r.Pattern.FindAllStringIndex(text, -1))
}

// scan applies a rule bank once and returns per-strategy scores plus the
// patterns that fired, in table order.
func scan(rules []Rule, text string) (Scores, []string) {
	scores := newScores()
	var fired []string
	for _, r := range rules {
		if n := r.Hits(text); n > 0 {
			scores[r.Strategy] += float64(n) * r.Weight
			fired = append(fired, r.Pattern.String())
		}
	}
	return scores, fired
}

func normalize(parts ...string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
}
