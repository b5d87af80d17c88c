package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"campusevents/internal/apperr"
	"campusevents/internal/classify"
)

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		return Config{
			EventID:  "evt",
			Strategy: classify.SessionBased,
			Checkpoints: []Checkpoint{
				{ID: "a", Name: "Opening", Kind: KindSession, Start: monday, Mandatory: true, Weight: 1},
				{ID: "b", Name: "Closing", Kind: KindSession, Start: monday, Mandatory: true, Weight: 2},
				{ID: "c", Name: "Social", Kind: KindWindow, Start: monday},
			},
			Criteria: Criteria{MinPercentage: 75, MinMandatory: 2},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "unknown strategy", mutate: func(c *Config) { c.Strategy = "weekly" }},
		{name: "no checkpoints", mutate: func(c *Config) { c.Checkpoints = nil }},
		{name: "missing name", mutate: func(c *Config) { c.Checkpoints[0].Name = "" }},
		{name: "bad kind", mutate: func(c *Config) { c.Checkpoints[0].Kind = "hour" }},
		{name: "duplicate id", mutate: func(c *Config) { c.Checkpoints[1].ID = "a" }},
		{name: "ends before start", mutate: func(c *Config) {
			end := monday.Add(-1)
			c.Checkpoints[0].End = &end
		}},
		{name: "mandatory without weight", mutate: func(c *Config) { c.Checkpoints[0].Weight = 0 }},
		{name: "optional with weight", mutate: func(c *Config) { c.Checkpoints[2].Weight = 1 }},
		{name: "negative weight", mutate: func(c *Config) { c.Checkpoints[0].Weight = -1 }},
		{name: "threshold over 100", mutate: func(c *Config) { c.Criteria.MinPercentage = 101 }},
		{name: "too many mandatory required", mutate: func(c *Config) { c.Criteria.MinMandatory = 3 }},
		{name: "zero total weight", mutate: func(c *Config) {
			c.Checkpoints = []Checkpoint{{ID: "x", Name: "Optional", Kind: KindWindow, Start: monday}}
			c.Criteria.MinMandatory = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidEligibility)
		})
	}
}

func TestValidateConfig_GeneratedConfigsAreValid(t *testing.T) {
	end := monday.Add(30 * 24 * time.Hour)
	for _, s := range classify.Priority {
		cfg := Config{
			EventID:     "evt",
			Strategy:    s,
			Checkpoints: GenerateCheckpoints("evt", s, ptr(monday), &end, "three rounds with project submission and presentations"),
		}
		assert.NoError(t, ValidateConfig(cfg), s)
	}
}
