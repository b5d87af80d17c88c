package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/classify"
)

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestGenerateCheckpoints_SingleMark(t *testing.T) {
	end := monday.Add(2 * time.Hour)
	cps := GenerateCheckpoints("evt", classify.SingleMark, ptr(monday), ptr(end), "")

	require.Len(t, cps, 1)
	assert.True(t, cps[0].Mandatory)
	assert.Equal(t, 1.0, cps[0].Weight)
	assert.True(t, cps[0].Start.Equal(monday))
	assert.True(t, cps[0].End.Equal(end))
}

func TestGenerateCheckpoints_DayBased(t *testing.T) {
	friday := time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC)
	cps := GenerateCheckpoints("evt", classify.DayBased, ptr(monday), ptr(friday), "")

	require.Len(t, cps, 5)
	assert.Equal(t, "Day 1", cps[0].Name)
	assert.Equal(t, "Day 5", cps[4].Name)
	// first day starts with the event, last day ends with it
	assert.True(t, cps[0].Start.Equal(monday))
	assert.True(t, cps[4].End.Equal(friday))
	assert.True(t, cps[1].Start.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)))
	for _, cp := range cps {
		assert.Equal(t, KindDay, cp.Kind)
		assert.True(t, cp.Mandatory)
		assert.Equal(t, 1.0, cp.Weight)
	}
}

func TestGenerateCheckpoints_DayBasedSameDay(t *testing.T) {
	cps := GenerateCheckpoints("evt", classify.DayBased, ptr(monday), ptr(monday.Add(time.Hour)), "")
	assert.Len(t, cps, 1)
}

func TestGenerateCheckpoints_SessionBased(t *testing.T) {
	end := monday.Add(10 * time.Hour)

	t.Run("default phases", func(t *testing.T) {
		cps := GenerateCheckpoints("evt", classify.SessionBased, ptr(monday), ptr(end), "a day of fun")
		names := checkpointNames(cps)
		assert.Equal(t, []string{"Opening", "Main session", "Closing and results"}, names)
	})

	t.Run("counted rounds and presentations", func(t *testing.T) {
		cps := GenerateCheckpoints("evt", classify.SessionBased, ptr(monday), ptr(end),
			"Three rounds of coding followed by final presentations")
		names := checkpointNames(cps)
		assert.Equal(t, []string{"Opening", "Round 1", "Round 2", "Round 3", "Presentations", "Closing and results"}, names)
	})

	t.Run("indexed phase", func(t *testing.T) {
		cps := GenerateCheckpoints("evt", classify.SessionBased, ptr(monday), ptr(end), "phase 1 ideation, phase 2 build")
		assert.Equal(t, []string{"Opening", "Phase 1", "Phase 2", "Closing and results"}, checkpointNames(cps))
	})

	t.Run("windows tile the event", func(t *testing.T) {
		cps := GenerateCheckpoints("evt", classify.SessionBased, ptr(monday), ptr(end), "")
		assert.True(t, cps[0].Start.Equal(monday))
		for i := 1; i < len(cps); i++ {
			assert.True(t, cps[i].Start.Equal(*cps[i-1].End))
		}
		assert.True(t, cps[len(cps)-1].End.Equal(end))
	})
}

func TestGenerateCheckpoints_MilestoneBased(t *testing.T) {
	end := monday.Add(8 * time.Hour)
	cps := GenerateCheckpoints("evt", classify.MilestoneBased, ptr(monday), ptr(end), "")
	assert.Equal(t, []string{"Registration confirmed", "Participation", "Completion"}, checkpointNames(cps))

	cps = GenerateCheckpoints("evt", classify.MilestoneBased, ptr(monday), ptr(end), "project submission and awards")
	assert.Equal(t, []string{"Registration confirmed", "Participation", "Submission", "Completion"}, checkpointNames(cps))
	for _, cp := range cps {
		assert.Equal(t, KindMilestone, cp.Kind)
	}
	assert.Nil(t, cps[0].End)
}

func TestGenerateCheckpoints_Continuous(t *testing.T) {
	t.Run("weekly for long programs", func(t *testing.T) {
		end := monday.Add(8 * week)
		cps := GenerateCheckpoints("evt", classify.Continuous, ptr(monday), ptr(end), "")
		require.Len(t, cps, 8)
		assert.Equal(t, "Week 1", cps[0].Name)
		assert.True(t, cps[7].End.Equal(end))
	})

	t.Run("partial last week", func(t *testing.T) {
		end := monday.Add(3*week + 2*24*time.Hour)
		cps := GenerateCheckpoints("evt", classify.Continuous, ptr(monday), ptr(end), "")
		require.Len(t, cps, 4)
		assert.True(t, cps[3].End.Equal(end))
	})

	t.Run("three windows for short spans", func(t *testing.T) {
		end := monday.Add(10 * 24 * time.Hour)
		cps := GenerateCheckpoints("evt", classify.Continuous, ptr(monday), ptr(end), "")
		require.Len(t, cps, 3)
		assert.Equal(t, KindWindow, cps[0].Kind)
	})
}

func TestGenerateCheckpoints_FallbackWithoutWindow(t *testing.T) {
	for _, s := range classify.Priority {
		cps := GenerateCheckpoints("evt", s, nil, nil, "three rounds")
		require.Len(t, cps, 1, s)
		assert.True(t, cps[0].Mandatory)
	}
}

func TestGenerateCheckpoints_EndBeforeStart(t *testing.T) {
	cps := GenerateCheckpoints("evt", classify.DayBased, ptr(monday), ptr(monday.Add(-48*time.Hour)), "")
	require.Len(t, cps, 1)
}

func TestGenerateCheckpoints_WeightAlwaysPositive(t *testing.T) {
	spans := []time.Duration{0, time.Hour, 30 * time.Hour, 5 * 24 * time.Hour, 12 * week}
	for _, s := range classify.Priority {
		for _, d := range spans {
			cfg := Config{Checkpoints: GenerateCheckpoints("evt", s, ptr(monday), ptr(monday.Add(d)), "rounds and submissions")}
			assert.Greater(t, cfg.TotalWeight(), 0.0, "%s over %s", s, d)
		}
	}
}

func TestGenerateCheckpoints_StableIDs(t *testing.T) {
	end := monday.Add(4 * 24 * time.Hour)
	a := GenerateCheckpoints("evt-42", classify.DayBased, ptr(monday), ptr(end), "")
	b := GenerateCheckpoints("evt-42", classify.DayBased, ptr(monday), ptr(end), "")
	c := GenerateCheckpoints("evt-43", classify.DayBased, ptr(monday), ptr(end), "")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0].ID, c[0].ID)
	assert.Equal(t, CheckpointID("evt-42", 2), a[2].ID)

	seen := map[string]bool{}
	for _, cp := range a {
		assert.False(t, seen[cp.ID])
		seen[cp.ID] = true
	}
}

func checkpointNames(cps []Checkpoint) []string {
	out := make([]string, len(cps))
	for i, cp := range cps {
		out[i] = cp.Name
	}
	return out
}
