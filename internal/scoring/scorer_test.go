package scoring

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer(t *testing.T) (*Scorer, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	s := NewScorer(DefaultConfig())
	s.now = func() time.Time { return clock }
	s.Reset()
	return s, &clock
}

func TestUpdate_Classification(t *testing.T) {
	tests := []struct {
		name          string
		speed, accel  float64
		expectedEvent Event
		expectedScore float64
	}{
		{"cruising", 80, 0.5, EventNormal, 100},
		{"harsh brake", 60, -6, EventHarshBrake, 98},
		{"threshold brake is not harsh", 60, -5, EventNormal, 100},
		{"aggressive acceleration", 60, 3.5, EventAggressiveAccel, 98.5},
		{"threshold acceleration is not aggressive", 60, 3, EventNormal, 100},
		{"speeding", 130, 0, EventSpeeding, 99.5},
		{"threshold speed is not speeding", 120, 0, EventNormal, 100},
		{"brake outranks speeding", 130, -6, EventHarshBrake, 97.5},
		{"acceleration outranks speeding", 130, 4, EventAggressiveAccel, 98},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, _ := newTestScorer(t)
			score, event := s.Update(test.speed, test.accel)
			assert.Equal(t, test.expectedEvent, event)
			assert.InDelta(t, test.expectedScore, score, 1e-9)
		})
	}
}

func TestUpdate_BrakeWhileSpeedingCountsBoth(t *testing.T) {
	s, _ := newTestScorer(t)

	score, event := s.Update(130, -6.0)

	assert.Equal(t, EventHarshBrake, event)
	assert.InDelta(t, 97.5, score, 1e-9)
	summary := s.Summary()
	assert.Equal(t, 1, summary.HarshBrakeCount)
	assert.Equal(t, 1, summary.SpeedingCount)
	assert.Equal(t, 0, summary.AggressiveAccelCount)
	assert.Equal(t, 2, summary.TotalEvents)
}

func TestUpdate_RecoveryNeverExceedsMax(t *testing.T) {
	s, _ := newTestScorer(t)
	s.score = 99.9

	prev := s.Score()
	for i := 0; i < 10; i++ {
		score, event := s.Update(50, 0)
		require.Equal(t, EventNormal, event)
		assert.GreaterOrEqual(t, score, prev)
		assert.LessOrEqual(t, score, MaxScore)
		prev = score
	}
	assert.InDelta(t, MaxScore, s.Score(), 1e-9)

	for i := 0; i < 5; i++ {
		s.Update(50, 0)
	}
	assert.Equal(t, MaxScore, s.Score())
}

func TestUpdate_SpeedingDoesNotRecover(t *testing.T) {
	s, _ := newTestScorer(t)
	s.score = 90

	score, event := s.Update(125, 0)

	assert.Equal(t, EventSpeeding, event)
	assert.InDelta(t, 89.5, score, 1e-9)
}

func TestUpdate_ScoreStaysInRange(t *testing.T) {
	s, _ := newTestScorer(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		speed := rng.Float64() * 200
		accel := rng.Float64()*20 - 10
		score, _ := s.Update(speed, accel)
		require.GreaterOrEqual(t, score, 0.0)
		require.LessOrEqual(t, score, MaxScore)
	}

	for i := 0; i < 200; i++ {
		s.Update(200, -10)
	}
	assert.Equal(t, 0.0, s.Score())
}

func TestGrade(t *testing.T) {
	tests := []struct {
		score    float64
		expected string
	}{
		{100, "A+"},
		{95, "A+"},
		{94.99, "A"},
		{90, "A"},
		{89.99, "B+"},
		{85, "B+"},
		{80, "B"},
		{75, "C+"},
		{70, "C"},
		{65, "D"},
		{64.99, "F"},
		{0, "F"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, Grade(test.score), "score %.2f", test.score)
	}
}

func TestSummary(t *testing.T) {
	s, clock := newTestScorer(t)

	empty := s.Summary()
	assert.Equal(t, MaxScore, empty.AverageScore)
	assert.Equal(t, "A+", empty.Grade)
	assert.Zero(t, empty.Duration)

	s.Update(60, -6)  // 98
	s.Update(60, 3.5) // 96.5
	*clock = clock.Add(90 * time.Second)

	summary := s.Summary()
	assert.InDelta(t, 96.5, summary.CurrentScore, 1e-9)
	assert.InDelta(t, (98+96.5)/2, summary.AverageScore, 1e-9)
	assert.Equal(t, 1, summary.HarshBrakeCount)
	assert.Equal(t, 1, summary.AggressiveAccelCount)
	assert.Equal(t, 2, summary.TotalEvents)
	assert.Equal(t, 90*time.Second, summary.Duration)
}

func TestSummary_AverageUsesBoundedHistory(t *testing.T) {
	s, _ := newTestScorer(t)
	for i := 0; i < 50; i++ {
		s.Update(200, -10)
	}
	for i := 0; i < ScoreHistorySize; i++ {
		s.Update(50, 0)
	}

	summary := s.Summary()
	assert.Greater(t, summary.AverageScore, 0.0)
	assert.Less(t, summary.AverageScore, 1.01)
}

func TestReset(t *testing.T) {
	s, _ := newTestScorer(t)
	s.Update(130, -6)
	s.Reset()

	summary := s.Summary()
	assert.Equal(t, MaxScore, summary.CurrentScore)
	assert.Equal(t, MaxScore, summary.AverageScore)
	assert.Zero(t, summary.TotalEvents)
}
