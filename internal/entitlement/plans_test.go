package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitsUnknownPlanFallsBackToPro(t *testing.T) {
	assert.Equal(t, Limits(PlanPro), Limits("enterprise"))
	assert.Equal(t, Limits(PlanPro), Limits(""))
	assert.False(t, KnownPlan("enterprise"))
	assert.True(t, KnownPlan(PlanPrime))
}

func TestHardLimit(t *testing.T) {
	tests := []struct {
		name  string
		plan  string
		limit int64
		want  int64
	}{
		{"pro with grace", PlanPro, 1000, 1100},
		{"pro table limit", PlanPro, 2000, 2200},
		{"scale", PlanScale, 500000, 550000},
		{"zero limit", PlanPro, 0, 0},
		{"prime allows overage", PlanPrime, 1500000, Unbounded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Limits(tt.plan).HardLimit(tt.limit))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusTrial, StatusActive))
	assert.True(t, CanTransition(StatusTrialing, StatusBlocked))
	assert.True(t, CanTransition(StatusActive, StatusBlocked))
	assert.True(t, CanTransition(StatusBlocked, StatusActive))
	assert.True(t, CanTransition(StatusActive, StatusActive))
	assert.False(t, CanTransition(StatusActive, StatusTrial))
	assert.False(t, CanTransition(StatusBlocked, StatusTrialing))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("")
	assert.NoError(t, err)
	assert.Equal(t, StatusTrial, s)

	_, err = ParseStatus("paused")
	assert.Error(t, err)
}
