package model_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbilnica/fundwave-dapp/internal/model"
)

func TestGoalReached(t *testing.T) {
	tests := []struct {
		name    string
		goal    uint64
		pledged uint64
		want    bool
	}{
		{"exactly 80 percent", 10, 8, true},
		{"just below", 1_000, 799, false},
		{"nothing pledged", 10, 0, false},
		{"goal times eight wraps", 1<<61 + 1, 100_000_000, false},
		{"max goal just under 80 percent", model.MaxGoalLamports, model.MaxGoalLamports / 5 * 4, false},
		{"max goal fully pledged", model.MaxGoalLamports, model.MaxGoalLamports, true},
		{"pledged times ten wraps", 10, math.MaxUint64 / 5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &model.Campaign{Goal: tc.goal, Pledged: tc.pledged}
			assert.Equal(t, tc.want, c.GoalReached())
		})
	}
}

func TestValidateGoalBounds(t *testing.T) {
	in := model.CampaignInput{
		Name:        "Solar school",
		Description: "Panels for the village school roof",
		Goal:        model.MaxGoalLamports,
		Duration:    model.SecondsPerDay,
	}
	assert.NoError(t, in.Validate())

	in.Goal = model.MaxGoalLamports + 1
	assert.Error(t, in.Validate())
}
