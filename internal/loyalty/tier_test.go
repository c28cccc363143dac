package loyalty

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTier_Boundaries(t *testing.T) {
	tests := []struct {
		points int
		want   Tier
	}{
		{0, TierNone},
		{1, TierLevel1},
		{499, TierLevel1},
		{500, TierLevel2},
		{999, TierLevel2},
		{1000, TierLevel3},
		{1_000_000, TierLevel3},
	}

	for _, tt := range tests {
		got, err := ResolveTier(tt.points)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "points %d", tt.points)
	}
}

func TestResolveTier_Monotonic(t *testing.T) {
	rank := map[Tier]int{TierNone: 0, TierLevel1: 1, TierLevel2: 2, TierLevel3: 3}

	prev := TierNone
	for points := 0; points <= 1500; points++ {
		tier, err := ResolveTier(points)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rank[tier], rank[prev], "tier dropped at %d", points)
		prev = tier
	}
}

func TestResolveTier_NegativeIsValidationError(t *testing.T) {
	_, err := ResolveTier(-1)
	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr))
}
