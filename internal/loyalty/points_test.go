package loyalty

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatePoints(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		currency string
		want     int
	}{
		{"EUR full rate", 100, "EUR", 100},
		{"USD full rate", 100, "USD", 100},
		{"SEK tenth rate", 100, "SEK", 10},
		{"lowercase currency", 100, "sek", 10},
		{"fraction truncated", 99.99, "EUR", 99},
		{"tenth rate truncated", 19, "NOK", 1},
		{"below one point", 9, "DKK", 0},
		{"unsupported currency", 100, "JPY", 0},
		{"empty currency", 100, "", 0},
		{"zero amount", 0, "EUR", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculatePoints(tt.amount, tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculatePoints_MatchesRateTable(t *testing.T) {
	amounts := []float64{0, 1, 12.5, 100, 250.75, 999.99, 12345}
	for currency, rate := range pointRates {
		for _, amount := range amounts {
			got, err := CalculatePoints(amount, currency)
			require.NoError(t, err)
			assert.Equal(t, int(math.Floor(amount*rate)), got, "%v %s", amount, currency)
		}
	}
}

func TestCalculatePoints_RejectsMalformedAmounts(t *testing.T) {
	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -5, 1e19, 1e300, math.MaxInt32 + 1} {
		_, err := CalculatePoints(amount, "EUR")
		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr), "amount %v", amount)
		assert.Equal(t, "amount", validationErr.Field)
	}
}

func TestCalculatePoints_LargestAward(t *testing.T) {
	points, err := CalculatePoints(math.MaxInt32, "EUR")
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt32, points)

	// The bound applies to points, not to the amount
	points, err = CalculatePoints(1e10, "SEK")
	require.NoError(t, err)
	assert.Equal(t, int(1e9), points)

	points, err = CalculatePoints(1e300, "JPY")
	require.NoError(t, err)
	assert.Equal(t, 0, points)
}
