package loyalty

import (
	"math"
	"strings"
)

// pointRates is the number of Unikko points earned per unit of currency
var pointRates = map[string]float64{
	"EUR": 1,
	"SEK": 0.1,
	"NOK": 0.1,
	"DKK": 0.1,
	"GBP": 1,
	"USD": 1,
	"AUD": 1,
	"NZD": 1,
}

// maxPoints bounds a single award so it fits every integer the pipeline uses
const maxPoints = math.MaxInt32

// PointRate returns the rate for a currency code, 0 when the currency earns nothing.
func PointRate(currency string) float64 {
	return pointRates[strings.ToUpper(strings.TrimSpace(currency))]
}

// CalculatePoints converts a paid amount into Unikko points.
// Fractions are truncated; unsupported currencies earn zero points.
func CalculatePoints(amount float64, currency string) (int, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, &ValidationError{Field: "amount", Reason: "must be a finite number"}
	}
	if amount < 0 {
		return 0, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}

	points := math.Trunc(amount * PointRate(currency))
	if points > maxPoints {
		return 0, &ValidationError{Field: "amount", Reason: "is too large"}
	}
	return int(points), nil
}
