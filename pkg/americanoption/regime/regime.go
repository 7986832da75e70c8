// Package regime classifies an American option's early-exercise structure
// from its market parameters. This is the spec's C2 component: it decides,
// ahead of any boundary computation, whether the option has no early
// exercise, a single exercise boundary, or the double-boundary structure
// that arises when both the risk-free rate and the dividend yield are
// negative.
package regime

import (
	"math"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/mathkernel"
)

// Tag enumerates the exercise regimes a (r, q, sigma, payoff) tuple can fall
// into.
type Tag int

const (
	// NoEarlyExercise means the American value equals the European value;
	// immediate exercise is never optimal.
	NoEarlyExercise Tag = iota
	// SingleBoundaryPositive is the classical r>=0, q>=0 American put
	// (mirrored for calls) regime with one monotone exercise boundary.
	SingleBoundaryPositive
	// SingleBoundaryNegativeDividend is the r>=0, q<0 American put regime
	// (mirrored for calls), still a single boundary.
	SingleBoundaryNegativeDividend
	// DoubleBoundaryNegativeRates is the put regime with r<0 and q<r,
	// producing two coupled boundaries when sigma <= sigma*.
	DoubleBoundaryNegativeRates
	// DoubleBoundaryPositiveRatesCall is the call mirror of
	// DoubleBoundaryNegativeRates: 0 < r < q.
	DoubleBoundaryPositiveRatesCall
)

// String returns a short, stable identifier for the regime, suitable for
// use as the "regime_tag" / "method_tag" field in detailed results.
func (t Tag) String() string {
	switch t {
	case NoEarlyExercise:
		return "no_early_exercise"
	case SingleBoundaryPositive:
		return "single_boundary_positive"
	case SingleBoundaryNegativeDividend:
		return "single_boundary_negative_dividend"
	case DoubleBoundaryNegativeRates:
		return "double_boundary_negative_rates"
	case DoubleBoundaryPositiveRatesCall:
		return "double_boundary_positive_rates_call"
	default:
		return "unknown"
	}
}

// IsDoubleBoundary reports whether the regime requires the FP-B' refiner.
func (t Tag) IsDoubleBoundary() bool {
	return t == DoubleBoundaryNegativeRates || t == DoubleBoundaryPositiveRatesCall
}

// DefaultHysteresis is the engineering-choice hysteresis width (5bp) the
// spec applies against the r=0 frontier to avoid regime flips when r
// brushes zero between successive pricings (§4.2, §9 "hysteresis width is
// an engineering choice ... leave configurable").
const DefaultHysteresis = 5e-4

// Classify returns the regime for the given market parameters and payoff,
// together with the critical volatility sigma* when the double-boundary
// test is evaluated (zero otherwise). hysteresis is the epsilon applied
// against the r=0 frontier; pass regime.DefaultHysteresis for the spec's
// default of 5bp.
func Classify(r, q, sigma float64, payoff mathkernel.Payoff, hysteresis float64) (tag Tag, sigmaStar float64) {
	if payoff == mathkernel.Call {
		return classifyCall(r, q, sigma, hysteresis)
	}
	return classifyPut(r, q, sigma, hysteresis)
}

// classifyPut implements the put decision table from §4.2 verbatim.
func classifyPut(r, q, sigma, eps float64) (Tag, float64) {
	if r < -eps && q < r-eps {
		star := criticalVolatility(r, q)
		if sigma <= star {
			return DoubleBoundaryNegativeRates, star
		}
		return NoEarlyExercise, star
	}
	if r >= 0 && q >= 0 {
		return SingleBoundaryPositive, 0
	}
	if r >= 0 && q < 0 {
		return SingleBoundaryNegativeDividend, 0
	}
	if r <= q && q < 0 {
		return NoEarlyExercise, 0
	}
	// Narrow band -eps <= r < 0 not otherwise classified: this band is
	// economically indistinguishable from r=0 at this tolerance, so it is
	// classified exactly as r=0 would be.
	if q < 0 {
		return SingleBoundaryNegativeDividend, 0
	}
	return SingleBoundaryPositive, 0
}

// classifyCall implements the call mirror of §4.2: swap the roles of r and
// q, and invert the direction of the double-boundary test so that it fires
// for 0 < r < q (positive rates) rather than the put's q < r < 0.
func classifyCall(r, q, sigma, eps float64) (Tag, float64) {
	if r > eps && q > r+eps {
		star := criticalVolatilityPositive(r, q)
		if sigma <= star {
			return DoubleBoundaryPositiveRatesCall, star
		}
		return NoEarlyExercise, star
	}
	if r >= 0 && q >= 0 {
		return SingleBoundaryPositive, 0
	}
	if r < -eps && q >= 0 {
		return SingleBoundaryNegativeDividend, 0
	}
	if q < 0 {
		return NoEarlyExercise, 0
	}
	return SingleBoundaryPositive, 0
}

// criticalVolatility returns sigma* = |sqrt(-2r) - sqrt(-2q)|, the threshold
// below which the double-boundary regime exists (requires r, q < 0).
func criticalVolatility(r, q float64) float64 {
	a := math.Sqrt(math.Max(-2*r, 0))
	b := math.Sqrt(math.Max(-2*q, 0))
	return math.Abs(a - b)
}

// CriticalVolatility exposes criticalVolatility for callers that need
// sigma* directly (e.g. the sigma* round-trip law in §8).
func CriticalVolatility(r, q float64) float64 {
	return criticalVolatility(r, q)
}

// criticalVolatilityPositive returns sigma* = |sqrt(2r) - sqrt(2q)|, the
// call-side mirror of criticalVolatility (requires r, q > 0).
func criticalVolatilityPositive(r, q float64) float64 {
	a := math.Sqrt(math.Max(2*r, 0))
	b := math.Sqrt(math.Max(2*q, 0))
	return math.Abs(a - b)
}
