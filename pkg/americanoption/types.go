// Package americanoption prices American-exercise vanilla options (calls
// and puts) under arbitrary interest-rate/dividend-yield regimes,
// including the double-boundary structure that arises when both the
// risk-free rate and the dividend yield are negative. It orchestrates the
// regime analyzer, the QD+ initial-boundary approximator and the FP-B'
// refiner into a single deterministic pricing function: a pure map from
// MarketInputs to price, with no I/O and no shared state (see Pricer).
package americanoption

import (
	"fmt"
	"math"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/mathkernel"
)

// Payoff re-exports mathkernel.Payoff so callers never need to import the
// math kernel directly just to build a MarketInputs.
type Payoff = mathkernel.Payoff

const (
	Call = mathkernel.Call
	Put  = mathkernel.Put
)

// MarketInputs is the immutable input to a single pricing call: scalar
// market parameters plus the two optional tunables the external interface
// names. Construct with NewMarketInputs, which enforces every invariant
// at the boundary - there is no partially-valid MarketInputs.
type MarketInputs struct {
	Spot           float64
	Strike         float64
	MaturityYears  float64
	Rate           float64
	DividendYield  float64
	Volatility     float64
	Payoff         Payoff

	// CollocationPoints is the FP-B' grid size m, in [8, 256]. Zero means
	// "use the default" (50).
	CollocationPoints int

	// UseRefinement, when false, skips FP-B' and prices double-boundary
	// regimes from the QD+ seed alone. Stored exactly as passed to
	// NewMarketInputs; the struct's zero value is false.
	UseRefinement bool
}

// DefaultCollocationPoints is the FP-B' grid size used when the caller
// does not specify one.
const DefaultCollocationPoints = 50

const minCollocationPoints = 8
const maxCollocationPoints = 256

// NewMarketInputs validates and constructs a MarketInputs. collocation
// points of 0 selects the default (50); pass a value in [8, 256] to
// override it. useRefinement is stored as given.
func NewMarketInputs(spot, strike, maturityYears, rate, dividendYield, volatility float64, payoff Payoff, collocationPoints int, useRefinement bool) (MarketInputs, error) {
	if !(spot > 0) || math.IsNaN(spot) || math.IsInf(spot, 0) {
		return MarketInputs{}, &PricingError{Kind: InvalidInput, Param: "spot", Err: fmt.Errorf("spot must be positive and finite, got %v", spot)}
	}
	if !(strike > 0) || math.IsNaN(strike) || math.IsInf(strike, 0) {
		return MarketInputs{}, &PricingError{Kind: InvalidInput, Param: "strike", Err: fmt.Errorf("strike must be positive and finite, got %v", strike)}
	}
	if !(maturityYears > 0) || math.IsNaN(maturityYears) || math.IsInf(maturityYears, 0) {
		return MarketInputs{}, &PricingError{Kind: InvalidInput, Param: "maturity_years", Err: fmt.Errorf("maturity_years must be positive and finite, got %v", maturityYears)}
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return MarketInputs{}, &PricingError{Kind: InvalidInput, Param: "rate", Err: fmt.Errorf("rate must be finite, got %v", rate)}
	}
	if math.IsNaN(dividendYield) || math.IsInf(dividendYield, 0) {
		return MarketInputs{}, &PricingError{Kind: InvalidInput, Param: "dividend_yield", Err: fmt.Errorf("dividend_yield must be finite, got %v", dividendYield)}
	}
	if !(volatility > 0) || math.IsNaN(volatility) || math.IsInf(volatility, 0) {
		return MarketInputs{}, &PricingError{Kind: InvalidInput, Param: "volatility", Err: fmt.Errorf("volatility must be positive and finite, got %v", volatility)}
	}
	if payoff != Call && payoff != Put {
		return MarketInputs{}, &PricingError{Kind: InvalidInput, Param: "payoff", Err: fmt.Errorf("payoff must be Call or Put")}
	}
	if collocationPoints == 0 {
		collocationPoints = DefaultCollocationPoints
	} else if collocationPoints < minCollocationPoints || collocationPoints > maxCollocationPoints {
		return MarketInputs{}, &PricingError{Kind: InvalidInput, Param: "collocation_points", Err: fmt.Errorf("collocation_points must be in [%d, %d], got %d", minCollocationPoints, maxCollocationPoints, collocationPoints)}
	}

	return MarketInputs{
		Spot:              spot,
		Strike:            strike,
		MaturityYears:     maturityYears,
		Rate:              rate,
		DividendYield:     dividendYield,
		Volatility:        volatility,
		Payoff:            payoff,
		CollocationPoints: collocationPoints,
		UseRefinement:     useRefinement,
	}, nil
}

// BoundaryCurve is a discretized boundary function of tau on an m-node
// grid, tau ascending: TauGrid[0] == 0 (expiry), TauGrid[m-1] == T (the
// full input maturity).
type BoundaryCurve struct {
	TauGrid []float64
	Values  []float64
}

// ValueAtMaturity returns the boundary value at tau == T (the last grid
// node), i.e. the boundary as seen from "now" with the full maturity
// still ahead. Returns 0 for an empty curve (regimes that never compute
// a boundary, e.g. NoEarlyExercise).
func (c BoundaryCurve) ValueAtMaturity() float64 {
	if len(c.Values) == 0 {
		return 0
	}
	return c.Values[len(c.Values)-1]
}

// BoundaryResult is C4's output and C5's consumed/re-exposed artifact:
// the refined upper/lower boundary curves plus the refiner's diagnostics.
// It is returned by value; the pricer does not retain it after the call
// that produced it returns.
type BoundaryResult struct {
	Upper        BoundaryCurve
	Lower        BoundaryCurve
	CrossingTime float64
	Method       string
	Iterations   int
	Converged    bool
	MaxResidual  float64
}

// Kind identifies which of the three error categories a PricingError
// belongs to.
type Kind int

const (
	// InvalidInput means a parameter failed a guard clause at entry;
	// fatal for the call.
	InvalidInput Kind = iota
	// NonConvergence means FP-B' exhausted its iteration budget without
	// reaching tolerance. Non-fatal: the caller still gets a price and a
	// BoundaryResult with Converged == false.
	NonConvergence
	// NumericalBreakdown means a divide-by-zero or NaN arose inside QD+ or
	// FP-B' despite the clamps.
	NumericalBreakdown
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NonConvergence:
		return "non_convergence"
	case NumericalBreakdown:
		return "numerical_breakdown"
	default:
		return "unknown"
	}
}

// PricingError is the engine's single tagged error type. Param names the
// offending field when applicable (may be empty); Err carries the wrapped
// cause. NonConvergence errors are informational: price() and
// price_with_details() still return a usable result alongside them.
type PricingError struct {
	Kind  Kind
	Param string
	Err   error
}

func (e *PricingError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Param, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PricingError) Unwrap() error {
	return e.Err
}
