package americanoption

import (
	"math"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/fpbprime"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/mathkernel"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/qdplus"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/regime"
)

// nearExpiryThreshold is the maturity below which QD+ and FP-B' are
// skipped in favor of an analytic near-expiry approximation, since the
// QD+ asymptotic expansion is numerically unreliable that close to
// expiry. 3 trading days, in years.
const nearExpiryThreshold = 3.0 / 252.0

// premiumQuadratureNodes is the node count for the early-exercise-premium
// integral, kept distinct from FP-B's own 64-node integrals per the
// open question on whether the two should be unified.
const premiumQuadratureNodes = 50

// SingleBoundaryEngine is the plug-in interface for an external, mature
// single-boundary American option pricer. The core invokes it for the
// single-boundary regimes without further knowledge of its internals;
// callers may supply any implementation of this one method.
type SingleBoundaryEngine interface {
	Price(inputs MarketInputs) (float64, error)
}

// Pricer orchestrates the regime analyzer, QD+ and FP-B' into the
// external price()/price_with_details() entry points. It holds no mutable
// state across calls - every pricing call is independent and allocates
// only the scratch arrays the call itself needs.
type Pricer struct {
	// SingleBoundary is the plug-in engine used for SingleBoundaryPositive
	// and SingleBoundaryNegativeDividend. If nil, NewPricer's caller did
	// not supply one and Price/PriceWithDetails return a PricingError for
	// any input that classifies into a single-boundary regime.
	SingleBoundary SingleBoundaryEngine

	// Hysteresis overrides regime.DefaultHysteresis; zero selects the
	// default.
	Hysteresis float64
}

// NewPricer constructs a Pricer with the given single-boundary plug-in
// engine (may be nil if the caller never prices single-boundary regimes).
func NewPricer(singleBoundary SingleBoundaryEngine) *Pricer {
	return &Pricer{SingleBoundary: singleBoundary}
}

// Price returns the American option price for inputs, classifying the
// regime and dispatching to the appropriate component.
func (p *Pricer) Price(inputs MarketInputs) (float64, error) {
	price, _, err := p.PriceWithDetails(inputs)
	return price, err
}

// PriceWithDetails returns the price together with the BoundaryResult
// (regime tag folded into Method for NoEarlyExercise/single-boundary
// regimes, since those never compute a boundary curve).
func (p *Pricer) PriceWithDetails(inputs MarketInputs) (float64, BoundaryResult, error) {
	hysteresis := p.Hysteresis
	if hysteresis == 0 {
		hysteresis = regime.DefaultHysteresis
	}

	tag, _ := regime.Classify(inputs.Rate, inputs.DividendYield, inputs.Volatility, inputs.Payoff, hysteresis)

	switch tag {
	case regime.NoEarlyExercise:
		price := mathkernel.EuropeanValue(inputs.Payoff, inputs.Spot, inputs.Strike, inputs.MaturityYears, inputs.Rate, inputs.DividendYield, inputs.Volatility)
		return price, BoundaryResult{Method: tag.String(), Converged: true}, nil

	case regime.SingleBoundaryPositive, regime.SingleBoundaryNegativeDividend:
		return p.priceSingleBoundary(inputs, tag)

	default: // DoubleBoundaryNegativeRates, DoubleBoundaryPositiveRatesCall
		return p.priceDoubleBoundary(inputs, tag)
	}
}

func (p *Pricer) priceSingleBoundary(inputs MarketInputs, tag regime.Tag) (float64, BoundaryResult, error) {
	if p.SingleBoundary == nil {
		return 0, BoundaryResult{Method: tag.String()}, &PricingError{
			Kind: NumericalBreakdown,
			Err:  errNoSingleBoundaryEngine,
		}
	}
	price, err := p.SingleBoundary.Price(inputs)
	if err != nil {
		return 0, BoundaryResult{Method: tag.String()}, &PricingError{Kind: NumericalBreakdown, Err: err}
	}
	return price, BoundaryResult{Method: tag.String(), Converged: true}, nil
}

func (p *Pricer) priceDoubleBoundary(inputs MarketInputs, tag regime.Tag) (float64, BoundaryResult, error) {
	m := inputs.CollocationPoints
	if m == 0 {
		m = DefaultCollocationPoints
	}

	seed := qdplus.Estimate(inputs.Payoff, inputs.Strike, inputs.MaturityYears, inputs.Rate, inputs.DividendYield, inputs.Volatility)

	// Immediate-exercise shortcut: the spot already lies in the exercise
	// region implied by the initial (QD+) boundaries.
	if inputs.Payoff == Put && inputs.Spot <= seed.Lower {
		return mathkernel.Intrinsic(inputs.Payoff, inputs.Spot, inputs.Strike), BoundaryResult{Method: "immediate_exercise", Converged: true}, nil
	}
	if inputs.Payoff == Call && inputs.Spot >= seed.Upper {
		return mathkernel.Intrinsic(inputs.Payoff, inputs.Spot, inputs.Strike), BoundaryResult{Method: "immediate_exercise", Converged: true}, nil
	}

	if inputs.MaturityYears < nearExpiryThreshold {
		return p.priceNearExpiry(inputs, tag)
	}

	if !inputs.UseRefinement {
		price := p.priceFromConstantBoundaries(inputs, seed.Upper, seed.Lower)
		curve := func(v float64) BoundaryCurve {
			return BoundaryCurve{TauGrid: []float64{0, inputs.MaturityYears}, Values: []float64{v, v}}
		}
		return price, BoundaryResult{
			Upper:     curve(seed.Upper),
			Lower:     curve(seed.Lower),
			Method:    "qdplus_seed_only",
			Converged: true,
		}, nil
	}

	refined := fpbprime.Refine(inputs.Payoff, inputs.Strike, inputs.MaturityYears, inputs.Rate, inputs.DividendYield, inputs.Volatility, m, seed)

	price := p.priceFromRefinedBoundaries(inputs, refined)

	result := BoundaryResult{
		Upper:        BoundaryCurve{TauGrid: refined.TauGrid, Values: refined.Upper},
		Lower:        BoundaryCurve{TauGrid: refined.TauGrid, Values: refined.Lower},
		CrossingTime: refined.CrossingTau,
		Method:       "fpbprime",
		Iterations:   refined.Iterations,
		Converged:    refined.Converged,
		MaxResidual:  refined.MaxResidual,
	}

	if math.IsNaN(price) || math.IsNaN(refined.MaxResidual) {
		return price, result, &PricingError{
			Kind: NumericalBreakdown,
			Err:  errRefinerNaN,
		}
	}
	if !refined.Converged {
		return price, result, &PricingError{
			Kind: NonConvergence,
			Err:  errRefinerDidNotConverge,
		}
	}
	return price, result, nil
}

func (p *Pricer) priceNearExpiry(inputs MarketInputs, tag regime.Tag) (float64, BoundaryResult, error) {
	k := inputs.Strike
	t := inputs.MaturityYears
	sqrtT := math.Sqrt(math.Max(t, 0))
	var upper, lower float64
	if inputs.Payoff == Put {
		upper = k * (1 - 0.3*inputs.Volatility*sqrtT)
		lower = k * (1 - inputs.Volatility*sqrtT)
	} else {
		upper = k * (1 + inputs.Volatility*sqrtT)
		lower = k * (1 + 0.3*inputs.Volatility*sqrtT)
	}

	intrinsic := mathkernel.Intrinsic(inputs.Payoff, inputs.Spot, inputs.Strike)
	correction := p.priceFromConstantBoundaries(inputs, upper, lower) - mathkernel.EuropeanValue(inputs.Payoff, inputs.Spot, inputs.Strike, t, inputs.Rate, inputs.DividendYield, inputs.Volatility)
	if correction < 0 {
		correction = 0
	}

	curve := func(v float64) BoundaryCurve {
		return BoundaryCurve{TauGrid: []float64{0, t}, Values: []float64{v, v}}
	}

	return intrinsic + correction, BoundaryResult{
		Upper:     curve(upper),
		Lower:     curve(lower),
		Method:    "near_expiry_" + tag.String(),
		Converged: true,
	}, nil
}

// priceFromConstantBoundaries prices via the European-value-plus-EEP
// decomposition, treating upper/lower as constant across [0, T] (used by
// the near-expiry branch and when refinement is disabled).
func (p *Pricer) priceFromConstantBoundaries(inputs MarketInputs, upper, lower float64) float64 {
	ve := mathkernel.EuropeanValue(inputs.Payoff, inputs.Spot, inputs.Strike, inputs.MaturityYears, inputs.Rate, inputs.DividendYield, inputs.Volatility)
	eep := earlyExercisePremium(inputs, func(float64) float64 { return upper }, func(float64) float64 { return lower })
	return ve + eep
}

// priceFromRefinedBoundaries prices via the decomposition using the
// FP-B'-refined curves, interpolated at each EEP integration node.
func (p *Pricer) priceFromRefinedBoundaries(inputs MarketInputs, refined fpbprime.Result) float64 {
	ve := mathkernel.EuropeanValue(inputs.Payoff, inputs.Spot, inputs.Strike, inputs.MaturityYears, inputs.Rate, inputs.DividendYield, inputs.Volatility)

	upperAt := func(t float64) float64 {
		return interpolate(refined.TauGrid, refined.Upper, inputs.MaturityYears-t)
	}
	lowerAt := func(t float64) float64 {
		return interpolate(refined.TauGrid, refined.Lower, inputs.MaturityYears-t)
	}
	eep := earlyExercisePremium(inputs, upperAt, lowerAt)
	return ve + eep
}

// earlyExercisePremium integrates the EEP term from 0 to T by the
// midpoint rule on premiumQuadratureNodes subintervals:
//
//	r*K*e^{-rt}*[Phi(-d2(S,U(t),t)) - Phi(-d2(S,L(t),t))]
//	  - q*S*e^{-qt}*[Phi(-d1(S,U(t),t)) - Phi(-d1(S,L(t),t))]
func earlyExercisePremium(inputs MarketInputs, upperAt, lowerAt func(float64) float64) float64 {
	s, k, r, q, sigma := inputs.Spot, inputs.Strike, inputs.Rate, inputs.DividendYield, inputs.Volatility
	integrand := func(t float64) float64 {
		u := upperAt(t)
		l := lowerAt(t)
		rTerm := r * k * math.Exp(-r*t) * (mathkernel.NormCDF(-mathkernel.D2(s, u, t, r, q, sigma)) - mathkernel.NormCDF(-mathkernel.D2(s, l, t, r, q, sigma)))
		qTerm := q * s * math.Exp(-q*t) * (mathkernel.NormCDF(-mathkernel.D1(s, u, t, r, q, sigma)) - mathkernel.NormCDF(-mathkernel.D1(s, l, t, r, q, sigma)))
		return rTerm - qTerm
	}
	eep := mathkernel.MidpointQuadrature(integrand, 0, inputs.MaturityYears, premiumQuadratureNodes)
	if inputs.Payoff == Put {
		return eep
	}
	return -eep
}

func interpolate(tauGrid, values []float64, tau float64) float64 {
	n := len(tauGrid)
	if n == 0 {
		return 0
	}
	if tau <= tauGrid[0] {
		return values[0]
	}
	if tau >= tauGrid[n-1] {
		return values[n-1]
	}
	for i := 1; i < n; i++ {
		if tau <= tauGrid[i] {
			t0, t1 := tauGrid[i-1], tauGrid[i]
			v0, v1 := values[i-1], values[i]
			w := (tau - t0) / (t1 - t0)
			return v0 + w*(v1-v0)
		}
	}
	return values[n-1]
}
