package americanoption

import "errors"

var (
	// errNoSingleBoundaryEngine is wrapped into a NumericalBreakdown
	// PricingError when a single-boundary regime is classified but the
	// Pricer was never given a SingleBoundaryEngine plug-in.
	errNoSingleBoundaryEngine = errors.New("no single-boundary engine configured for this regime")

	// errRefinerDidNotConverge is wrapped into the NonConvergence
	// PricingError returned alongside a still-usable best-effort price.
	errRefinerDidNotConverge = errors.New("fp-b' refiner exhausted its iteration budget before reaching tolerance")

	// errRefinerNaN is wrapped into the NumericalBreakdown PricingError
	// returned when the refined boundaries or the price come out NaN.
	errRefinerNaN = errors.New("fp-b' refiner produced NaN boundary values")
)
