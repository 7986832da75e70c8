// Package fpbprime implements the stabilized fixed-point boundary
// iteration (FP-B') that refines a QD+ seed into the pair of coupled
// early-exercise boundary curves for the double-boundary regimes. The
// defining asymmetry is that, within a single iteration, the upper curve
// is updated first and the lower curve's update reads the just-computed
// upper values; this removes the oscillation the naive symmetric FP-B
// scheme exhibits at long maturities.
//
// Grid convention: node i has tau_i = i*T/(m-1), increasing with i, so
// node 0 sits at expiry and node m-1 at the full input maturity. Crossing
// time ts is expressed on the same tau axis, and the collapsed region
// (upper == lower) is the contiguous band tau_i < ts starting at node 0 -
// this is the orientation the boundary-curve invariant (lower == upper for
// tau below the crossing time) is checked against.
package fpbprime

import (
	"math"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/mathkernel"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/qdplus"
)

// maxIterations and convergenceTol bound the fixed-point loop.
const maxIterations = 32
const convergenceTol = 1e-6

// quadratureNodes is the subinterval count for the FP-B' boundary
// integrals (distinct from the premium integral's node count; see the
// open question on unifying them).
const quadratureNodes = 64

// Result is the refined pair of boundary curves plus the refiner's
// diagnostics, destined for the pricer's BoundaryResult.
type Result struct {
	TauGrid     []float64
	Upper       []float64
	Lower       []float64
	CrossingTau float64
	Iterations  int
	Converged   bool
	MaxResidual float64
}

// Refine iterates the FP-B' fixed point starting from a constant seed
// pair, returning the converged (or best-effort, on non-convergence)
// boundary curves on an m-node grid.
func Refine(payoff mathkernel.Payoff, k, maturity, r, q, sigma float64, m int, seed qdplus.Seed) Result {
	tauGrid := make([]float64, m)
	for i := 0; i < m; i++ {
		tauGrid[i] = float64(i) * maturity / float64(m-1)
	}

	upper := constant(m, seed.Upper)
	lower := constant(m, seed.Lower)

	crossingTau := 0.0
	delta := math.Inf(1)
	iterations := 0

	for iterations = 1; iterations <= maxIterations; iterations++ {
		upperNext := make([]float64, m)
		lowerNext := make([]float64, m)
		baseNumer := make([]float64, m)

		// Pass 1: upper boundary, reading only the previous iteration's
		// arrays.
		for i := 0; i < m; i++ {
			tauI := tauGrid[i]
			if tauI < crossingTau {
				upperNext[i] = math.Min(upper[i], lower[i])
				continue
			}
			iN := boundaryIntegral(r, mathkernel.D2, upper[i], k, tauI, r, q, sigma, upper, lower, tauGrid)
			iD := boundaryIntegral(q, mathkernel.D1, upper[i], k, tauI, r, q, sigma, upper, lower, tauGrid)
			n := 1 - math.Exp(-r*tauI)*mathkernel.NormCDF(-mathkernel.D2(upper[i], k, tauI, r, q, sigma)) - iN
			d := 1 - math.Exp(-q*tauI)*mathkernel.NormCDF(-mathkernel.D1(upper[i], k, tauI, r, q, sigma)) - iD
			if d == 0 {
				d = 1e-12
			}
			baseNumer[i] = n
			upperNext[i] = k * n / d
		}

		// Pass 2: lower boundary, reading the just-computed upper values
		// per the FP-B' stabilization (Healy eqs. 34-35).
		for i := 0; i < m; i++ {
			tauI := tauGrid[i]
			if tauI < crossingTau {
				lowerNext[i] = upperNext[i]
				continue
			}
			idRefined := boundaryIntegral(q, mathkernel.D1, upperNext[i], k, tauI, r, q, sigma, upperNext, lower, tauGrid)
			nPrime := baseNumer[i] + (lower[i]/k)*idRefined
			dPrime := 1 - math.Exp(-q*tauI)*mathkernel.NormCDF(-mathkernel.D1(lower[i], k, tauI, r, q, sigma))
			if dPrime == 0 {
				dPrime = 1e-12
			}
			lowerNext[i] = k * nPrime / dPrime
		}

		// Crossing detection: the contiguous collapsed region starting at
		// expiry (node 0) where upper has fallen to or below lower.
		newCrossing := 0.0
		for i := 0; i < m; i++ {
			if upperNext[i] <= lowerNext[i]+1e-12 {
				newCrossing = tauGrid[i]
				continue
			}
			break
		}
		crossingTau = newCrossing
		for i := 0; i < m; i++ {
			if tauGrid[i] < crossingTau {
				v := math.Min(upperNext[i], lowerNext[i])
				upperNext[i] = v
				lowerNext[i] = v
			}
		}

		delta = 0
		for i := 0; i < m; i++ {
			du := math.Abs(upperNext[i]-upper[i]) / math.Max(upper[i], 1e-10)
			dl := math.Abs(lowerNext[i]-lower[i]) / math.Max(lower[i], 1e-10)
			delta = math.Max(delta, math.Max(du, dl))
		}

		upper, lower = upperNext, lowerNext

		if delta < convergenceTol {
			break
		}
	}

	converged := delta < convergenceTol
	if iterations > maxIterations {
		iterations = maxIterations
	}

	return Result{
		TauGrid:     tauGrid,
		Upper:       upper,
		Lower:       lower,
		CrossingTau: crossingTau,
		Iterations:  iterations,
		Converged:   converged,
		MaxResidual: delta,
	}
}

func constant(m int, v float64) []float64 {
	out := make([]float64, m)
	for i := range out {
		out[i] = v
	}
	return out
}

// boundaryIntegral evaluates the FP-B integral term
//
//	rate * integral_0^tauI of
//	  exp(-rate*(tauI-tau')) * [Phi(-d(uSpot,u(tau'),tauI-tau')) -
//	                            Phi(-d(uSpot,l(tau'),tauI-tau'))] d(tau')
//
// over the full range [0, tauI]; the crossing time does not narrow the
// range. It uses the midpoint rule on quadratureNodes subintervals, where u(.)/l(.)
// linearly interpolate the current upper/lower arrays. rate is r for the
// I_N integral (paired with d2) and q for I_D (paired with d1); dFunc
// selects which of mathkernel.D1/D2 the kernel uses.
func boundaryIntegral(rate float64, dFunc func(s, k, tau, r, q, sigma float64) float64, uSpot, k, tauI, r, q, sigma float64, uArr, lArr, tauGrid []float64) float64 {
	if tauI <= 0 {
		return 0
	}
	integrand := func(tauPrime float64) float64 {
		elapsed := tauI - tauPrime
		u := interpolate(tauGrid, uArr, tauPrime)
		l := interpolate(tauGrid, lArr, tauPrime)
		return rate * math.Exp(-rate*elapsed) * (mathkernel.NormCDF(-dFunc(uSpot, u, elapsed, r, q, sigma)) - mathkernel.NormCDF(-dFunc(uSpot, l, elapsed, r, q, sigma)))
	}
	return mathkernel.MidpointQuadrature(integrand, 0, tauI, quadratureNodes)
}

// interpolate linearly interpolates values over tauGrid at tau, clamping
// at both ends (no closed form is available for the boundary itself).
func interpolate(tauGrid, values []float64, tau float64) float64 {
	n := len(tauGrid)
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
