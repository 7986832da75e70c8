// Package qdplus produces the QD+ (quadratic-approximation-plus) initial
// boundary estimate the FP-B' refiner seeds from. It solves the
// characteristic quadratic for the two roots that govern the upper and
// lower exercise boundaries, then roots the resulting boundary equation
// with a Super-Halley iteration (Newton fallback near-degenerate points).
// Each step is taken in full and clamped to [0.01K, 3K]; no damping factor
// is applied.
package qdplus

import (
	"math"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/mathkernel"
)

// Seed is the pair of initial boundary estimates QD+ hands to the FP-B'
// refiner for a single tau (conventionally tau = T, the coarsest seed).
type Seed struct {
	Upper float64
	Lower float64
}

// maxIterations bounds the Super-Halley/Newton root search.
const maxIterations = 100

// clampLowFactor and clampHighFactor bound S during the search to [0.01K, 3K].
const clampLowFactor = 0.01
const clampHighFactor = 3.0

// fdStep is the relative step used for the central-difference estimate of
// f' and f'' the Super-Halley iteration needs; the characteristic equation
// has no convenient closed-form derivative once c0 folds in the European
// value and theta, so the derivatives are estimated numerically.
const fdStep = 1e-4

// Estimate computes the QD+ seed pair for the given payoff at (k, tau, r, q,
// sigma). Near expiry (|h| < 1e-12) it falls back to the analytic
// near-expiry approximation rather than rooting the singular quadratic.
// Ordering and economic constraints are enforced before returning: puts
// clamp upper <= k and lower >= 0; calls clamp upper >= k; an ill-ordered
// pair falls back to a volatility-scaled heuristic.
func Estimate(payoff mathkernel.Payoff, k, tau, r, q, sigma float64) Seed {
	h := 1 - math.Exp(-r*tau)
	if math.Abs(h) < 1e-12 {
		return enforceConstraints(payoff, k, nearExpirySeed(payoff, k, tau, sigma))
	}

	lambdaLower, lambdaUpper, ok := characteristicRoots(r, q, sigma, h)
	if !ok {
		return enforceConstraints(payoff, k, nearExpirySeed(payoff, k, tau, sigma))
	}

	upperGuess := initialGuess(payoff, upperSide, k, r, q)
	lowerGuess := initialGuess(payoff, lowerSide, k, r, q)

	upper := solve(payoff, lambdaUpper, k, tau, r, q, sigma, upperGuess)
	lower := solve(payoff, lambdaLower, k, tau, r, q, sigma, lowerGuess)

	return enforceConstraints(payoff, k, Seed{Upper: upper, Lower: lower})
}

type side int

const (
	upperSide side = iota
	lowerSide
)

// characteristicRoots solves lambda^2 + (beta-1)*lambda - 2*alpha*beta/h = 0
// for its two roots. The smaller root seeds the upper boundary, the larger
// seeds the lower, per the spec's "smaller lambda seeds upper" rule. ok is
// false when the discriminant is negative (degenerate parameter region);
// callers fall back to the near-expiry analytic seed in that case.
func characteristicRoots(r, q, sigma, h float64) (lambdaLower, lambdaUpper float64, ok bool) {
	sigma2 := sigma * sigma
	alpha := 2 * r / sigma2
	beta := 2 * (r - q) / sigma2

	b := beta - 1
	disc := b*b + 8*alpha*beta/h
	if disc < 0 {
		return 0, 0, false
	}
	sqrtDisc := math.Sqrt(disc)
	root1 := (-b + sqrtDisc) / 2
	root2 := (-b - sqrtDisc) / 2

	// lambdaLower takes the larger root, lambdaUpper the smaller.
	if root1 >= root2 {
		return root1, root2, true
	}
	return root2, root1, true
}

// initialGuess returns the generalized starting point for the boundary
// solver, per payoff and side.
func initialGuess(payoff mathkernel.Payoff, s side, k, r, q float64) float64 {
	if payoff == mathkernel.Put {
		if s == upperSide {
			return 0.95 * k
		}
		if r < 0 && q < 0 {
			return k * (r / q) * 0.9
		}
		return 0.5 * k
	}
	// Call.
	if s == upperSide {
		if r > 0 && q > 0 {
			return k * (r / q) * 1.1
		}
		return 1.5 * k
	}
	return 1.05 * k
}

// exerciseValue returns the payoff's intrinsic direction, S-K for calls,
// K-S for puts, without clamping to zero (the characteristic equation
// needs the signed excess, not the floor-at-zero intrinsic).
func exerciseValue(payoff mathkernel.Payoff, s, k float64) float64 {
	if payoff == mathkernel.Call {
		return s - k
	}
	return k - s
}

// f evaluates the QD+ boundary equation S^lambda - K^lambda*exp(c0(S)).
func f(payoff mathkernel.Payoff, s, lambda, k, tau, r, q, sigma float64) float64 {
	return math.Pow(s, lambda) - math.Pow(k, lambda)*math.Exp(c0(payoff, s, k, tau, r, q, sigma, lambda))
}

// c0 is the Healy eq. 10 correction term, combining the characteristic
// root with the European theta and the intrinsic exercise excess at S.
func c0(payoff mathkernel.Payoff, s, k, tau, r, q, sigma, lambda float64) float64 {
	ve := mathkernel.EuropeanValue(payoff, s, k, tau, r, q, sigma)
	theta := mathkernel.EuropeanTheta(payoff, s, k, tau, r, q, sigma)
	premium := exerciseValue(payoff, s, k) - ve
	if premium <= 1e-12 {
		premium = 1e-12
	}
	h := 1 - math.Exp(-r*tau)
	rSafe := r
	if math.Abs(rSafe) < 1e-8 {
		rSafe = math.Copysign(1e-8, rSafe)
	}
	correction := (h * theta) / (rSafe * premium * lambda)
	return math.Log(premium*lambda/s) - correction
}

// solve roots f(S) = 0 for S via Super-Halley with Newton fallback, taking
// each step in full (undamped), clamping to [0.01K, 3K] and applying the
// spurious-root rejection rule.
// The upper/lower distinction lives entirely in lambda's sign and the
// caller-supplied initial guess; solve itself is side-agnostic.
func solve(payoff mathkernel.Payoff, lambda, k, tau, r, q, sigma, initial float64) float64 {
	lo := clampLowFactor * k
	hi := clampHighFactor * k
	s := clamp(initial, lo, hi)

	tol := 1e-8
	if lambda < 0 {
		tol = 1e-8 * math.Max(1, math.Abs(math.Pow(s, lambda)))
	}

	for iter := 0; iter < maxIterations; iter++ {
		fv := f(payoff, s, lambda, k, tau, r, q, sigma)
		if math.Abs(fv) < tol || math.IsNaN(fv) {
			break
		}
		fp, fpp := derivatives(payoff, s, lambda, k, tau, r, q, sigma)
		if fp == 0 || math.IsNaN(fp) {
			break
		}
		lf := fv * fpp / (fp * fp)
		var step float64
		if math.Abs(1-lf) < 1e-12 {
			step = fv / fp
		} else {
			step = (fv / fp) * (1 + lf/(2*(1-lf)))
		}
		next := s - step
		next = clamp(next, lo, hi)
		if math.IsNaN(next) || math.IsInf(next, 0) {
			break
		}
		s = next
	}

	if math.IsNaN(s) || s <= 0 {
		return initial
	}

	// Spurious-root rejection: the equation has a trivial root at S=K and
	// divergent iterates far from the true boundary.
	if math.Abs(s-k)/k < 0.05 {
		return initial
	}
	if math.Abs(s-initial) > 0.5*initial {
		return initial
	}
	return s
}

// derivatives estimates f' and f'' by central finite differences; the
// characteristic equation's c0 term folds in the European value and theta,
// which have no convenient closed-form S-derivative.
func derivatives(payoff mathkernel.Payoff, s, lambda, k, tau, r, q, sigma float64) (fp, fpp float64) {
	step := fdStep * math.Max(s, 1)
	fPlus := f(payoff, s+step, lambda, k, tau, r, q, sigma)
	fMinus := f(payoff, s-step, lambda, k, tau, r, q, sigma)
	fMid := f(payoff, s, lambda, k, tau, r, q, sigma)
	fp = (fPlus - fMinus) / (2 * step)
	fpp = (fPlus - 2*fMid + fMinus) / (step * step)
	return fp, fpp
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// nearExpirySeed returns the analytic near-expiry approximation used both
// when |h| < 1e-12 and as the fallback when the characteristic quadratic
// has no real roots.
func nearExpirySeed(payoff mathkernel.Payoff, k, tau, sigma float64) Seed {
	sqrtTau := math.Sqrt(math.Max(tau, 0))
	if payoff == mathkernel.Put {
		return Seed{
			Upper: k * (1 - 0.2*sigma*sqrtTau),
			Lower: k * (0.5 + 0.1*sigma*sqrtTau),
		}
	}
	return Seed{
		Upper: k * (1 + 0.2*sigma*sqrtTau),
		Lower: k * (1.5 - 0.1*sigma*sqrtTau),
	}
}

// enforceConstraints applies the payoff-specific ordering/economic clamps
// and falls back to a volatility-scaled heuristic pair when the result is
// ill-ordered (lower >= upper).
func enforceConstraints(payoff mathkernel.Payoff, k float64, seed Seed) Seed {
	if payoff == mathkernel.Put {
		if seed.Upper > k {
			seed.Upper = k
		}
		if seed.Lower < 0 {
			seed.Lower = 0
		}
		if seed.Lower >= seed.Upper {
			return Seed{Upper: 0.9 * k, Lower: 0.6 * k}
		}
		return seed
	}
	if seed.Upper < k {
		seed.Upper = k
	}
	if seed.Lower <= 0 {
		seed.Lower = 0.5 * k
	}
	if seed.Lower >= seed.Upper {
		return Seed{Upper: 1.4 * k, Lower: 1.1 * k}
	}
	return seed
}
