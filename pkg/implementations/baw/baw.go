// Package baw implements the Barone-Adesi-Whaley quadratic approximation
// for American options, used as the default single-boundary engine the
// core's Pricer plugs into its SingleBoundaryEngine interface for the
// SingleBoundaryPositive and SingleBoundaryNegativeDividend regimes. BAW
// solves for a single critical exercise price by the same quadratic
// characteristic-root algebra the core's own QD+ approximator generalizes
// to the double-boundary case (the two share a derivation; BAW is the
// r,q >= 0 special case).
package baw

import (
	"errors"
	"math"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/mathkernel"
)

// Engine is a Barone-Adesi-Whaley single-boundary American option pricer.
// It has no fields and no mutable state; the zero value is ready to use.
type Engine struct{}

// maxIterations bounds the Newton search for the critical exercise price.
const maxIterations = 100
const newtonTol = 1e-10

// Price implements americanoption.SingleBoundaryEngine.
func (Engine) Price(inputs americanoption.MarketInputs) (float64, error) {
	s, k, tau, r, q, sigma := inputs.Spot, inputs.Strike, inputs.MaturityYears, inputs.Rate, inputs.DividendYield, inputs.Volatility

	if tau < 1e-10 {
		return mathkernel.Intrinsic(inputs.Payoff, s, k), nil
	}

	if inputs.Payoff == americanoption.Call {
		return priceCall(s, k, tau, r, q, sigma)
	}
	return pricePut(s, k, tau, r, q, sigma)
}

func priceCall(s, k, tau, r, q, sigma float64) (float64, error) {
	m := 2 * r / (sigma * sigma)
	n := 2 * (r - q) / (sigma * sigma)
	h := 1 - math.Exp(-r*tau)
	disc := (n-1)*(n-1) + 4*m/h
	if disc < 0 {
		return 0, errors.New("baw: negative discriminant in call characteristic root")
	}
	q2 := (-(n - 1) + math.Sqrt(disc)) / 2

	sStar, err := solveCriticalPrice(americanoption.Call, k, tau, r, q, sigma, q2, 1.5*k)
	if err != nil {
		return 0, err
	}

	if s >= sStar {
		return s - k, nil
	}
	euro := mathkernel.EuropeanValue(americanoption.Call, s, k, tau, r, q, sigma)
	d1Star := mathkernel.D1(sStar, k, tau, r, q, sigma)
	a2 := (sStar / q2) * (1 - math.Exp(-q*tau)*mathkernel.NormCDF(d1Star))
	return euro + a2*math.Pow(s/sStar, q2), nil
}

func pricePut(s, k, tau, r, q, sigma float64) (float64, error) {
	m := 2 * r / (sigma * sigma)
	n := 2 * (r - q) / (sigma * sigma)
	h := 1 - math.Exp(-r*tau)
	disc := (n-1)*(n-1) + 4*m/h
	if disc < 0 {
		return 0, errors.New("baw: negative discriminant in put characteristic root")
	}
	q1 := (-(n - 1) - math.Sqrt(disc)) / 2

	sStarStar, err := solveCriticalPrice(americanoption.Put, k, tau, r, q, sigma, q1, 0.5*k)
	if err != nil {
		return 0, err
	}

	if s <= sStarStar {
		return k - s, nil
	}
	euro := mathkernel.EuropeanValue(americanoption.Put, s, k, tau, r, q, sigma)
	d1Star := mathkernel.D1(sStarStar, k, tau, r, q, sigma)
	a1 := -(sStarStar / q1) * (1 - math.Exp(-q*tau)*mathkernel.NormCDF(-d1Star))
	return euro + a1*math.Pow(s/sStarStar, q1), nil
}

// solveCriticalPrice finds the critical exercise price via Newton
// iteration on the BAW boundary condition:
//
//	call: S* - K - c(S*) - (1 - e^{-qT}*N(d1(S*)))*S*/q2 = 0
//	put:  K - S** - p(S**) + (1 - e^{-qT}*N(-d1(S**)))*S**/q1 = 0
func solveCriticalPrice(payoff mathkernel.Payoff, k, tau, r, q, sigma, qRoot, initial float64) (float64, error) {
	s := initial
	for i := 0; i < maxIterations; i++ {
		euro := mathkernel.EuropeanValue(payoff, s, k, tau, r, q, sigma)
		d1 := mathkernel.D1(s, k, tau, r, q, sigma)

		var fv, fp float64
		if payoff == mathkernel.Call {
			nd1 := mathkernel.NormCDF(d1)
			lhs := s - k - euro - (1-math.Exp(-q*tau)*nd1)*s/qRoot
			fv = lhs
			fp = 1 - mathkernel.NormCDF(d1)*math.Exp(-q*tau) - (1/qRoot)*(1-math.Exp(-q*tau)*nd1) + (math.Exp(-q*tau)*mathkernel.NormPDF(d1))/(sigma*math.Sqrt(tau))*s/qRoot
		} else {
			nd1 := mathkernel.NormCDF(-d1)
			lhs := k - s - euro + (1-math.Exp(-q*tau)*nd1)*s/qRoot
			fv = lhs
			fp = -1 + mathkernel.NormCDF(-d1)*math.Exp(-q*tau) + (1/qRoot)*(1-math.Exp(-q*tau)*nd1) + (math.Exp(-q*tau)*mathkernel.NormPDF(d1))/(sigma*math.Sqrt(tau))*s/qRoot
		}

		if fp == 0 || math.IsNaN(fp) {
			break
		}
		next := s - fv/fp
		if next <= 0.01*k {
			next = 0.01 * k
		}
		if next >= 10*k {
			next = 10 * k
		}
		if math.Abs(next-s) < newtonTol {
			s = next
			break
		}
		s = next
	}
	if math.IsNaN(s) || s <= 0 {
		return 0, errors.New("baw: critical price search diverged")
	}
	return s, nil
}
