package fpbprime_test

import (
	"testing"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/fpbprime"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/mathkernel"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/qdplus"
)

func TestRefineConvergesAndOrders(t *testing.T) {
	k, maturity, r, q, sigma := 100.0, 0.5, -0.01, -0.02, 0.15
	seed := qdplus.Estimate(mathkernel.Put, k, maturity, r, q, sigma)

	result := fpbprime.Refine(mathkernel.Put, k, maturity, r, q, sigma, 50, seed)

	if len(result.Upper) != 50 || len(result.Lower) != 50 || len(result.TauGrid) != 50 {
		t.Fatalf("expected 50-node arrays, got upper=%d lower=%d tauGrid=%d", len(result.Upper), len(result.Lower), len(result.TauGrid))
	}
	if result.Iterations < 1 || result.Iterations > 32 {
		t.Errorf("Iterations out of bounds: %d", result.Iterations)
	}
	if !result.Converged {
		t.Errorf("expected the refiner to converge, MaxResidual=%v", result.MaxResidual)
	}
	for i, tau := range result.TauGrid {
		if tau < result.CrossingTau-1e-9 {
			if result.Upper[i] != result.Lower[i] {
				t.Errorf("node %d (tau=%v) below crossing time %v should have upper==lower, got upper=%v lower=%v", i, tau, result.CrossingTau, result.Upper[i], result.Lower[i])
			}
		} else if result.Lower[i] > result.Upper[i]+1e-6 {
			t.Errorf("node %d: lower (%v) exceeds upper (%v) above crossing time", i, result.Lower[i], result.Upper[i])
		}
		if result.Upper[i] > k+1e-6 {
			t.Errorf("node %d: put upper boundary %v exceeds K=%v", i, result.Upper[i], k)
		}
	}
}

func TestRefineMaxResidualRecorded(t *testing.T) {
	k, maturity, r, q, sigma := 100.0, 0.5, -0.01, -0.02, 0.15
	seed := qdplus.Estimate(mathkernel.Put, k, maturity, r, q, sigma)
	result := fpbprime.Refine(mathkernel.Put, k, maturity, r, q, sigma, 50, seed)
	if result.MaxResidual < 0 {
		t.Errorf("MaxResidual should be non-negative, got %v", result.MaxResidual)
	}
}

func TestRefineSmallGridStillCompletes(t *testing.T) {
	k, maturity, r, q, sigma := 100.0, 0.5, -0.01, -0.02, 0.15
	seed := qdplus.Estimate(mathkernel.Put, k, maturity, r, q, sigma)
	result := fpbprime.Refine(mathkernel.Put, k, maturity, r, q, sigma, 8, seed)
	if len(result.Upper) != 8 {
		t.Fatalf("expected 8-node grid, got %d", len(result.Upper))
	}
}
