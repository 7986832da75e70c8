package qdplus_test

import (
	"testing"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/mathkernel"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption/qdplus"
)

func TestEstimatePutDoubleBoundaryOrdering(t *testing.T) {
	seed := qdplus.Estimate(mathkernel.Put, 100, 0.5, -0.05, -0.10, 0.05)
	if seed.Lower >= seed.Upper {
		t.Errorf("put seed ill-ordered: lower=%v upper=%v", seed.Lower, seed.Upper)
	}
	if seed.Upper > 100 {
		t.Errorf("put upper must clamp to <= K: got %v", seed.Upper)
	}
	if seed.Lower < 0 {
		t.Errorf("put lower must clamp to >= 0: got %v", seed.Lower)
	}
}

func TestEstimateCallDoubleBoundaryOrdering(t *testing.T) {
	seed := qdplus.Estimate(mathkernel.Call, 100, 0.5, 0.02, 0.10, 0.05)
	if seed.Lower >= seed.Upper {
		t.Errorf("call seed ill-ordered: lower=%v upper=%v", seed.Lower, seed.Upper)
	}
	if seed.Upper < 100 {
		t.Errorf("call upper must clamp to >= K: got %v", seed.Upper)
	}
}

func TestEstimateNearExpiry(t *testing.T) {
	seed := qdplus.Estimate(mathkernel.Put, 100, 1e-13, -0.01, -0.02, 0.2)
	if seed.Lower >= seed.Upper {
		t.Errorf("near-expiry put seed ill-ordered: lower=%v upper=%v", seed.Lower, seed.Upper)
	}
}

func TestEstimateSingleBoundaryRegimeStillProducesOrderedSeed(t *testing.T) {
	// Estimate has no knowledge of regime; callers in single-boundary
	// regimes won't invoke it at all, but it must stay well-behaved even
	// called with positive-rate parameters (defensive bound check).
	seed := qdplus.Estimate(mathkernel.Put, 100, 0.5, 0.05, 0.02, 0.2)
	if seed.Lower >= seed.Upper {
		t.Errorf("seed ill-ordered under positive-rate params: lower=%v upper=%v", seed.Lower, seed.Upper)
	}
}
