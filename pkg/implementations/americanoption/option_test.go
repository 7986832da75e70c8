package americanoption_test

import (
	"context"
	"math"
	"testing"

	core "github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/implementations/americanoption"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/implementations/baw"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/mechanisms"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/primitives"
)

func newTestPricer() *core.Pricer {
	return core.NewPricer(baw.Engine{})
}

func TestNewOption(t *testing.T) {
	pricer := newTestPricer()

	tests := []struct {
		name          string
		optionID      string
		payoff        core.Payoff
		strikePrice   primitives.Price
		timeToExpiry  primitives.Decimal
		entryPrice    primitives.Price
		positionSize  primitives.Decimal
		pricer        *core.Pricer
		expectError   bool
		expectedError string
	}{
		{
			name:         "valid put",
			optionID:     "PUT-100",
			payoff:       core.Put,
			strikePrice:  primitives.MustPrice(primitives.NewDecimal(100)),
			timeToExpiry: primitives.NewDecimalFromFloat(0.5),
			entryPrice:   primitives.MustPrice(primitives.NewDecimal(5)),
			positionSize: primitives.NewDecimalFromFloat(1.0),
			pricer:       pricer,
			expectError:  false,
		},
		{
			name:          "empty optionID",
			optionID:      "",
			payoff:        core.Put,
			strikePrice:   primitives.MustPrice(primitives.NewDecimal(100)),
			timeToExpiry:  primitives.NewDecimalFromFloat(0.5),
			entryPrice:    primitives.MustPrice(primitives.NewDecimal(5)),
			positionSize:  primitives.NewDecimalFromFloat(1.0),
			pricer:        pricer,
			expectError:   true,
			expectedError: "optionID cannot be empty",
		},
		{
			name:          "zero strike",
			optionID:      "PUT-0",
			payoff:        core.Put,
			strikePrice:   primitives.ZeroPrice(),
			timeToExpiry:  primitives.NewDecimalFromFloat(0.5),
			entryPrice:    primitives.MustPrice(primitives.NewDecimal(5)),
			positionSize:  primitives.NewDecimalFromFloat(1.0),
			pricer:        pricer,
			expectError:   true,
			expectedError: americanoption.ErrInvalidStrike.Error(),
		},
		{
			name:          "negative time to expiry",
			optionID:      "PUT-100",
			payoff:        core.Put,
			strikePrice:   primitives.MustPrice(primitives.NewDecimal(100)),
			timeToExpiry:  primitives.NewDecimalFromFloat(-1.0),
			entryPrice:    primitives.MustPrice(primitives.NewDecimal(5)),
			positionSize:  primitives.NewDecimalFromFloat(1.0),
			pricer:        pricer,
			expectError:   true,
			expectedError: americanoption.ErrInvalidTimeToExpiry.Error(),
		},
		{
			name:          "nil pricer",
			optionID:      "PUT-100",
			payoff:        core.Put,
			strikePrice:   primitives.MustPrice(primitives.NewDecimal(100)),
			timeToExpiry:  primitives.NewDecimalFromFloat(0.5),
			entryPrice:    primitives.MustPrice(primitives.NewDecimal(5)),
			positionSize:  primitives.NewDecimalFromFloat(1.0),
			pricer:        nil,
			expectError:   true,
			expectedError: americanoption.ErrNoPricer.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := americanoption.NewOption(
				tt.optionID,
				tt.payoff,
				tt.strikePrice,
				primitives.Zero(),
				tt.timeToExpiry,
				tt.entryPrice,
				tt.positionSize,
				tt.pricer,
			)

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.expectedError != "" && err.Error() != tt.expectedError {
					t.Errorf("expected error %q, got %q", tt.expectedError, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opt.OptionID() != tt.optionID {
				t.Errorf("expected optionID %q, got %q", tt.optionID, opt.OptionID())
			}
		})
	}
}

// TestPriceMatchesSingleBoundaryRegime exercises the adapter's full path
// through the core Pricer for an r,q>=0 put, where the dividend yield is
// supplied on the Option rather than PriceParams.
func TestPriceMatchesSingleBoundaryRegime(t *testing.T) {
	opt, err := americanoption.NewOption(
		"PUT-100",
		core.Put,
		primitives.MustPrice(primitives.NewDecimal(100)),
		primitives.NewDecimalFromFloat(0.02),
		primitives.NewDecimalFromFloat(0.5),
		primitives.MustPrice(primitives.NewDecimal(5)),
		primitives.NewDecimalFromFloat(1.0),
		newTestPricer(),
	)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}

	params := mechanisms.PriceParams{
		UnderlyingPrice: primitives.MustPrice(primitives.NewDecimal(100)),
		Volatility:      primitives.NewDecimalFromFloat(0.20),
		RiskFreeRate:    primitives.NewDecimalFromFloat(0.05),
	}

	price, err := opt.Price(context.Background(), params)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if price.Decimal().Float64() <= 0 {
		t.Errorf("expected a positive premium, got %v", price.Decimal().Float64())
	}
}

// TestPriceDoubleBoundaryRegime exercises the double-boundary path end to
// end, confirming the adapter carries the dividend yield through.
func TestPriceDoubleBoundaryRegime(t *testing.T) {
	opt, err := americanoption.NewOption(
		"PUT-DB",
		core.Put,
		primitives.MustPrice(primitives.NewDecimal(100)),
		primitives.NewDecimalFromFloat(-0.02),
		primitives.NewDecimalFromFloat(0.5),
		primitives.MustPrice(primitives.NewDecimal(5)),
		primitives.NewDecimalFromFloat(1.0),
		newTestPricer(),
	)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}

	params := mechanisms.PriceParams{
		UnderlyingPrice: primitives.MustPrice(primitives.NewDecimal(95)),
		Volatility:      primitives.NewDecimalFromFloat(0.15),
		RiskFreeRate:    primitives.NewDecimalFromFloat(-0.01),
	}

	price, err := opt.Price(context.Background(), params)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if price.Decimal().Float64() <= 0 {
		t.Errorf("expected a positive premium, got %v", price.Decimal().Float64())
	}
}

// TestGreeksDeltaSignForPut checks only the sign of delta (a put's delta
// must be non-positive), since exact finite-difference Greeks values are
// not worth pinning to a literal tolerance in this test.
func TestGreeksDeltaSignForPut(t *testing.T) {
	opt, err := americanoption.NewOption(
		"PUT-100",
		core.Put,
		primitives.MustPrice(primitives.NewDecimal(100)),
		primitives.NewDecimalFromFloat(0.02),
		primitives.NewDecimalFromFloat(0.5),
		primitives.MustPrice(primitives.NewDecimal(5)),
		primitives.NewDecimalFromFloat(1.0),
		newTestPricer(),
	)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}

	params := mechanisms.PriceParams{
		UnderlyingPrice: primitives.MustPrice(primitives.NewDecimal(100)),
		Volatility:      primitives.NewDecimalFromFloat(0.20),
		RiskFreeRate:    primitives.NewDecimalFromFloat(0.05),
	}

	greeks, err := opt.Greeks(context.Background(), params)
	if err != nil {
		t.Fatalf("Greeks: %v", err)
	}
	if greeks.Delta.Float64() > 0 {
		t.Errorf("expected put delta <= 0, got %v", greeks.Delta.Float64())
	}
	if greeks.Vega.Float64() <= 0 {
		t.Errorf("expected positive vega, got %v", greeks.Vega.Float64())
	}
}

// TestSettleWithPrice checks the intrinsic P&L at settlement for an ITM put.
func TestSettleWithPrice(t *testing.T) {
	opt, err := americanoption.NewOption(
		"PUT-100",
		core.Put,
		primitives.MustPrice(primitives.NewDecimal(100)),
		primitives.NewDecimalFromFloat(0.02),
		primitives.NewDecimalFromFloat(0.5),
		primitives.MustPrice(primitives.NewDecimal(5)),
		primitives.NewDecimalFromFloat(1.0),
		newTestPricer(),
	)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}

	amount, err := opt.SettleWithPrice(primitives.MustPrice(primitives.NewDecimal(90)))
	if err != nil {
		t.Fatalf("SettleWithPrice: %v", err)
	}

	// intrinsic = 10, entry = 5 -> pnl magnitude = 5
	if math.Abs(amount.Decimal().Float64()-5) > 1e-9 {
		t.Errorf("expected pnl magnitude 5, got %v", amount.Decimal().Float64())
	}
	if !opt.IsSettled() {
		t.Error("expected option to be marked settled")
	}

	if _, err := opt.SettleWithPrice(primitives.MustPrice(primitives.NewDecimal(90))); err == nil {
		t.Error("expected error settling an already-settled option")
	}
}
