// Package americanoption adapts the core American-option pricing engine
// (pkg/americanoption) to the framework's mechanisms.Derivative contract,
// so American options can sit in a strategy.Portfolio and be priced
// through backtest.Engine alongside any other mechanism. It owns the
// decimal<->float64 conversion at the boundary: the core stays on
// float64 internally (see pkg/americanoption/pricer.go), and this
// adapter is where primitives.Decimal enters and leaves.
package americanoption

import (
	"context"
	"errors"
	"math"

	core "github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/mechanisms"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/primitives"
)

var (
	// ErrInvalidStrike is returned when the strike price is invalid.
	ErrInvalidStrike = errors.New("strike price must be positive")

	// ErrInvalidUnderlying is returned when the underlying price is invalid.
	ErrInvalidUnderlying = errors.New("underlying price must be positive")

	// ErrInvalidVolatility is returned when volatility is invalid.
	ErrInvalidVolatility = errors.New("volatility must be positive")

	// ErrInvalidTimeToExpiry is returned when time to expiry is invalid.
	ErrInvalidTimeToExpiry = errors.New("time to expiry must be non-negative")

	// ErrOptionExpired is returned when attempting operations on expired options.
	ErrOptionExpired = errors.New("option has expired")

	// ErrNoPricer is returned when the option was constructed without a
	// core pricer.
	ErrNoPricer = errors.New("option has no pricer configured")
)

// greeksBumpRelative is the relative step used for the central-difference
// Greeks (see Greeks below); 1bp of the bumped quantity.
const greeksBumpRelative = 1e-4

// Option represents an American-exercise vanilla option priced by the
// core engine (pkg/americanoption). It carries the fixed per-instrument
// parameters (strike, dividend yield) that core.MarketInputs needs but
// mechanisms.PriceParams has no field for, the way
// pkg/implementations/blackscholes.Option carries its strike.
type Option struct {
	optionID      string
	payoff        core.Payoff
	strikePrice   primitives.Price
	dividendYield primitives.Decimal
	timeToExpiry  primitives.Decimal
	entryPrice    primitives.Price
	positionSize  primitives.Decimal
	direction     mechanisms.PositionDirection
	settled       bool

	pricer *core.Pricer
}

// NewOption creates a new American option.
//
// Parameters:
//   - optionID: Unique identifier for this option
//   - payoff: Call or Put
//   - strikePrice: Strike price (must be positive)
//   - dividendYield: Continuous dividend yield (any sign; the put
//     double-boundary regime needs both rate and dividendYield negative,
//     the call one 0 < rate < dividendYield)
//   - timeToExpiry: Time to expiry in years (must be non-negative)
//   - entryPrice: Price at which the position was entered
//   - positionSize: Number of contracts (positive long, negative short)
//   - pricer: The core Pricer to delegate to; must not be nil
func NewOption(
	optionID string,
	payoff core.Payoff,
	strikePrice primitives.Price,
	dividendYield primitives.Decimal,
	timeToExpiry primitives.Decimal,
	entryPrice primitives.Price,
	positionSize primitives.Decimal,
	pricer *core.Pricer,
) (*Option, error) {
	if optionID == "" {
		return nil, errors.New("optionID cannot be empty")
	}
	if payoff != core.Call && payoff != core.Put {
		return nil, errors.New("invalid payoff")
	}
	if strikePrice.IsZero() {
		return nil, ErrInvalidStrike
	}
	if timeToExpiry.LessThan(primitives.Zero()) {
		return nil, ErrInvalidTimeToExpiry
	}
	if pricer == nil {
		return nil, ErrNoPricer
	}

	direction := mechanisms.PositionDirectionLong
	if positionSize.IsNegative() {
		direction = mechanisms.PositionDirectionShort
	}

	return &Option{
		optionID:      optionID,
		payoff:        payoff,
		strikePrice:   strikePrice,
		dividendYield: dividendYield,
		timeToExpiry:  timeToExpiry,
		entryPrice:    entryPrice,
		positionSize:  positionSize,
		direction:     direction,
		pricer:        pricer,
	}, nil
}

// Mechanism returns the mechanism type identifier.
func (o *Option) Mechanism() mechanisms.MechanismType {
	return mechanisms.MechanismTypeDerivative
}

// Venue returns the venue identifier.
func (o *Option) Venue() string {
	return "american-option"
}

// Price computes the American option price via the core engine.
//
// Required parameters: UnderlyingPrice, Volatility, RiskFreeRate. Uses
// the stored TimeToExpiry when params.TimeToExpiry is zero. The core's
// dividend yield comes from the Option itself, not PriceParams (which has
// no field for it).
func (o *Option) Price(ctx context.Context, params mechanisms.PriceParams) (primitives.Price, error) {
	inputs, err := o.buildInputs(params)
	if err != nil {
		return primitives.ZeroPrice(), err
	}

	price, pricingErr := o.pricer.Price(inputs)
	if pricingErr != nil {
		var pe *core.PricingError
		if errors.As(pricingErr, &pe) && pe.Kind == core.NonConvergence {
			// NonConvergence is a warning, not a failure: the price is
			// still usable (§7 of the core's error taxonomy).
		} else {
			return primitives.ZeroPrice(), pricingErr
		}
	}

	return primitives.NewPrice(primitives.NewDecimalFromFloat(price))
}

// Greeks computes the option's risk sensitivities by finite difference on
// Price, since the core decomposition has no closed-form Greeks of its
// own: central differences for delta, gamma, vega and rho, and a
// backward difference in maturity for theta.
func (o *Option) Greeks(ctx context.Context, params mechanisms.PriceParams) (mechanisms.Greeks, error) {
	inputs, err := o.buildInputs(params)
	if err != nil {
		return mechanisms.Greeks{}, err
	}

	base, baseErr := o.priceAt(inputs)
	if baseErr != nil {
		return mechanisms.Greeks{}, baseErr
	}

	hS := inputs.Spot * greeksBumpRelative
	upS, err := o.priceAt(bumpSpot(inputs, hS))
	if err != nil {
		return mechanisms.Greeks{}, err
	}
	downS, err := o.priceAt(bumpSpot(inputs, -hS))
	if err != nil {
		return mechanisms.Greeks{}, err
	}
	delta := (upS - downS) / (2 * hS)
	gamma := (upS - 2*base + downS) / (hS * hS)

	hSigma := math.Max(inputs.Volatility*greeksBumpRelative, 1e-6)
	upSigma, err := o.priceAt(bumpVol(inputs, hSigma))
	if err != nil {
		return mechanisms.Greeks{}, err
	}
	downSigma, err := o.priceAt(bumpVol(inputs, -hSigma))
	if err != nil {
		return mechanisms.Greeks{}, err
	}
	vega := (upSigma - downSigma) / (2 * hSigma)

	hR := math.Max(math.Abs(inputs.Rate)*greeksBumpRelative, 1e-6)
	upR, err := o.priceAt(bumpRate(inputs, hR))
	if err != nil {
		return mechanisms.Greeks{}, err
	}
	downR, err := o.priceAt(bumpRate(inputs, -hR))
	if err != nil {
		return mechanisms.Greeks{}, err
	}
	rho := (upR - downR) / (2 * hR)

	hT := math.Min(inputs.MaturityYears*greeksBumpRelative, inputs.MaturityYears/2)
	var theta float64
	if hT > 0 {
		downT, err := o.priceAt(bumpMaturity(inputs, -hT))
		if err != nil {
			return mechanisms.Greeks{}, err
		}
		theta = -(base - downT) / hT
	}

	return mechanisms.Greeks{
		Delta: primitives.NewDecimalFromFloat(delta),
		Gamma: primitives.NewDecimalFromFloat(gamma),
		Theta: primitives.NewDecimalFromFloat(theta),
		Vega:  primitives.NewDecimalFromFloat(vega / 100),
		Rho:   primitives.NewDecimalFromFloat(rho / 100),
	}, nil
}

func (o *Option) priceAt(inputs core.MarketInputs) (float64, error) {
	price, err := o.pricer.Price(inputs)
	if err != nil {
		var pe *core.PricingError
		if errors.As(err, &pe) && pe.Kind == core.NonConvergence {
			return price, nil
		}
		return 0, err
	}
	return price, nil
}

func bumpSpot(in core.MarketInputs, delta float64) core.MarketInputs {
	out := in
	out.Spot += delta
	return out
}

func bumpVol(in core.MarketInputs, delta float64) core.MarketInputs {
	out := in
	out.Volatility += delta
	return out
}

func bumpRate(in core.MarketInputs, delta float64) core.MarketInputs {
	out := in
	out.Rate += delta
	return out
}

func bumpMaturity(in core.MarketInputs, delta float64) core.MarketInputs {
	out := in
	out.MaturityYears += delta
	return out
}

// buildInputs converts PriceParams (plus the option's own stored
// parameters) into a validated core.MarketInputs.
func (o *Option) buildInputs(params mechanisms.PriceParams) (core.MarketInputs, error) {
	if params.UnderlyingPrice.IsZero() {
		return core.MarketInputs{}, ErrInvalidUnderlying
	}
	if params.Volatility.LessThan(primitives.Zero()) || params.Volatility.IsZero() {
		return core.MarketInputs{}, ErrInvalidVolatility
	}

	timeToExpiry := params.TimeToExpiry
	if timeToExpiry.IsZero() {
		timeToExpiry = o.timeToExpiry
	}
	if timeToExpiry.LessThan(primitives.Zero()) {
		return core.MarketInputs{}, ErrInvalidTimeToExpiry
	}

	s := params.UnderlyingPrice.Decimal().Float64()
	k := o.strikePrice.Decimal().Float64()
	sigma := params.Volatility.Float64()
	r := params.RiskFreeRate.Float64()
	q := o.dividendYield.Float64()
	t := timeToExpiry.Float64()
	if t <= 0 {
		t = 1e-12
	}

	inputs, err := core.NewMarketInputs(s, k, t, r, q, sigma, o.payoff, 0, true)
	if err != nil {
		return core.MarketInputs{}, err
	}
	return inputs, nil
}

// Settle computes the settlement value of the option at expiration.
//
// Note: as with the teacher's reference European-option implementation,
// this requires the final underlying price; use SettleWithPrice directly
// in contexts without a context-based price channel.
func (o *Option) Settle(ctx context.Context) (primitives.Amount, error) {
	if o.settled {
		return primitives.ZeroAmount(), ErrOptionExpired
	}
	return primitives.ZeroAmount(), errors.New("settle requires final underlying price; use SettleWithPrice")
}

// SettleWithPrice settles the option given a final underlying price,
// returning the absolute value of the P&L relative to entry price scaled by
// position size; whether it is a profit or a loss is not reported.
func (o *Option) SettleWithPrice(finalPrice primitives.Price) (primitives.Amount, error) {
	if o.settled {
		return primitives.ZeroAmount(), ErrOptionExpired
	}

	s := finalPrice.Decimal().Float64()
	k := o.strikePrice.Decimal().Float64()
	var intrinsic float64
	if o.payoff == core.Call {
		intrinsic = math.Max(s-k, 0)
	} else {
		intrinsic = math.Max(k-s, 0)
	}

	intrinsicPrice, err := primitives.NewPrice(primitives.NewDecimalFromFloat(intrinsic))
	if err != nil {
		return primitives.ZeroAmount(), err
	}

	pnlPerContract := intrinsicPrice.Decimal().Sub(o.entryPrice.Decimal())
	totalPnl := pnlPerContract.Mul(o.positionSize)

	o.settled = true
	return primitives.NewAmount(totalPnl.Abs())
}

// OptionID returns the option identifier.
func (o *Option) OptionID() string { return o.optionID }

// Payoff returns the payoff direction (call or put).
func (o *Option) Payoff() core.Payoff { return o.payoff }

// StrikePrice returns the strike price.
func (o *Option) StrikePrice() primitives.Price { return o.strikePrice }

// TimeToExpiry returns the stored time to expiry.
func (o *Option) TimeToExpiry() primitives.Decimal { return o.timeToExpiry }

// IsSettled returns whether the option has been settled.
func (o *Option) IsSettled() bool { return o.settled }
