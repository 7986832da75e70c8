// Command americanopt is a thin CLI wrapper around the American option
// pricing core (pkg/americanoption). It owns the flag parsing and result
// formatting the core itself stays out of scope for (see pkg/americanoption
// doc comment): the core is a pure function of MarketInputs, nothing more.
package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/americanoption"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/implementations/baw"
)

var (
	flagSpot          float64
	flagStrike        float64
	flagMaturity      float64
	flagRate          float64
	flagDividend      float64
	flagVolatility    float64
	flagPayoff        string
	flagCollocation   int
	flagUseRefinement bool
)

func addMarketFlags(cmd *cobra.Command) {
	cmd.Flags().Float64VarP(&flagSpot, "spot", "S", 100, "underlying spot price")
	cmd.Flags().Float64VarP(&flagStrike, "strike", "K", 100, "strike price")
	cmd.Flags().Float64VarP(&flagMaturity, "maturity", "T", 0.5, "time to maturity in years")
	cmd.Flags().Float64VarP(&flagRate, "rate", "r", 0.05, "risk-free rate")
	cmd.Flags().Float64VarP(&flagDividend, "dividend", "q", 0.0, "continuous dividend yield")
	cmd.Flags().Float64VarP(&flagVolatility, "vol", "v", 0.2, "volatility (annualized)")
	cmd.Flags().StringVarP(&flagPayoff, "payoff", "p", "put", "payoff: call or put")
	cmd.Flags().IntVar(&flagCollocation, "collocation", 0, "FP-B' grid size (0 = default)")
	cmd.Flags().BoolVar(&flagUseRefinement, "refine", true, "run FP-B' refinement for double-boundary regimes")
}

func buildInputs() (americanoption.MarketInputs, error) {
	var payoff americanoption.Payoff
	switch flagPayoff {
	case "call":
		payoff = americanoption.Call
	case "put":
		payoff = americanoption.Put
	default:
		return americanoption.MarketInputs{}, fmt.Errorf("payoff must be 'call' or 'put', got %q", flagPayoff)
	}
	return americanoption.NewMarketInputs(
		flagSpot, flagStrike, flagMaturity, flagRate, flagDividend, flagVolatility,
		payoff, flagCollocation, flagUseRefinement,
	)
}

func newPricer() *americanoption.Pricer {
	return americanoption.NewPricer(baw.Engine{})
}

var rootCmd = &cobra.Command{
	Use:   "americanopt",
	Short: "Price American-exercise vanilla options",
	Long: `americanopt prices American-exercise vanilla calls and puts under
arbitrary interest-rate and dividend-yield regimes, including the
double-boundary structure that arises when both the rate and the dividend
yield are negative.`,
}

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Compute the option price and its early-exercise boundary method",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := buildInputs()
		if err != nil {
			return err
		}
		price, result, err := newPricer().PriceWithDetails(inputs)
		if err != nil {
			if pe, ok := err.(*americanoption.PricingError); ok && pe.Kind == americanoption.NonConvergence {
				log.Printf("warning: %v", pe)
			} else {
				return err
			}
		}
		fmt.Printf("price:      %.6f\n", price)
		fmt.Printf("method:     %s\n", result.Method)
		fmt.Printf("converged:  %v\n", result.Converged)
		if result.MaxResidual > 0 {
			fmt.Printf("residual:   %.3e\n", result.MaxResidual)
		}
		return nil
	},
}

var boundaryCmd = &cobra.Command{
	Use:   "boundary",
	Short: "Dump the upper/lower early-exercise boundary curves as a table",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := buildInputs()
		if err != nil {
			return err
		}
		_, result, err := newPricer().PriceWithDetails(inputs)
		if err != nil {
			if pe, ok := err.(*americanoption.PricingError); ok && pe.Kind == americanoption.NonConvergence {
				log.Printf("warning: %v", pe)
			} else {
				return err
			}
		}
		if len(result.Upper.TauGrid) == 0 {
			fmt.Printf("method %q does not produce a boundary curve\n", result.Method)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "tau\tupper\tlower")
		for i, tau := range result.Upper.TauGrid {
			fmt.Fprintf(w, "%.6f\t%.6f\t%.6f\n", tau, result.Upper.Values[i], result.Lower.Values[i])
		}
		return w.Flush()
	},
}

func init() {
	addMarketFlags(priceCmd)
	addMarketFlags(boundaryCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(boundaryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
