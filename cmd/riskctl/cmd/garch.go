package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"riskgate/internal/feed"
	"riskgate/internal/volatility"
	"riskgate/pkg/utils"
)

func newGarchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "garch",
		Short: "Fit GARCH(1,1) on a price file and forecast volatility",
	}
	cmd.AddCommand(newGarchFitCmd(), newGarchForecastCmd())
	return cmd
}

// garchFlags - общие флаги fit и forecast
type garchFlags struct {
	path       string
	instrument string
}

func (f *garchFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "prices", "", "CSV path (timestamp,instrument,price)")
	cmd.Flags().StringVar(&f.instrument, "instrument", "", "Only use rows for this instrument")
	_ = cmd.MarkFlagRequired("prices")
}

// fit читает цены, считает доходности и подбирает параметры
func (f *garchFlags) fit() (volatility.GarchParams, int, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return volatility.GarchParams{}, 0, err
	}
	defer file.Close()

	prices, err := feed.ReadPrices(file, f.instrument)
	if err != nil {
		return volatility.GarchParams{}, 0, err
	}
	returns := utils.PctReturns(prices)
	params, err := volatility.FitGarch(returns)
	return params, len(returns), err
}

func newGarchFitCmd() *cobra.Command {
	var flags garchFlags

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Estimate omega, alpha and beta from percentage returns",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, n, err := flags.fit()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"returns":     n,
				"params":      params,
				"persistence": params.Persistence(),
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newGarchForecastCmd() *cobra.Command {
	var (
		flags   garchFlags
		horizon int
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast per-step volatility (percent) for the next N steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			if horizon < 1 {
				return fmt.Errorf("--horizon must be at least 1")
			}
			params, _, err := flags.fit()
			if err != nil {
				return err
			}
			forecast, err := volatility.ForecastVolatility(params, horizon)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"params":   params,
				"horizon":  horizon,
				"forecast": forecast,
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&horizon, "horizon", 5, "Number of steps to forecast")
	return cmd
}
