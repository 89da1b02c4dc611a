package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"riskgate/internal/config"
	"riskgate/internal/feed"
	"riskgate/internal/models"
	"riskgate/internal/risk"
	"riskgate/internal/volatility"
)

// errRejected - заявка не прошла проверку; команда завершается с ненулевым кодом
var errRejected = errors.New("intent rejected")

// checkResult - вывод команды check
type checkResult struct {
	Intent         models.OrderIntent `json:"intent"`
	ReferencePrice float64            `json:"referencePrice"`
	Volatility     *float64           `json:"volatility,omitempty"`
	Decision       risk.Decision      `json:"decision"`
	Limits         risk.Limits        `json:"limits"`
}

func newCheckCmd() *cobra.Command {
	var (
		instrument string
		side       string
		size       float64
		limitPrice float64
		ref        float64
		pricesPath string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Dry-run one order intent against the configured risk limits",
		Long: `check loads the same environment as the server, builds a fresh risk engine
and runs the pre-trade check for a single intent. Nothing is persisted.

With --prices the volatility estimator is warmed from the CSV and the last
price of the instrument becomes the reference price unless --ref is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			s, err := models.ParseSide(side)
			if err != nil {
				return err
			}
			intent := models.OrderIntent{Instrument: instrument, Side: s, Size: size, LimitPrice: limitPrice}
			if err := intent.Validate(); err != nil {
				return err
			}

			method, err := volatility.ParseMethod(cfg.Volatility.Method)
			if err != nil {
				return err
			}
			est := volatility.NewEstimator(volatility.Config{
				Method:    method,
				Window:    cfg.Volatility.Window,
				ATRWindow: cfg.Volatility.ATRWindow,
				Alpha:     cfg.Volatility.Alpha,
			})

			if pricesPath != "" {
				last, err := warmEstimator(est, pricesPath, instrument)
				if err != nil {
					return err
				}
				if ref <= 0 {
					ref = last
				}
			}

			engine := risk.NewEngine(risk.LimitsFromConfig(cfg.Risk, cfg.Volatility), risk.Deps{Volatility: est})
			res := checkResult{
				Intent:         intent,
				ReferencePrice: ref,
				Decision:       engine.PreTradeCheck(intent, ref),
				Limits:         engine.Limits(),
			}
			if v, ok := est.Estimate(instrument); ok {
				res.Volatility = &v
			}

			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Decision.Approved {
				return fmt.Errorf("%w: %s", errRejected, res.Decision.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&instrument, "instrument", "", "Instrument, e.g. BTC-USD")
	cmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	cmd.Flags().Float64Var(&size, "size", 0, "Order size")
	cmd.Flags().Float64Var(&limitPrice, "limit-price", 0, "Limit price")
	cmd.Flags().Float64Var(&ref, "ref", 0, "Reference price (0 = no market price yet)")
	cmd.Flags().StringVar(&pricesPath, "prices", "", "CSV of prices to warm the volatility estimator")
	_ = cmd.MarkFlagRequired("instrument")
	_ = cmd.MarkFlagRequired("size")
	_ = cmd.MarkFlagRequired("limit-price")
	return cmd
}

// warmEstimator прогоняет цены инструмента через оценщик и возвращает последнюю
func warmEstimator(est *volatility.Estimator, path, instrument string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	prices, err := feed.ReadPrices(file, instrument)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no prices for %s in %s", instrument, path)
	}
	for _, p := range prices {
		est.Record(instrument, p)
	}
	return prices[len(prices)-1], nil
}
