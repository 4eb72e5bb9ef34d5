package cmd

import (
	"github.com/spf13/cobra"

	"cashflow-engine/internal/reconciler"
)

var (
	forecastQuery   queryFlags
	forecastHorizon int

	backtestQuery   queryFlags
	backtestHorizon int
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Reconcile actuals and forecast the balance",
	Long: `Forecast reconciles the CONFIRMED history of a company, detects recurring
entries and projects the balance over the horizon together with the PLANNED
transactions.

The forecasting service is used when --ml-url is set and enough history is
available; otherwise the trend projection is used and the reason is reported.

Examples:
  cashflow forecast --transactions ledger.csv --company acme
  cashflow forecast --transactions ledger.csv --company acme --horizon 30 --days 180 --format json
  cashflow forecast --database-url postgres://localhost/treasury --company acme --ml-url http://localhost:8000`,
	RunE: runForecast,
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Measure forecast accuracy on the company history",
	Long: `Backtest asks the forecasting service to replay the company history and
report the MAE, RMSE, MAPE and interval coverage of its forecasts.

It requires --ml-url and at least a year of daily history.

Example:
  cashflow backtest --transactions ledger.csv --company acme --ml-url http://localhost:8000 --horizon 30`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(backtestCmd)

	forecastQuery.register(forecastCmd, false)
	forecastCmd.Flags().IntVar(&forecastHorizon, "horizon", 0, "days to forecast (default from engine.default_horizon_days)")

	backtestQuery.register(backtestCmd, false)
	backtestCmd.Flags().IntVar(&backtestHorizon, "horizon", 0, "days forecast at each cutoff")
}

func runForecast(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	q, err := forecastQuery.query(cfg.Parser.CompanyID)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	req := reconciler.Request{
		CompanyID:      q.CompanyID,
		AccountIDs:     accountIDs(q.AccountID),
		PortfolioID:    q.PortfolioID,
		PaymentFlowID:  q.PaymentFlowID,
		HorizonDays:    forecastHorizon,
		HistoricalDays: q.Days,
	}
	if q.From != nil || q.To != nil {
		resolved, err := a.reports.Resolve(q)
		if err != nil {
			return err
		}
		req.Range = &resolved.Range
	}

	result, err := a.engine.Reconcile(ctx, req)
	if err != nil {
		return err
	}
	return a.render(cmd, result)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	q, err := backtestQuery.query(cfg.Parser.CompanyID)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.Backtest(ctx, reconciler.BacktestRequest{
		CompanyID:   q.CompanyID,
		AccountIDs:  accountIDs(q.AccountID),
		PortfolioID: q.PortfolioID,
		HorizonDays: backtestHorizon,
	})
	if err != nil {
		return err
	}
	return a.render(cmd, result)
}
