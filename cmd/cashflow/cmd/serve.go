package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cashflow-engine/internal/api"
	"cashflow-engine/pkg/errors"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reports, KPIs and forecasts over HTTP",
	Long: `Serve starts the HTTP API:

  GET /api/health
  GET /api/companies/{companyId}/cashflow/{report}

Reports are the report kinds, the KPIs (dso, ebitda, bfr, breakeven, kpi),
forecast-enhanced and forecast-backtest. The server stops gracefully on
SIGINT or SIGTERM.

Examples:
  cashflow serve --database-url postgres://localhost/treasury --ml-url http://localhost:8000
  cashflow serve --transactions ./demo/transactions.csv --categories ./demo/categories.csv --addr :9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from api.addr, :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var health api.HealthChecker
	if a.client != nil {
		health = a.client
		stopCleanup, err := a.client.Cache().StartCleanup(cfg.Forecast.CleanupSchedule)
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "forecast.cleanup_schedule", cfg.Forecast.CleanupSchedule, err)
		}
		defer stopCleanup()
	}

	handler := api.NewHandler(a.engine, a.reports, a.kpis, health)
	server, err := api.NewServer(cfg.APIConfig(serveAddr), handler.Router())
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
