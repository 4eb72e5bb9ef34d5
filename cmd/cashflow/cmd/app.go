package cmd

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"cashflow-engine/cmd/cashflow/config"
	"cashflow-engine/internal/forecastclient"
	"cashflow-engine/internal/kpi"
	"cashflow-engine/internal/models"
	"cashflow-engine/internal/parsers"
	"cashflow-engine/internal/patterns"
	"cashflow-engine/internal/reconciler"
	"cashflow-engine/internal/reporter"
	"cashflow-engine/internal/reports"
	"cashflow-engine/internal/repository"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// app holds the wired components shared by the subcommands
type app struct {
	cfg     *config.Config
	client  *forecastclient.Client
	engine  *reconciler.Engine
	reports *reports.Service
	kpis    *kpi.Service
	logger  logger.Logger
	closers []func() error
}

// newApp opens the store and wires the engine, services and forecasting client
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: logger.GetGlobalLogger().WithComponent("cli")}
	op := logger.NewOperationLogger("setup", a.logger)

	op.Step("opening ledger store")
	store, err := a.openStore(ctx)
	if err != nil {
		op.Error(err, "Failed to open ledger store")
		return nil, err
	}

	var forecaster reconciler.Forecaster
	if cfg.MLURL != "" {
		op.Step("configuring forecasting client")
		fc, err := cfg.ForecastConfig()
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "forecast", cfg.MLURL, err)
		}
		client, err := forecastclient.NewClient(fc, forecastclient.NewCache(fc.CacheTTL))
		if err != nil {
			return nil, err
		}
		a.client = client
		forecaster = client
	}

	detector, err := patterns.NewDetector(&cfg.Patterns)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "patterns", nil, err)
	}
	a.engine, err = reconciler.NewEngine(store, forecaster, detector, reconciler.WithConfig(&cfg.Engine))
	if err != nil {
		return nil, err
	}

	classifier, err := kpi.NewKeywordClassifier(cfg.KPI)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "kpi", nil, err).
			WithSuggestion("Check the kpi keyword patterns; they must be valid regular expressions")
	}
	a.reports = reports.NewService(store)
	a.kpis = kpi.NewService(store, classifier)

	op.WithField("forecasting_service", cfg.MLURL != "").Success("Engine ready")
	return a, nil
}

func (a *app) openStore(ctx context.Context) (repository.Reader, error) {
	if a.cfg.DatabaseURL != "" {
		store, err := repository.OpenPostgres(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}

	parserConfig, err := a.cfg.ParserConfig()
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", a.cfg.Parser.Delimiter, err)
	}
	parser, err := parsers.NewLedgerParser(parserConfig)
	if err != nil {
		return nil, err
	}
	store, summary, err := parsers.LoadStore(ctx, parser, a.cfg.Sources)
	if err != nil {
		return nil, err
	}
	if n := summary.TotalErrors(); n > 0 {
		a.logger.WithField("errors", n).Warn("Some ledger rows were skipped")
		for kind, stats := range summary.Stats {
			for _, pe := range stats.Errors {
				a.logger.WithField("file", kind).Debug(pe.Error())
			}
		}
	}
	return store, nil
}

// Close releases the store connection
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
		}
	}
}

// render writes result to --output or the command's stdout
func (a *app) render(cmd *cobra.Command, result interface{}) error {
	return render(cmd.OutOrStdout(), a.cfg, result)
}

func render(w io.Writer, cfg *config.Config, result interface{}) error {
	rc, err := cfg.ReportConfig()
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "report", cfg.Report.Format, err)
	}
	log := logger.GetGlobalLogger()
	generator, err := reporter.NewSafeReportGenerator(rc, log)
	if err != nil {
		return err
	}
	return logger.TimedOperation("render", log.WithField("format", rc.Format), func() error {
		if cfg.Report.Output != "" {
			return generator.WriteFile(result, cfg.Report.Output)
		}
		return generator.GenerateReportSafely(result, w)
	})
}

// queryFlags are the filters shared by the report, KPI and forecast commands
type queryFlags struct {
	company   string
	from      string
	to        string
	days      int
	groupBy   string
	account   string
	portfolio string
	flow      string
	limit     int
}

func (q *queryFlags) register(c *cobra.Command, withGrouping bool) {
	flags := c.Flags()
	flags.StringVarP(&q.company, "company", "c", "", "company id (defaults to parser.company_id)")
	flags.StringVar(&q.from, "from", "", "first day of the window (YYYY-MM-DD)")
	flags.StringVar(&q.to, "to", "", "last day of the window (YYYY-MM-DD, default today)")
	flags.IntVarP(&q.days, "days", "d", 0, "window length in days when --from is not set")
	flags.StringVar(&q.account, "account", "", "restrict to one account")
	flags.StringVar(&q.portfolio, "portfolio", "", "restrict to the accounts of a portfolio")
	flags.StringVar(&q.flow, "flow", "", "restrict to one payment flow")
	if withGrouping {
		flags.StringVarP(&q.groupBy, "group-by", "g", "day", "bucket size: day, week, month")
		flags.IntVar(&q.limit, "limit", 0, "number of categories in rankings")
	}
}

func (q *queryFlags) query(defaultCompany string) (reports.Query, error) {
	out := reports.Query{
		CompanyID:     q.company,
		Days:          q.days,
		GroupBy:       q.groupBy,
		PortfolioID:   q.portfolio,
		AccountID:     q.account,
		PaymentFlowID: q.flow,
		Limit:         q.limit,
	}
	if out.CompanyID == "" {
		out.CompanyID = defaultCompany
	}
	if out.CompanyID == "" {
		return out, errors.ValidationError(errors.CodeMissingField, "company", "", nil).
			WithSuggestion("pass --company or set parser.company_id")
	}

	var err error
	if out.From, err = parseDateFlag("from", q.from); err != nil {
		return out, err
	}
	if out.To, err = parseDateFlag("to", q.to); err != nil {
		return out, err
	}
	return out, nil
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := models.ParseTimeWithFormats(value)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidDate, name, value, err)
	}
	t = models.TruncateDay(t)
	return &t, nil
}

func accountIDs(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}
