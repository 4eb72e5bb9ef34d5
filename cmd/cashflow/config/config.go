// Package config assembles the typed settings of every engine component
// from viper: defaults, an optional config file, CASHFLOW_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"cashflow-engine/internal/api"
	"cashflow-engine/internal/forecastclient"
	"cashflow-engine/internal/kpi"
	"cashflow-engine/internal/parsers"
	"cashflow-engine/internal/patterns"
	"cashflow-engine/internal/reconciler"
	"cashflow-engine/internal/reporter"
	"cashflow-engine/pkg/logger"
)

// EnvPrefix is the prefix of every environment variable, e.g. CASHFLOW_ML_URL
const EnvPrefix = "CASHFLOW"

// ParserSettings mirrors parsers.LedgerParserConfig with a textual delimiter
type ParserSettings struct {
	HasHeader     bool                `mapstructure:"has_header"`
	Delimiter     string              `mapstructure:"delimiter"`
	CompanyID     string              `mapstructure:"company_id"`
	MaxErrors     int                 `mapstructure:"max_errors"`
	ColumnAliases map[string][]string `mapstructure:"column_aliases"`
}

// ReportSettings mirrors reporter.ReportConfig with a textual CSV delimiter
type ReportSettings struct {
	Format                 string `mapstructure:"format"`
	Output                 string `mapstructure:"output"`
	IncludeEvents          bool   `mapstructure:"include_events"`
	IncludeRecommendations bool   `mapstructure:"include_recommendations"`
	MaxRows                int    `mapstructure:"max_rows"`
	TableMaxWidth          int    `mapstructure:"table_max_width"`
	CSVDelimiter           string `mapstructure:"csv_delimiter"`
	CSVHeaders             bool   `mapstructure:"csv_headers"`
}

// Config is the full application configuration
type Config struct {
	// DatabaseURL selects the PostgreSQL store; empty means the CSV sources
	DatabaseURL string `mapstructure:"database_url"`
	// MLURL enables the forecasting service; empty means trend forecasts only
	MLURL string `mapstructure:"ml_url"`

	Sources  parsers.Sources       `mapstructure:"sources"`
	Parser   ParserSettings        `mapstructure:"parser"`
	Log      logger.Config         `mapstructure:"log"`
	Engine   reconciler.Config     `mapstructure:"engine"`
	Forecast forecastclient.Config `mapstructure:"forecast"`
	Patterns patterns.Config       `mapstructure:"patterns"`
	KPI      kpi.KeywordPatterns   `mapstructure:"kpi"`
	Report   ReportSettings        `mapstructure:"report"`
	API      api.Config            `mapstructure:"api"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	report := reporter.DefaultReportConfig()
	return &Config{
		Parser: ParserSettings{
			HasHeader: true,
			Delimiter: ",",
		},
		Log:      *logger.DefaultConfig(),
		Engine:   *reconciler.DefaultConfig(),
		Forecast: *forecastclient.DefaultConfig(),
		Patterns: *patterns.DefaultConfig(),
		KPI:      kpi.DefaultKeywordPatterns(),
		Report: ReportSettings{
			Format:                 string(report.Format),
			IncludeEvents:          report.IncludeEvents,
			IncludeRecommendations: report.IncludeRecommendations,
			MaxRows:                report.MaxRows,
			TableMaxWidth:          report.TableMaxWidth,
			CSVDelimiter:           string(report.CSVDelimiter),
			CSVHeaders:             report.CSVHeaders,
		},
		API: *api.DefaultConfig(),
	}
}

// SetDefaults registers every key with v so that environment variables
// are seen by Unmarshal even when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]interface{}{
		"database_url": d.DatabaseURL,
		"ml_url":       d.MLURL,

		"sources.transactions": "",
		"sources.invoices":     "",
		"sources.categories":   "",
		"sources.accounts":     "",
		"sources.events":       "",

		"parser.has_header": d.Parser.HasHeader,
		"parser.delimiter":  d.Parser.Delimiter,
		"parser.company_id": d.Parser.CompanyID,
		"parser.max_errors": d.Parser.MaxErrors,

		"log.level":  string(d.Log.Level),
		"log.format": string(d.Log.Format),
		"log.output": string(d.Log.Output),
		"log.file":   d.Log.File,

		"engine.default_horizon_days":    d.Engine.DefaultHorizonDays,
		"engine.max_horizon_days":        d.Engine.MaxHorizonDays,
		"engine.default_historical_days": d.Engine.DefaultHistoricalDays,
		"engine.min_historical_days":     d.Engine.MinHistoricalDays,
		"engine.max_historical_days":     d.Engine.MaxHistoricalDays,
		"engine.ml_min_transactions":     d.Engine.MLMinTransactions,
		"engine.low_cash_runway_days":    d.Engine.LowCashRunwayDays,
		"engine.confidence_levels":       d.Engine.ConfidenceLevels,

		"forecast.base_url":            d.Forecast.BaseURL,
		"forecast.forecast_timeout":    d.Forecast.ForecastTimeout,
		"forecast.backtest_timeout":    d.Forecast.BacktestTimeout,
		"forecast.health_timeout":      d.Forecast.HealthTimeout,
		"forecast.cache_ttl":           d.Forecast.CacheTTL,
		"forecast.cleanup_schedule":    d.Forecast.CleanupSchedule,
		"forecast.min_forecast_points": d.Forecast.MinForecastPoints,
		"forecast.min_backtest_points": d.Forecast.MinBacktestPoints,
		"forecast.confidence_levels":   d.Forecast.ConfidenceLevels,

		"patterns.min_occurrences":       d.Patterns.MinOccurrences,
		"patterns.amount_step":           d.Patterns.AmountStep,
		"patterns.amount_tolerance":      d.Patterns.AmountTolerance,
		"patterns.max_interval_variance": d.Patterns.MaxIntervalVariance,
		"patterns.min_mean_interval":     d.Patterns.MinMeanInterval,
		"patterns.min_confidence":        d.Patterns.MinConfidence,

		"kpi.cogs":         d.KPI.COGS,
		"kpi.depreciation": d.KPI.Depreciation,
		"kpi.fixed":        d.KPI.Fixed,
		"kpi.variable":     d.KPI.Variable,
		"kpi.mixed":        d.KPI.Mixed,

		"report.format":                  d.Report.Format,
		"report.output":                  d.Report.Output,
		"report.include_events":          d.Report.IncludeEvents,
		"report.include_recommendations": d.Report.IncludeRecommendations,
		"report.max_rows":                d.Report.MaxRows,
		"report.table_max_width":         d.Report.TableMaxWidth,
		"report.csv_delimiter":           d.Report.CSVDelimiter,
		"report.csv_headers":             d.Report.CSVHeaders,

		"api.addr":             d.API.Addr,
		"api.read_timeout":     d.API.ReadTimeout,
		"api.write_timeout":    d.API.WriteTimeout,
		"api.shutdown_timeout": d.API.ShutdownTimeout,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// ConfigureEnv makes v read CASHFLOW_SECTION_KEY variables
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load unmarshals v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section that is used regardless of the command
func (c *Config) Validate() error {
	if _, err := c.ParserConfig(); err != nil {
		return fmt.Errorf("invalid parser config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	if err := c.Patterns.Validate(); err != nil {
		return fmt.Errorf("invalid patterns config: %w", err)
	}
	if _, err := c.ReportConfig(); err != nil {
		return fmt.Errorf("invalid report config: %w", err)
	}
	if c.MLURL != "" {
		if _, err := c.ForecastConfig(); err != nil {
			return fmt.Errorf("invalid forecast config: %w", err)
		}
	}
	return nil
}

// ParserConfig converts the parser settings
func (c *Config) ParserConfig() (*parsers.LedgerParserConfig, error) {
	delimiter, err := parsers.ParseDelimiter(c.Parser.Delimiter)
	if err != nil {
		return nil, err
	}
	pc := &parsers.LedgerParserConfig{
		HasHeader:     c.Parser.HasHeader,
		Delimiter:     delimiter,
		CompanyID:     c.Parser.CompanyID,
		MaxErrors:     c.Parser.MaxErrors,
		ColumnAliases: c.Parser.ColumnAliases,
	}
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return pc, nil
}

// ReportConfig converts the report settings
func (c *Config) ReportConfig() (*reporter.ReportConfig, error) {
	rc := &reporter.ReportConfig{
		Format:                 reporter.OutputFormat(strings.ToLower(c.Report.Format)),
		IncludeEvents:          c.Report.IncludeEvents,
		IncludeRecommendations: c.Report.IncludeRecommendations,
		MaxRows:                c.Report.MaxRows,
		TableMaxWidth:          c.Report.TableMaxWidth,
		CSVHeaders:             c.Report.CSVHeaders,
	}
	if c.Report.CSVDelimiter != "" {
		delimiter, err := parsers.ParseDelimiter(c.Report.CSVDelimiter)
		if err != nil {
			return nil, err
		}
		rc.CSVDelimiter = delimiter
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

// ForecastConfig returns the forecasting client settings with the base URL
// taken from MLURL
func (c *Config) ForecastConfig() (*forecastclient.Config, error) {
	fc := c.Forecast
	if c.MLURL != "" {
		fc.BaseURL = c.MLURL
	}
	if len(fc.ConfidenceLevels) == 0 {
		fc.ConfidenceLevels = c.Engine.ConfidenceLevels
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// LoggerConfig returns the logger settings, forcing debug when verbose is set
func (c *Config) LoggerConfig(verbose bool) *logger.Config {
	lc := c.Log
	if verbose {
		lc.Level = logger.DebugLevel
	}
	return &lc
}

// APIConfig returns the listener settings with addr overriding the configured address
func (c *Config) APIConfig(addr string) *api.Config {
	ac := c.API
	if addr != "" {
		ac.Addr = addr
	}
	return &ac
}
