package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cashflow-engine/cmd/cashflow/config"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cashflow",
	Short: "Cash-flow reconciliation and forecasting engine",
	Long: `Cashflow reconciles a company's confirmed and planned transactions into
bucketed ledgers, forecasts the balance, computes treasury KPIs and serves
all of it over HTTP.

Ledger data comes either from CSV files or from PostgreSQL (--database-url).
Forecasts use the external forecasting service when --ml-url is set and fall
back to a trend projection otherwise.

Examples:
  cashflow generate --out ./demo
  cashflow report actuals --transactions ./demo/transactions.csv --company demo
  cashflow forecast --transactions ledger.csv --company acme --horizon 60 --format json
  cashflow kpi --transactions ledger.csv --invoices invoices.csv --company acme
  cashflow serve --database-url postgres://localhost/treasury --ml-url http://localhost:8000`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")

	flags.String("transactions", "", "transactions CSV file")
	flags.String("invoices", "", "invoices CSV file")
	flags.String("categories", "", "categories CSV file")
	flags.String("accounts", "", "accounts CSV file")
	flags.String("events", "", "manual forecast events CSV file")
	flags.String("delimiter", ",", "CSV delimiter: , ; | or tab")
	flags.String("database-url", "", "PostgreSQL connection string (replaces the CSV files)")
	flags.String("ml-url", "", "forecasting service base URL")

	flags.StringP("format", "f", "console", "output format: console, json, csv")
	flags.StringP("output", "o", "", "output file path (default: stdout)")

	bindings := map[string]string{
		"verbose":              "verbose",
		"log.level":            "log-level",
		"log.format":           "log-format",
		"sources.transactions": "transactions",
		"sources.invoices":     "invoices",
		"sources.categories":   "categories",
		"sources.accounts":     "accounts",
		"sources.events":       "events",
		"parser.delimiter":     "delimiter",
		"database_url":         "database-url",
		"ml_url":               "ml-url",
		"report.format":        "format",
		"report.output":        "output",
	}
	for key, flag := range bindings {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	config.SetDefaults(viper.GetViper())
	config.ConfigureEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// setup loads the configuration and installs the global logger
func setup(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		if err := viper.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("Check the config file path and syntax")
		}
	}

	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err)
	}
	cfg = loaded

	log, err := logger.NewLogger(cfg.LoggerConfig(verbose))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log.Level, err)
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
