package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cashflow-engine/internal/kpi"
	"cashflow-engine/internal/reports"
	"cashflow-engine/pkg/errors"
)

var (
	reportQuery queryFlags
	kpiQuery    queryFlags
)

// KPI names accepted by the kpi command
var kpiNames = []string{"all", "dso", "ebitda", "bfr", "breakeven"}

var reportCmd = &cobra.Command{
	Use:   "report <kind>",
	Short: "Bucketed ledger, ranking and profitability reports",
	Long: fmt.Sprintf(`Report runs one of the ledger views over a window of days.

Kinds: %s

The window is --from..--to, or the last --days days (30 by default) ending
--to or today. Buckets follow --group-by.

Examples:
  cashflow report actuals --transactions ledger.csv --company acme --group-by week
  cashflow report combined --transactions ledger.csv --company acme --from 2024-01-01 --to 2024-03-31
  cashflow report top-categories --transactions ledger.csv --categories categories.csv --company acme --limit 5
  cashflow report by-account --transactions ledger.csv --accounts accounts.csv --company acme -f csv -o accounts.csv`,
		strings.Join(reports.Names, ", ")),
	Args:      cobra.ExactArgs(1),
	ValidArgs: reports.Names,
	RunE:      runReport,
}

var kpiCmd = &cobra.Command{
	Use:   "kpi [all|dso|ebitda|bfr|breakeven]",
	Short: "Treasury KPIs with reliability scores",
	Long: `KPI computes days sales outstanding, EBITDA, working capital requirement
(BFR) and break-even over the window, each with a reliability score telling
how much the figure can be trusted given the available data.

Examples:
  cashflow kpi --transactions ledger.csv --invoices invoices.csv --categories categories.csv --company acme
  cashflow kpi dso --transactions ledger.csv --invoices invoices.csv --company acme --days 90`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: kpiNames,
	RunE:      runKPI,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(kpiCmd)

	reportQuery.register(reportCmd, true)
	kpiQuery.register(kpiCmd, false)
}

func runReport(cmd *cobra.Command, args []string) error {
	kind := strings.ToLower(args[0])
	if !contains(reports.Names, kind) {
		return errors.ValidationError(errors.CodeInvalidFormat, "report", kind, nil).
			WithSuggestion("use one of: " + strings.Join(reports.Names, ", "))
	}

	q, err := reportQuery.query(cfg.Parser.CompanyID)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.reports.Run(ctx, kind, q)
	if err != nil {
		return err
	}
	return a.render(cmd, result)
}

func runKPI(cmd *cobra.Command, args []string) error {
	name := "all"
	if len(args) == 1 {
		name = strings.ToLower(args[0])
	}
	if !contains(kpiNames, name) {
		return errors.ValidationError(errors.CodeInvalidFormat, "kpi", name, nil).
			WithSuggestion("use one of: " + strings.Join(kpiNames, ", "))
	}

	q, err := kpiQuery.query(cfg.Parser.CompanyID)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.kpi(ctx, name, q)
	if err != nil {
		return err
	}
	return a.render(cmd, result)
}

func (a *app) kpi(ctx context.Context, name string, q reports.Query) (interface{}, error) {
	resolved, err := a.reports.Resolve(q)
	if err != nil {
		return nil, err
	}
	kq := kpi.Query{
		CompanyID:   resolved.CompanyID,
		Range:       resolved.Range,
		AccountIDs:  resolved.AccountIDs,
		PortfolioID: resolved.PortfolioID,
	}

	switch name {
	case "dso":
		return a.kpis.DSO(ctx, kq)
	case "ebitda":
		return a.kpis.EBITDA(ctx, kq)
	case "bfr":
		return a.kpis.BFR(ctx, kq)
	case "breakeven":
		return a.kpis.BreakEven(ctx, kq)
	default:
		return a.kpis.All(ctx, kq)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
