// Package reporter renders forecasts, ledger reports and KPI summaries.
//
// Supported output formats:
//   - Console: human-readable tables for terminal display
//   - JSON: the same structure the HTTP API returns
//   - CSV: one row per day, bucket or group for spreadsheet applications
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(nil)
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/kpi"
	"cashflow-engine/internal/ledger"
	"cashflow-engine/internal/models"
	"cashflow-engine/internal/reconciler"
	"cashflow-engine/internal/reliability"
	"cashflow-engine/internal/reports"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// IncludeEvents lists the forecast events in console and JSON output
	IncludeEvents bool `json:"include_events" mapstructure:"include_events"`
	// IncludeRecommendations prints the reliability advice under each KPI
	IncludeRecommendations bool `json:"include_recommendations" mapstructure:"include_recommendations"`
	// MaxRows limits the day and bucket tables of console output; 0 prints all
	MaxRows int `json:"max_rows" mapstructure:"max_rows"`

	TableMaxWidth int  `json:"table_max_width" mapstructure:"table_max_width"`
	CSVDelimiter  rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders    bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeEvents:          true,
		IncludeRecommendations: true,
		MaxRows:                31,
		TableMaxWidth:          120,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max rows cannot be negative, got %d", c.MaxRows)
	}
	if c.Format == FormatCSV && c.CSVDelimiter == 0 {
		return fmt.Errorf("CSV delimiter must be set")
	}
	return nil
}

// ReportGenerator renders engine, report and KPI results in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes result to writer. Supported results are the engine's
// Result and BacktestResult, every reports type, and the KPI reports.
func (rg *ReportGenerator) GenerateReport(result interface{}, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if !supported(result) {
		return fmt.Errorf("unsupported result type %T", result)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func supported(result interface{}) bool {
	switch result.(type) {
	case *reconciler.Result, *reconciler.BacktestResult,
		*reports.LedgerReport, *reports.TopCategoriesReport, *reports.GroupedReport, *reports.ProfitabilityReport,
		*kpi.Summary, *kpi.DSOReport, *kpi.EBITDAReport, *kpi.BFRReport, *kpi.BreakEvenReport:
		return true
	default:
		return false
	}
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(result interface{}, writer io.Writer) error {
	if r, ok := result.(*reconciler.Result); ok && !rg.config.IncludeEvents {
		trimmed := *r
		trimmed.Events = nil
		result = &trimmed
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// Console output

func (rg *ReportGenerator) generateConsoleReport(result interface{}, writer io.Writer) error {
	switch r := result.(type) {
	case *reconciler.Result:
		rg.printForecast(r, writer)
	case *reconciler.BacktestResult:
		rg.printBacktest(r, writer)
	case *reports.LedgerReport:
		rg.header(writer, fmt.Sprintf("%s REPORT", strings.ToUpper(r.Kind)), r.CompanyID, r.Range)
		rg.printLedger(&r.Result, writer)
	case *reports.TopCategoriesReport:
		rg.printTopCategories(r, writer)
	case *reports.GroupedReport:
		rg.printGrouped(r, writer)
	case *reports.ProfitabilityReport:
		rg.printProfitability(r, writer)
	case *kpi.Summary:
		rg.header(writer, "KPI SUMMARY", r.CompanyID, r.Range)
		rg.printDSO(&r.DSO, writer)
		rg.printEBITDA(&r.EBITDA, writer)
		rg.printBFR(&r.BFR, writer)
		rg.printBreakEven(&r.BreakEven, writer)
	case *kpi.DSOReport:
		rg.printDSO(r, writer)
	case *kpi.EBITDAReport:
		rg.printEBITDA(r, writer)
	case *kpi.BFRReport:
		rg.printBFR(r, writer)
	case *kpi.BreakEvenReport:
		rg.printBreakEven(r, writer)
	}
	return nil
}

func (rg *ReportGenerator) header(writer io.Writer, title, companyID string, r models.DateRange) {
	fmt.Fprintf(writer, "%s\n", title)
	fmt.Fprintf(writer, "Company: %s\n", companyID)
	fmt.Fprintf(writer, "Period:  %s\n\n", r.String())
}

func (rg *ReportGenerator) rule(writer io.Writer) {
	width := rg.config.TableMaxWidth
	if width > 96 {
		width = 96
	}
	fmt.Fprintf(writer, "%s\n", strings.Repeat("-", width))
}

// limit returns how many of n rows to print
func (rg *ReportGenerator) limit(n int) int {
	if rg.config.MaxRows > 0 && n > rg.config.MaxRows {
		return rg.config.MaxRows
	}
	return n
}

func (rg *ReportGenerator) more(writer io.Writer, shown, total int) {
	if total > shown {
		fmt.Fprintf(writer, "  ... and %d more\n", total-shown)
	}
}

func (rg *ReportGenerator) printForecast(r *reconciler.Result, writer io.Writer) {
	fmt.Fprintf(writer, "CASH FORECAST\n")
	fmt.Fprintf(writer, "Company: %s\n", r.CompanyID)
	fmt.Fprintf(writer, "Today:   %s\n", r.Today.Format(models.DateFormat))
	fmt.Fprintf(writer, "Horizon: %d days (history: %d days)\n", r.HorizonDays, r.HistoricalDays)
	fmt.Fprintf(writer, "Model:   %s", r.Model.Type)
	if r.Model.Cached {
		fmt.Fprintf(writer, " (cached)")
	}
	if r.Model.FallbackReason != "" {
		fmt.Fprintf(writer, " (fallback: %s)", r.Model.FallbackReason)
	}
	fmt.Fprintf(writer, "\n\n")

	fmt.Fprintf(writer, "=== STATISTICS ===\n")
	s := r.Stats
	fmt.Fprintf(writer, "Current Balance:     %s\n", s.CurrentBalance.StringFixed(2))
	fmt.Fprintf(writer, "Avg Daily Income:    %s\n", s.AvgDailyIncome.StringFixed(2))
	fmt.Fprintf(writer, "Avg Daily Expense:   %s\n", s.AvgDailyExpense.StringFixed(2))
	fmt.Fprintf(writer, "Avg Daily Net:       %s\n", s.AvgDailyNet.StringFixed(2))
	fmt.Fprintf(writer, "Balance Range:       %s .. %s\n", s.MinBalance.StringFixed(2), s.MaxBalance.StringFixed(2))
	fmt.Fprintf(writer, "Transactions:        %d historical, %d planned\n", s.HistoricalTransactions, s.PlannedTransactions)
	if s.RunwayDays != nil {
		fmt.Fprintf(writer, "Runway:              %d days\n", *s.RunwayDays)
	} else {
		fmt.Fprintf(writer, "Runway:              not limited\n")
	}
	fmt.Fprintf(writer, "\n")

	if r.Alerts.LowCash || r.Alerts.NegativeBalance {
		fmt.Fprintf(writer, "=== ALERTS ===\n")
		if r.Alerts.NegativeBalance {
			fmt.Fprintf(writer, "  ! projected balance goes negative\n")
		}
		if r.Alerts.LowCash {
			fmt.Fprintf(writer, "  ! cash runway is short\n")
		}
		fmt.Fprintf(writer, "\n")
	}

	fmt.Fprintf(writer, "=== FORECAST ===\n")
	fmt.Fprintf(writer, "%-10s  %14s  %14s  %14s  %14s  %12s\n", "Date", "Pessimistic", "Realistic", "Optimistic", "Balance", "Planned")
	rg.rule(writer)
	shown := rg.limit(len(r.Forecast))
	for _, p := range r.Forecast[:shown] {
		fmt.Fprintf(writer, "%-10s  %14s  %14s  %14s  %14s  %12s\n",
			p.Date.Format(models.DateFormat),
			p.Pessimistic.StringFixed(2),
			p.Realistic.StringFixed(2),
			p.Optimistic.StringFixed(2),
			p.Balance.StringFixed(2),
			p.PlannedNet.StringFixed(2))
	}
	rg.more(writer, shown, len(r.Forecast))

	if rg.config.IncludeEvents && len(r.Events) > 0 {
		fmt.Fprintf(writer, "\n=== EVENTS ===\n")
		for i, ev := range r.Events {
			fmt.Fprintf(writer, "  %d. %s  %-30s %12s  (%s, confidence %.0f%%)\n",
				i+1, ev.Date.Format(models.DateFormat), ev.Label, ev.Amount.StringFixed(2), ev.Type, ev.Confidence*100)
		}
	}
}

func (rg *ReportGenerator) printBacktest(r *reconciler.BacktestResult, writer io.Writer) {
	fmt.Fprintf(writer, "FORECAST BACKTEST\n")
	fmt.Fprintf(writer, "Company:      %s\n", r.CompanyID)
	fmt.Fprintf(writer, "Horizon:      %d days\n", r.HorizonDays)
	fmt.Fprintf(writer, "Transactions: %d\n\n", r.Transactions)
	if r.Metrics == nil {
		fmt.Fprintf(writer, "No metrics returned\n")
		return
	}
	fmt.Fprintf(writer, "MAE:      %.2f\n", r.Metrics.MAE)
	fmt.Fprintf(writer, "RMSE:     %.2f\n", r.Metrics.RMSE)
	fmt.Fprintf(writer, "MAPE:     %.2f%%\n", r.Metrics.MAPE)
	fmt.Fprintf(writer, "Coverage: %.1f%%\n", r.Metrics.Coverage*100)
	fmt.Fprintf(writer, "Cutoffs:  %d\n", r.Metrics.CutoffsTested)
}

func (rg *ReportGenerator) printLedger(r *ledger.Result, writer io.Writer) {
	t := r.Totals
	fmt.Fprintf(writer, "Base Balance:       %s\n", r.BaseBalance.StringFixed(2))
	fmt.Fprintf(writer, "Credits:            %s (planned %s)\n", t.Credit.StringFixed(2), t.PlannedCredit.StringFixed(2))
	fmt.Fprintf(writer, "Debits:             %s (planned %s)\n", t.Debit.StringFixed(2), t.PlannedDebit.StringFixed(2))
	fmt.Fprintf(writer, "Final Balance:      %s\n", t.FinalBalance.StringFixed(2))
	fmt.Fprintf(writer, "Projected Balance:  %s\n", t.FinalProjectedBalance.StringFixed(2))
	fmt.Fprintf(writer, "Transactions:       %d", t.Transactions)
	if t.Dropped > 0 {
		fmt.Fprintf(writer, " (%d without a usable date)", t.Dropped)
	}
	fmt.Fprintf(writer, "\n\n")

	fmt.Fprintf(writer, "%-10s  %12s  %12s  %12s  %14s  %14s  %5s\n", "Period", "Credit", "Debit", "Planned", "Balance", "Projected", "Count")
	rg.rule(writer)
	shown := rg.limit(len(r.Buckets))
	for _, b := range r.Buckets[:shown] {
		fmt.Fprintf(writer, "%-10s  %12s  %12s  %12s  %14s  %14s  %5d\n",
			b.Key,
			b.Credit.StringFixed(2),
			b.Debit.StringFixed(2),
			b.PlannedNet.StringFixed(2),
			b.Balance.StringFixed(2),
			b.ProjectedBalance.StringFixed(2),
			b.Count)
	}
	rg.more(writer, shown, len(r.Buckets))
}

func (rg *ReportGenerator) printTopCategories(r *reports.TopCategoriesReport, writer io.Writer) {
	rg.header(writer, "TOP CATEGORIES", r.CompanyID, r.Range)
	section := func(title string, total decimal.Decimal, items []reports.CategoryTotal) {
		fmt.Fprintf(writer, "=== %s (%s) ===\n", title, total.StringFixed(2))
		if len(items) == 0 {
			fmt.Fprintf(writer, "  none\n")
		}
		for i, c := range items {
			fmt.Fprintf(writer, "  %d. %-30s %14s  %6.2f%%  (%d)\n", i+1, c.Name, c.Total.StringFixed(2), c.Share, c.Count)
		}
		fmt.Fprintf(writer, "\n")
	}
	section("INCOME", r.TotalIncome, r.Income)
	section("EXPENSES", r.TotalExpense, r.Expenses)
}

func (rg *ReportGenerator) printGrouped(r *reports.GroupedReport, writer io.Writer) {
	rg.header(writer, fmt.Sprintf("%s REPORT", strings.ToUpper(r.Kind)), r.CompanyID, r.Range)
	for _, g := range r.Groups {
		label := g.Key
		if g.Name != "" && g.Name != g.Key {
			label = fmt.Sprintf("%s (%s)", g.Name, g.Key)
		}
		fmt.Fprintf(writer, "=== %s ===\n", label)
		if len(g.Accounts) > 0 {
			fmt.Fprintf(writer, "Accounts: %s\n", strings.Join(g.Accounts, ", "))
		}
		rg.printLedger(&g.Result, writer)
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) printProfitability(r *reports.ProfitabilityReport, writer io.Writer) {
	rg.header(writer, "PROFITABILITY", r.CompanyID, r.Range)
	fmt.Fprintf(writer, "Revenue:  %s\n", r.Revenue.StringFixed(2))
	fmt.Fprintf(writer, "Expenses: %s\n", r.Expenses.StringFixed(2))
	fmt.Fprintf(writer, "Margin:   %s (%.2f%%)\n\n", r.Margin.StringFixed(2), r.MarginRate)

	fmt.Fprintf(writer, "%-30s  %14s  %14s  %14s  %8s\n", "Category", "Revenue", "Expenses", "Margin", "Rate")
	rg.rule(writer)
	for _, c := range r.Categories {
		fmt.Fprintf(writer, "%-30s  %14s  %14s  %14s  %7.2f%%\n",
			c.Name, c.Revenue.StringFixed(2), c.Expenses.StringFixed(2), c.Margin.StringFixed(2), c.MarginRate)
	}
}

func (rg *ReportGenerator) printReliability(s reliability.Score, writer io.Writer) {
	fmt.Fprintf(writer, "  Reliability: %d/100 (%s)\n", s.Score, s.Level)
	if len(s.Prerequisites.Missing) > 0 {
		fmt.Fprintf(writer, "  Missing:     %s\n", strings.Join(s.Prerequisites.Missing, ", "))
	}
	if rg.config.IncludeRecommendations {
		for _, rec := range s.Recommendations {
			fmt.Fprintf(writer, "    - %s\n", rec)
		}
	}
	fmt.Fprintf(writer, "\n")
}

func (rg *ReportGenerator) printDSO(r *kpi.DSOReport, writer io.Writer) {
	fmt.Fprintf(writer, "=== DSO (%s) ===\n", r.Range.String())
	fmt.Fprintf(writer, "  DSO:                 %.2f days\n", r.DSO)
	fmt.Fprintf(writer, "  Receivables:         %s (%d open invoices)\n", r.OutstandingReceivables.StringFixed(2), r.OutstandingInvoices)
	fmt.Fprintf(writer, "  Period Revenue:      %s\n", r.PeriodRevenue.StringFixed(2))
	fmt.Fprintf(writer, "  Previous DSO:        %.2f (%s, %+.2f)\n", r.PreviousDSO, r.Trend, r.Change)
	rg.printReliability(r.Reliability, writer)
}

func (rg *ReportGenerator) printEBITDA(r *kpi.EBITDAReport, writer io.Writer) {
	fmt.Fprintf(writer, "=== EBITDA (%s) ===\n", r.Range.String())
	fmt.Fprintf(writer, "  Revenue:             %s\n", r.Revenue.StringFixed(2))
	fmt.Fprintf(writer, "  COGS:                %s\n", r.COGS.StringFixed(2))
	fmt.Fprintf(writer, "  Gross Margin:        %s (%.2f%%)\n", r.GrossMargin.StringFixed(2), r.GrossMarginRate)
	fmt.Fprintf(writer, "  Operating Expenses:  %s\n", r.OperatingExpenses.StringFixed(2))
	fmt.Fprintf(writer, "  D&A:                 %s\n", r.DepreciationAmortization.StringFixed(2))
	fmt.Fprintf(writer, "  EBITDA:              %s (%.2f%%)\n", r.EBITDA.StringFixed(2), r.EBITDAMargin)
	rg.printReliability(r.Reliability, writer)
}

func (rg *ReportGenerator) printBFR(r *kpi.BFRReport, writer io.Writer) {
	fmt.Fprintf(writer, "=== BFR (%s) ===\n", r.Range.String())
	fmt.Fprintf(writer, "  Receivables:         %s\n", r.Receivables.StringFixed(2))
	fmt.Fprintf(writer, "  Payables:            %s\n", r.Payables.StringFixed(2))
	fmt.Fprintf(writer, "  BFR:                 %s (%.2f days of revenue)\n", r.BFR.StringFixed(2), r.BFRDays)
	rg.printReliability(r.Reliability, writer)
}

func (rg *ReportGenerator) printBreakEven(r *kpi.BreakEvenReport, writer io.Writer) {
	fmt.Fprintf(writer, "=== BREAK-EVEN (%s) ===\n", r.Range.String())
	fmt.Fprintf(writer, "  Revenue:             %s\n", r.Revenue.StringFixed(2))
	fmt.Fprintf(writer, "  Fixed Costs:         %s\n", r.FixedCosts.StringFixed(2))
	fmt.Fprintf(writer, "  Variable Costs:      %s\n", r.VariableCosts.StringFixed(2))
	fmt.Fprintf(writer, "  Contribution Margin: %.2f%%\n", r.ContributionMargin)
	fmt.Fprintf(writer, "  Break-even Revenue:  %s\n", r.BreakEvenRevenue.StringFixed(2))
	status := "not reached"
	if r.Reached {
		status = "reached"
	}
	fmt.Fprintf(writer, "  Safety Margin:       %.2f%% (%s)\n", r.SafetyMargin, status)
	rg.printReliability(r.Reliability, writer)
}

// CSV output

func (rg *ReportGenerator) generateCSVReport(result interface{}, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	var headers []string
	var rows [][]string

	switch r := result.(type) {
	case *reconciler.Result:
		headers = []string{"Date", "Balance", "Lower_80", "Upper_80", "Lower_95", "Upper_95",
			"Pessimistic", "Realistic", "Optimistic", "Income", "Expense", "Planned_Net"}
		for _, p := range r.Forecast {
			rows = append(rows, []string{
				p.Date.Format(models.DateFormat),
				p.Balance.StringFixed(2), p.Lower80.StringFixed(2), p.Upper80.StringFixed(2),
				p.Lower95.StringFixed(2), p.Upper95.StringFixed(2),
				p.Pessimistic.StringFixed(2), p.Realistic.StringFixed(2), p.Optimistic.StringFixed(2),
				p.Income.StringFixed(2), p.Expense.StringFixed(2), p.PlannedNet.StringFixed(2),
			})
		}
	case *reconciler.BacktestResult:
		headers = []string{"Company", "Horizon_Days", "Transactions", "MAE", "RMSE", "MAPE", "Coverage", "Cutoffs"}
		row := []string{r.CompanyID, strconv.Itoa(r.HorizonDays), strconv.Itoa(r.Transactions), "", "", "", "", ""}
		if m := r.Metrics; m != nil {
			row = append(row[:3], formatFloat(m.MAE), formatFloat(m.RMSE), formatFloat(m.MAPE),
				formatFloat(m.Coverage), strconv.Itoa(m.CutoffsTested))
		}
		rows = append(rows, row)
	case *reports.LedgerReport:
		headers = bucketHeaders(false)
		rows = bucketRows("", &r.Result)
	case *reports.GroupedReport:
		headers = bucketHeaders(true)
		for _, g := range r.Groups {
			rows = append(rows, bucketRows(g.Key, &g.Result)...)
		}
	case *reports.TopCategoriesReport:
		headers = []string{"Direction", "Rank", "Category_ID", "Name", "Total", "Share", "Count"}
		for i, c := range r.Income {
			rows = append(rows, categoryRow("income", i+1, c))
		}
		for i, c := range r.Expenses {
			rows = append(rows, categoryRow("expense", i+1, c))
		}
	case *reports.ProfitabilityReport:
		headers = []string{"Category_ID", "Name", "Revenue", "Expenses", "Margin", "Margin_Rate", "Count"}
		for _, c := range r.Categories {
			rows = append(rows, []string{c.CategoryID, c.Name, c.Revenue.StringFixed(2), c.Expenses.StringFixed(2),
				c.Margin.StringFixed(2), formatFloat(c.MarginRate), strconv.Itoa(c.Count)})
		}
	case *kpi.Summary:
		headers = kpiHeaders()
		rows = [][]string{
			kpiRow("dso", r.DSO.Range, formatFloat(r.DSO.DSO), r.DSO.Reliability),
			kpiRow("ebitda", r.EBITDA.Range, r.EBITDA.EBITDA.StringFixed(2), r.EBITDA.Reliability),
			kpiRow("bfr", r.BFR.Range, r.BFR.BFR.StringFixed(2), r.BFR.Reliability),
			kpiRow("breakeven", r.BreakEven.Range, r.BreakEven.BreakEvenRevenue.StringFixed(2), r.BreakEven.Reliability),
		}
	case *kpi.DSOReport:
		headers, rows = kpiHeaders(), [][]string{kpiRow("dso", r.Range, formatFloat(r.DSO), r.Reliability)}
	case *kpi.EBITDAReport:
		headers, rows = kpiHeaders(), [][]string{kpiRow("ebitda", r.Range, r.EBITDA.StringFixed(2), r.Reliability)}
	case *kpi.BFRReport:
		headers, rows = kpiHeaders(), [][]string{kpiRow("bfr", r.Range, r.BFR.StringFixed(2), r.Reliability)}
	case *kpi.BreakEvenReport:
		headers, rows = kpiHeaders(), [][]string{kpiRow("breakeven", r.Range, r.BreakEvenRevenue.StringFixed(2), r.Reliability)}
	}

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, row := range rows {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func bucketHeaders(grouped bool) []string {
	h := []string{"Period", "Credit", "Debit", "Planned_Credit", "Planned_Debit", "Net", "Planned_Net", "Balance", "Projected_Balance", "Count"}
	if grouped {
		return append([]string{"Group"}, h...)
	}
	return h
}

func bucketRows(group string, r *ledger.Result) [][]string {
	rows := make([][]string, 0, len(r.Buckets))
	for _, b := range r.Buckets {
		row := []string{
			b.Key,
			b.Credit.StringFixed(2), b.Debit.StringFixed(2),
			b.PlannedCredit.StringFixed(2), b.PlannedDebit.StringFixed(2),
			b.Net.StringFixed(2), b.PlannedNet.StringFixed(2),
			b.Balance.StringFixed(2), b.ProjectedBalance.StringFixed(2),
			strconv.Itoa(b.Count),
		}
		if group != "" {
			row = append([]string{group}, row...)
		}
		rows = append(rows, row)
	}
	return rows
}

func categoryRow(direction string, rank int, c reports.CategoryTotal) []string {
	return []string{direction, strconv.Itoa(rank), c.CategoryID, c.Name, c.Total.StringFixed(2), formatFloat(c.Share), strconv.Itoa(c.Count)}
}

func kpiHeaders() []string {
	return []string{"KPI", "From", "To", "Value", "Reliability", "Level"}
}

func kpiRow(name string, r models.DateRange, value string, s reliability.Score) []string {
	return []string{name, r.From.Format(models.DateFormat), r.To.Format(models.DateFormat), value, strconv.Itoa(s.Score), string(s.Level)}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
