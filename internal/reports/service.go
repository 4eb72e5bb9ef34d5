// Package reports serves the ledger views of a company: actuals, planned
// entries, their combination, and breakdowns by category, payment flow,
// account and portfolio. Every view is built with the ledger aggregator.
package reports

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/ledger"
	"cashflow-engine/internal/models"
	"cashflow-engine/internal/repository"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// Report names accepted by Run
const (
	ReportActuals       = "actuals"
	ReportForecast      = "forecast"
	ReportCombined      = "combined"
	ReportTopCategories = "top-categories"
	ReportByFlow        = "by-flow"
	ReportByAccount     = "by-account"
	ReportByPortfolio   = "by-portfolio"
	ReportProfitability = "profitability"
)

// Names lists every report kind in display order
var Names = []string{
	ReportActuals,
	ReportForecast,
	ReportCombined,
	ReportTopCategories,
	ReportByFlow,
	ReportByAccount,
	ReportByPortfolio,
	ReportProfitability,
}

var hundred = decimal.NewFromInt(100)

// LedgerReport is a single bucketed ledger view
type LedgerReport struct {
	CompanyID string `json:"companyId"`
	Kind      string `json:"kind"`
	ledger.Result
}

// CategoryTotal is one category line of a ranking
type CategoryTotal struct {
	CategoryID string          `json:"categoryId"`
	Name       string          `json:"name"`
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
	Share      float64         `json:"share"`
}

// TopCategoriesReport ranks income and expense categories by total
type TopCategoriesReport struct {
	CompanyID    string           `json:"companyId"`
	Range        models.DateRange `json:"range"`
	Income       []CategoryTotal  `json:"income"`
	Expenses     []CategoryTotal  `json:"expenses"`
	TotalIncome  decimal.Decimal  `json:"totalIncome"`
	TotalExpense decimal.Decimal  `json:"totalExpense"`
}

// GroupedReport is a set of ledger views, one per breakdown key
type GroupedReport struct {
	CompanyID string           `json:"companyId"`
	Kind      string           `json:"kind"`
	Range     models.DateRange `json:"range"`
	GroupBy   models.GroupBy   `json:"groupBy"`
	Groups    []NamedGroup     `json:"groups"`
}

// NamedGroup is a ledger view labelled with its key and display name
type NamedGroup struct {
	Key      string        `json:"key"`
	Name     string        `json:"name,omitempty"`
	Accounts []string      `json:"accounts,omitempty"`
	Result   ledger.Result `json:"result"`
}

// CategoryProfit is the margin carried by one category
type CategoryProfit struct {
	CategoryID string          `json:"categoryId"`
	Name       string          `json:"name"`
	Revenue    decimal.Decimal `json:"revenue"`
	Expenses   decimal.Decimal `json:"expenses"`
	Margin     decimal.Decimal `json:"margin"`
	MarginRate float64         `json:"marginRate"`
	Count      int             `json:"count"`
}

// ProfitabilityReport sums revenue and expenses per category and overall
type ProfitabilityReport struct {
	CompanyID  string           `json:"companyId"`
	Range      models.DateRange `json:"range"`
	Revenue    decimal.Decimal  `json:"revenue"`
	Expenses   decimal.Decimal  `json:"expenses"`
	Margin     decimal.Decimal  `json:"margin"`
	MarginRate float64          `json:"marginRate"`
	Categories []CategoryProfit `json:"categories"`
}

// Service builds reports from a repository
type Service struct {
	repo   repository.Reader
	logger logger.Logger
	now    func() time.Time
}

// NewService creates a report service
func NewService(repo repository.Reader) *Service {
	return &Service{
		repo:   repo,
		logger: logger.GetGlobalLogger().WithComponent("reports"),
		now:    time.Now,
	}
}

// SetLogger replaces the service logger
func (s *Service) SetLogger(l logger.Logger) {
	s.logger = l
}

// SetClock replaces the clock used to resolve default ranges
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Resolve validates q against the service clock
func (s *Service) Resolve(q Query) (Resolved, error) {
	return q.Resolve(s.now())
}

// Run dispatches to the report named kind
func (s *Service) Run(ctx context.Context, kind string, q Query) (interface{}, error) {
	switch kind {
	case ReportActuals:
		return s.Actuals(ctx, q)
	case ReportForecast:
		return s.Forecast(ctx, q)
	case ReportCombined:
		return s.Combined(ctx, q)
	case ReportTopCategories:
		return s.TopCategories(ctx, q)
	case ReportByFlow:
		return s.ByFlow(ctx, q)
	case ReportByAccount:
		return s.ByAccount(ctx, q)
	case ReportByPortfolio:
		return s.ByPortfolio(ctx, q)
	case ReportProfitability:
		return s.Profitability(ctx, q)
	default:
		return nil, errors.ValidationError(errors.CodeInvalidFormat, "report", kind, nil).
			WithSuggestion("use one of: actuals, forecast, combined, top-categories, by-flow, by-account, by-portfolio, profitability")
	}
}

func (s *Service) load(ctx context.Context, r Resolved, statuses ...models.TransactionStatus) ([]models.Transaction, error) {
	txs, err := s.repo.ListTransactions(ctx, r.filter(statuses...))
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load transactions")
	}
	return txs, nil
}

func (s *Service) ledgerReport(ctx context.Context, kind string, q Query, statuses ...models.TransactionStatus) (*LedgerReport, error) {
	r, err := s.Resolve(q)
	if err != nil {
		return nil, err
	}
	txs, err := s.load(ctx, r, statuses...)
	if err != nil {
		return nil, err
	}

	result := ledger.Aggregate(txs, r.Range, r.GroupBy)
	s.logger.WithFields(logger.Fields{
		"report":       kind,
		"company_id":   r.CompanyID,
		"range":        r.Range.String(),
		"group_by":     r.GroupBy,
		"transactions": result.Totals.Transactions,
		"dropped":      result.Totals.Dropped,
	}).Debug("Report built")

	return &LedgerReport{CompanyID: r.CompanyID, Kind: kind, Result: result}, nil
}

// Actuals buckets CONFIRMED transactions only
func (s *Service) Actuals(ctx context.Context, q Query) (*LedgerReport, error) {
	return s.ledgerReport(ctx, ReportActuals, q, models.StatusConfirmed)
}

// Forecast buckets PLANNED and SCHEDULED transactions only
func (s *Service) Forecast(ctx context.Context, q Query) (*LedgerReport, error) {
	return s.ledgerReport(ctx, ReportForecast, q, models.StatusPlanned, models.StatusScheduled)
}

// Combined buckets every transaction; ProjectedBalance carries the planned part
func (s *Service) Combined(ctx context.Context, q Query) (*LedgerReport, error) {
	return s.ledgerReport(ctx, ReportCombined, q)
}

// TopCategories ranks the CONFIRMED income and expense categories of the range
func (s *Service) TopCategories(ctx context.Context, q Query) (*TopCategoriesReport, error) {
	r, err := s.Resolve(q)
	if err != nil {
		return nil, err
	}
	txs, err := s.load(ctx, r, models.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	names, err := s.categoryNames(ctx, r.CompanyID)
	if err != nil {
		return nil, err
	}

	income := map[string]*CategoryTotal{}
	expenses := map[string]*CategoryTotal{}
	report := &TopCategoriesReport{
		CompanyID:    r.CompanyID,
		Range:        r.Range,
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
	}

	for i := range txs {
		tx := &txs[i]
		d, ok := tx.EffectiveDate()
		if !ok || !r.Range.Contains(d) {
			continue
		}
		target := expenses
		if tx.IsCredit() {
			target = income
			report.TotalIncome = report.TotalIncome.Add(tx.Amount)
		} else {
			report.TotalExpense = report.TotalExpense.Add(tx.Amount)
		}
		line, ok := target[tx.CategoryID]
		if !ok {
			line = &CategoryTotal{CategoryID: tx.CategoryID, Name: names[tx.CategoryID], Total: decimal.Zero}
			target[tx.CategoryID] = line
		}
		line.Total = line.Total.Add(tx.Amount)
		line.Count++
	}

	report.Income = rank(income, report.TotalIncome, r.Limit)
	report.Expenses = rank(expenses, report.TotalExpense, r.Limit)
	return report, nil
}

func rank(lines map[string]*CategoryTotal, total decimal.Decimal, limit int) []CategoryTotal {
	out := make([]CategoryTotal, 0, len(lines))
	for _, line := range lines {
		if !total.IsZero() {
			line.Share, _ = line.Total.Mul(hundred).Div(total).Round(2).Float64()
		}
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ByFlow runs one ledger view per payment flow. Transactions without a flow
// share the empty key.
func (s *Service) ByFlow(ctx context.Context, q Query) (*GroupedReport, error) {
	r, err := s.Resolve(q)
	if err != nil {
		return nil, err
	}
	txs, err := s.load(ctx, r)
	if err != nil {
		return nil, err
	}
	groups := ledger.AggregateBy(txs, r.Range, r.GroupBy, ledger.ByPaymentFlow)
	return s.grouped(ReportByFlow, r, groups, nil), nil
}

// ByAccount runs one ledger view per account, each with its own base balance
func (s *Service) ByAccount(ctx context.Context, q Query) (*GroupedReport, error) {
	r, err := s.Resolve(q)
	if err != nil {
		return nil, err
	}
	txs, err := s.load(ctx, r)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccounts(ctx, r.CompanyID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load accounts")
	}
	names := make(map[string]string, len(accounts))
	for _, a := range accounts {
		names[a.ID] = a.Name
	}

	groups := ledger.AggregateBy(txs, r.Range, r.GroupBy, ledger.ByAccount)
	return s.grouped(ReportByAccount, r, groups, names), nil
}

// ByPortfolio runs one ledger view per portfolio, merging the transactions of
// its accounts. Accounts without a portfolio share the empty key.
func (s *Service) ByPortfolio(ctx context.Context, q Query) (*GroupedReport, error) {
	r, err := s.Resolve(q)
	if err != nil {
		return nil, err
	}
	txs, err := s.load(ctx, r)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccounts(ctx, r.CompanyID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load accounts")
	}

	portfolioOf := make(map[string]string, len(accounts))
	members := make(map[string][]string)
	for _, a := range accounts {
		portfolioOf[a.ID] = a.PortfolioID
		members[a.PortfolioID] = append(members[a.PortfolioID], a.ID)
	}

	groups := ledger.AggregateBy(txs, r.Range, r.GroupBy, func(tx *models.Transaction) string {
		return portfolioOf[tx.AccountID]
	})
	report := s.grouped(ReportByPortfolio, r, groups, nil)
	for i := range report.Groups {
		ids := members[report.Groups[i].Key]
		sort.Strings(ids)
		report.Groups[i].Accounts = ids
	}
	return report, nil
}

func (s *Service) grouped(kind string, r Resolved, groups []ledger.Group, names map[string]string) *GroupedReport {
	report := &GroupedReport{
		CompanyID: r.CompanyID,
		Kind:      kind,
		Range:     r.Range,
		GroupBy:   r.GroupBy,
		Groups:    make([]NamedGroup, 0, len(groups)),
	}
	for _, g := range groups {
		report.Groups = append(report.Groups, NamedGroup{Key: g.Key, Name: names[g.Key], Result: g.Result})
	}
	s.logger.WithFields(logger.Fields{
		"report":     kind,
		"company_id": r.CompanyID,
		"groups":     len(groups),
	}).Debug("Report built")
	return report
}

// Profitability sums CONFIRMED revenue and expenses per category over the range
func (s *Service) Profitability(ctx context.Context, q Query) (*ProfitabilityReport, error) {
	r, err := s.Resolve(q)
	if err != nil {
		return nil, err
	}
	txs, err := s.load(ctx, r, models.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	names, err := s.categoryNames(ctx, r.CompanyID)
	if err != nil {
		return nil, err
	}

	report := &ProfitabilityReport{
		CompanyID: r.CompanyID,
		Range:     r.Range,
		Revenue:   decimal.Zero,
		Expenses:  decimal.Zero,
	}
	lines := map[string]*CategoryProfit{}
	for i := range txs {
		tx := &txs[i]
		d, ok := tx.EffectiveDate()
		if !ok || !r.Range.Contains(d) {
			continue
		}
		line, ok := lines[tx.CategoryID]
		if !ok {
			line = &CategoryProfit{CategoryID: tx.CategoryID, Name: names[tx.CategoryID], Revenue: decimal.Zero, Expenses: decimal.Zero}
			lines[tx.CategoryID] = line
		}
		line.Count++
		if tx.IsCredit() {
			line.Revenue = line.Revenue.Add(tx.Amount)
			report.Revenue = report.Revenue.Add(tx.Amount)
		} else {
			line.Expenses = line.Expenses.Add(tx.Amount)
			report.Expenses = report.Expenses.Add(tx.Amount)
		}
	}

	report.Margin = report.Revenue.Sub(report.Expenses)
	report.MarginRate = marginRate(report.Margin, report.Revenue)
	report.Categories = make([]CategoryProfit, 0, len(lines))
	for _, line := range lines {
		line.Margin = line.Revenue.Sub(line.Expenses)
		line.MarginRate = marginRate(line.Margin, line.Revenue)
		report.Categories = append(report.Categories, *line)
	}
	sort.Slice(report.Categories, func(i, j int) bool {
		a, b := report.Categories[i], report.Categories[j]
		if !a.Margin.Equal(b.Margin) {
			return a.Margin.GreaterThan(b.Margin)
		}
		return a.CategoryID < b.CategoryID
	})
	return report, nil
}

// marginRate returns margin/revenue in percent, 0 without revenue
func marginRate(margin, revenue decimal.Decimal) float64 {
	if revenue.IsZero() {
		return 0
	}
	f, _ := margin.Mul(hundred).Div(revenue).Round(2).Float64()
	return f
}

func (s *Service) categoryNames(ctx context.Context, companyID string) (map[string]string, error) {
	categories, err := s.repo.ListCategories(ctx, companyID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load categories")
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}
