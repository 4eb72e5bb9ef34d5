package kpi

import (
	"context"
	"time"

	"cashflow-engine/internal/models"
	"cashflow-engine/internal/reliability"
	"cashflow-engine/internal/repository"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// Query selects the company, scope and window of a KPI computation
type Query struct {
	CompanyID   string
	Range       models.DateRange
	AccountIDs  []string
	PortfolioID string
}

// DSOReport is a DSO result with its reliability
type DSOReport struct {
	DSOResult
	Range       models.DateRange  `json:"range"`
	Reliability reliability.Score `json:"reliability"`
}

// EBITDAReport is an EBITDA result with its reliability
type EBITDAReport struct {
	EBITDAResult
	Range       models.DateRange  `json:"range"`
	Reliability reliability.Score `json:"reliability"`
}

// BFRReport is a BFR result with its reliability
type BFRReport struct {
	BFRResult
	Range       models.DateRange  `json:"range"`
	Reliability reliability.Score `json:"reliability"`
}

// BreakEvenReport is a break-even result with its reliability
type BreakEvenReport struct {
	BreakEvenResult
	Range       models.DateRange  `json:"range"`
	Reliability reliability.Score `json:"reliability"`
}

// Summary bundles every KPI of one window
type Summary struct {
	CompanyID   string           `json:"companyId"`
	Range       models.DateRange `json:"range"`
	GeneratedAt time.Time        `json:"generatedAt"`
	DSO         DSOReport        `json:"dso"`
	EBITDA      EBITDAReport     `json:"ebitda"`
	BFR         BFRReport        `json:"bfr"`
	BreakEven   BreakEvenReport  `json:"breakeven"`
}

// Classifier classifies category names for both EBITDA and break-even
type Classifier interface {
	ExpenseClassifier
	CostClassifier
}

// Service loads KPI inputs through a repository and scores each result
type Service struct {
	repo       repository.Reader
	classifier Classifier
	logger     logger.Logger
	now        func() time.Time
}

// NewService creates a KPI service. A nil classifier uses the built-in keyword lists.
func NewService(repo repository.Reader, classifier Classifier) *Service {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Service{
		repo:       repo,
		classifier: classifier,
		logger:     logger.GetGlobalLogger().WithComponent("kpi"),
		now:        time.Now,
	}
}

// SetLogger replaces the service logger
func (s *Service) SetLogger(l logger.Logger) {
	s.logger = l
}

// SetClock replaces the clock used for GeneratedAt
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) validate(q Query) error {
	if q.CompanyID == "" {
		return errors.ValidationError(errors.CodeMissingField, "companyId", "", nil)
	}
	if err := q.Range.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidRange, "range", q.Range.String(), err)
	}
	return nil
}

func (s *Service) transactions(ctx context.Context, q Query) ([]models.Transaction, error) {
	from, to := q.Range.From, q.Range.To
	txs, err := s.repo.ListTransactions(ctx, repository.TransactionFilter{
		CompanyID:   q.CompanyID,
		AccountIDs:  q.AccountIDs,
		PortfolioID: q.PortfolioID,
		Statuses:    []models.TransactionStatus{models.StatusConfirmed},
		From:        &from,
		To:          &to,
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load transactions")
	}
	return txs, nil
}

func (s *Service) invoices(ctx context.Context, q Query) ([]models.Invoice, error) {
	to := q.Range.To
	invoices, err := s.repo.ListInvoices(ctx, repository.InvoiceFilter{
		CompanyID: q.CompanyID,
		IssuedTo:  &to,
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load invoices")
	}
	return invoices, nil
}

func (s *Service) categories(ctx context.Context, q Query) ([]models.Category, error) {
	categories, err := s.repo.ListCategories(ctx, q.CompanyID)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeRepositoryError, "failed to load categories")
	}
	return categories, nil
}

// DSO computes Days Sales Outstanding for the query window
func (s *Service) DSO(ctx context.Context, q Query) (*DSOReport, error) {
	if err := s.validate(q); err != nil {
		return nil, err
	}
	invoices, err := s.invoices(ctx, q)
	if err != nil {
		return nil, err
	}
	report := buildDSO(invoices, q.Range)
	s.logKPI("dso", q, report.Reliability)
	return &report, nil
}

// EBITDA computes EBITDA for the query window
func (s *Service) EBITDA(ctx context.Context, q Query) (*EBITDAReport, error) {
	if err := s.validate(q); err != nil {
		return nil, err
	}
	txs, err := s.transactions(ctx, q)
	if err != nil {
		return nil, err
	}
	categories, err := s.categories(ctx, q)
	if err != nil {
		return nil, err
	}
	report := buildEBITDA(txs, categories, q.Range, s.classifier)
	s.logKPI("ebitda", q, report.Reliability)
	return &report, nil
}

// BFR computes the working-capital requirement at the end of the query window
func (s *Service) BFR(ctx context.Context, q Query) (*BFRReport, error) {
	if err := s.validate(q); err != nil {
		return nil, err
	}
	txs, err := s.transactions(ctx, q)
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoices(ctx, q)
	if err != nil {
		return nil, err
	}
	report := buildBFR(txs, invoices, q.Range)
	s.logKPI("bfr", q, report.Reliability)
	return &report, nil
}

// BreakEven computes the break-even analysis for the query window
func (s *Service) BreakEven(ctx context.Context, q Query) (*BreakEvenReport, error) {
	if err := s.validate(q); err != nil {
		return nil, err
	}
	txs, err := s.transactions(ctx, q)
	if err != nil {
		return nil, err
	}
	categories, err := s.categories(ctx, q)
	if err != nil {
		return nil, err
	}
	report := buildBreakEven(txs, categories, q.Range, s.classifier)
	s.logKPI("breakeven", q, report.Reliability)
	return &report, nil
}

// All computes every KPI from a single load of the window
func (s *Service) All(ctx context.Context, q Query) (*Summary, error) {
	if err := s.validate(q); err != nil {
		return nil, err
	}

	op := logger.NewOperationLogger("kpi_summary", s.logger).WithFields(logger.Fields{
		"company_id": q.CompanyID,
		"range":      q.Range.String(),
	})

	txs, err := s.transactions(ctx, q)
	if err != nil {
		op.Error(err, "Failed to load transactions")
		return nil, err
	}
	invoices, err := s.invoices(ctx, q)
	if err != nil {
		op.Error(err, "Failed to load invoices")
		return nil, err
	}
	categories, err := s.categories(ctx, q)
	if err != nil {
		op.Error(err, "Failed to load categories")
		return nil, err
	}

	summary := &Summary{
		CompanyID:   q.CompanyID,
		Range:       q.Range,
		GeneratedAt: s.now(),
		DSO:         buildDSO(invoices, q.Range),
		EBITDA:      buildEBITDA(txs, categories, q.Range, s.classifier),
		BFR:         buildBFR(txs, invoices, q.Range),
		BreakEven:   buildBreakEven(txs, categories, q.Range, s.classifier),
	}

	op.WithFields(logger.Fields{
		"transactions": len(txs),
		"invoices":     len(invoices),
	}).Success("KPI summary computed")
	return summary, nil
}

func (s *Service) logKPI(name string, q Query, score reliability.Score) {
	s.logger.WithFields(logger.Fields{
		"kpi":         name,
		"company_id":  q.CompanyID,
		"range":       q.Range.String(),
		"reliability": score.Score,
		"level":       score.Level,
	}).Debug("KPI computed")
}

func buildDSO(invoices []models.Invoice, r models.DateRange) DSOReport {
	res := CalculateDSO(invoices, r)
	return DSOReport{
		DSOResult: res,
		Range:     r,
		Reliability: reliability.ScoreDSO(reliability.DSOInput{
			CustomerInvoices: res.CustomerInvoices,
			PaidInvoices:     res.PaidInvoices,
			PaidWithDate:     res.PaidWithDate,
			RevenueIsZero:    res.PeriodRevenue.IsZero(),
			DaysInPeriod:     res.DaysInPeriod,
		}),
	}
}

func buildEBITDA(txs []models.Transaction, categories []models.Category, r models.DateRange, c ExpenseClassifier) EBITDAReport {
	res := CalculateEBITDA(txs, categories, r, c)
	return EBITDAReport{
		EBITDAResult: res,
		Range:        r,
		Reliability: reliability.ScoreEBITDA(reliability.EBITDAInput{
			Transactions:    res.Transactions,
			CategorizedRate: res.CategorizedRate(),
			RevenueIsZero:   res.Revenue.IsZero(),
			HasDepreciation: !res.DepreciationAmortization.IsZero(),
			DaysInPeriod:    res.DaysInPeriod,
		}),
	}
}

func buildBFR(txs []models.Transaction, invoices []models.Invoice, r models.DateRange) BFRReport {
	res := CalculateBFR(txs, invoices, r)
	return BFRReport{
		BFRResult: res,
		Range:     r,
		Reliability: reliability.ScoreBFR(reliability.BFRInput{
			CustomerInvoices: res.CustomerInvoices,
			SupplierInvoices: res.SupplierInvoices,
			RevenueIsZero:    res.Revenue.IsZero(),
		}),
	}
}

func buildBreakEven(txs []models.Transaction, categories []models.Category, r models.DateRange, c CostClassifier) BreakEvenReport {
	res := CalculateBreakEven(txs, categories, r, c)
	return BreakEvenReport{
		BreakEvenResult: res,
		Range:           r,
		Reliability: reliability.ScoreBreakEven(reliability.BreakEvenInput{
			Transactions:   res.Transactions,
			RevenueIsZero:  res.Revenue.IsZero(),
			ClassifiedRate: res.ClassifiedRate(),
			MixedRate:      res.MixedRate(),
			DaysInPeriod:   res.DaysInPeriod,
		}),
	}
}
