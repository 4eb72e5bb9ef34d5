package reports

import (
	"time"

	"cashflow-engine/internal/models"
	"cashflow-engine/internal/repository"
	"cashflow-engine/pkg/errors"
)

// Range defaults and bounds
const (
	DefaultDays = 30
	MaxDays     = 3660
	DefaultTopN = 5
)

// Query is the caller-facing report request. Every field is optional except
// CompanyID.
type Query struct {
	CompanyID     string     `json:"companyId"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	Days          int        `json:"days,omitempty"`
	GroupBy       string     `json:"groupBy,omitempty"`
	PortfolioID   string     `json:"portfolioId,omitempty"`
	AccountID     string     `json:"accountId,omitempty"`
	PaymentFlowID string     `json:"paymentFlowId,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

// Resolved is a validated query with its concrete range and grouping
type Resolved struct {
	CompanyID     string
	Range         models.DateRange
	GroupBy       models.GroupBy
	AccountIDs    []string
	PortfolioID   string
	PaymentFlowID string
	Limit         int
}

// Resolve fills in the defaults of q relative to today. A missing range is
// the last Days days (30 by default) ending today; a lone From runs to today
// and a lone To reaches back Days days.
func (q Query) Resolve(today time.Time) (Resolved, error) {
	if q.CompanyID == "" {
		return Resolved{}, errors.ValidationError(errors.CodeMissingField, "companyId", "", nil)
	}

	days := q.Days
	if days == 0 {
		days = DefaultDays
	}
	if days < 1 || days > MaxDays {
		return Resolved{}, errors.ValidationError(errors.CodeOutOfRange, "days", q.Days, nil)
	}

	groupBy, err := models.ParseGroupBy(q.GroupBy)
	if err != nil {
		return Resolved{}, errors.ValidationError(errors.CodeInvalidGroupBy, "groupBy", q.GroupBy, err)
	}

	to := models.TruncateDay(today)
	if q.To != nil {
		to = models.TruncateDay(*q.To)
	}
	from := to.AddDate(0, 0, -(days - 1))
	if q.From != nil {
		from = models.TruncateDay(*q.From)
	}

	r := models.NewDateRange(from, to)
	if err := r.Validate(); err != nil {
		return Resolved{}, errors.ValidationError(errors.CodeInvalidRange, "range", r.String(), err)
	}
	if r.Days() > MaxDays {
		return Resolved{}, errors.ValidationError(errors.CodeOutOfRange, "range", r.String(), nil)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultTopN
	}

	res := Resolved{
		CompanyID:     q.CompanyID,
		Range:         r,
		GroupBy:       groupBy,
		PortfolioID:   q.PortfolioID,
		PaymentFlowID: q.PaymentFlowID,
		Limit:         limit,
	}
	if q.AccountID != "" {
		res.AccountIDs = []string{q.AccountID}
	}
	return res, nil
}

// filter builds the repository filter for the given statuses. Only the upper
// bound is applied so earlier CONFIRMED entries still feed the base balance.
func (r Resolved) filter(statuses ...models.TransactionStatus) repository.TransactionFilter {
	to := r.Range.To
	return repository.TransactionFilter{
		CompanyID:     r.CompanyID,
		AccountIDs:    r.AccountIDs,
		PortfolioID:   r.PortfolioID,
		PaymentFlowID: r.PaymentFlowID,
		Statuses:      statuses,
		To:            &to,
	}
}
