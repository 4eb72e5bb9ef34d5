package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the calendar-day layout used in keys, CSV files and JSON payloads
const DateFormat = "2006-01-02"

// TransactionType represents the direction of a transaction
type TransactionType string

const (
	// TransactionTypeCredit represents money coming in
	TransactionTypeCredit TransactionType = "credit"
	// TransactionTypeDebit represents money going out
	TransactionTypeDebit TransactionType = "debit"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeDebit || t == TransactionTypeCredit
}

// TransactionStatus tells whether a transaction already happened or is expected
type TransactionStatus string

const (
	StatusConfirmed TransactionStatus = "CONFIRMED"
	StatusPlanned   TransactionStatus = "PLANNED"
	StatusScheduled TransactionStatus = "SCHEDULED"
)

// IsValid checks if the status is one of the known values
func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusConfirmed, StatusPlanned, StatusScheduled:
		return true
	default:
		return false
	}
}

// IsPlanned reports whether the status describes a future, not yet confirmed, amount
func (s TransactionStatus) IsPlanned() bool {
	return s == StatusPlanned || s == StatusScheduled
}

// Transaction is a ledger entry as read from the persistence layer
type Transaction struct {
	ID            string            `json:"id"`
	CompanyID     string            `json:"companyId,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	OccurredAt    *time.Time        `json:"occurredAt,omitempty"`
	ScheduledFor  *time.Time        `json:"scheduledFor,omitempty"`
	AccountID     string            `json:"accountId"`
	CategoryID    string            `json:"categoryId,omitempty"`
	PaymentFlowID string            `json:"paymentFlowId,omitempty"`
	Description   string            `json:"description,omitempty"`
}

// EffectiveDate returns the calendar day used to bucket the transaction.
// CONFIRMED entries use OccurredAt; PLANNED and SCHEDULED entries use
// ScheduledFor and fall back to OccurredAt. The boolean is false when
// no usable date exists.
func (t *Transaction) EffectiveDate() (time.Time, bool) {
	var d *time.Time
	if t.Status.IsPlanned() {
		d = t.ScheduledFor
		if d == nil {
			d = t.OccurredAt
		}
	} else {
		d = t.OccurredAt
	}
	if d == nil || d.IsZero() {
		return time.Time{}, false
	}
	return TruncateDay(*d), true
}

// SignedAmount returns +amount for credits and -amount for debits
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TransactionTypeDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// IsConfirmed reports whether the transaction is a confirmed actual
func (t *Transaction) IsConfirmed() bool {
	return t.Status == StatusConfirmed
}

// IsCredit returns true if the transaction is a credit
func (t *Transaction) IsCredit() bool {
	return t.Type == TransactionTypeCredit
}

// IsDebit returns true if the transaction is a debit
func (t *Transaction) IsDebit() bool {
	return t.Type == TransactionTypeDebit
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("transaction amount cannot be negative")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid transaction status: %s", t.Status)
	}
	if t.Status == StatusConfirmed && (t.OccurredAt == nil || t.OccurredAt.IsZero()) {
		return fmt.Errorf("confirmed transaction %s has no occurrence date", t.ID)
	}
	return nil
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	date := "undated"
	if d, ok := t.EffectiveDate(); ok {
		date = d.Format(DateFormat)
	}
	return fmt.Sprintf("Transaction{ID: %s, Amount: %s, Type: %s, Status: %s, Date: %s}",
		t.ID, t.Amount.String(), t.Type, t.Status, date)
}

// SortByEffectiveDate orders transactions by effective date, undated ones last, ties by ID
func SortByEffectiveDate(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		di, oki := txs[i].EffectiveDate()
		dj, okj := txs[j].EffectiveDate()
		if oki != okj {
			return oki
		}
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return txs[i].ID < txs[j].ID
	})
}

// CategoryKind tells whether a category books income or expenses
type CategoryKind string

const (
	CategoryKindIncome  CategoryKind = "INCOME"
	CategoryKindExpense CategoryKind = "EXPENSE"
)

// Category groups transactions for reporting and KPI classification
type Category struct {
	ID        string       `json:"id" db:"id"`
	CompanyID string       `json:"companyId,omitempty" db:"company_id"`
	Name      string       `json:"name" db:"name"`
	Kind      CategoryKind `json:"kind" db:"kind"`
}

// Account is a bank or cash account owned by a company
type Account struct {
	ID          string `json:"id" db:"id"`
	CompanyID   string `json:"companyId,omitempty" db:"company_id"`
	Name        string `json:"name" db:"name"`
	PortfolioID string `json:"portfolioId,omitempty" db:"portfolio_id"`
}

// InvoiceSide distinguishes receivables from payables
type InvoiceSide string

const (
	InvoiceSideCustomer InvoiceSide = "customer"
	InvoiceSideSupplier InvoiceSide = "supplier"
)

// InvoiceStatus is the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceSent      InvoiceStatus = "SENT"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Invoice is a customer or supplier invoice
type Invoice struct {
	ID        string          `json:"id"`
	CompanyID string          `json:"companyId,omitempty"`
	Side      InvoiceSide     `json:"side"`
	Number    string          `json:"number,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Status    InvoiceStatus   `json:"status"`
	IssuedAt  time.Time       `json:"issuedAt"`
	DueAt     *time.Time      `json:"dueAt,omitempty"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
}

// IsCountable reports whether the invoice represents a real claim (not a draft or cancelled)
func (i *Invoice) IsCountable() bool {
	return i.Status != InvoiceDraft && i.Status != InvoiceCancelled
}

// OutstandingAt reports whether the invoice was issued and still unpaid at the end of day d
func (i *Invoice) OutstandingAt(d time.Time) bool {
	if !i.IsCountable() {
		return false
	}
	day := TruncateDay(d)
	if TruncateDay(i.IssuedAt).After(day) {
		return false
	}
	if i.Status == InvoicePaid {
		if i.PaidAt == nil {
			return false
		}
		return TruncateDay(*i.PaidAt).After(day)
	}
	return true
}

// EventType tells where a forecast event comes from
type EventType string

const (
	EventTypeAuto     EventType = "auto"
	EventTypeManual   EventType = "manual"
	EventTypeImported EventType = "imported"
)

// Frequency describes how often a recurring event happens
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyCustom    Frequency = "custom"
)

// EventMetadata carries how an event was derived
type EventMetadata struct {
	Frequency       Frequency       `json:"frequency,omitempty"`
	TransactionType TransactionType `json:"transactionType,omitempty"`
	Occurrences     int             `json:"occurrences,omitempty"`
	AverageInterval float64         `json:"averageInterval,omitempty"`
	IntervalVar     float64         `json:"intervalVariance,omitempty"`
	CategoryID      string          `json:"categoryId,omitempty"`
}

// ForecastEvent is an expected future cash movement shown on the forecast
type ForecastEvent struct {
	ID         string          `json:"id"`
	CompanyID  string          `json:"companyId,omitempty"`
	Date       time.Time       `json:"date"`
	Label      string          `json:"label"`
	Amount     decimal.Decimal `json:"amount"`
	Confidence float64         `json:"confidence"`
	Type       EventType       `json:"type"`
	Metadata   EventMetadata   `json:"metadata"`
}

// GroupBy is the calendar granularity used to bucket transactions
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

// IsValid checks if the grouping is supported
func (g GroupBy) IsValid() bool {
	switch g {
	case GroupByDay, GroupByWeek, GroupByMonth:
		return true
	default:
		return false
	}
}

// ParseGroupBy parses a grouping, defaulting to day for an empty string
func ParseGroupBy(s string) (GroupBy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return GroupByDay, nil
	}
	g := GroupBy(s)
	if !g.IsValid() {
		return "", fmt.Errorf("invalid groupBy '%s': must be day, week or month", s)
	}
	return g, nil
}

// DateRange is an inclusive range of calendar days
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewDateRange builds a range truncated to calendar days
func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: TruncateDay(from), To: TruncateDay(to)}
}

// Validate checks that the range is ordered
func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("date range bounds cannot be zero")
	}
	if r.From.After(r.To) {
		return fmt.Errorf("range start %s is after end %s", r.From.Format(DateFormat), r.To.Format(DateFormat))
	}
	return nil
}

// Days returns the number of calendar days in the range, both ends included
func (r DateRange) Days() int {
	if r.From.After(r.To) {
		return 0
	}
	return DaysBetween(r.From, r.To) + 1
}

// Contains reports whether day d lies inside the range
func (r DateRange) Contains(d time.Time) bool {
	day := TruncateDay(d)
	return !day.Before(r.From) && !day.After(r.To)
}

// Previous returns the equal-length range that ends the day before this one starts
func (r DateRange) Previous() DateRange {
	days := r.Days()
	to := r.From.AddDate(0, 0, -1)
	return DateRange{From: to.AddDate(0, 0, -(days - 1)), To: to}
}

// String returns "from..to"
func (r DateRange) String() string {
	return r.From.Format(DateFormat) + ".." + r.To.Format(DateFormat)
}

// TruncateDay drops the time of day, keeping the calendar date in UTC
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)).Hours() / 24)
}

// Utility functions for type conversion and validation

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Remove common currency symbols and thousand separators
	for _, sym := range []string{"€", "$", ",", " "} {
		s = strings.ReplaceAll(s, sym, "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTransactionType parses and validates a transaction type from string
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBIT", "D", "DR":
		return TransactionTypeDebit, nil
	case "CREDIT", "C", "CR":
		return TransactionTypeCredit, nil
	default:
		return "", fmt.Errorf("invalid transaction type '%s': must be credit or debit", s)
	}
}

// ParseTransactionStatus parses a status, defaulting to CONFIRMED for an empty string
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StatusConfirmed, nil
	}
	status := TransactionStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid transaction status '%s'", s)
	}
	return status, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple common formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		DateFormat,
		"02/01/2006",
		"2006/01/02",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// ParseOptionalTime parses a time, returning nil for an empty string
func ParseOptionalTime(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseTimeWithFormats(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CompareAmountsWithTolerance reports whether a is within a relative tolerance of b
func CompareAmountsWithTolerance(a, b decimal.Decimal, tolerance float64) bool {
	if b.IsZero() {
		return a.IsZero()
	}
	diff := a.Sub(b).Abs().Div(b.Abs())
	return diff.LessThanOrEqual(decimal.NewFromFloat(tolerance))
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
