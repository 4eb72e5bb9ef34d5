// Package repository provides read access to the ledger records the engine works on.
package repository

import (
	"context"
	"time"

	"cashflow-engine/internal/models"
)

// Reader is the only persistence coupling of the engine
type Reader interface {
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error)
	ListCategories(ctx context.Context, companyID string) ([]models.Category, error)
	ListAccounts(ctx context.Context, companyID string) ([]models.Account, error)
	ListForecastEvents(ctx context.Context, filter EventFilter) ([]models.ForecastEvent, error)
}

// TransactionFilter narrows a transaction listing.
// From and To bound the effective date (both inclusive); a transaction without
// an effective date is excluded whenever a bound is set.
type TransactionFilter struct {
	CompanyID     string
	AccountIDs    []string
	PortfolioID   string
	PaymentFlowID string
	Statuses      []models.TransactionStatus
	From          *time.Time
	To            *time.Time
}

// InvoiceFilter narrows an invoice listing by side and issue date
type InvoiceFilter struct {
	CompanyID  string
	Side       models.InvoiceSide
	IssuedFrom *time.Time
	IssuedTo   *time.Time
}

// EventFilter narrows a forecast event listing
type EventFilter struct {
	CompanyID string
	Types     []models.EventType
	From      *time.Time
	To        *time.Time
}

func (f TransactionFilter) hasStatus(s models.TransactionStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (f TransactionFilter) hasAccount(id string) bool {
	if len(f.AccountIDs) == 0 {
		return true
	}
	for _, a := range f.AccountIDs {
		if a == id {
			return true
		}
	}
	return false
}

func withinBounds(d time.Time, from, to *time.Time) bool {
	if from != nil && d.Before(models.TruncateDay(*from)) {
		return false
	}
	if to != nil && d.After(models.TruncateDay(*to)) {
		return false
	}
	return true
}
