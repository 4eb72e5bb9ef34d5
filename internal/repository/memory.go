package repository

import (
	"context"
	"sort"
	"sync"

	"cashflow-engine/internal/models"
)

// MemoryStore keeps ledger records in process memory. It backs the CLI and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions []models.Transaction
	invoices     []models.Invoice
	categories   []models.Category
	accounts     []models.Account
	events       []models.ForecastEvent
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddTransactions appends transactions to the store
func (s *MemoryStore) AddTransactions(txs ...models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, txs...)
}

// AddInvoices appends invoices to the store
func (s *MemoryStore) AddInvoices(invoices ...models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = append(s.invoices, invoices...)
}

// AddCategories appends categories to the store
func (s *MemoryStore) AddCategories(categories ...models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append(s.categories, categories...)
}

// AddAccounts appends accounts to the store
func (s *MemoryStore) AddAccounts(accounts ...models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, accounts...)
}

// AddForecastEvents appends forecast events to the store
func (s *MemoryStore) AddForecastEvents(events ...models.ForecastEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// ListTransactions returns matching transactions ordered by effective date then ID
func (s *MemoryStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var portfolioAccounts map[string]bool
	if filter.PortfolioID != "" {
		portfolioAccounts = make(map[string]bool)
		for _, a := range s.accounts {
			if a.PortfolioID == filter.PortfolioID && matchesCompany(a.CompanyID, filter.CompanyID) {
				portfolioAccounts[a.ID] = true
			}
		}
	}

	bounded := filter.From != nil || filter.To != nil
	result := make([]models.Transaction, 0)
	for _, tx := range s.transactions {
		if !matchesCompany(tx.CompanyID, filter.CompanyID) {
			continue
		}
		if !filter.hasStatus(tx.Status) || !filter.hasAccount(tx.AccountID) {
			continue
		}
		if portfolioAccounts != nil && !portfolioAccounts[tx.AccountID] {
			continue
		}
		if filter.PaymentFlowID != "" && tx.PaymentFlowID != filter.PaymentFlowID {
			continue
		}
		if bounded {
			d, ok := tx.EffectiveDate()
			if !ok || !withinBounds(d, filter.From, filter.To) {
				continue
			}
		}
		result = append(result, tx)
	}

	models.SortByEffectiveDate(result)
	return result, nil
}

// ListInvoices returns matching invoices ordered by issue date
func (s *MemoryStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Invoice, 0)
	for _, inv := range s.invoices {
		if !matchesCompany(inv.CompanyID, filter.CompanyID) {
			continue
		}
		if filter.Side != "" && inv.Side != filter.Side {
			continue
		}
		if !withinBounds(models.TruncateDay(inv.IssuedAt), filter.IssuedFrom, filter.IssuedTo) {
			continue
		}
		result = append(result, inv)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].IssuedAt.Equal(result[j].IssuedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].IssuedAt.Before(result[j].IssuedAt)
	})
	return result, nil
}

// ListCategories returns the categories of a company
func (s *MemoryStore) ListCategories(ctx context.Context, companyID string) ([]models.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if matchesCompany(c.CompanyID, companyID) {
			result = append(result, c)
		}
	}
	return result, nil
}

// ListAccounts returns the accounts of a company
func (s *MemoryStore) ListAccounts(ctx context.Context, companyID string) ([]models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if matchesCompany(a.CompanyID, companyID) {
			result = append(result, a)
		}
	}
	return result, nil
}

// ListForecastEvents returns matching events ordered by date
func (s *MemoryStore) ListForecastEvents(ctx context.Context, filter EventFilter) ([]models.ForecastEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.ForecastEvent, 0)
	for _, ev := range s.events {
		if !matchesCompany(ev.CompanyID, filter.CompanyID) {
			continue
		}
		if len(filter.Types) > 0 && !containsEventType(filter.Types, ev.Type) {
			continue
		}
		if !withinBounds(models.TruncateDay(ev.Date), filter.From, filter.To) {
			continue
		}
		result = append(result, ev)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

// records without a company id are visible to every company
func matchesCompany(recordCompany, wanted string) bool {
	return wanted == "" || recordCompany == "" || recordCompany == wanted
}

func containsEventType(types []models.EventType, t models.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
