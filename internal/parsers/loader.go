package parsers

import (
	"context"
	"sync"

	"cashflow-engine/internal/repository"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// Sources names the ledger files to load; empty paths are skipped
type Sources struct {
	Transactions string `json:"transactions" mapstructure:"transactions"`
	Invoices     string `json:"invoices" mapstructure:"invoices"`
	Categories   string `json:"categories" mapstructure:"categories"`
	Accounts     string `json:"accounts" mapstructure:"accounts"`
	Events       string `json:"events" mapstructure:"events"`
}

// IsEmpty reports whether no file is configured
func (s Sources) IsEmpty() bool {
	return s.Transactions == "" && s.Invoices == "" && s.Categories == "" && s.Accounts == "" && s.Events == ""
}

// LoadSummary holds the parse statistics of every loaded file, keyed by kind
type LoadSummary struct {
	Stats map[string]*ParseStats
}

// TotalErrors sums the row errors of every file
func (s *LoadSummary) TotalErrors() int {
	total := 0
	for _, st := range s.Stats {
		total += st.ErrorCount
	}
	return total
}

// ConcurrentLoader parses the files of a ledger export in parallel
type ConcurrentLoader struct {
	parser    *LedgerParser
	semaphore chan struct{}
	logger    logger.Logger
}

// NewConcurrentLoader creates a loader running at most maxConcurrency parses at once
func NewConcurrentLoader(parser *LedgerParser, maxConcurrency int) *ConcurrentLoader {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &ConcurrentLoader{
		parser:    parser,
		semaphore: make(chan struct{}, maxConcurrency),
		logger:    logger.GetGlobalLogger().WithComponent("loader"),
	}
}

type loadJob struct {
	kind string
	path string
	run  func(ctx context.Context, path string, store *repository.MemoryStore) (*ParseStats, error)
}

// Load parses every configured file into a new MemoryStore. The first file
// level error is returned; row errors are only counted in the summary.
func (cl *ConcurrentLoader) Load(ctx context.Context, sources Sources) (*repository.MemoryStore, *LoadSummary, error) {
	store := repository.NewMemoryStore()
	summary := &LoadSummary{Stats: make(map[string]*ParseStats)}
	p := cl.parser

	jobs := []loadJob{
		{"transactions", sources.Transactions, func(ctx context.Context, path string, store *repository.MemoryStore) (*ParseStats, error) {
			txs, stats, err := p.ParseTransactions(ctx, path)
			store.AddTransactions(txs...)
			return stats, err
		}},
		{"invoices", sources.Invoices, func(ctx context.Context, path string, store *repository.MemoryStore) (*ParseStats, error) {
			invoices, stats, err := p.ParseInvoices(ctx, path)
			store.AddInvoices(invoices...)
			return stats, err
		}},
		{"categories", sources.Categories, func(ctx context.Context, path string, store *repository.MemoryStore) (*ParseStats, error) {
			categories, stats, err := p.ParseCategories(ctx, path)
			store.AddCategories(categories...)
			return stats, err
		}},
		{"accounts", sources.Accounts, func(ctx context.Context, path string, store *repository.MemoryStore) (*ParseStats, error) {
			accounts, stats, err := p.ParseAccounts(ctx, path)
			store.AddAccounts(accounts...)
			return stats, err
		}},
		{"events", sources.Events, func(ctx context.Context, path string, store *repository.MemoryStore) (*ParseStats, error) {
			events, stats, err := p.ParseEvents(ctx, path)
			store.AddForecastEvents(events...)
			return stats, err
		}},
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, job := range jobs {
		if job.path == "" {
			continue
		}
		wg.Add(1)
		go func(job loadJob) {
			defer wg.Done()

			cl.semaphore <- struct{}{}
			defer func() { <-cl.semaphore }()

			stats, err := job.run(ctx, job.path, store)

			mu.Lock()
			defer mu.Unlock()
			summary.Stats[job.kind] = stats
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(job)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, summary, firstErr
	}

	cl.logger.WithFields(logger.Fields{
		"files":  len(summary.Stats),
		"errors": summary.TotalErrors(),
	}).Info("Ledger files loaded")
	return store, summary, nil
}

// LoadStore parses sources with the given parser into a MemoryStore
func LoadStore(ctx context.Context, parser *LedgerParser, sources Sources) (*repository.MemoryStore, *LoadSummary, error) {
	if sources.IsEmpty() {
		return nil, nil, errors.ValidationError(errors.CodeMissingField, "transactions", "", nil).
			WithSuggestion("pass at least one ledger file, e.g. --transactions ledger.csv")
	}
	return NewConcurrentLoader(parser, 0).Load(ctx, sources)
}
