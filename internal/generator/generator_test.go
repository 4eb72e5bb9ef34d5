package generator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
	"cashflow-engine/internal/parsers"
	"cashflow-engine/internal/patterns"
	"cashflow-engine/pkg/logger"
)

var today = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func testConfig() *Config {
	config := DefaultConfig()
	config.Today = today
	config.HistoricalDays = 120
	config.PlannedDays = 30
	config.Seed = 42
	return config
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"empty company", func(c *Config) { c.CompanyID = "" }, true},
		{"no accounts", func(c *Config) { c.AccountIDs = nil }, true},
		{"zero history", func(c *Config) { c.HistoricalDays = 0 }, true},
		{"negative planned", func(c *Config) { c.PlannedDays = -1 }, true},
		{"reversed amounts", func(c *Config) { c.MaxAmount = decimal.NewFromInt(1) }, true},
		{"debit ratio above one", func(c *Config) { c.DebitRatio = 1.5 }, true},
		{"unknown pattern", func(c *Config) { c.Pattern = "chaotic" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	g1, err := New(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g2, _ := New(testConfig())

	a, b := g1.Generate(), g2.Generate()
	if len(a) != len(b) {
		t.Fatalf("expected same length, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || !a[i].Amount.Equal(b[i].Amount) {
			t.Fatalf("expected identical transaction at %d, got %s and %s", i, a[i].String(), b[i].String())
		}
	}
}

func TestGenerate_Shape(t *testing.T) {
	g, err := New(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	txs := g.Generate()

	start := today.AddDate(0, 0, -119)
	planned := 0
	seen := make(map[string]bool)
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			t.Errorf("generated invalid transaction %s: %v", tx.String(), err)
		}
		if seen[tx.ID] {
			t.Errorf("duplicate id %s", tx.ID)
		}
		seen[tx.ID] = true

		d, _ := tx.EffectiveDate()
		if tx.Status.IsPlanned() {
			planned++
			if !d.After(today) {
				t.Errorf("expected planned entry after today, got %s", d.Format(models.DateFormat))
			}
			continue
		}
		if d.Before(start) || d.After(today) {
			t.Errorf("confirmed entry %s outside history", d.Format(models.DateFormat))
		}
	}

	// 30 planned days cover one occurrence of each monthly entry and four or five Mondays
	if planned < 8 {
		t.Errorf("expected at least 8 planned entries, got %d", planned)
	}

	for i := 1; i < len(txs); i++ {
		prev, _ := txs[i-1].EffectiveDate()
		cur, _ := txs[i].EffectiveDate()
		if cur.Before(prev) {
			t.Fatalf("expected transactions sorted by date at index %d", i)
		}
	}
}

func TestGenerate_RecurringDetected(t *testing.T) {
	config := testConfig()
	config.RandomPerDay = 0
	g, _ := New(config)

	var history []models.Transaction
	for _, tx := range g.Generate() {
		if tx.IsConfirmed() {
			history = append(history, tx)
		}
	}

	detector, err := patterns.NewDetector(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	detector.SetLogger(logger.Discard())

	events := detector.Detect(history, nil)
	if len(events) == 0 {
		t.Fatal("expected recurring entries to be detected")
	}
}

func TestPatterns(t *testing.T) {
	counts := make(map[Pattern]int)
	for _, p := range []Pattern{PatternSteady, PatternSeasonal, PatternEndOfMonth} {
		config := testConfig()
		config.Pattern = p
		g, err := New(config)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", p, err)
		}
		counts[p] = len(g.Generate())
	}

	for p, n := range counts {
		if n == 0 {
			t.Errorf("expected transactions for pattern %s", p)
		}
	}
}

func TestWriteAndParse(t *testing.T) {
	g, _ := New(testConfig())
	txs := g.Generate()

	dir := t.TempDir()
	write := func(name string, fn func(*bytes.Buffer) error) string {
		var buf bytes.Buffer
		if err := fn(&buf); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatalf("failed to save %s: %v", name, err)
		}
		return path
	}

	sources := parsers.Sources{
		Transactions: write("transactions.csv", func(b *bytes.Buffer) error { return WriteTransactions(b, txs) }),
		Categories:   write("categories.csv", func(b *bytes.Buffer) error { return WriteCategories(b, Categories("demo")) }),
		Accounts:     write("accounts.csv", func(b *bytes.Buffer) error { return WriteAccounts(b, g.Accounts()) }),
	}

	parser, err := parsers.NewLedgerParser(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store, summary, err := parsers.LoadStore(context.Background(), parser, sources)
	if err != nil {
		t.Fatalf("failed to load generated files: %v", err)
	}
	if summary.TotalErrors() != 0 {
		t.Errorf("expected no parse errors, got %d", summary.TotalErrors())
	}
	if got := summary.Stats["transactions"].RecordsValid; got != len(txs) {
		t.Errorf("expected %d transactions parsed, got %d", len(txs), got)
	}

	categories, _ := store.ListCategories(context.Background(), "demo")
	if len(categories) != len(Categories("demo")) {
		t.Errorf("expected %d categories, got %d", len(Categories("demo")), len(categories))
	}
}
