package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
	"cashflow-engine/internal/repository"
	"cashflow-engine/pkg/errors"
)

// Helper function to create temporary CSV file
func createTempCSVFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func newTestParser(t *testing.T, config *LedgerParserConfig) *LedgerParser {
	t.Helper()
	parser, err := NewLedgerParser(config)
	if err != nil {
		t.Fatalf("Failed to create parser: %v", err)
	}
	return parser
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if !config.HasHeader {
		t.Error("Expected HasHeader to be true")
	}
	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.TrimLeadingSpace {
		t.Error("Expected TrimLeadingSpace to be true")
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
	if !config.ValidateEncoding {
		t.Error("Expected ValidateEncoding to be true")
	}
}

func TestParseError(t *testing.T) {
	err := &ParseError{
		Line:    5,
		Column:  3,
		Field:   "amount",
		Value:   "invalid",
		Message: "invalid format",
	}

	expected := "parse error at line 5 (amount='invalid'): invalid format"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestLedgerParserConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*LedgerParserConfig)
		expectErr bool
	}{
		{"default", func(c *LedgerParserConfig) {}, false},
		{"semicolon", func(c *LedgerParserConfig) { c.Delimiter = ';' }, false},
		{"tab", func(c *LedgerParserConfig) { c.Delimiter = '\t' }, false},
		{"colon", func(c *LedgerParserConfig) { c.Delimiter = ':' }, true},
		{"negative max errors", func(c *LedgerParserConfig) { c.MaxErrors = -1 }, true},
		{"empty alias", func(c *LedgerParserConfig) {
			c.ColumnAliases = map[string][]string{"amount": {" "}}
		}, true},
		{"valid alias", func(c *LedgerParserConfig) {
			c.ColumnAliases = map[string][]string{"amount": {"betrag"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultLedgerParserConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestNewLedgerParser_InvalidConfig(t *testing.T) {
	_, err := NewLedgerParser(&LedgerParserConfig{Delimiter: ':'})
	if !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		input    string
		expected rune
		wantErr  bool
	}{
		{"", ',', false},
		{",", ',', false},
		{"semicolon", ';', false},
		{"TAB", '\t', false},
		{"|", '|', false},
		{"#", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDelimiter(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDelimiter(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil || got != tt.expected {
			t.Errorf("ParseDelimiter(%q): expected %q, got %q (%v)", tt.input, tt.expected, got, err)
		}
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		" Account ID ":    "account_id",
		"Payment-Flow":    "payment_flow",
		"scheduled.for":   "scheduled_for",
		"date_operation":  "date_operation",
		"Montant":         "montant",
		"Date d'échéance": "date_d'échéance",
	}
	for input, expected := range tests {
		if got := normalizeHeader(input); got != expected {
			t.Errorf("normalizeHeader(%q): expected %q, got %q", input, expected, got)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"100.50", "100.5", false},
		{"1 234,56", "1234.56", false},
		{"12,5", "12.5", false},
		{"€1,234.56", "1234.56", false},
		{"-50", "-50", false},
		{"$ 20", "20", false},
		{"abc", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := parseAmount(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseAmount(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseAmount(%q): unexpected error %v", tt.input, err)
			continue
		}
		if !got.Equal(decimal.RequireFromString(tt.expected)) {
			t.Errorf("parseAmount(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestParseTransactions(t *testing.T) {
	content := `id,company_id,amount,type,status,date,scheduled_for,account_id,category_id,payment_flow_id,description
t1,acme,1500.00,CREDIT,CONFIRMED,2024-03-01,,acc-1,cat-sales,flow-1,Invoice 42
t2,,200,DEBIT,,2024-03-02,,acc-1,cat-rent,,Rent
t3,acme,300,CREDIT,PLANNED,,2024-04-01,acc-2,,,Expected payment
t4,acme,not-a-number,CREDIT,CONFIRMED,2024-03-03,,acc-1,,,Broken
t5,acme,10,SIDEWAYS,CONFIRMED,2024-03-03,,acc-1,,,Broken type
t6,acme,10,CREDIT,CONFIRMED,,,acc-1,,,No date
`
	path := createTempCSVFile(t, content)
	parser := newTestParser(t, &LedgerParserConfig{HasHeader: true, Delimiter: ',', CompanyID: "default-co"})

	txs, stats, err := parser.ParseTransactions(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(txs) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(txs))
	}
	if stats.RecordsParsed != 6 || stats.RecordsValid != 3 || stats.ErrorCount != 3 {
		t.Errorf("Unexpected stats: %s", stats.String())
	}
	if stats.TotalLines != 7 {
		t.Errorf("Expected 7 lines, got %d", stats.TotalLines)
	}

	first := txs[0]
	if first.ID != "t1" || first.CompanyID != "acme" || first.PaymentFlowID != "flow-1" {
		t.Errorf("Unexpected first transaction: %+v", first)
	}
	if !first.Amount.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("Expected amount 1500, got %s", first.Amount)
	}
	if first.OccurredAt == nil || !first.OccurredAt.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected occurred at 2024-03-01, got %v", first.OccurredAt)
	}

	if txs[1].CompanyID != "default-co" {
		t.Errorf("Expected fallback company default-co, got %s", txs[1].CompanyID)
	}
	if txs[1].Status != models.StatusConfirmed {
		t.Errorf("Expected empty status to mean CONFIRMED, got %s", txs[1].Status)
	}

	planned := txs[2]
	if planned.Status != models.StatusPlanned || planned.ScheduledFor == nil {
		t.Errorf("Expected planned transaction with schedule, got %+v", planned)
	}

	fields := map[string]bool{}
	for _, pe := range stats.Errors {
		fields[pe.Field] = true
	}
	for _, f := range []string{"amount", "type", "id"} {
		if !fields[f] {
			t.Errorf("Expected a row error on field %s, got %v", f, stats.GetSampleErrors(0))
		}
	}
}

func TestParseTransactions_FrenchExport(t *testing.T) {
	content := "\xEF\xBB\xBFReference;Montant;Statut;Date Operation;Compte;Libelle\n" +
		"r1;1 234,56;confirmed;15/03/2024;acc-1;Vente\n" +
		"r2;-89,90;;16/03/2024;acc-1;Frais bancaires\n" +
		";;;;;\n"
	path := createTempCSVFile(t, content)
	parser := newTestParser(t, &LedgerParserConfig{HasHeader: true, Delimiter: ';', CompanyID: "fr-co"})

	txs, stats, err := parser.ParseTransactions(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("Expected 2 transactions, got %d (%v)", len(txs), stats.GetSampleErrors(0))
	}

	if txs[0].Type != models.TransactionTypeCredit || !txs[0].Amount.Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("Unexpected first transaction: %+v", txs[0])
	}
	if txs[1].Type != models.TransactionTypeDebit {
		t.Errorf("Expected negative amount to infer DEBIT, got %s", txs[1].Type)
	}
	if !txs[1].Amount.Equal(decimal.RequireFromString("89.90")) {
		t.Errorf("Expected stored amount to be absolute 89.90, got %s", txs[1].Amount)
	}
	if txs[1].Description != "Frais bancaires" || txs[1].CompanyID != "fr-co" {
		t.Errorf("Unexpected second transaction: %+v", txs[1])
	}
	if !txs[0].OccurredAt.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected 15/03/2024 to parse as day-first, got %v", txs[0].OccurredAt)
	}
}

func TestParseTransactions_ConfiguredAlias(t *testing.T) {
	content := "buchung,betrag,datum\nb1,10,2024-01-01\n"
	path := createTempCSVFile(t, content)
	parser := newTestParser(t, &LedgerParserConfig{
		HasHeader: true,
		Delimiter: ',',
		ColumnAliases: map[string][]string{
			"id":     {"buchung"},
			"amount": {"betrag"},
			"date":   {"datum"},
		},
	})

	txs, _, err := parser.ParseTransactions(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "b1" {
		t.Fatalf("Expected one transaction b1, got %+v", txs)
	}
	if !txs[0].Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected amount 10 from the aliased column, got %s", txs[0].Amount)
	}
	if txs[0].OccurredAt == nil || txs[0].OccurredAt.Format(models.DateFormat) != "2024-01-01" {
		t.Errorf("Expected date 2024-01-01 from the aliased column, got %v", txs[0].OccurredAt)
	}
}

func TestParseRows_AliasedColumnErrors(t *testing.T) {
	content := "buchung,betrag,datum\nb1,abc,2024-01-01\n"
	path := createTempCSVFile(t, content)
	parser := newTestParser(t, &LedgerParserConfig{
		HasHeader: true,
		Delimiter: ',',
		ColumnAliases: map[string][]string{
			"id":     {"buchung"},
			"amount": {"betrag"},
			"date":   {"datum"},
		},
	})

	_, stats, err := parser.ParseTransactions(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stats.ErrorCount != 1 {
		t.Fatalf("Expected 1 row error, got %d", stats.ErrorCount)
	}
	if pe := stats.Errors[0]; pe.Column != 1 || pe.Value != "abc" {
		t.Errorf("Expected the error on column 1 with value abc, got column %d value %q", pe.Column, pe.Value)
	}
}

func TestParseTransactions_NoHeader(t *testing.T) {
	content := "t1,acme,50,DEBIT,CONFIRMED,2024-02-01,,acc-1,,,Coffee\n"
	path := createTempCSVFile(t, content)
	parser := newTestParser(t, &LedgerParserConfig{HasHeader: false, Delimiter: ','})

	txs, _, err := parser.ParseTransactions(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(txs) != 1 || txs[0].Description != "Coffee" || txs[0].Type != models.TransactionTypeDebit {
		t.Errorf("Unexpected transactions: %+v", txs)
	}
}

func TestParseTransactions_FileErrors(t *testing.T) {
	parser := newTestParser(t, nil)
	ctx := context.Background()

	t.Run("file not found", func(t *testing.T) {
		_, _, err := parser.ParseTransactions(ctx, filepath.Join(t.TempDir(), "missing.csv"))
		engineErr, ok := errors.AsEngineError(err)
		if !ok || engineErr.Category != errors.CategoryFile || engineErr.Code != errors.CodeFileNotFound {
			t.Errorf("Expected file not found error, got %v", err)
		}
	})

	t.Run("missing required header", func(t *testing.T) {
		path := createTempCSVFile(t, "id,date\nt1,2024-01-01\n")
		_, _, err := parser.ParseTransactions(ctx, path)
		engineErr, ok := errors.AsEngineError(err)
		if !ok || engineErr.Code != errors.CodeMissingColumn {
			t.Errorf("Expected missing column error, got %v", err)
		}
		if !strings.Contains(engineErr.Suggestion, "amount") {
			t.Errorf("Expected suggestion to name the amount column, got %q", engineErr.Suggestion)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := createTempCSVFile(t, "")
		_, _, err := parser.ParseTransactions(ctx, path)
		if !errors.IsCategory(err, errors.CategoryParse) {
			t.Errorf("Expected parse error, got %v", err)
		}
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		path := createTempCSVFile(t, "id,amount,date\nt1,10,2024-01-01\nt2,\xff\xfe,2024-01-02\n")
		_, _, err := parser.ParseTransactions(ctx, path)
		engineErr, ok := errors.AsEngineError(err)
		if !ok || engineErr.Code != errors.CodeEncodingError {
			t.Errorf("Expected encoding error, got %v", err)
		}
	})
}

func TestParseTransactions_MaxErrors(t *testing.T) {
	content := "id,amount,date\nt1,x,2024-01-01\nt2,y,2024-01-02\nt3,10,2024-01-03\n"
	path := createTempCSVFile(t, content)
	parser := newTestParser(t, &LedgerParserConfig{HasHeader: true, Delimiter: ',', MaxErrors: 2})

	_, stats, err := parser.ParseTransactions(context.Background(), path)
	if !errors.IsCategory(err, errors.CategoryParse) {
		t.Fatalf("Expected parse error once the limit is reached, got %v", err)
	}
	if stats.ErrorCount != 2 || stats.RecordsValid != 0 {
		t.Errorf("Expected parsing to stop after 2 errors, got %s", stats.String())
	}
}

func TestParseTransactions_Cancelled(t *testing.T) {
	path := createTempCSVFile(t, "id,amount,date\nt1,10,2024-01-01\n")
	parser := newTestParser(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := parser.ParseTransactions(ctx, path); !errors.IsCategory(err, errors.CategoryInternal) {
		t.Errorf("Expected internal error on cancelled context, got %v", err)
	}
}

func TestParseInvoices(t *testing.T) {
	content := `id,company_id,side,number,amount,status,issued_at,due_at,paid_at
i1,acme,customer,F-001,1000,PAID,2024-01-05,2024-02-05,2024-01-25
i2,acme,fournisseur,A-77,"1 500,00",sent,2024-01-10,2024-02-10,
i3,acme,customer,F-002,-5,SENT,2024-01-11,,
i4,acme,partner,F-003,5,SENT,2024-01-11,,
i5,acme,customer,F-004,5,ARCHIVED,2024-01-11,,
`
	path := createTempCSVFile(t, content)
	parser := newTestParser(t, nil)

	invoices, stats, err := parser.ParseInvoices(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(invoices) != 2 || stats.ErrorCount != 3 {
		t.Fatalf("Expected 2 invoices and 3 errors, got %d and %d", len(invoices), stats.ErrorCount)
	}

	paid := invoices[0]
	if paid.Side != models.InvoiceSideCustomer || paid.Status != models.InvoicePaid || paid.PaidAt == nil {
		t.Errorf("Unexpected paid invoice: %+v", paid)
	}
	supplier := invoices[1]
	if supplier.Side != models.InvoiceSideSupplier || supplier.Status != models.InvoiceSent {
		t.Errorf("Unexpected supplier invoice: %+v", supplier)
	}
	if !supplier.Amount.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("Expected amount 1500, got %s", supplier.Amount)
	}
	if supplier.PaidAt != nil {
		t.Errorf("Expected no payment date, got %v", supplier.PaidAt)
	}
}

func TestParseCategoriesAndAccounts(t *testing.T) {
	parser := newTestParser(t, nil)
	ctx := context.Background()

	categories, _, err := parser.ParseCategories(ctx, createTempCSVFile(t,
		"id,nom,nature\nc1,Ventes,recette\nc2,Loyer,\nc3,Bizarre,other\n"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(categories) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(categories))
	}
	if categories[0].Kind != models.CategoryKindIncome || categories[1].Kind != models.CategoryKindExpense {
		t.Errorf("Unexpected category kinds: %s, %s", categories[0].Kind, categories[1].Kind)
	}

	accounts, _, err := parser.ParseAccounts(ctx, createTempCSVFile(t,
		"id,name,portfolio\nacc-1,Main,pf-1\nacc-2,Savings,\n"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(accounts) != 2 || accounts[0].PortfolioID != "pf-1" || accounts[1].PortfolioID != "" {
		t.Errorf("Unexpected accounts: %+v", accounts)
	}
}

func TestParseEvents(t *testing.T) {
	content := `id,event_date,label,amount,confidence,type
e1,2024-05-01T10:30:00Z,Tax refund,2500,"0,8",imported
e2,2024-05-15,Equipment,-12000,,
e3,2024-05-20,Bad confidence,10,1.5,manual
`
	path := createTempCSVFile(t, content)
	parser := newTestParser(t, nil)

	events, stats, err := parser.ParseEvents(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(events) != 2 || stats.ErrorCount != 1 {
		t.Fatalf("Expected 2 events and 1 error, got %d and %d", len(events), stats.ErrorCount)
	}

	if events[0].Confidence != 0.8 || events[0].Type != models.EventTypeImported {
		t.Errorf("Unexpected first event: %+v", events[0])
	}
	if !events[0].Date.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected event date truncated to day, got %v", events[0].Date)
	}
	if events[1].Confidence != 1 || events[1].Type != models.EventTypeManual {
		t.Errorf("Expected defaults on second event, got %+v", events[1])
	}
	if !events[1].Amount.Equal(decimal.NewFromInt(-12000)) {
		t.Errorf("Expected signed amount -12000, got %s", events[1].Amount)
	}
}

func TestLoadStore(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		return path
	}

	sources := Sources{
		Transactions: write("tx.csv", "id,company_id,amount,date,account_id\nt1,acme,100,2024-01-01,acc-1\nt2,other,-40,2024-01-02,acc-9\nbad,acme,zz,2024-01-03,acc-1\n"),
		Invoices:     write("inv.csv", "id,company_id,side,amount,status,issued_at\ni1,acme,customer,100,SENT,2024-01-01\n"),
		Categories:   write("cat.csv", "id,name,kind\ncat-1,Sales,INCOME\n"),
		Accounts:     write("acc.csv", "id,company_id,name,portfolio_id\nacc-1,acme,Main,pf-1\n"),
		Events:       write("ev.csv", "id,company_id,date,label,amount\ne1,acme,2024-02-01,Grant,5000\n"),
	}

	parser := newTestParser(t, nil)
	store, summary, err := LoadStore(context.Background(), parser, sources)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(summary.Stats) != 5 {
		t.Errorf("Expected stats for 5 files, got %d", len(summary.Stats))
	}
	if summary.TotalErrors() != 1 {
		t.Errorf("Expected 1 row error, got %d", summary.TotalErrors())
	}

	ctx := context.Background()
	txs, err := store.ListTransactions(ctx, repository.TransactionFilter{CompanyID: "acme"})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "t1" {
		t.Errorf("Expected only t1 for acme, got %+v", txs)
	}

	// categories without a company are shared
	categories, _ := store.ListCategories(ctx, "acme")
	if len(categories) != 1 {
		t.Errorf("Expected 1 category, got %d", len(categories))
	}
	accounts, _ := store.ListAccounts(ctx, "acme")
	if len(accounts) != 1 || accounts[0].PortfolioID != "pf-1" {
		t.Errorf("Unexpected accounts: %+v", accounts)
	}
	events, _ := store.ListForecastEvents(ctx, repository.EventFilter{CompanyID: "acme"})
	if len(events) != 1 {
		t.Errorf("Expected 1 event, got %d", len(events))
	}
}

func TestLoadStore_Errors(t *testing.T) {
	parser := newTestParser(t, nil)

	if _, _, err := LoadStore(context.Background(), parser, Sources{}); !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("Expected validation error for empty sources, got %v", err)
	}

	sources := Sources{
		Transactions: createTempCSVFile(t, "id,amount,date\nt1,10,2024-01-01\n"),
		Invoices:     filepath.Join(t.TempDir(), "missing.csv"),
	}
	store, summary, err := LoadStore(context.Background(), parser, sources)
	if !errors.IsCategory(err, errors.CategoryFile) {
		t.Errorf("Expected file error, got %v", err)
	}
	if store != nil {
		t.Error("Expected no store when a file fails")
	}
	if summary == nil || summary.Stats["transactions"] == nil {
		t.Error("Expected stats of the files that were parsed")
	}
}
