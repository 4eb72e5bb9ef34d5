package parsers

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"cashflow-engine/internal/models"
	"cashflow-engine/pkg/errors"
	"cashflow-engine/pkg/logger"
)

// LedgerParser parses the transaction, invoice, category, account and event
// files of a ledger export
type LedgerParser struct {
	*BaseParser
	config *LedgerParserConfig
	logger logger.Logger
}

// NewLedgerParser creates a parser. A nil config uses DefaultLedgerParserConfig.
func NewLedgerParser(config *LedgerParserConfig) (*LedgerParser, error) {
	if config == nil {
		config = DefaultLedgerParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"ledger_parser_config",
			config,
			err,
		).WithSuggestion("Check the CSV parser configuration values")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &LedgerParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("ledger_parser"),
	}, nil
}

// row gives typed access to the fields of one record
type row struct {
	parser  *LedgerParser
	record  []string
	ctx     *ParseContext
	columns map[string]Column
}

// resolve returns col with the configured aliases of the file being parsed
func (r *row) resolve(col Column) Column {
	if resolved, ok := r.columns[col.Name]; ok {
		return resolved
	}
	return col
}

func (r *row) get(col Column) string {
	return r.parser.FieldValue(r.record, r.ctx, r.resolve(col))
}

func (r *row) fail(col Column, value, message string, err error) *ParseError {
	return &ParseError{
		Line:    r.ctx.LineNumber,
		Column:  r.ctx.ColumnIndex(r.resolve(col)),
		Field:   col.Name,
		Value:   value,
		Message: message,
		Err:     err,
	}
}

func (r *row) required(col Column) (string, *ParseError) {
	v := r.get(col)
	if v == "" {
		return "", r.fail(col, "", "required field is empty", nil)
	}
	return v, nil
}

func (r *row) company() string {
	if v := r.get(colCompany); v != "" {
		return v
	}
	return r.parser.config.CompanyID
}

// parseRows runs build on every data row of filePath. Rows that fail are
// recorded in the returned stats; only file-level problems return an error.
func (lp *LedgerParser) parseRows(ctx context.Context, kind, filePath string, set []Column, build func(*row) *ParseError) (*ParseStats, error) {
	op := logger.NewOperationLogger("parse_"+kind, lp.logger).WithField("file_path", filePath)
	stats := NewParseStats(filePath)

	file, reader, err := lp.OpenFile(filePath)
	if err != nil {
		op.Error(err, "Failed to open file")
		return stats, err
	}
	defer file.Close()

	columns := lp.config.columns(set)
	byName := make(map[string]Column, len(columns))
	for _, col := range columns {
		byName[col.Name] = col
	}
	parseCtx := NewParseContext(ctx, filePath)
	if err := lp.ReadHeaders(reader, parseCtx, columns); err != nil {
		op.Error(err, "Failed to read headers")
		return stats, err
	}

	for {
		record, err := lp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if pe, ok := err.(*ParseError); ok {
				stats.AddError(pe)
				continue
			}
			op.Error(err, "Parsing aborted")
			return stats, err
		}

		stats.RecordsParsed++
		if pe := build(&row{parser: lp, record: record, ctx: parseCtx, columns: byName}); pe != nil {
			stats.AddError(pe)
			if lp.config.MaxErrors > 0 && stats.ErrorCount >= lp.config.MaxErrors {
				err := errors.ParseError(errors.CodeInvalidFormat, filePath, pe.Line, pe.Field, pe.Value,
					fmt.Errorf("too many invalid rows (%d)", stats.ErrorCount)).
					WithSuggestion("Fix the reported rows or raise the error limit")
				op.Error(err, "Error limit reached")
				return stats, err
			}
			continue
		}
		stats.RecordsValid++
	}
	stats.TotalLines = parseCtx.LineNumber

	op.WithFields(logger.Fields{
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Success(stats.String())
	if stats.HasErrors() {
		lp.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}
	return stats, nil
}

// ParseTransactions parses a transaction file. A missing type column is
// inferred from the amount sign; a missing status means CONFIRMED.
func (lp *LedgerParser) ParseTransactions(ctx context.Context, filePath string) ([]models.Transaction, *ParseStats, error) {
	var out []models.Transaction
	stats, err := lp.parseRows(ctx, "transactions", filePath, TransactionColumns, func(r *row) *ParseError {
		id, pe := r.required(colID)
		if pe != nil {
			return pe
		}

		raw, pe := r.required(colAmount)
		if pe != nil {
			return pe
		}
		amount, err := parseAmount(raw)
		if err != nil {
			return r.fail(colAmount, raw, "invalid amount", err)
		}

		var typ models.TransactionType
		if v := r.get(colType); v != "" {
			if typ, err = models.ParseTransactionType(v); err != nil {
				return r.fail(colType, v, "invalid transaction type", err)
			}
		} else if amount.IsNegative() {
			typ = models.TransactionTypeDebit
		} else {
			typ = models.TransactionTypeCredit
		}

		status, err := models.ParseTransactionStatus(r.get(colStatus))
		if err != nil {
			return r.fail(colStatus, r.get(colStatus), "invalid status", err)
		}

		occurred, err := models.ParseOptionalTime(r.get(colDate))
		if err != nil {
			return r.fail(colDate, r.get(colDate), "invalid date", err)
		}
		scheduled, err := models.ParseOptionalTime(r.get(colScheduledFor))
		if err != nil {
			return r.fail(colScheduledFor, r.get(colScheduledFor), "invalid scheduled date", err)
		}

		tx := models.Transaction{
			ID:            id,
			CompanyID:     r.company(),
			Amount:        amount.Abs(),
			Type:          typ,
			Status:        status,
			OccurredAt:    occurred,
			ScheduledFor:  scheduled,
			AccountID:     r.get(colAccount),
			CategoryID:    r.get(colCategory),
			PaymentFlowID: r.get(colPaymentFlow),
			Description:   r.get(colDescription),
		}
		if err := tx.Validate(); err != nil {
			return r.fail(colID, id, "invalid transaction", err)
		}
		out = append(out, tx)
		return nil
	})
	return out, stats, err
}

// ParseInvoices parses a customer and supplier invoice file
func (lp *LedgerParser) ParseInvoices(ctx context.Context, filePath string) ([]models.Invoice, *ParseStats, error) {
	var out []models.Invoice
	stats, err := lp.parseRows(ctx, "invoices", filePath, InvoiceColumns, func(r *row) *ParseError {
		id, pe := r.required(colID)
		if pe != nil {
			return pe
		}

		rawSide, pe := r.required(colSide)
		if pe != nil {
			return pe
		}
		side, err := parseInvoiceSide(rawSide)
		if err != nil {
			return r.fail(colSide, rawSide, "invalid invoice side", err)
		}

		raw, pe := r.required(colAmount)
		if pe != nil {
			return pe
		}
		amount, err := parseAmount(raw)
		if err != nil || amount.IsNegative() {
			return r.fail(colAmount, raw, "invalid invoice amount", err)
		}

		rawStatus, pe := r.required(colInvoiceStatus)
		if pe != nil {
			return pe
		}
		status, err := parseInvoiceStatus(rawStatus)
		if err != nil {
			return r.fail(colInvoiceStatus, rawStatus, "invalid invoice status", err)
		}

		rawIssued, pe := r.required(colIssuedAt)
		if pe != nil {
			return pe
		}
		issued, err := models.ParseTimeWithFormats(rawIssued)
		if err != nil {
			return r.fail(colIssuedAt, rawIssued, "invalid issue date", err)
		}
		due, err := models.ParseOptionalTime(r.get(colDueAt))
		if err != nil {
			return r.fail(colDueAt, r.get(colDueAt), "invalid due date", err)
		}
		paid, err := models.ParseOptionalTime(r.get(colPaidAt))
		if err != nil {
			return r.fail(colPaidAt, r.get(colPaidAt), "invalid payment date", err)
		}

		out = append(out, models.Invoice{
			ID:        id,
			CompanyID: r.company(),
			Side:      side,
			Number:    r.get(colNumber),
			Amount:    amount,
			Status:    status,
			IssuedAt:  issued,
			DueAt:     due,
			PaidAt:    paid,
		})
		return nil
	})
	return out, stats, err
}

// ParseCategories parses a category file. A missing kind means EXPENSE.
func (lp *LedgerParser) ParseCategories(ctx context.Context, filePath string) ([]models.Category, *ParseStats, error) {
	var out []models.Category
	stats, err := lp.parseRows(ctx, "categories", filePath, CategoryColumns, func(r *row) *ParseError {
		id, pe := r.required(colID)
		if pe != nil {
			return pe
		}
		name, pe := r.required(colName)
		if pe != nil {
			return pe
		}
		kind, err := parseCategoryKind(r.get(colKind))
		if err != nil {
			return r.fail(colKind, r.get(colKind), "invalid category kind", err)
		}
		out = append(out, models.Category{ID: id, CompanyID: r.company(), Name: name, Kind: kind})
		return nil
	})
	return out, stats, err
}

// ParseAccounts parses an account file
func (lp *LedgerParser) ParseAccounts(ctx context.Context, filePath string) ([]models.Account, *ParseStats, error) {
	var out []models.Account
	stats, err := lp.parseRows(ctx, "accounts", filePath, AccountColumns, func(r *row) *ParseError {
		id, pe := r.required(colID)
		if pe != nil {
			return pe
		}
		name, pe := r.required(colName)
		if pe != nil {
			return pe
		}
		out = append(out, models.Account{ID: id, CompanyID: r.company(), Name: name, PortfolioID: r.get(colPortfolio)})
		return nil
	})
	return out, stats, err
}

// ParseEvents parses a forecast event file. Amounts are signed; a missing
// confidence means 1 and a missing type means manual.
func (lp *LedgerParser) ParseEvents(ctx context.Context, filePath string) ([]models.ForecastEvent, *ParseStats, error) {
	var out []models.ForecastEvent
	stats, err := lp.parseRows(ctx, "events", filePath, EventColumns, func(r *row) *ParseError {
		id, pe := r.required(colID)
		if pe != nil {
			return pe
		}
		rawDate, pe := r.required(colEventDate)
		if pe != nil {
			return pe
		}
		date, err := models.ParseTimeWithFormats(rawDate)
		if err != nil {
			return r.fail(colEventDate, rawDate, "invalid event date", err)
		}
		label, pe := r.required(colEventLabel)
		if pe != nil {
			return pe
		}
		raw, pe := r.required(colEventAmount)
		if pe != nil {
			return pe
		}
		amount, err := parseAmount(raw)
		if err != nil {
			return r.fail(colEventAmount, raw, "invalid amount", err)
		}

		confidence := 1.0
		if v := r.get(colConfidence); v != "" {
			confidence, err = strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64)
			if err != nil || confidence < 0 || confidence > 1 {
				return r.fail(colConfidence, v, "confidence must be between 0 and 1", err)
			}
		}

		typ, err := parseEventType(r.get(colEventType))
		if err != nil {
			return r.fail(colEventType, r.get(colEventType), "invalid event type", err)
		}

		out = append(out, models.ForecastEvent{
			ID:         id,
			CompanyID:  r.company(),
			Date:       models.TruncateDay(date),
			Label:      label,
			Amount:     amount,
			Confidence: confidence,
			Type:       typ,
		})
		return nil
	})
	return out, stats, err
}

// parseAmount accepts "1 234,56" style values besides the formats handled by
// models.ParseDecimalFromString. A lone comma is read as the decimal separator.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	s = strings.ReplaceAll(s, " ", "")
	return models.ParseDecimalFromString(s)
}

func parseInvoiceSide(s string) (models.InvoiceSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "customer", "client", "receivable", "sale":
		return models.InvoiceSideCustomer, nil
	case "supplier", "fournisseur", "payable", "purchase":
		return models.InvoiceSideSupplier, nil
	default:
		return "", fmt.Errorf("invalid invoice side '%s': must be customer or supplier", s)
	}
}

func parseInvoiceStatus(s string) (models.InvoiceStatus, error) {
	status := models.InvoiceStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case models.InvoiceDraft, models.InvoiceSent, models.InvoicePaid, models.InvoiceOverdue, models.InvoiceCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("invalid invoice status '%s'", s)
	}
}

func parseCategoryKind(s string) (models.CategoryKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "EXPENSE", "DEPENSE", "DÉPENSE":
		return models.CategoryKindExpense, nil
	case "INCOME", "REVENUE", "RECETTE", "REVENU":
		return models.CategoryKindIncome, nil
	default:
		return "", fmt.Errorf("invalid category kind '%s': must be INCOME or EXPENSE", s)
	}
}

func parseEventType(s string) (models.EventType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manual":
		return models.EventTypeManual, nil
	case "imported", "import":
		return models.EventTypeImported, nil
	case "auto":
		return models.EventTypeAuto, nil
	default:
		return "", fmt.Errorf("invalid event type '%s'", s)
	}
}
