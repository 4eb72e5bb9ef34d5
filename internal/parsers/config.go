package parsers

import (
	"fmt"
	"strings"
)

// Column describes one logical CSV column and the header names it may appear under
type Column struct {
	Name     string
	Aliases  []string
	Required bool
}

func (c Column) names() []string {
	return append([]string{c.Name}, c.Aliases...)
}

// Logical columns shared by the ledger files
var (
	colID            = Column{Name: "id", Aliases: []string{"transaction_id", "trx_id", "reference", "ref"}, Required: true}
	colCompany       = Column{Name: "company_id", Aliases: []string{"company", "societe", "tenant_id"}}
	colAmount        = Column{Name: "amount", Aliases: []string{"montant", "value", "valeur"}, Required: true}
	colType          = Column{Name: "type", Aliases: []string{"transaction_type", "sens", "direction"}}
	colStatus        = Column{Name: "status", Aliases: []string{"statut", "state"}}
	colDate          = Column{Name: "date", Aliases: []string{"occurred_at", "transaction_date", "transaction_time", "date_operation"}}
	colScheduledFor  = Column{Name: "scheduled_for", Aliases: []string{"scheduled_date", "date_prevue", "due_date"}}
	colAccount       = Column{Name: "account_id", Aliases: []string{"account", "compte", "bank_account_id"}}
	colCategory      = Column{Name: "category_id", Aliases: []string{"category", "categorie"}}
	colPaymentFlow   = Column{Name: "payment_flow_id", Aliases: []string{"payment_flow", "flow", "flux"}}
	colDescription   = Column{Name: "description", Aliases: []string{"label", "libelle", "memo"}}
	colName          = Column{Name: "name", Aliases: []string{"nom", "label", "libelle"}, Required: true}
	colKind          = Column{Name: "kind", Aliases: []string{"category_type", "nature"}}
	colPortfolio     = Column{Name: "portfolio_id", Aliases: []string{"portfolio", "portefeuille"}}
	colSide          = Column{Name: "side", Aliases: []string{"invoice_type", "party"}, Required: true}
	colNumber        = Column{Name: "number", Aliases: []string{"invoice_number", "numero"}}
	colIssuedAt      = Column{Name: "issued_at", Aliases: []string{"issue_date", "date_emission", "date"}, Required: true}
	colDueAt         = Column{Name: "due_at", Aliases: []string{"due_date", "date_echeance"}}
	colPaidAt        = Column{Name: "paid_at", Aliases: []string{"payment_date", "date_paiement"}}
	colEventDate     = Column{Name: "date", Aliases: []string{"event_date", "scheduled_for"}, Required: true}
	colConfidence    = Column{Name: "confidence", Aliases: []string{"confiance"}}
	colEventType     = Column{Name: "type", Aliases: []string{"event_type", "source"}}
	colInvoiceStatus = Column{Name: "status", Aliases: []string{"statut", "state"}, Required: true}
	colEventAmount   = Column{Name: "amount", Aliases: []string{"montant", "value"}, Required: true}
	colEventLabel    = Column{Name: "label", Aliases: []string{"name", "description", "libelle"}, Required: true}
)

// Column sets per file kind
var (
	TransactionColumns = []Column{colID, colCompany, colAmount, colType, colStatus, colDate, colScheduledFor, colAccount, colCategory, colPaymentFlow, colDescription}
	InvoiceColumns     = []Column{colID, colCompany, colSide, colNumber, colAmount, colInvoiceStatus, colIssuedAt, colDueAt, colPaidAt}
	CategoryColumns    = []Column{colID, colCompany, colName, colKind}
	AccountColumns     = []Column{colID, colCompany, colName, colPortfolio}
	EventColumns       = []Column{colID, colCompany, colEventDate, colEventLabel, colEventAmount, colConfidence, colEventType}
)

// LedgerParserConfig holds configuration for parsing ledger CSV files
type LedgerParserConfig struct {
	HasHeader bool `json:"has_header" mapstructure:"has_header"`
	Delimiter rune `json:"delimiter" mapstructure:"delimiter"`
	// CompanyID is assigned to rows whose company column is empty or missing
	CompanyID string `json:"company_id" mapstructure:"company_id"`
	// MaxErrors aborts a file once that many rows failed; 0 means no limit
	MaxErrors int `json:"max_errors" mapstructure:"max_errors"`
	// ColumnAliases adds header names for a logical column, keyed by column name
	ColumnAliases map[string][]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// DefaultLedgerParserConfig returns the default ledger CSV settings
func DefaultLedgerParserConfig() *LedgerParserConfig {
	return &LedgerParserConfig{
		HasHeader: true,
		Delimiter: ',',
	}
}

// Validate checks the configuration values
func (c *LedgerParserConfig) Validate() error {
	switch c.Delimiter {
	case ',', ';', '\t', '|':
	default:
		return fmt.Errorf("unsupported delimiter %q: use one of , ; | or tab", c.Delimiter)
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative")
	}
	for name, aliases := range c.ColumnAliases {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("column alias key cannot be empty")
		}
		for _, a := range aliases {
			if strings.TrimSpace(a) == "" {
				return fmt.Errorf("empty alias for column %s", name)
			}
		}
	}
	return nil
}

// columns returns the given set with the configured aliases appended
func (c *LedgerParserConfig) columns(set []Column) []Column {
	out := make([]Column, len(set))
	for i, col := range set {
		col.Aliases = append(append([]string{}, col.Aliases...), c.ColumnAliases[col.Name]...)
		out[i] = col
	}
	return out
}

// ParseDelimiter converts a flag value such as "," or "tab" into a rune
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "", ",", "comma":
		return ',', nil
	case ";", "semicolon":
		return ';', nil
	case "\t", "tab":
		return '\t', nil
	case "|", "pipe":
		return '|', nil
	default:
		return 0, fmt.Errorf("unsupported delimiter %q", s)
	}
}
