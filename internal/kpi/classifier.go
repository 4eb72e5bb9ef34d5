package kpi

import (
	"regexp"
	"strings"
)

// ExpenseClass is the EBITDA bucket of an expense category
type ExpenseClass string

const (
	ExpenseCOGS         ExpenseClass = "cogs"
	ExpenseDepreciation ExpenseClass = "depreciation_amortization"
	ExpenseNone         ExpenseClass = ""
)

// CostNature is the break-even behaviour of an expense category
type CostNature string

const (
	CostFixed        CostNature = "FIXED"
	CostVariable     CostNature = "VARIABLE"
	CostMixed        CostNature = "MIXED"
	CostUnclassified CostNature = "UNCLASSIFIED"
)

// ExpenseClassifier assigns EBITDA buckets from a category name
type ExpenseClassifier interface {
	ClassifyExpense(categoryName string) ExpenseClass
}

// CostClassifier assigns a cost nature from a category name
type CostClassifier interface {
	ClassifyCost(categoryName string) CostNature
}

// Default keyword lists, French and English
const (
	DefaultCOGSPattern         = `achat|matière|matiere|marchandise|stock|purchase|material|inventory|supplies`
	DefaultDepreciationPattern = `amortissement|dépréciation|depreciation|provision|amortization`
	DefaultFixedPattern        = `loyer|rent|salaire|salary|salaries|payroll|assurance|insurance|abonnement|subscription|leasing|crédit|credit|loan|honoraires|comptab|accounting|licence|license`
	DefaultVariablePattern     = `achat|matière|matiere|marchandise|stock|purchase|material|commission|transport|livraison|shipping|delivery|emballage|packaging|sous-traitance|subcontract|carburant|fuel`
	DefaultMixedPattern        = `électricité|electricite|electricity|énergie|energie|energy|téléphone|telephone|phone|internet|maintenance|entretien|marketing|publicité|publicite|advertising|déplacement|travel`
)

// KeywordClassifier classifies category names by case-insensitive keyword regexes
type KeywordClassifier struct {
	cogs         *regexp.Regexp
	depreciation *regexp.Regexp
	fixed        *regexp.Regexp
	variable     *regexp.Regexp
	mixed        *regexp.Regexp
}

// KeywordPatterns holds the alternations used by a KeywordClassifier
type KeywordPatterns struct {
	COGS         string `json:"cogs" mapstructure:"cogs"`
	Depreciation string `json:"depreciation" mapstructure:"depreciation"`
	Fixed        string `json:"fixed" mapstructure:"fixed"`
	Variable     string `json:"variable" mapstructure:"variable"`
	Mixed        string `json:"mixed" mapstructure:"mixed"`
}

// DefaultKeywordPatterns returns the built-in keyword lists
func DefaultKeywordPatterns() KeywordPatterns {
	return KeywordPatterns{
		COGS:         DefaultCOGSPattern,
		Depreciation: DefaultDepreciationPattern,
		Fixed:        DefaultFixedPattern,
		Variable:     DefaultVariablePattern,
		Mixed:        DefaultMixedPattern,
	}
}

// NewKeywordClassifier compiles the given patterns
func NewKeywordClassifier(p KeywordPatterns) (*KeywordClassifier, error) {
	compile := func(expr string) (*regexp.Regexp, error) {
		if strings.TrimSpace(expr) == "" {
			return nil, nil
		}
		return regexp.Compile(`(?i)(` + expr + `)`)
	}

	var err error
	c := &KeywordClassifier{}
	if c.cogs, err = compile(p.COGS); err != nil {
		return nil, err
	}
	if c.depreciation, err = compile(p.Depreciation); err != nil {
		return nil, err
	}
	if c.fixed, err = compile(p.Fixed); err != nil {
		return nil, err
	}
	if c.variable, err = compile(p.Variable); err != nil {
		return nil, err
	}
	if c.mixed, err = compile(p.Mixed); err != nil {
		return nil, err
	}
	return c, nil
}

// DefaultClassifier returns a classifier with the built-in keyword lists
func DefaultClassifier() *KeywordClassifier {
	c, err := NewKeywordClassifier(DefaultKeywordPatterns())
	if err != nil {
		panic(err)
	}
	return c
}

func matches(re *regexp.Regexp, s string) bool {
	return re != nil && re.MatchString(s)
}

// ClassifyExpense implements ExpenseClassifier. Depreciation keywords win over COGS ones.
func (c *KeywordClassifier) ClassifyExpense(name string) ExpenseClass {
	switch {
	case matches(c.depreciation, name):
		return ExpenseDepreciation
	case matches(c.cogs, name):
		return ExpenseCOGS
	default:
		return ExpenseNone
	}
}

// ClassifyCost implements CostClassifier. A name matching both fixed and
// variable keywords is mixed.
func (c *KeywordClassifier) ClassifyCost(name string) CostNature {
	fixed := matches(c.fixed, name)
	variable := matches(c.variable, name)
	switch {
	case matches(c.mixed, name), fixed && variable:
		return CostMixed
	case fixed:
		return CostFixed
	case variable:
		return CostVariable
	default:
		return CostUnclassified
	}
}
