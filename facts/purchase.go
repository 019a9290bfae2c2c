package facts

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// PurchaseID is the fact ID of a purchase in working memory.
const PurchaseID = "purchase"

// Purchase fields, as seen by rules.
const (
	FieldAmount  = "amount"
	FieldZipCode = "zip_code"
	FieldTax     = "tax"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Purchase is a sale the rules compute taxes for. Rules read the amount and
// zip code and set the tax.
type Purchase struct {
	// Amount in whole currency units
	Amount int `validate:"gte=0"`

	ZipCode string `validate:"required,max=10"`

	// Sales tax set by the rules
	Tax float64 `validate:"gte=0"`
}

// NewPurchase creates a purchase with no tax.
func NewPurchase(amount int, zipCode string) (*Purchase, error) {
	p := &Purchase{Amount: amount, ZipCode: strings.TrimSpace(zipCode)}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Purchase) FactID() string   { return PurchaseID }
func (p *Purchase) FactType() string { return "purchase" }

func (p *Purchase) Get(field string) (any, bool) {
	switch field {
	case FieldAmount:
		return int64(p.Amount), true
	case FieldZipCode:
		return p.ZipCode, true
	case FieldTax:
		return p.Tax, true
	}
	return nil, false
}

func (p *Purchase) Set(field string, v any) error {
	switch field {
	case FieldAmount:
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("purchase %s: %w", field, err)
		}
		p.Amount = n
	case FieldZipCode:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("purchase %s: want string, got %T", field, v)
		}
		p.ZipCode = s
	case FieldTax:
		f, err := toFloat(v)
		if err != nil {
			return fmt.Errorf("purchase %s: %w", field, err)
		}
		p.Tax = f
	default:
		return fmt.Errorf("purchase has no field '%s'", field)
	}
	return nil
}

func (p *Purchase) Fields() map[string]any {
	return map[string]any{
		FieldAmount:  int64(p.Amount),
		FieldZipCode: p.ZipCode,
		FieldTax:     p.Tax,
	}
}

// Validate checks the purchase after rules have changed it.
func (p *Purchase) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid purchase: %w", err)
	}
	if math.IsNaN(p.Tax) || math.IsInf(p.Tax, 0) {
		return fmt.Errorf("invalid purchase: tax is %v", p.Tax)
	}
	return nil
}

// SalesTax returns the tax computed by the rules.
func (p *Purchase) SalesTax() float64 {
	return p.Tax
}

// PostTaxTotal is the amount plus the sales tax, rounded to whole units.
func (p *Purchase) PostTaxTotal() int {
	return p.Amount + int(math.Round(p.SalesTax()))
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not a whole number", n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("want a number, got %T", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("want a number, got %T", v)
}
