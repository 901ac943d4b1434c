// Package receipt define el modelo de datos que recibe el pipeline de impresión.
package receipt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is printed before every amount when the template sets none.
const DefaultCurrency = "£"

// Kind tags what a template is printed as.
type Kind string

const (
	KindKitchenTicket   Kind = "kitchen_ticket"
	KindCustomerReceipt Kind = "customer_receipt"
	KindBill            Kind = "bill"
)

// ParseKind normalizes a job-type tag, defaulting to a customer receipt.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindCustomerReceipt, "receipt":
		return KindCustomerReceipt, nil
	case KindKitchenTicket, "kitchen":
		return KindKitchenTicket, nil
	case KindBill:
		return KindBill, nil
	default:
		return "", fmt.Errorf("unknown job kind %q", s)
	}
}

// QRSize is the size class of a QR code.
type QRSize string

const (
	QRSmall  QRSize = "small"
	QRMedium QRSize = "medium"
	QRLarge  QRSize = "large"
)

// QRZone places a QR code in the header or the footer.
type QRZone string

const (
	ZoneHeader QRZone = "header"
	ZoneFooter QRZone = "footer"
)

// QRSpec describes one QR code attached to the receipt.
type QRSpec struct {
	Content string `json:"content"`
	Size    QRSize `json:"size"`
	Zone    QRZone `json:"zone"`
	Enabled bool   `json:"enabled"`
}

// Business identifies who issues the receipt.
type Business struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
	VATID   string `json:"vat_id,omitempty"`
}

// Order holds the order metadata block.
type Order struct {
	Number       string `json:"number,omitempty"`
	Date         string `json:"date,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Type         string `json:"type,omitempty"`
	Table        string `json:"table,omitempty"`
}

// IsEmpty reports whether no metadata field is set.
func (o Order) IsEmpty() bool {
	return o == Order{}
}

// LineItem is one ordered product.
type LineItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Modifiers []string        `json:"modifiers,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// LineTotal is quantity times unit price.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Totals are supplied by the caller; rendering never recomputes them.
type Totals struct {
	Subtotal    decimal.Decimal     `json:"subtotal"`
	Tax         decimal.NullDecimal `json:"tax"`
	DeliveryFee decimal.NullDecimal `json:"delivery_fee"`
	Total       decimal.Decimal     `json:"total"`
}

// Template is the structured input of the render pipeline.
type Template struct {
	Business Business   `json:"business"`
	Logo     []byte     `json:"logo,omitempty"`
	QRCodes  []QRSpec   `json:"qr_codes,omitempty"`
	Order    Order      `json:"order"`
	Items    []LineItem `json:"items"`
	Totals   *Totals    `json:"totals,omitempty"`
	Footer   string     `json:"footer,omitempty"`
	Currency string     `json:"currency,omitempty"`
}

// Parse decodes a JSON document into a Template and validates it.
func Parse(raw []byte) (*Template, error) {
	if len(raw) == 0 {
		return nil, invalid("document", "empty document")
	}
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, &TemplateError{Field: "document", Reason: "invalid JSON", Err: err}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// CurrencySymbol returns the symbol printed before amounts.
func (t *Template) CurrencySymbol() string {
	if t.Currency == "" {
		return DefaultCurrency
	}
	return t.Currency
}

// FormatMoney renders an amount with two decimals and the currency symbol.
func (t *Template) FormatMoney(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + t.CurrencySymbol() + d.Neg().StringFixed(2)
	}
	return t.CurrencySymbol() + d.StringFixed(2)
}

// ItemsSum is the sum of quantity × unit price over every line item.
func (t *Template) ItemsSum() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range t.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// Validate checks the structural rules a template must satisfy before rendering.
func (t *Template) Validate() error {
	if t == nil {
		return invalid("template", "template is nil")
	}
	if strings.TrimSpace(t.Business.Name) == "" {
		return invalid("business.name", "business name is required")
	}
	for i, it := range t.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Name) == "" {
			return invalid(field+".name", "item name is required")
		}
		if it.Quantity < 1 {
			return invalid(field+".quantity", fmt.Sprintf("quantity must be at least 1, got %d", it.Quantity))
		}
		if it.UnitPrice.IsNegative() {
			return invalid(field+".unit_price", "unit price cannot be negative")
		}
	}
	for i, qr := range t.QRCodes {
		if !qr.Enabled {
			continue
		}
		field := fmt.Sprintf("qr_codes[%d]", i)
		switch qr.Size {
		case QRSmall, QRMedium, QRLarge:
		default:
			return invalid(field+".size", fmt.Sprintf("unknown size class %q", qr.Size))
		}
		switch qr.Zone {
		case ZoneHeader, ZoneFooter:
		default:
			return invalid(field+".zone", fmt.Sprintf("unknown zone %q", qr.Zone))
		}
		if qr.Content == "" {
			return invalid(field+".content", "QR content cannot be empty")
		}
	}
	if t.Totals != nil {
		return t.Totals.check(t.ItemsSum())
	}
	return nil
}

func (tt *Totals) check(itemsSum decimal.Decimal) error {
	if !tt.Subtotal.Equal(itemsSum) {
		return invalid("totals.subtotal",
			fmt.Sprintf("subtotal %s does not match items sum %s", tt.Subtotal.StringFixed(2), itemsSum.StringFixed(2)))
	}
	want := tt.Subtotal
	if tt.Tax.Valid {
		want = want.Add(tt.Tax.Decimal)
	}
	if tt.DeliveryFee.Valid {
		want = want.Add(tt.DeliveryFee.Decimal)
	}
	if !tt.Total.Equal(want) {
		return invalid("totals.total",
			fmt.Sprintf("total %s does not match subtotal plus fees %s", tt.Total.StringFixed(2), want.StringFixed(2)))
	}
	return nil
}
