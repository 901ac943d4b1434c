package receipt

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func curryTemplate() *Template {
	return &Template{
		Business: Business{Name: "Spice House"},
		Items: []LineItem{
			{Name: "Lamb Curry", Quantity: 2, UnitPrice: decimal.RequireFromString("6.50")},
			{Name: "Naan", Quantity: 1, UnitPrice: decimal.RequireFromString("2.00")},
		},
		Totals: &Totals{
			Subtotal:    decimal.RequireFromString("15.00"),
			Tax:         decimal.NewNullDecimal(decimal.RequireFromString("1.70")),
			DeliveryFee: decimal.NewNullDecimal(decimal.Zero),
			Total:       decimal.RequireFromString("16.70"),
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Template)
		field   string
		wantErr bool
	}{
		{name: "valid template", mutate: func(*Template) {}},
		{name: "no items no totals", mutate: func(tp *Template) { tp.Items = nil; tp.Totals = nil }},
		{name: "missing business name", mutate: func(tp *Template) { tp.Business.Name = " " }, field: "business.name", wantErr: true},
		{name: "zero quantity", mutate: func(tp *Template) { tp.Items[0].Quantity = 0 }, field: "items[0].quantity", wantErr: true},
		{name: "negative price", mutate: func(tp *Template) { tp.Items[1].UnitPrice = decimal.NewFromInt(-1) }, field: "items[1].unit_price", wantErr: true},
		{name: "subtotal mismatch", mutate: func(tp *Template) { tp.Totals.Subtotal = decimal.NewFromInt(14) }, field: "totals.subtotal", wantErr: true},
		{name: "total mismatch", mutate: func(tp *Template) { tp.Totals.Total = decimal.NewFromInt(15) }, field: "totals.total", wantErr: true},
		{
			name: "unknown qr size",
			mutate: func(tp *Template) {
				tp.QRCodes = []QRSpec{{Content: "x", Size: "huge", Zone: ZoneFooter, Enabled: true}}
			},
			field:   "qr_codes[0].size",
			wantErr: true,
		},
		{
			name:   "disabled qr may be empty",
			mutate: func(tp *Template) { tp.QRCodes = []QRSpec{{Size: QRSmall, Zone: ZoneHeader}} },
		},
		{
			name:   "disabled qr skips size and zone",
			mutate: func(tp *Template) { tp.QRCodes = []QRSpec{{Size: "huge"}} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := curryTemplate()
			tt.mutate(tp)
			err := tp.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTemplateInvalid))
			var te *TemplateError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.field, te.Field)
		})
	}
}

func TestValidateNilTemplate(t *testing.T) {
	var tp *Template
	assert.ErrorIs(t, tp.Validate(), ErrTemplateInvalid)
}

func TestParse(t *testing.T) {
	raw := []byte(`{
		"business": {"name": "Spice House", "vat_id": "GB123"},
		"items": [{"name": "Naan", "quantity": 2, "unit_price": "2.00"}],
		"totals": {"subtotal": "4.00", "tax": null, "total": "4.00"}
	}`)

	tp, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "GB123", tp.Business.VATID)
	assert.False(t, tp.Totals.Tax.Valid)
	assert.Equal(t, "£4.00", tp.FormatMoney(tp.ItemsSum()))

	tp, err = Parse([]byte(`{"business":{"name":"Cottage"},"items":[],"qr_codes":[{"content":"","enabled":false}]}`))
	require.NoError(t, err, "disabled qr codes are not validated")
	assert.Len(t, tp.QRCodes, 1)

	_, err = Parse([]byte(`{"business":`))
	assert.ErrorIs(t, err, ErrTemplateInvalid)

	_, err = Parse(nil)
	assert.ErrorIs(t, err, ErrTemplateInvalid)
}

func TestFormatMoney(t *testing.T) {
	tp := &Template{}
	assert.Equal(t, "£13.00", tp.FormatMoney(decimal.RequireFromString("13")))
	assert.Equal(t, "-£1.50", tp.FormatMoney(decimal.RequireFromString("-1.5")))

	tp.Currency = "€"
	assert.Equal(t, "€0.10", tp.FormatMoney(decimal.RequireFromString("0.1")))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		err  bool
	}{
		{in: "", want: KindCustomerReceipt},
		{in: "Kitchen", want: KindKitchenTicket},
		{in: "bill", want: KindBill},
		{in: "invoice", err: true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
