package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/receipt-daemon/internal/escpos"
	"github.com/adcondev/receipt-daemon/internal/layout"
	"github.com/adcondev/receipt-daemon/internal/media"
	"github.com/adcondev/receipt-daemon/internal/receipt"
)

func curryTemplate() *receipt.Template {
	return &receipt.Template{
		Business: receipt.Business{
			Name:    "Spice House",
			Address: "12 High Street",
			Phone:   "01632 960123",
			VATID:   "GB123456789",
		},
		Order: receipt.Order{Number: "1042", Date: "2024-03-01 19:30", Type: "Delivery"},
		Items: []receipt.LineItem{
			{Name: "Lamb Curry", Quantity: 2, UnitPrice: decimal.RequireFromString("6.50")},
			{Name: "Naan", Quantity: 1, UnitPrice: decimal.RequireFromString("2.00"), Modifiers: []string{"garlic"}},
		},
		Totals: &receipt.Totals{
			Subtotal:    decimal.RequireFromString("15.00"),
			Tax:         decimal.NewNullDecimal(decimal.RequireFromString("1.70")),
			DeliveryFee: decimal.NewNullDecimal(decimal.Zero),
			Total:       decimal.RequireFromString("16.70"),
		},
		Footer: "Thank you!",
	}
}

func textProfile(p Profile) Profile {
	p.NativeBitmap = false
	return p
}

func findLine(lines []string, prefix string) (string, bool) {
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), prefix) {
			return l, true
		}
	}
	return "", false
}

func TestRenderCurryReceipt(t *testing.T) {
	p := NewPipeline()
	payload, err := p.Render(curryTemplate(), Options{Profile: Profile80mm})
	require.NoError(t, err)

	lines := payload.Lines()
	assert.Equal(t, 48, payload.Columns())

	curry, ok := findLine(lines, "2x Lamb Curry")
	require.True(t, ok, "curry line missing:\n%s", payload.Text())
	assert.Equal(t, 48, utf8.RuneCountInString(curry))
	assert.True(t, strings.HasSuffix(curry, "£13.00"))

	naan, ok := findLine(lines, "1x Naan")
	require.True(t, ok)
	assert.Equal(t, 48, utf8.RuneCountInString(naan))
	assert.True(t, strings.HasSuffix(naan, "£2.00"))

	for prefix, amount := range map[string]string{"Subtotal": "£15.00", "Tax": "£1.70", "TOTAL": "£16.70"} {
		line, ok := findLine(lines, prefix)
		require.True(t, ok, prefix)
		assert.True(t, strings.HasSuffix(line, amount), "%s line %q", prefix, line)
	}

	_, ok = findLine(lines, "Delivery ")
	assert.False(t, ok, "zero delivery fee should be omitted")
	_, ok = findLine(lines, "+ garlic")
	assert.True(t, ok)
	_, ok = findLine(lines, "VAT: GB123456789")
	assert.True(t, ok)

	data := payload.Bytes()
	assert.True(t, bytes.HasPrefix(data, []byte{escpos.ESC, '@'}))
	assert.True(t, bytes.HasSuffix(data, []byte{escpos.GS, 'V', 'A', 0x00}))
	assert.Contains(t, string(data), "\x9c13.00")
}

func TestRenderSectionOrder(t *testing.T) {
	payload, err := NewPipeline().Render(curryTemplate(), Options{Profile: Profile58mm})
	require.NoError(t, err)

	text := payload.Text()
	order := []string{"Spice House", "12 High Street", "Receipt #: 1042", ItemsHeading, "Subtotal", "TOTAL", "Thank you!", "VAT:"}
	last := -1
	for _, s := range order {
		i := strings.Index(text, s)
		require.GreaterOrEqual(t, i, 0, s)
		assert.Greater(t, i, last, "%s out of order", s)
		last = i
	}

	lines := payload.Lines()
	assert.Equal(t, strings.Repeat("=", 32), lines[len(lines)-1], "receipt ends with a separator")
}

func TestRenderEmptySections(t *testing.T) {
	tp := &receipt.Template{Business: receipt.Business{Name: "Bare"}}
	payload, err := NewPipeline().Render(tp, Options{Profile: Profile58mm})
	require.NoError(t, err)

	lines := payload.Lines()
	rule := strings.Repeat("=", 32)
	assert.Equal(t, []string{
		"      Bare",
		rule,
		ItemsHeading,
		rule,
	}, lines)
	for _, l := range lines {
		assert.NotEmpty(t, strings.TrimSpace(l), "no blank placeholders")
	}
}

func TestRenderKitchenTicket(t *testing.T) {
	tp := curryTemplate()
	tp.Items[0].Note = "extra hot"

	payload, err := NewPipeline().Render(tp, Options{Profile: Profile80mm, Kind: receipt.KindKitchenTicket})
	require.NoError(t, err)
	assert.Equal(t, receipt.KindKitchenTicket, payload.Kind())

	text := payload.Text()
	assert.NotContains(t, text, "£")
	assert.NotContains(t, text, "TOTAL")
	assert.NotContains(t, text, "12 High Street")
	assert.Contains(t, text, "KITCHEN")
	assert.Contains(t, text, "Note: extra hot")

	for _, seg := range payload.Segments() {
		if strings.HasPrefix(seg.Body, "2x Lamb Curry") {
			assert.Equal(t, layout.EmphasisDouble, seg.Emphasis)
		}
	}
}

func TestRenderBillTitle(t *testing.T) {
	payload, err := NewPipeline().Render(curryTemplate(), Options{Profile: Profile80mm, Kind: receipt.KindBill})
	require.NoError(t, err)
	_, ok := findLine(payload.Lines(), "BILL")
	assert.True(t, ok)
}

func TestRenderSmallQRFitsNarrowPaper(t *testing.T) {
	tp := curryTemplate()
	tp.QRCodes = []receipt.QRSpec{{Content: "https://example.com", Size: receipt.QRSmall, Zone: receipt.ZoneFooter, Enabled: true}}

	prof := textProfile(Profile58mm)
	payload, err := NewPipeline().Render(tp, Options{Profile: prof})
	require.NoError(t, err)

	qrs := payload.QRCodes()
	require.Len(t, qrs, 1)
	assert.Equal(t, media.RepresentationText, qrs[0].Representation)
	assert.False(t, qrs[0].Fallback)

	for _, l := range payload.Lines() {
		assert.LessOrEqual(t, utf8.RuneCountInString(l), 32, "line %q", l)
	}
}

func TestRenderQRRepresentationFollowsProfile(t *testing.T) {
	tp := curryTemplate()
	tp.QRCodes = []receipt.QRSpec{
		{Content: "https://example.com/menu", Size: receipt.QRMedium, Zone: receipt.ZoneHeader, Enabled: true},
		{Content: "skipped", Size: receipt.QRMedium, Zone: receipt.ZoneHeader},
	}

	payload, err := NewPipeline().Render(tp, Options{Profile: Profile80mm})
	require.NoError(t, err)
	qrs := payload.QRCodes()
	require.Len(t, qrs, 1, "disabled specs are skipped")
	assert.Equal(t, media.RepresentationBitmap, qrs[0].Representation)

	var images int
	for _, seg := range payload.Segments() {
		if seg.Kind == layout.SegmentImage {
			images++
		}
	}
	assert.Equal(t, 1, images)
}

func TestRenderQRFallbackIsObservable(t *testing.T) {
	tp := curryTemplate()
	long := strings.Repeat("https://example.com/", 40)
	tp.QRCodes = []receipt.QRSpec{
		{Content: long, Size: receipt.QRSmall, Zone: receipt.ZoneFooter, Enabled: true},
		{Content: "https://example.com", Size: receipt.QRSmall, Zone: receipt.ZoneFooter, Enabled: true},
	}

	payload, err := NewPipeline().Render(tp, Options{Profile: textProfile(Profile58mm)})
	require.NoError(t, err)

	qrs := payload.QRCodes()
	require.Len(t, qrs, 2)
	assert.True(t, qrs[0].Fallback)
	assert.ErrorIs(t, qrs[0].Err, media.ErrEncodeFailed)
	assert.False(t, qrs[1].Fallback, "later QR codes still render")
	assert.NotEmpty(t, payload.Warnings())
	assert.Contains(t, payload.Text(), "Thank you!")
}

func TestRenderLogo(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.Black)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tp := curryTemplate()
	tp.Logo = buf.Bytes()
	payload, err := NewPipeline().Render(tp, Options{Profile: Profile58mm})
	require.NoError(t, err)
	segs := payload.Segments()
	require.Equal(t, layout.SegmentImage, segs[0].Kind)
	assert.Equal(t, 40, segs[0].Image.Width)
	assert.Empty(t, payload.Warnings())

	tp.Logo = []byte("not an image")
	payload, err = NewPipeline().Render(tp, Options{Profile: Profile58mm})
	require.NoError(t, err)
	assert.Equal(t, "[logo]", strings.TrimSpace(payload.Lines()[0]))
	require.Len(t, payload.Warnings(), 1)
}

func TestRenderErrors(t *testing.T) {
	p := NewPipeline()

	_, err := p.Render(nil, Options{Profile: Profile58mm})
	assert.ErrorIs(t, err, receipt.ErrTemplateInvalid)

	bad := curryTemplate()
	bad.Totals.Total = decimal.NewFromInt(99)
	_, err = p.Render(bad, Options{Profile: Profile58mm})
	assert.ErrorIs(t, err, receipt.ErrTemplateInvalid)

	_, err = p.Render(curryTemplate(), Options{Profile: Profile{Name: "tiny", Columns: 8}})
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestRenderConcurrent(t *testing.T) {
	p := NewPipeline()
	want, err := p.Render(curryTemplate(), Options{Profile: Profile80mm})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Render(curryTemplate(), Options{Profile: Profile80mm})
			if assert.NoError(t, err) {
				assert.Equal(t, want.Bytes(), got.Bytes())
			}
		}()
	}
	wg.Wait()
}

func TestProfileByName(t *testing.T) {
	tests := []struct {
		in   string
		want Profile
		err  bool
	}{
		{in: "", want: Profile58mm},
		{in: "58", want: Profile58mm},
		{in: "80MM", want: Profile80mm},
		{in: "110", err: true},
	}
	for _, tt := range tests {
		got, err := ProfileByName(tt.in)
		if tt.err {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestPayloadIsImmutable(t *testing.T) {
	payload := NewRawPayload([]byte{1, 2, 3}, Profile58mm)
	b := payload.Bytes()
	b[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, payload.Bytes())
	assert.Equal(t, 3, payload.Len())
}
