// Package render turns a receipt template into a printer payload.
//
// Sections are emitted in a fixed order: header, order metadata, items,
// footer. A missing section contributes nothing except the items section,
// whose heading is always printed. Media failures are replaced by text and
// recorded on the payload; only an unusable template aborts the render.
package render

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/adcondev/receipt-daemon/internal/escpos"
	"github.com/adcondev/receipt-daemon/internal/layout"
	"github.com/adcondev/receipt-daemon/internal/media"
	"github.com/adcondev/receipt-daemon/internal/receipt"
)

// ErrInvalidProfile is returned for paper profiles the layout cannot use.
var ErrInvalidProfile = errors.New("invalid paper profile")

// ItemsHeading is printed above the item list even when it is empty.
const ItemsHeading = "ITEMS:"

const (
	sectionRule = '='
	totalsRule  = '-'
)

// Options selects how a template is rendered.
type Options struct {
	Profile Profile
	Kind    receipt.Kind
}

// Pipeline renders templates. It is safe for concurrent use.
type Pipeline struct {
	set    escpos.InstructionSet
	logger *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithInstructionSet replaces the default ESC/POS table.
func WithInstructionSet(set escpos.InstructionSet) Option {
	return func(p *Pipeline) { p.set = set }
}

// NewPipeline creates a pipeline with the default instruction set.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		set:    escpos.DefaultInstructionSet(),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Render lays out t for opts.Profile and emits the ESC/POS stream.
func (p *Pipeline) Render(t *receipt.Template, opts Options) (payload *Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic during render", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			payload, err = nil, fmt.Errorf("render failed: panic: %v", r)
		}
	}()

	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if opts.Kind == "" {
		opts.Kind = receipt.KindCustomerReceipt
	}

	b := &builder{
		t:    t,
		opts: opts,
		qr: media.QREncoder{
			NativeBitmap: opts.Profile.NativeBitmap,
			Columns:      opts.Profile.Columns,
			Dots:         opts.Profile.Dots,
		},
	}
	b.header()
	b.orderInfo()
	b.items()
	b.footer()

	segments := layout.Engine{Columns: opts.Profile.Columns}.Layout(b.dirs)
	payload = &Payload{
		data:     escpos.NewEmitter(p.set).Emit(segments),
		segments: segments,
		profile:  opts.Profile,
		kind:     opts.Kind,
		qr:       b.qrs,
		warnings: b.warnings,
	}

	for _, w := range b.warnings {
		p.logger.Warn("render substitution", zap.String("detail", w))
	}
	p.logger.Debug("receipt rendered",
		zap.String("profile", opts.Profile.Name),
		zap.String("kind", string(opts.Kind)),
		zap.Int("segments", len(segments)),
		zap.Int("bytes", payload.Len()),
	)
	return payload, nil
}

type builder struct {
	t        *receipt.Template
	opts     Options
	qr       media.QREncoder
	dirs     []layout.Directive
	qrs      []QRRecord
	warnings []string
}

func (b *builder) add(d ...layout.Directive) {
	b.dirs = append(b.dirs, d...)
}

func (b *builder) style(a layout.Align, e layout.Emphasis) {
	b.add(layout.SetAlign(a), layout.SetEmphasis(e))
}

func (b *builder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *builder) header() {
	biz := b.t.Business
	b.style(layout.AlignCenter, layout.EmphasisNormal)
	if len(b.t.Logo) > 0 {
		b.logo()
	}
	b.qrZone(receipt.ZoneHeader)

	b.style(layout.AlignCenter, layout.EmphasisDouble)
	b.add(layout.Text(biz.Name))
	switch b.opts.Kind {
	case receipt.KindBill:
		b.add(layout.Text("BILL"))
	case receipt.KindKitchenTicket:
		b.add(layout.Text("KITCHEN"))
	}

	if b.opts.Kind != receipt.KindKitchenTicket {
		b.style(layout.AlignCenter, layout.EmphasisNormal)
		for _, line := range []string{biz.Address, biz.Phone, biz.Email, biz.Website} {
			if line != "" {
				b.add(layout.Text(line))
			}
		}
	}
	b.rule(sectionRule)
}

func (b *builder) logo() {
	if !b.opts.Profile.NativeBitmap {
		b.warn("logo skipped: profile %s has no bitmap support", b.opts.Profile.Name)
		b.add(layout.Text("[logo]"))
		return
	}
	bm, err := media.EncodeLogo(b.t.Logo, b.opts.Profile.Dots)
	if err != nil {
		b.warn("logo replaced by placeholder: %v", err)
		b.add(layout.Text("[logo]"))
		return
	}
	b.add(layout.Image(bm))
}

func (b *builder) qrZone(zone receipt.QRZone) {
	for _, spec := range b.t.QRCodes {
		if !spec.Enabled || spec.Zone != zone {
			continue
		}
		rec := QRRecord{Zone: zone, Content: spec.Content, Representation: b.qr.Representation()}
		img, err := b.qr.Encode(spec.Content, spec.Size)
		switch {
		case err != nil:
			rec.Fallback, rec.Err = true, err
			b.warn("QR %q printed as text: %v", spec.Content, err)
			b.add(layout.Text(spec.Content))
		case img.Bitmap != nil:
			b.add(layout.Image(img.Bitmap))
		default:
			b.add(layout.TextBlock(img.Lines))
		}
		b.qrs = append(b.qrs, rec)
	}
}

func (b *builder) orderInfo() {
	o := b.t.Order
	if o.IsEmpty() {
		return
	}
	b.style(layout.AlignLeft, layout.EmphasisNormal)
	if b.opts.Kind == receipt.KindKitchenTicket {
		b.add(layout.SetEmphasis(layout.EmphasisBold))
	}
	fields := []struct{ label, value string }{
		{"Receipt #", o.Number},
		{"Date", o.Date},
		{"Customer", o.CustomerName},
		{"Order type", o.Type},
		{"Table", o.Table},
	}
	for _, f := range fields {
		if f.value != "" {
			b.add(layout.Text(f.label + ": " + f.value))
		}
	}
	b.rule(sectionRule)
}

func (b *builder) items() {
	kitchen := b.opts.Kind == receipt.KindKitchenTicket

	b.style(layout.AlignLeft, layout.EmphasisBold)
	b.add(layout.Text(ItemsHeading))

	for _, it := range b.t.Items {
		if kitchen {
			b.add(layout.SetEmphasis(layout.EmphasisDouble), layout.Item(it.Quantity, it.Name, ""))
		} else {
			b.add(layout.SetEmphasis(layout.EmphasisNormal), layout.Item(it.Quantity, it.Name, b.t.FormatMoney(it.LineTotal())))
		}
		b.add(layout.SetEmphasis(layout.EmphasisNormal))
		for _, m := range it.Modifiers {
			b.add(layout.Text("  + " + m))
		}
		if it.Note != "" {
			b.add(layout.Text("  Note: " + it.Note))
		}
	}

	if !kitchen && b.t.Totals != nil {
		b.totals(b.t.Totals)
	}
	b.rule(sectionRule)
}

func (b *builder) totals(tt *receipt.Totals) {
	b.style(layout.AlignLeft, layout.EmphasisNormal)
	b.add(layout.Separator(totalsRule))
	b.add(layout.Row("Subtotal", b.t.FormatMoney(tt.Subtotal)))
	if tt.Tax.Valid {
		b.add(layout.Row("Tax", b.t.FormatMoney(tt.Tax.Decimal)))
	}
	if tt.DeliveryFee.Valid && !tt.DeliveryFee.Decimal.IsZero() {
		b.add(layout.Row("Delivery", b.t.FormatMoney(tt.DeliveryFee.Decimal)))
	}
	b.add(layout.SetEmphasis(layout.EmphasisBold), layout.Row("TOTAL", b.t.FormatMoney(tt.Total)))
}

func (b *builder) footer() {
	start := len(b.dirs)
	b.style(layout.AlignCenter, layout.EmphasisNormal)
	mark := len(b.dirs)

	if b.t.Footer != "" {
		b.add(layout.Text(b.t.Footer))
	}
	b.qrZone(receipt.ZoneFooter)
	if b.t.Business.VATID != "" && b.opts.Kind != receipt.KindKitchenTicket {
		b.add(layout.Text("VAT: " + b.t.Business.VATID))
	}

	if len(b.dirs) == mark {
		b.dirs = b.dirs[:start]
		return
	}
	b.rule(sectionRule)
}

func (b *builder) rule(ch rune) {
	b.add(layout.SetEmphasis(layout.EmphasisNormal), layout.Separator(ch))
}
