package render

import (
	"strings"

	"github.com/adcondev/receipt-daemon/internal/layout"
	"github.com/adcondev/receipt-daemon/internal/media"
	"github.com/adcondev/receipt-daemon/internal/receipt"
)

// QRRecord reports how one enabled QR code ended up on the receipt.
type QRRecord struct {
	Zone           receipt.QRZone
	Content        string
	Representation media.Representation
	// Fallback is set when encoding failed and the content was printed as text.
	Fallback bool
	Err      error
}

// Payload is the finished output of a render. It is immutable: accessors
// return copies.
type Payload struct {
	data     []byte
	segments []layout.Segment
	profile  Profile
	kind     receipt.Kind
	qr       []QRRecord
	warnings []string
}

// Bytes returns the ESC/POS stream ready for the device.
func (p *Payload) Bytes() []byte {
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

// Len is the stream size in bytes.
func (p *Payload) Len() int { return len(p.data) }

// Profile is the paper profile the payload was laid out for.
func (p *Payload) Profile() Profile { return p.profile }

// Columns is the column width of the profile.
func (p *Payload) Columns() int { return p.profile.Columns }

// Kind is the job kind the payload was rendered as.
func (p *Payload) Kind() receipt.Kind { return p.kind }

// Segments returns the laid-out lines.
func (p *Payload) Segments() []layout.Segment {
	out := make([]layout.Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Lines is the fixed-width text view of the receipt. Images are left out.
func (p *Payload) Lines() []string {
	lines := make([]string, 0, len(p.segments))
	for _, s := range p.segments {
		switch s.Kind {
		case layout.SegmentText:
			lines = append(lines, s.Line)
		case layout.SegmentBlank:
			lines = append(lines, "")
		}
	}
	return lines
}

// Text joins Lines with newlines.
func (p *Payload) Text() string {
	return strings.Join(p.Lines(), "\n")
}

// QRCodes lists every enabled QR code in print order.
func (p *Payload) QRCodes() []QRRecord {
	out := make([]QRRecord, len(p.qr))
	copy(out, p.qr)
	return out
}

// Warnings lists the non-fatal problems substituted during rendering.
func (p *Payload) Warnings() []string {
	out := make([]string, len(p.warnings))
	copy(out, p.warnings)
	return out
}

// NewRawPayload wraps an already encoded stream, for callers that bypass the
// pipeline such as test prints.
func NewRawPayload(data []byte, prof Profile) *Payload {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Payload{data: buf, profile: prof, kind: receipt.KindCustomerReceipt}
}
