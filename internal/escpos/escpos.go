// Package escpos translates laid-out segments into ESC/POS byte sequences.
package escpos

import (
	"bytes"

	"golang.org/x/text/encoding/charmap"

	"github.com/adcondev/receipt-daemon/internal/layout"
	"github.com/adcondev/receipt-daemon/internal/media"
)

// Control bytes.
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// InstructionSet maps layout primitives to printer commands.
type InstructionSet struct {
	Init      []byte
	CodePage  []byte
	Align     map[layout.Align][]byte
	Emphasis  map[layout.Emphasis][]byte
	LineFeed  []byte
	FeedLines func(n int) []byte
	Cut       []byte
	// CutterFeed is the number of lines fed before cutting so the last
	// printed line clears the blade.
	CutterFeed int
	// CodePageMap converts text to the printer code page; runes it lacks print as '?'.
	CodePageMap *charmap.Charmap
}

// DefaultInstructionSet is the Epson-compatible ESC/POS table using code page PC858.
func DefaultInstructionSet() InstructionSet {
	return InstructionSet{
		Init:     []byte{ESC, '@'},
		CodePage: []byte{ESC, 't', 19},
		Align: map[layout.Align][]byte{
			layout.AlignLeft:   {ESC, 'a', 0},
			layout.AlignCenter: {ESC, 'a', 1},
			layout.AlignRight:  {ESC, 'a', 2},
		},
		Emphasis: map[layout.Emphasis][]byte{
			layout.EmphasisNormal: {ESC, 'E', 0, GS, '!', 0x00},
			layout.EmphasisBold:   {ESC, 'E', 1, GS, '!', 0x00},
			layout.EmphasisDouble: {ESC, 'E', 1, GS, '!', 0x11},
		},
		LineFeed:    []byte{LF},
		FeedLines:   func(n int) []byte { return []byte{ESC, 'd', byte(n)} },
		Cut:         []byte{GS, 'V', 'A', 0x00},
		CutterFeed:  4,
		CodePageMap: charmap.CodePage858,
	}
}

// Emitter turns segments into a complete print stream. It holds no state
// between calls; every Emit starts at left/normal.
type Emitter struct {
	set InstructionSet
}

// NewEmitter creates an emitter for the given instruction set.
func NewEmitter(set InstructionSet) *Emitter {
	return &Emitter{set: set}
}

// Emit writes the init sequence, each segment with only the mode changes it
// needs, then the cutter feed and the cut.
func (e *Emitter) Emit(segments []layout.Segment) []byte {
	var buf bytes.Buffer
	buf.Write(e.set.Init)
	buf.Write(e.set.CodePage)

	align, emphasis := layout.AlignLeft, layout.EmphasisNormal

	for _, seg := range segments {
		if seg.Align != align {
			buf.Write(e.set.Align[seg.Align])
			align = seg.Align
		}
		if seg.Emphasis != emphasis {
			buf.Write(e.set.Emphasis[seg.Emphasis])
			emphasis = seg.Emphasis
		}
		switch seg.Kind {
		case layout.SegmentText:
			buf.Write(e.encodeText(seg.Body))
			buf.Write(e.set.LineFeed)
		case layout.SegmentBlank:
			buf.Write(e.set.LineFeed)
		case layout.SegmentImage:
			buf.Write(RasterCommand(seg.Image))
		}
	}

	if e.set.CutterFeed > 0 {
		if e.set.FeedLines != nil {
			buf.Write(e.set.FeedLines(e.set.CutterFeed))
		} else {
			buf.Write(bytes.Repeat(e.set.LineFeed, e.set.CutterFeed))
		}
	}
	buf.Write(e.set.Cut)
	return buf.Bytes()
}

func (e *Emitter) encodeText(s string) []byte {
	cm := e.set.CodePageMap
	if cm == nil {
		return []byte(s)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := cm.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

// RasterCommand frames a bitmap as GS v 0 (normal density).
func RasterCommand(b *media.Bitmap) []byte {
	if b == nil || b.Width == 0 || b.Height == 0 {
		return nil
	}
	rowBytes := b.RowBytes()
	cmd := make([]byte, 0, 8+len(b.Data))
	cmd = append(cmd,
		GS, 'v', '0', 0x00,
		byte(rowBytes), byte(rowBytes>>8),
		byte(b.Height), byte(b.Height>>8),
	)
	return append(cmd, b.Data...)
}
