// Package preview draws a rendered payload as the printer would, for display
// in a browser before anything is printed.
package preview

import (
	"errors"
	"image"
	"image/color"
	"io"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/adcondev/receipt-daemon/internal/layout"
	"github.com/adcondev/receipt-daemon/internal/render"
)

const (
	margin     = 8
	glyphWidth = 7  // basicfont.Face7x13 advance
	glyphLine  = 15 // 13px glyphs plus leading
	glyphDrop  = 11 // baseline offset inside a line
)

// ErrEmptyPayload is returned for payloads without segments.
var ErrEmptyPayload = errors.New("payload has nothing to preview")

type rendered struct {
	seg    layout.Segment
	height float64
}

// Image draws the payload segments on a paper-width canvas.
func Image(p *render.Payload) (image.Image, error) {
	dc, err := draw(p)
	if err != nil {
		return nil, err
	}
	return dc.Image(), nil
}

// PNG writes the preview as PNG.
func PNG(w io.Writer, p *render.Payload) error {
	dc, err := draw(p)
	if err != nil {
		return err
	}
	return dc.EncodePNG(w)
}

func draw(p *render.Payload) (*gg.Context, error) {
	segs := p.Segments()
	if len(segs) == 0 {
		return nil, ErrEmptyPayload
	}
	prof := p.Profile()
	paper := prof.Dots
	if minWidth := prof.Columns * glyphWidth; paper < minWidth {
		paper = minWidth
	}
	base := float64(paper) / float64(prof.Columns*glyphWidth)

	items := make([]rendered, len(segs))
	total := 2.0 * margin
	for i, s := range segs {
		h := glyphLine * base
		switch {
		case s.Kind == layout.SegmentImage:
			h = float64(s.Image.Height)
		case s.Emphasis == layout.EmphasisDouble:
			h *= 2
		}
		items[i] = rendered{seg: s, height: h}
		total += h
	}

	dc := gg.NewContext(paper+2*margin, int(total+0.5))
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.Black)
	dc.SetFontFace(basicfont.Face7x13)

	y := float64(margin)
	for _, it := range items {
		s := it.seg
		switch s.Kind {
		case layout.SegmentText:
			scale := base
			if s.Emphasis == layout.EmphasisDouble {
				scale *= 2
			}
			dc.Push()
			dc.Scale(scale, scale)
			x := margin / scale
			baseline := (y + glyphDrop*scale) / scale
			dc.DrawString(s.Line, x, baseline)
			if s.Emphasis != layout.EmphasisNormal {
				dc.DrawString(s.Line, x+1/scale, baseline)
			}
			dc.Pop()
		case layout.SegmentImage:
			x := margin
			switch s.Align {
			case layout.AlignCenter:
				x += (paper - s.Image.Width) / 2
			case layout.AlignRight:
				x += paper - s.Image.Width
			}
			dc.DrawImage(s.Image.Image(), x, int(y))
		}
		y += it.height
	}
	return dc, nil
}
