package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yeqown/go-qrcode/v2"

	"github.com/adcondev/receipt-daemon/internal/receipt"
)

// Representation tells which form a QR code was produced in.
type Representation string

const (
	RepresentationBitmap Representation = "bitmap"
	RepresentationText   Representation = "text"
)

// Quiet zone widths in modules.
const (
	bitmapQuietZone = 2
	textQuietZone   = 1
)

var dotsPerModule = map[receipt.QRSize]int{
	receipt.QRSmall:  3,
	receipt.QRMedium: 5,
	receipt.QRLarge:  7,
}

// QRImage is an encoded QR code. Exactly one of Bitmap or Lines is set,
// matching Representation.
type QRImage struct {
	Representation Representation
	Modules        int
	Bitmap         *Bitmap
	Lines          []string
}

// QREncoder encodes QR payloads for one paper profile.
type QREncoder struct {
	NativeBitmap bool // printer accepts raster images
	Columns      int  // text column budget
	Dots         int  // raster dot budget
}

// Representation is the form Encode produces with this encoder.
func (e QREncoder) Representation() Representation {
	if e.NativeBitmap {
		return RepresentationBitmap
	}
	return RepresentationText
}

// Encode builds the QR module grid for content and renders it as a bitmap or
// as block characters according to the encoder capability.
func (e QREncoder) Encode(content string, size receipt.QRSize) (*QRImage, error) {
	if content == "" {
		return nil, &EncodeError{Kind: "qr", Err: errors.New("QR data cannot be empty")}
	}
	scale, ok := dotsPerModule[size]
	if !ok {
		return nil, &EncodeError{Kind: "qr", Err: fmt.Errorf("unknown size class %q", size)}
	}
	grid, err := moduleGrid(content)
	if err != nil {
		return nil, &EncodeError{Kind: "qr", Err: err}
	}
	if e.NativeBitmap {
		return e.bitmap(grid, scale)
	}
	return e.text(grid, size)
}

func (e QREncoder) bitmap(grid [][]bool, scale int) (*QRImage, error) {
	n := len(grid) + 2*bitmapQuietZone
	if n*scale > e.Dots {
		scale = e.Dots / n
	}
	if scale < 1 {
		return nil, &EncodeError{Kind: "qr", Err: fmt.Errorf("QR data too long: %d modules exceed %d dots", n, e.Dots)}
	}
	bm := NewBitmap(n*scale, n*scale)
	for y, row := range grid {
		for x, dark := range row {
			if !dark {
				continue
			}
			px := (x + bitmapQuietZone) * scale
			py := (y + bitmapQuietZone) * scale
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					bm.Set(px+dx, py+dy, true)
				}
			}
		}
	}
	return &QRImage{Representation: RepresentationBitmap, Modules: len(grid), Bitmap: bm}, nil
}

func (e QREncoder) text(grid [][]bool, size receipt.QRSize) (*QRImage, error) {
	n := len(grid) + 2*textQuietZone
	padded := make([][]bool, n)
	for y := range padded {
		padded[y] = make([]bool, n)
		if y >= textQuietZone && y-textQuietZone < len(grid) {
			copy(padded[y][textQuietZone:], grid[y-textQuietZone])
		}
	}

	if size != receipt.QRSmall && 2*n <= e.Columns {
		return &QRImage{Representation: RepresentationText, Modules: len(grid), Lines: wideLines(padded)}, nil
	}
	if n > e.Columns {
		return nil, &EncodeError{Kind: "qr", Err: fmt.Errorf("QR data too long: %d modules exceed %d columns", n, e.Columns)}
	}
	return &QRImage{Representation: RepresentationText, Modules: len(grid), Lines: compactLines(padded)}, nil
}

// wideLines prints each module as two full blocks, one text row per module row.
func wideLines(grid [][]bool) []string {
	lines := make([]string, 0, len(grid))
	for _, row := range grid {
		var sb strings.Builder
		for _, dark := range row {
			if dark {
				sb.WriteString("██")
			} else {
				sb.WriteString("  ")
			}
		}
		lines = append(lines, sb.String())
	}
	return lines
}

// compactLines packs two module rows into one text row with half blocks.
func compactLines(grid [][]bool) []string {
	lines := make([]string, 0, (len(grid)+1)/2)
	for y := 0; y < len(grid); y += 2 {
		var sb strings.Builder
		for x := range grid[y] {
			top := grid[y][x]
			bottom := y+1 < len(grid) && grid[y+1][x]
			switch {
			case top && bottom:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bottom:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		lines = append(lines, sb.String())
	}
	return lines
}

// matrixCapture is a qrcode.Writer that keeps the module grid instead of drawing it.
type matrixCapture struct {
	grid [][]bool
}

func (m *matrixCapture) Write(mat qrcode.Matrix) error {
	w, h := mat.Width(), mat.Height()
	m.grid = make([][]bool, h)
	for y := range m.grid {
		m.grid[y] = make([]bool, w)
	}
	mat.Iterate(qrcode.IterDirection_COLUMN, func(x, y int, v qrcode.QRValue) {
		if y < h && x < w {
			m.grid[y][x] = v.IsSet()
		}
	})
	return nil
}

func (m *matrixCapture) Close() error { return nil }

func moduleGrid(content string) ([][]bool, error) {
	qrc, err := qrcode.NewWith(content, qrcode.WithErrorCorrectionLevel(qrcode.ErrorCorrectionMedium))
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	var capture matrixCapture
	if err := qrc.Save(&capture); err != nil {
		return nil, fmt.Errorf("qr matrix: %w", err)
	}
	if len(capture.grid) == 0 {
		return nil, errors.New("qr matrix is empty")
	}
	return capture.grid, nil
}
