// Package media converts QR payloads and raster images into printer bitmaps.
package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Bitmap is a 1-bit image packed row-major, most significant bit first.
// A set bit is a black dot.
type Bitmap struct {
	Width  int
	Height int
	Data   []byte
}

// NewBitmap allocates a white bitmap.
func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{
		Width:  width,
		Height: height,
		Data:   make([]byte, ((width+7)/8)*height),
	}
}

// RowBytes is the number of bytes per raster row.
func (b *Bitmap) RowBytes() int {
	return (b.Width + 7) / 8
}

// Set marks the dot at (x, y) black or white.
func (b *Bitmap) Set(x, y int, black bool) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	idx := y*b.RowBytes() + x/8
	mask := byte(0x80 >> uint(x%8))
	if black {
		b.Data[idx] |= mask
	} else {
		b.Data[idx] &^= mask
	}
}

// At reports whether the dot at (x, y) is black.
func (b *Bitmap) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.Data[y*b.RowBytes()+x/8]&(0x80>>uint(x%8)) != 0
}

// Image returns a grayscale view of the bitmap.
func (b *Bitmap) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			c := color.Gray{Y: 0xFF}
			if b.At(x, y) {
				c.Y = 0
			}
			img.SetGray(x, y, c)
		}
	}
	return img
}

// ErrEncodeFailed matches every EncodeError through errors.Is.
var ErrEncodeFailed = errors.New("media encode failed")

// EncodeError is a recoverable failure converting one media element.
type EncodeError struct {
	Kind string // "qr" or "image"
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s encode failed: %v", e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Is reports ErrEncodeFailed as a match.
func (e *EncodeError) Is(target error) bool { return target == ErrEncodeFailed }
