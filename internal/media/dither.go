package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// threshold is the midpoint between black (0) and white (255).
const threshold = 128

// DecodeImage decodes PNG, JPEG, GIF, BMP or WebP bytes.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &EncodeError{Kind: "image", Err: errors.New("empty image data")}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &EncodeError{Kind: "image", Err: fmt.Errorf("failed to load image: %w", err)}
	}
	return img, nil
}

// EncodeLogo decodes raw image bytes and dithers them to at most maxWidth dots.
// Images narrower than maxWidth keep their size.
func EncodeLogo(data []byte, maxWidth int) (*Bitmap, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	width := img.Bounds().Dx()
	if width > maxWidth {
		width = maxWidth
	}
	return Dither(img, width)
}

// Dither scales img to targetWidth preserving aspect ratio, converts it to
// luminance and applies Floyd–Steinberg error diffusion.
func Dither(img image.Image, targetWidth int) (*Bitmap, error) {
	if img == nil {
		return nil, &EncodeError{Kind: "image", Err: errors.New("nil image")}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &EncodeError{Kind: "image", Err: fmt.Errorf("empty image bounds %v", b)}
	}
	if targetWidth <= 0 {
		return nil, &EncodeError{Kind: "image", Err: fmt.Errorf("invalid target width %d", targetWidth)}
	}

	src := resize(img, targetWidth)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	gray := luminance(src)

	out := NewBitmap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			old := gray[y*w+x]
			var level float32
			if old >= threshold {
				level = 255
			} else {
				out.Set(x, y, true)
			}
			e := old - level
			spread(gray, w, h, x+1, y, e*7/16)
			spread(gray, w, h, x-1, y+1, e*3/16)
			spread(gray, w, h, x, y+1, e*5/16)
			spread(gray, w, h, x+1, y+1, e*1/16)
		}
	}
	return out, nil
}

func spread(buf []float32, w, h, x, y int, e float32) {
	if x < 0 || x >= w || y >= h {
		return
	}
	buf[y*w+x] += e
}

func resize(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() == width {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// luminance flattens img over white and returns 0.299R + 0.587G + 0.114B per pixel.
func luminance(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			a := float32(c.A) / 255
			r := float32(c.R)*a + 255*(1-a)
			g := float32(c.G)*a + 255*(1-a)
			bl := float32(c.B)*a + 255*(1-a)
			out[y*w+x] = 0.299*r + 0.587*g + 0.114*bl
		}
	}
	return out
}
