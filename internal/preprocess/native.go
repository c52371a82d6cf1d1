package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// NativeDecoder decodes with the Go image codecs and resizes bilinearly.
type NativeDecoder struct {
	opts Options
}

func NewNativeDecoder(opts Options) (*NativeDecoder, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &NativeDecoder{opts: opts}, nil
}

func (d *NativeDecoder) Decode(data []byte) (*Tensor, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}
	if d.opts.MaxPixels > 0 && cfg.Width*cfg.Height > d.opts.MaxPixels {
		return nil, &DecodeError{Err: fmt.Errorf("image is %dx%d, exceeds the %d pixel limit",
			cfg.Width, cfg.Height, d.opts.MaxPixels)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	resized := scale(toNRGBA(img), d.opts.Width, d.opts.Height)

	return normalize(d.opts.Width, d.opts.Height, d.opts.Order, func(x, y int) (uint8, uint8, uint8) {
		i := resized.PixOffset(x, y)
		return resized.Pix[i], resized.Pix[i+1], resized.Pix[i+2]
	}), nil
}

// scale resizes like OpenCV INTER_LINEAR: each output pixel is a 2x2
// bilinear sample at half-pixel centres, with no smoothing when shrinking.
// nfnt's kernel widens with the shrink factor, so it only serves growth,
// where its triangle filter reduces to the same 2x2 sample.
func scale(src *image.NRGBA, w, h int) *image.NRGBA {
	b := src.Bounds()
	if w >= b.Dx() && h >= b.Dy() {
		return toNRGBA(resize.Resize(uint(w), uint(h), src, resize.Bilinear))
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// toNRGBA flattens any colour model (grey, paletted, YCbCr, CMYK) to 8-bit
// RGB with the origin at (0, 0). Alpha is kept in the buffer but never read.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
