//go:build opencv

package preprocess

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

func init() {
	register("opencv", func(o Options) (Decoder, error) {
		d, err := NewOpenCVDecoder(o)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// OpenCVDecoder reproduces the training pipeline exactly: imdecode in colour
// mode followed by a bilinear resize.
type OpenCVDecoder struct {
	opts Options
}

func NewOpenCVDecoder(opts Options) (*OpenCVDecoder, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &OpenCVDecoder{opts: opts}, nil
}

func (d *OpenCVDecoder) Decode(data []byte) (*Tensor, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty input")}
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, &DecodeError{Err: errors.New("decoded image is empty")}
	}
	if d.opts.MaxPixels > 0 && mat.Rows()*mat.Cols() > d.opts.MaxPixels {
		return nil, &DecodeError{Err: fmt.Errorf("image is %dx%d, exceeds the %d pixel limit",
			mat.Cols(), mat.Rows(), d.opts.MaxPixels)}
	}

	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(mat, &resized, image.Pt(d.opts.Width, d.opts.Height), 0, 0, gocv.InterpolationLinear); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("resize: %w", err)}
	}

	// CV_8UC3, interleaved BGR
	buf := resized.ToBytes()
	w := d.opts.Width
	return normalize(w, d.opts.Height, d.opts.Order, func(x, y int) (uint8, uint8, uint8) {
		i := (y*w + x) * 3
		return buf[i+2], buf[i+1], buf[i]
	}), nil
}
