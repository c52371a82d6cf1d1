package preprocess

import (
	"fmt"
	"strings"
)

// Tensor is a dense float32 tensor laid out as NHWC.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor wraps data with the given shape. The element count of shape
// must equal len(data).
func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	if n := ShapeSize(shape); n != len(data) {
		return nil, fmt.Errorf("shape %v holds %d values, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// ShapeSize returns the number of elements a tensor of the given shape holds.
func ShapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		n *= int(dim)
	}
	return n
}

// ChannelOrder is the order colour channels are written into the tensor.
type ChannelOrder string

const (
	// BGR matches OpenCV's colour decode and is what the model was trained on.
	BGR ChannelOrder = "bgr"
	RGB ChannelOrder = "rgb"
)

// ParseChannelOrder accepts "bgr" or "rgb" in any case. An empty string
// yields BGR.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(BGR):
		return BGR, nil
	case string(RGB):
		return RGB, nil
	}
	return "", fmt.Errorf("unknown channel order %q", s)
}

// pixelFunc returns the 8-bit red, green and blue values at (x, y).
type pixelFunc func(x, y int) (r, g, b uint8)

// normalize builds a (1, h, w, 3) tensor with values scaled into [0, 1].
func normalize(w, h int, order ChannelOrder, px pixelFunc) *Tensor {
	data := make([]float32, h*w*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := px(x, y)
			i := (y*w + x) * 3
			if order == RGB {
				data[i], data[i+1], data[i+2] = float32(r)/255, float32(g)/255, float32(b)/255
			} else {
				data[i], data[i+1], data[i+2] = float32(b)/255, float32(g)/255, float32(r)/255
			}
		}
	}
	return &Tensor{
		Shape: []int64{1, int64(h), int64(w), 3},
		Data:  data,
	}
}
