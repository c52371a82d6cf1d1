// Package preprocess turns uploaded image bytes into the fixed-shape float
// tensor the classifier expects.
package preprocess

import (
	"fmt"
	"sort"
)

const (
	DefaultWidth     = 32
	DefaultHeight    = 32
	DefaultMaxPixels = 64_000_000
)

// Options controls the target tensor.
type Options struct {
	Width  int
	Height int
	Order  ChannelOrder

	// MaxPixels rejects sources larger than this many pixels before they are
	// fully decoded. Zero disables the check.
	MaxPixels int
}

// DefaultOptions returns the 32x32 BGR pipeline the model was trained with.
func DefaultOptions() Options {
	return Options{
		Width:     DefaultWidth,
		Height:    DefaultHeight,
		Order:     BGR,
		MaxPixels: DefaultMaxPixels,
	}
}

func (o Options) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", o.Width, o.Height)
	}
	if o.Order != BGR && o.Order != RGB {
		return fmt.Errorf("unknown channel order %q", o.Order)
	}
	if o.MaxPixels < 0 {
		return fmt.Errorf("max pixels must not be negative")
	}
	return nil
}

// Decoder converts raw image bytes into a (1, H, W, 3) tensor.
type Decoder interface {
	Decode(data []byte) (*Tensor, error)
}

type factory func(Options) (Decoder, error)

var backends = map[string]factory{
	"native": func(o Options) (Decoder, error) {
		d, err := NewNativeDecoder(o)
		if err != nil {
			return nil, err
		}
		return d, nil
	},
}

func register(name string, f factory) {
	backends[name] = f
}

// New returns the decoder registered under backend.
func New(backend string, opts Options) (Decoder, error) {
	f, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("unknown decoder backend %q (available: %v)", backend, Backends())
	}
	return f(opts)
}

// Backends lists the compiled-in decoder backends.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
