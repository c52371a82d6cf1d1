package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/dementia-api/internal/preprocess"
)

// DefaultMetadata describes the stock Keras export: a 32x32 BGR input and a
// softmax over the four dementia classes.
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:    "input",
		OutputName:   "output",
		InputShape:   []int64{1, 32, 32, 3},
		OutputShape:  []int64{1, int64(len(DefaultLabels))},
		Classes:      append([]string(nil), DefaultLabels...),
		ChannelOrder: string(preprocess.BGR),
	}
}

// LoadMetadata reads a JSON or YAML metadata file, fills unset fields from
// DefaultMetadata and validates the result.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &meta)
	default:
		err = json.Unmarshal(raw, &meta)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	meta = withDefaults(meta)
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func withDefaults(m Metadata) Metadata {
	def := DefaultMetadata()
	if m.InputName == "" {
		m.InputName = def.InputName
	}
	if m.OutputName == "" {
		m.OutputName = def.OutputName
	}
	if len(m.InputShape) == 0 {
		m.InputShape = def.InputShape
	}
	if len(m.Classes) == 0 {
		m.Classes = def.Classes
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
	if m.ChannelOrder == "" {
		m.ChannelOrder = def.ChannelOrder
	}
	return m
}

// Validate checks that the metadata describes a single-image NHWC colour
// classifier whose output width matches the class list.
func (m Metadata) Validate() error {
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input shape %v: want 4 dimensions (1, H, W, 3)", m.InputShape)
	}
	if m.InputShape[0] != 1 || m.InputShape[3] != 3 {
		return fmt.Errorf("input shape %v: want batch 1 and 3 channels", m.InputShape)
	}
	if m.InputShape[1] <= 0 || m.InputShape[2] <= 0 {
		return fmt.Errorf("input shape %v: height and width must be positive", m.InputShape)
	}
	if len(m.OutputShape) == 0 {
		return fmt.Errorf("output shape is empty")
	}
	if n := preprocess.ShapeSize(m.OutputShape); n != len(m.Classes) {
		return fmt.Errorf("output shape %v has %d scores but %d classes are listed", m.OutputShape, n, len(m.Classes))
	}
	if _, err := preprocess.ParseChannelOrder(m.ChannelOrder); err != nil {
		return err
	}
	if _, err := NewLabelTable(m.Classes); err != nil {
		return err
	}
	return nil
}

// DecoderOptions derives preprocessing options from the model input.
func (m Metadata) DecoderOptions() preprocess.Options {
	opts := preprocess.DefaultOptions()
	opts.Width, opts.Height = m.ImageSize()
	if order, err := preprocess.ParseChannelOrder(m.ChannelOrder); err == nil {
		opts.Order = order
	}
	return opts
}
