package model

import "fmt"

// Metadata describes the model artifact: tensor names, shapes, the class
// names in output order and how inputs must be prepared.
type Metadata struct {
	InputName    string   `json:"input_name" yaml:"input_name"`
	OutputName   string   `json:"output_name" yaml:"output_name"`
	InputShape   []int64  `json:"input_shape" yaml:"input_shape"`
	OutputShape  []int64  `json:"output_shape" yaml:"output_shape"`
	Classes      []string `json:"classes" yaml:"classes"`
	ChannelOrder string   `json:"channel_order" yaml:"channel_order"`

	// ApplySoftmax is set when the graph emits logits rather than probabilities.
	ApplySoftmax bool `json:"apply_softmax" yaml:"apply_softmax"`
}

// ImageSize returns the (width, height) of the NHWC input.
func (m Metadata) ImageSize() (width, height int) {
	return int(m.InputShape[2]), int(m.InputShape[1])
}

// Prediction is the arg-max class of one probability vector.
type Prediction struct {
	Index         int
	Label         string
	Confidence    float32
	Probabilities []float32
}

// Percentage renders the confidence the way clients expect, e.g. "97.31%".
func (p Prediction) Percentage() string {
	return fmt.Sprintf("%.2f%%", p.Confidence*100)
}
