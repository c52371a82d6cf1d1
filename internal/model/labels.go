package model

import (
	"errors"
	"fmt"
	"math"
)

// LabelTable maps model output indices to category names. It is never
// modified after construction.
type LabelTable struct {
	names []string
}

// DefaultLabels is the output order of the dementia MRI classifier.
var DefaultLabels = []string{
	"Mild Demented",
	"Moderate Demented",
	"Non Demented",
	"Very Mild Demented",
}

func NewLabelTable(names []string) (LabelTable, error) {
	if len(names) == 0 {
		return LabelTable{}, errors.New("label table is empty")
	}
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		if name == "" {
			return LabelTable{}, fmt.Errorf("label %d is empty", i)
		}
		if seen[name] {
			return LabelTable{}, fmt.Errorf("duplicate label %q", name)
		}
		seen[name] = true
	}
	return LabelTable{names: append([]string(nil), names...)}, nil
}

func (t LabelTable) Len() int {
	return len(t.names)
}

// Lookup returns the name for index i.
func (t LabelTable) Lookup(i int) (string, bool) {
	if i < 0 || i >= len(t.names) {
		return "", false
	}
	return t.names[i], true
}

// Names returns a copy of the labels in index order.
func (t LabelTable) Names() []string {
	return append([]string(nil), t.names...)
}

// Select picks the most likely class. Ties go to the lowest index.
func (t LabelTable) Select(probs []float32) (*Prediction, error) {
	if len(probs) != len(t.names) {
		return nil, fmt.Errorf("got %d scores for %d classes", len(probs), len(t.names))
	}

	idx := ArgMax(probs)
	if idx < 0 {
		return nil, errors.New("no finite score in model output")
	}

	confidence := probs[idx]
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return &Prediction{
		Index:         idx,
		Label:         t.names[idx],
		Confidence:    confidence,
		Probabilities: append([]float32(nil), probs...),
	}, nil
}

// ArgMax returns the index of the largest finite value, or -1 if there is none.
func ArgMax(v []float32) int {
	maxIdx := -1
	var maxVal float32
	for i, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if maxIdx < 0 || val > maxVal {
			maxIdx, maxVal = i, val
		}
	}
	return maxIdx
}

// Softmax converts logits to probabilities in place.
func Softmax(v []float32) {
	if len(v) == 0 {
		return
	}
	maxVal := v[0]
	for _, val := range v[1:] {
		if val > maxVal {
			maxVal = val
		}
	}
	var sum float64
	for i, val := range v {
		e := math.Exp(float64(val - maxVal))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}
