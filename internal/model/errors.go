package model

import "fmt"

// ShapeMismatchError is returned when an input tensor does not have the shape
// the model was exported with.
type ShapeMismatchError struct {
	Want []int64
	Got  []int64
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("input shape mismatch: model expects %v, got %v", e.Want, e.Got)
}

// InferenceError wraps a failure while running the model or reading its output.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return "inference failed: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
