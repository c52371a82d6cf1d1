package handlers

import (
	"errors"

	"github.com/Brownie44l1/dementia-api/internal/model"
	"github.com/Brownie44l1/dementia-api/internal/preprocess"
)

var (
	errNoFilePart     = errors.New("no file part")
	errNoSelectedFile = errors.New("no selected file")
	errTooLarge       = errors.New("file too large")
)

// Processing failure kinds, reported in ErrorResponse.Code and as the
// metrics label.
const (
	KindDecode    = "decode_error"
	KindShape     = "shape_mismatch"
	KindInference = "inference_error"
	KindInternal  = "internal_error"
)

// describe maps a processing error to its kind and a message safe to return
// to the caller.
func describe(err error) (kind, message string) {
	var (
		decodeErr *preprocess.DecodeError
		shapeErr  *model.ShapeMismatchError
		inferErr  *model.InferenceError
	)
	switch {
	case errors.As(err, &decodeErr):
		return KindDecode, "Could not decode the uploaded file as an image"
	case errors.As(err, &shapeErr):
		return KindShape, "Image tensor does not match the model input shape"
	case errors.As(err, &inferErr):
		return KindInference, "Model inference failed"
	default:
		return KindInternal, "Internal server error"
	}
}
