package handlers

import "github.com/Brownie44l1/dementia-api/internal/history"

type PredictResponse struct {
	Prediction           string `json:"prediction"`
	PredictionPercentage string `json:"prediction_percentage"`
}

// ErrorResponse carries a client-facing message. Code is set only for
// processing failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// TensorRequest carries an already normalized NHWC tensor, flattened.
type TensorRequest struct {
	Tensor []float32 `json:"tensor"`
}

type ClassInfo struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

type HistoryResponse struct {
	Predictions []history.Record `json:"predictions"`
	Total       int              `json:"total"`
}
