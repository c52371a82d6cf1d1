package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/Brownie44l1/dementia-api/internal/history"
	"github.com/Brownie44l1/dementia-api/internal/metrics"
	"github.com/Brownie44l1/dementia-api/internal/model"
	"github.com/Brownie44l1/dementia-api/internal/preprocess"
)

const (
	uploadField         = "file"
	defaultMaxUpload    = 10 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Classifier runs the model on a normalized tensor.
type Classifier interface {
	Classify(t *preprocess.Tensor) (*model.Prediction, error)
	InputShape() []int64
	Labels() model.LabelTable
}

type Handler struct {
	classifier Classifier
	decoder    preprocess.Decoder
	history    history.Store
	metrics    *metrics.Metrics
	logger     *zap.Logger
	maxUpload  int64
}

type Option func(*Handler)

// WithHistory records every successful prediction in store.
func WithHistory(store history.Store) Option {
	return func(h *Handler) { h.history = store }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxUploadSize bounds the request body in bytes.
func WithMaxUploadSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

func NewHandler(classifier Classifier, decoder preprocess.Decoder, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		classifier: classifier,
		decoder:    decoder,
		logger:     logger.Named("handlers"),
		maxUpload:  defaultMaxUpload,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "healthy"})
}

// Classes lists the label table in output index order.
func (h *Handler) Classes(w http.ResponseWriter, r *http.Request) {
	names := h.classifier.Labels().Names()
	classes := make([]ClassInfo, len(names))
	for i, name := range names {
		classes[i] = ClassInfo{Index: i, Label: name}
	}
	render.JSON(w, r, classes)
}

// Predict classifies the image uploaded in the multipart field "file".
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	filename, data, err := h.readUpload(w, r)
	if err != nil {
		switch {
		case errors.Is(err, errNoFilePart):
			h.writeError(w, r, http.StatusBadRequest, "No file part")
		case errors.Is(err, errNoSelectedFile):
			h.writeError(w, r, http.StatusBadRequest, "No selected file")
		case errors.Is(err, errTooLarge):
			h.writeError(w, r, http.StatusRequestEntityTooLarge, "File too large")
		default:
			h.writeProcessingError(w, r, err)
		}
		return
	}

	h.logger.Debug("received file", zap.String("filename", filename), zap.Int("size", len(data)))

	tensor, err := h.decoder.Decode(data)
	if err != nil {
		h.writeProcessingError(w, r, err)
		return
	}

	pred, err := h.classifier.Classify(tensor)
	if err != nil {
		h.writeProcessingError(w, r, err)
		return
	}

	h.record(r, filename, data, pred, time.Since(start))
	h.writePrediction(w, r, pred)
}

// PredictTensor classifies a client-normalized tensor, skipping decode.
func (h *Handler) PredictTensor(w http.ResponseWriter, r *http.Request) {
	var req TensorRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, h.maxUpload), &req); err != nil {
		if h.tooLarge(r, err) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		h.writeError(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}

	shape := h.classifier.InputShape()
	if expected := preprocess.ShapeSize(shape); len(req.Tensor) != expected {
		h.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Expected %d values, got %d", expected, len(req.Tensor)))
		return
	}
	for _, v := range req.Tensor {
		if v < 0 || v > 1 {
			h.writeError(w, r, http.StatusBadRequest, "Tensor values must be within [0, 1]")
			return
		}
	}

	tensor, err := preprocess.NewTensor(shape, req.Tensor)
	if err != nil {
		h.writeProcessingError(w, r, err)
		return
	}

	pred, err := h.classifier.Classify(tensor)
	if err != nil {
		h.writeProcessingError(w, r, err)
		return
	}

	h.metrics.ObservePrediction(pred.Label)
	h.writePrediction(w, r, pred)
}

// History returns the most recent predictions, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, r, http.StatusNotFound, "Prediction history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.Recent(limit)
	if err != nil {
		h.logger.Error("failed to read history", zap.Error(err))
		h.writeError(w, r, http.StatusInternalServerError, "Failed to read prediction history")
		return
	}
	total, err := h.history.Count()
	if err != nil {
		h.logger.Error("failed to count history", zap.Error(err))
		h.writeError(w, r, http.StatusInternalServerError, "Failed to read prediction history")
		return
	}

	render.JSON(w, r, HistoryResponse{Predictions: records, Total: total})
}

// readUpload streams the multipart body and returns the first part named
// "file" that carries a filename parameter. A part with that name but no
// filename parameter is an ordinary form value and is skipped.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, errNoFilePart
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, errNoFilePart
		}
		if err != nil {
			if h.tooLarge(r, err) {
				return "", nil, errTooLarge
			}
			return "", nil, errNoFilePart
		}

		filename, isFile := uploadFilename(part)
		if part.FormName() != uploadField || !isFile {
			part.Close()
			continue
		}
		if filename == "" {
			part.Close()
			return "", nil, errNoSelectedFile
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			if h.tooLarge(r, err) {
				return "", nil, errTooLarge
			}
			return "", nil, fmt.Errorf("read upload: %w", err)
		}
		return filename, data, nil
	}
}

func (h *Handler) tooLarge(r *http.Request, err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || r.ContentLength > h.maxUpload
}

// uploadFilename reports the raw filename parameter of the part's
// Content-Disposition and whether the parameter is present at all.
func uploadFilename(p *multipart.Part) (string, bool) {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return "", false
	}
	name, ok := params["filename"]
	return name, ok
}

func (h *Handler) record(r *http.Request, filename string, data []byte, pred *model.Prediction, elapsed time.Duration) {
	h.metrics.ObservePrediction(pred.Label)
	if h.history == nil {
		return
	}

	rec := &history.Record{
		Filename:   filename,
		SHA256:     history.Digest(data),
		Label:      pred.Label,
		ClassIndex: pred.Index,
		Confidence: pred.Confidence,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := h.history.Insert(rec); err != nil {
		h.logger.Warn("failed to record prediction",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
}

func (h *Handler) writePrediction(w http.ResponseWriter, r *http.Request, pred *model.Prediction) {
	render.JSON(w, r, PredictResponse{
		Prediction:           pred.Label,
		PredictionPercentage: pred.Percentage(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

// writeProcessingError logs the full error and returns a 500 with a
// sanitized message.
func (h *Handler) writeProcessingError(w http.ResponseWriter, r *http.Request, err error) {
	kind, msg := describe(err)

	fields := []zap.Field{
		zap.String("kind", kind),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
	if kind == KindDecode {
		h.logger.Warn("prediction failed", fields...)
	} else {
		h.logger.Error("prediction failed", fields...)
	}

	h.metrics.ObserveFailure(kind)

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{Error: msg, Code: kind})
}
