package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Brownie44l1/dementia-api/internal/history"
	"github.com/Brownie44l1/dementia-api/internal/model"
	"github.com/Brownie44l1/dementia-api/internal/preprocess"
)

var percentagePattern = regexp.MustCompile(`^\d{1,3}\.\d{2}%$`)

// fakeClassifier scores a tensor by its mean brightness so that different
// images map to different classes deterministically.
type fakeClassifier struct {
	labels model.LabelTable
	err    error
	calls  int
}

func newFakeClassifier(t *testing.T) *fakeClassifier {
	t.Helper()
	labels, err := model.NewLabelTable(model.DefaultLabels)
	require.NoError(t, err)
	return &fakeClassifier{labels: labels}
}

func (f *fakeClassifier) Classify(t *preprocess.Tensor) (*model.Prediction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(t.Shape) != 4 || t.Shape[1] != 32 || t.Shape[2] != 32 {
		return nil, &model.ShapeMismatchError{Want: f.InputShape(), Got: t.Shape}
	}

	var sum float32
	for _, v := range t.Data {
		sum += v
	}
	mean := sum / float32(len(t.Data))
	idx := min(int(mean*4), 3)

	probs := []float32{0.1, 0.1, 0.1, 0.1}
	probs[idx] = 0.7
	return f.labels.Select(probs)
}

func (f *fakeClassifier) InputShape() []int64 {
	return []int64{1, 32, 32, 3}
}

func (f *fakeClassifier) Labels() model.LabelTable {
	return f.labels
}

func newTestHandler(t *testing.T, classifier Classifier, opts ...Option) *Handler {
	t.Helper()
	decoder, err := preprocess.NewNativeDecoder(preprocess.DefaultOptions())
	require.NoError(t, err)
	return NewHandler(classifier, decoder, zap.NewNop(), opts...)
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartRequest builds a POST /predict request. A nil filename writes a
// plain form field without a filename parameter.
func multipartRequest(t *testing.T, field string, filename *string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	if filename != nil {
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+*filename+`"`)
		h.Set("Content-Type", "application/octet-stream")
	} else {
		h.Set("Content-Disposition", `form-data; name="`+field+`"`)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func name(s string) *string { return &s }

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPredict_NoFilePart(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t))

	tests := map[string]*http.Request{
		"other field":      multipartRequest(t, "image", name("scan.png"), []byte("x")),
		"value not a file": multipartRequest(t, "file", nil, []byte("x")),
		"not multipart":    httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"file":"x"}`)),
		"empty body":       httptest.NewRequest(http.MethodPost, "/predict", nil),
	}

	for desc, req := range tests {
		t.Run(desc, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Predict(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]string{"error": "No file part"}, decodeBody(t, rec))
		})
	}
}

func TestPredict_NoSelectedFile(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t))

	rec := httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", name(""), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]string{"error": "No selected file"}, decodeBody(t, rec))
}

func TestPredict_CorruptImage(t *testing.T) {
	classifier := newFakeClassifier(t)
	h := newTestHandler(t, classifier)

	rec := httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", name("scan.png"), []byte("not an image at all")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, KindDecode, body["code"])
	assert.Zero(t, classifier.calls)
}

func TestPredict_Success(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t))

	for _, c := range []color.Color{color.Black, color.White, color.NRGBA{R: 200, G: 90, B: 10, A: 255}} {
		rec := httptest.NewRecorder()
		h.Predict(rec, multipartRequest(t, "file", name("scan.png"), pngBytes(t, 64, 48, c)))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/json", strings.Split(rec.Header().Get("Content-Type"), ";")[0])

		body := decodeBody(t, rec)
		assert.Len(t, body, 2)
		assert.Contains(t, model.DefaultLabels, body["prediction"])
		assert.Regexp(t, percentagePattern, body["prediction_percentage"])

		pct, err := strconv.ParseFloat(strings.TrimSuffix(body["prediction_percentage"], "%"), 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pct, 0.0)
		assert.LessOrEqual(t, pct, 100.0)
	}
}

func TestPredict_KnownOutput(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t))

	rec := httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", name("white.png"), pngBytes(t, 10, 10, color.White)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{
		"prediction":            "Very Mild Demented",
		"prediction_percentage": "70.00%",
	}, decodeBody(t, rec))
}

func TestPredict_Idempotent(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t))
	data := pngBytes(t, 120, 80, color.NRGBA{R: 90, G: 140, B: 30, A: 255})

	first := httptest.NewRecorder()
	h.Predict(first, multipartRequest(t, "file", name("a.png"), data))
	second := httptest.NewRecorder()
	h.Predict(second, multipartRequest(t, "file", name("a.png"), data))

	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestPredict_ProcessingErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"shape", &model.ShapeMismatchError{Want: []int64{1, 32, 32, 3}, Got: []int64{1}}, KindShape},
		{"inference", &model.InferenceError{Err: errors.New("onnx: secret path /models/x")}, KindInference},
		{"other", errors.New("boom at /etc/secret"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := newFakeClassifier(t)
			classifier.err = tt.err
			h := newTestHandler(t, classifier)

			rec := httptest.NewRecorder()
			h.Predict(rec, multipartRequest(t, "file", name("scan.png"), pngBytes(t, 8, 8, color.White)))

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.kind, body["code"])
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "secret")
		})
	}
}

func TestPredict_TooLarge(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t), WithMaxUploadSize(1024))

	rec := httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", name("big.bin"), bytes.Repeat([]byte{1}, 4096)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "File too large", decodeBody(t, rec)["error"])
}

func TestPredict_FirstFilePartWins(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "left hemisphere"))
	fw, err := mw.CreateFormFile("file", "white.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes(t, 4, 4, color.White))
	require.NoError(t, err)
	fw, err = mw.CreateFormFile("file", "black.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes(t, 4, 4, color.Black))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Predict(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Very Mild Demented", decodeBody(t, rec)["prediction"])
}

func TestPredict_RecordsHistory(t *testing.T) {
	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	h := newTestHandler(t, newFakeClassifier(t), WithHistory(store))
	data := pngBytes(t, 16, 16, color.White)

	rec := httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", name("scan.png"), data))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Predict(rec, multipartRequest(t, "file", name("broken.png"), []byte("junk")))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "scan.png", records[0].Filename)
	assert.Equal(t, history.Digest(data), records[0].SHA256)
	assert.Equal(t, "Very Mild Demented", records[0].Label)
	assert.Equal(t, 3, records[0].ClassIndex)
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newTestHandler(t, newFakeClassifier(t))
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/predictions", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("listing", func(t *testing.T) {
		store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		defer store.Close()
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Insert(&history.Record{Filename: "a.png", SHA256: history.Digest(nil), Label: "Non Demented", ClassIndex: 2}))
		}

		h := newTestHandler(t, newFakeClassifier(t), WithHistory(store))
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/predictions?limit=2", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp HistoryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Predictions, 2)
		assert.Equal(t, 3, resp.Total)
	})

	t.Run("bad limit", func(t *testing.T) {
		store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		defer store.Close()

		h := newTestHandler(t, newFakeClassifier(t), WithHistory(store))
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/predictions?limit=-1", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func tensorRequest(t *testing.T, values []float32) *http.Request {
	t.Helper()
	body, err := json.Marshal(TensorRequest{Tensor: values})
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, "/predict/tensor", bytes.NewReader(body))
}

func TestPredictTensor(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t))

	t.Run("success", func(t *testing.T) {
		values := make([]float32, 32*32*3)
		rec := httptest.NewRecorder()
		h.PredictTensor(rec, tensorRequest(t, values))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]string{
			"prediction":            "Mild Demented",
			"prediction_percentage": "70.00%",
		}, decodeBody(t, rec))
	})

	t.Run("wrong length", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.PredictTensor(rec, tensorRequest(t, make([]float32, 10)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Expected 3072 values, got 10", decodeBody(t, rec)["error"])
	})

	t.Run("out of range", func(t *testing.T) {
		values := make([]float32, 32*32*3)
		values[7] = 255
		rec := httptest.NewRecorder()
		h.PredictTensor(rec, tensorRequest(t, values))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.PredictTensor(rec, httptest.NewRequest(http.MethodPost, "/predict/tensor", strings.NewReader("{")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid JSON", decodeBody(t, rec)["error"])
	})

	t.Run("body too large", func(t *testing.T) {
		small := newTestHandler(t, newFakeClassifier(t), WithMaxUploadSize(1024))
		rec := httptest.NewRecorder()
		small.PredictTensor(rec, tensorRequest(t, make([]float32, 32*32*3)))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "File too large", decodeBody(t, rec)["error"])
	})
}

func TestClassesAndHealth(t *testing.T) {
	h := newTestHandler(t, newFakeClassifier(t))

	rec := httptest.NewRecorder()
	h.Classes(rec, httptest.NewRequest(http.MethodGet, "/classes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var classes []ClassInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &classes))
	require.Len(t, classes, 4)
	for i, c := range classes {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, model.DefaultLabels[i], c.Label)
	}

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, map[string]string{"status": "healthy"}, decodeBody(t, rec))
}

func TestDescribe(t *testing.T) {
	kind, msg := describe(&preprocess.DecodeError{Err: io.ErrUnexpectedEOF})
	assert.Equal(t, KindDecode, kind)
	assert.NotEmpty(t, msg)

	kind, _ = describe(errors.Join(errors.New("ctx"), &model.InferenceError{Err: io.EOF}))
	assert.Equal(t, KindInference, kind)
}
