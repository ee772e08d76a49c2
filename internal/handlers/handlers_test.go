package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/pet-classifier/internal/decode"
	"github.com/Brownie44l1/pet-classifier/internal/metrics"
	"github.com/Brownie44l1/pet-classifier/internal/model"
	"github.com/Brownie44l1/pet-classifier/internal/pipeline"
	"github.com/Brownie44l1/pet-classifier/internal/preprocess"
)

const testMaxUpload = 64 << 10

type stubClassifier struct{}

func (stubClassifier) InputSpec() preprocess.TargetSpec {
	return preprocess.TargetSpec{
		Width:         4,
		Height:        4,
		ChannelOrder:  preprocess.RGB,
		Layout:        preprocess.NCHW,
		Normalization: preprocess.NormalizeUnit,
	}
}

func (stubClassifier) Predict(ctx context.Context, buf *preprocess.Buffer) (*model.Probabilities, error) {
	return scores()
}

func (s stubClassifier) PredictRaw(ctx context.Context, data []float32) (*model.Probabilities, error) {
	if len(data) != s.InputSpec().Len() {
		return nil, &model.InferenceError{Err: model.ErrShapeMismatch}
	}
	return scores()
}

func scores() (*model.Probabilities, error) {
	p, err := model.NewProbabilities(map[string]float64{"cat": 0.1, "dog": 0.7, "rabbit": 0.2})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *pipeline.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	decoder := decode.New()
	preprocessor := preprocess.New()
	classifier := stubClassifier{}
	m := metrics.New()
	controller := pipeline.New(decoder, preprocessor, classifier, zap.NewNop(), pipeline.WithMetrics(m))
	t.Cleanup(controller.Close)

	router := gin.New()
	handler := NewHandler(controller, decoder, preprocessor, classifier, testMaxUpload, zap.NewNop())
	handler.RegisterRoutes(router, m.Handler())
	return router, controller
}

func pngPayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 10), B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func upload(t *testing.T, router *gin.Engine, path, contentType string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := buildMultipartBody(t, contentType, payload)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", formType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func do(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func waitForState(t *testing.T, c *pipeline.Controller, want pipeline.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Snapshot().State != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, state is %s", want, c.Snapshot().State)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t)
	resp := do(router, http.MethodGet, "/health", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "healthy") {
		t.Fatalf("unexpected response %d %s", resp.Code, resp.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := setupRouter(t)
	resp := do(router, http.MethodOptions, "/predict/image", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestPredictRawTensor(t *testing.T) {
	router, _ := setupRouter(t)

	resp := do(router, http.MethodPost, "/predict", []byte(`{"image":[0.1,0.2]}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}

	resp = do(router, http.MethodPost, "/predict", []byte(`{"image":`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for bad JSON, got %d", http.StatusBadRequest, resp.Code)
	}

	body, _ := json.Marshal(PredictionRequest{Image: make([]float32, 3*4*4)})
	resp = do(router, http.MethodPost, "/predict", body)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	var got PredictionResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Class != "dog" || got.Confidence != 0.7 || len(got.Predictions) != 3 || got.Predictions[0].Label != "cat" {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestPredictFromImage(t *testing.T) {
	router, _ := setupRouter(t)

	resp := upload(t, router, "/predict/image", "image/png", pngPayload(t))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	var got PredictionResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Class != "dog" {
		t.Fatalf("expected dog, got %+v", got)
	}
}

func TestPredictFromImageRejectsUnsupportedContentType(t *testing.T) {
	router, _ := setupRouter(t)

	resp := upload(t, router, "/predict/image", "text/plain", []byte("hello"))
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestPredictFromImageRejectsLargeUpload(t *testing.T) {
	router, _ := setupRouter(t)

	resp := upload(t, router, "/predict/image", "image/png", bytes.Repeat([]byte("a"), testMaxUpload+1))
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestNewHandlerAlwaysBoundsUploads(t *testing.T) {
	controller := pipeline.New(decode.New(), preprocess.New(), stubClassifier{}, zap.NewNop())
	t.Cleanup(controller.Close)

	for _, limit := range []int64{0, -1} {
		h := NewHandler(controller, decode.New(), preprocess.New(), stubClassifier{}, limit, zap.NewNop())
		if h.maxUpload != decode.DefaultConfig().MaxBytes {
			t.Errorf("limit %d: expected fallback %d, got %d", limit, decode.DefaultConfig().MaxBytes, h.maxUpload)
		}
	}
}

func TestPredictFromImageRejectsOversizedDimensions(t *testing.T) {
	router, _ := setupRouter(t)

	payload := pngPayload(t)
	binary.BigEndian.PutUint32(payload[16:20], 20000)
	binary.BigEndian.PutUint32(payload[20:24], 20000)
	binary.BigEndian.PutUint32(payload[29:33], crc32.ChecksumIEEE(payload[12:29]))

	resp := upload(t, router, "/predict/image", "image/png", payload)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestPredictFromImageRejectsMalformedImage(t *testing.T) {
	router, _ := setupRouter(t)

	payload := pngPayload(t)
	resp := upload(t, router, "/predict/image", "image/png", payload[:len(payload)/2])
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, resp.Code)
	}
}

func TestPredictFromImageRequiresField(t *testing.T) {
	router, _ := setupRouter(t)

	resp := do(router, http.MethodPost, "/predict/image", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestSessionFlow(t *testing.T) {
	router, controller := setupRouter(t)

	if resp := do(router, http.MethodPost, "/session/predict", nil); resp.Code != http.StatusConflict {
		t.Fatalf("predict without image: expected %d, got %d", http.StatusConflict, resp.Code)
	}

	resp := upload(t, router, "/session/image", "image/png", pngPayload(t))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("select: expected %d, got %d", http.StatusAccepted, resp.Code)
	}
	waitForState(t, controller, pipeline.Ready)

	if resp := do(router, http.MethodPost, "/session/predict", nil); resp.Code != http.StatusAccepted {
		t.Fatalf("predict: expected %d, got %d", http.StatusAccepted, resp.Code)
	}
	waitForState(t, controller, pipeline.ResultAvailable)

	resp = do(router, http.MethodGet, "/session", nil)
	var snap pipeline.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != pipeline.ResultAvailable || snap.Result == nil || snap.Result.Top != "dog" {
		t.Fatalf("unexpected session %+v", snap)
	}
	if snap.Image == nil || snap.Image.Width != 20 || snap.Image.Height != 10 {
		t.Fatalf("unexpected image info %+v", snap.Image)
	}

	if resp := do(router, http.MethodPost, "/session/dismiss", nil); resp.Code != http.StatusConflict {
		t.Fatalf("dismiss without failure: expected %d, got %d", http.StatusConflict, resp.Code)
	}

	resp = do(router, http.MethodDelete, "/session/image", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"state":"idle"`) {
		t.Fatalf("remove: unexpected response %d %s", resp.Code, resp.Body.String())
	}
}

func TestSessionDecodeFailureAndDismiss(t *testing.T) {
	router, controller := setupRouter(t)

	upload(t, router, "/session/image", "image/png", []byte("definitely not a png"))
	waitForState(t, controller, pipeline.Failed)

	resp := do(router, http.MethodGet, "/session", nil)
	if !strings.Contains(resp.Body.String(), `"failure":"decode"`) {
		t.Fatalf("expected decode failure, got %s", resp.Body.String())
	}

	resp = do(router, http.MethodPost, "/session/dismiss", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"state":"idle"`) {
		t.Fatalf("dismiss: unexpected response %d %s", resp.Code, resp.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	router, _ := setupRouter(t)
	upload(t, router, "/session/image", "image/png", pngPayload(t))

	resp := do(router, http.MethodGet, "/metrics", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "pipeline_selections_total 1") {
		t.Fatalf("selection not exported:\n%s", resp.Body.String())
	}
}
