package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/pet-classifier/internal/decode"
	"github.com/Brownie44l1/pet-classifier/internal/model"
	"github.com/Brownie44l1/pet-classifier/internal/pipeline"
	"github.com/Brownie44l1/pet-classifier/internal/preprocess"
	"github.com/Brownie44l1/pet-classifier/internal/present"
)

// multipartOverhead is allowed on top of the image limit for form framing.
const multipartOverhead = 1 << 20

// Classifier is the model as seen by the HTTP layer.
type Classifier interface {
	pipeline.Classifier
	PredictRaw(ctx context.Context, data []float32) (*model.Probabilities, error)
}

// PredictionRequest carries a flat input tensor.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

// PredictionResponse is the result of a one-shot prediction.
type PredictionResponse struct {
	Class       string          `json:"class"`
	Confidence  float64         `json:"confidence"`
	Predictions []present.Entry `json:"predictions"`
}

func newPredictionResponse(view present.View) PredictionResponse {
	resp := PredictionResponse{Class: view.Top, Predictions: view.Entries}
	for _, e := range view.Entries {
		if e.Label == view.Top {
			resp.Confidence = e.Probability
		}
	}
	return resp
}

type Handler struct {
	controller   *pipeline.Controller
	decoder      pipeline.Decoder
	preprocessor pipeline.Preprocessor
	classifier   Classifier
	maxUpload    int64
	logger       *zap.Logger
}

// NewHandler creates the HTTP handlers. maxUpload bounds image uploads in
// bytes; a non-positive value falls back to the decoder default.
func NewHandler(controller *pipeline.Controller, decoder pipeline.Decoder, preprocessor pipeline.Preprocessor, classifier Classifier, maxUpload int64, logger *zap.Logger) *Handler {
	if maxUpload <= 0 {
		maxUpload = decode.DefaultConfig().MaxBytes
	}
	return &Handler{
		controller:   controller,
		decoder:      decoder,
		preprocessor: preprocessor,
		classifier:   classifier,
		maxUpload:    maxUpload,
		logger:       logger.Named("http"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. metrics may be nil.
func (h *Handler) RegisterRoutes(router *gin.Engine, metrics http.Handler) {
	router.Use(CORS())

	router.GET("/health", h.Health)
	router.POST("/predict", h.Predict)
	router.POST("/predict/image", h.PredictFromImage)

	session := router.Group("/session")
	session.GET("", h.Session)
	session.POST("/image", h.SelectImage)
	session.DELETE("/image", h.RemoveImage)
	session.POST("/predict", h.StartPrediction)
	session.POST("/dismiss", h.Dismiss)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
}

// CORS allows browser clients on any origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Predict classifies a raw tensor laid out per the model contract.
func (h *Handler) Predict(c *gin.Context) {
	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	if expected := h.classifier.InputSpec().Len(); len(req.Image) != expected {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("expected %d values, got %d", expected, len(req.Image))})
		return
	}

	probs, err := h.classifier.PredictRaw(c.Request.Context(), req.Image)
	if err != nil {
		h.logger.Error("prediction failed", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": "prediction failed"})
		return
	}

	c.JSON(http.StatusOK, newPredictionResponse(present.Present(*probs)))
}

// PredictFromImage runs the whole pipeline on an uploaded image without
// touching the session.
func (h *Handler) PredictFromImage(c *gin.Context) {
	data, mediaType, ok := h.readUpload(c)
	if !ok {
		return
	}

	view, err := pipeline.Run(c.Request.Context(), h.decoder, h.preprocessor, h.classifier, data, mediaType)
	if err != nil {
		h.logger.Warn("image prediction failed", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": pipeline.Classify(err).Message})
		return
	}

	c.JSON(http.StatusOK, newPredictionResponse(view))
}

func (h *Handler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// SelectImage makes the uploaded image the current selection. Decoding
// happens in the background; poll the session for the outcome.
func (h *Handler) SelectImage(c *gin.Context) {
	data, mediaType, ok := h.readUpload(c)
	if !ok {
		return
	}

	id := h.controller.Select(pipeline.Bytes{Data: data, MediaType: mediaType})
	if id == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session closed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"image_id": id, "session": h.controller.Snapshot()})
}

func (h *Handler) RemoveImage(c *gin.Context) {
	h.controller.Remove()
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

func (h *Handler) StartPrediction(c *gin.Context) {
	if !h.controller.Predict() {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no image ready or a prediction is already running",
			"session": h.controller.Snapshot(),
		})
		return
	}
	c.JSON(http.StatusAccepted, h.controller.Snapshot())
}

func (h *Handler) Dismiss(c *gin.Context) {
	if !h.controller.Dismiss() {
		c.JSON(http.StatusConflict, gin.H{"error": "nothing to dismiss", "session": h.controller.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Snapshot())
}

// readUpload reads the "image" form file. It writes the error response
// itself and reports whether the caller should continue.
func (h *Handler) readUpload(c *gin.Context) ([]byte, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return nil, "", false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image file provided, use 'image' as the form field name"})
		return nil, "", false
	}
	if file.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, "", false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, "", false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, "", false
	}

	h.logger.Debug("received image",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size),
		zap.String("content_type", file.Header.Get("Content-Type")))
	return data, file.Header.Get("Content-Type"), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, decode.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, decode.ErrNotImage), errors.Is(err, decode.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, model.ErrShapeMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var (
		decErr  *decode.Error
		prepErr *preprocess.Error
	)
	if errors.As(err, &decErr) || errors.As(err, &prepErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
