package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-match/internal/faceverify"
	"github.com/example/face-match/internal/logging"
	"github.com/example/face-match/internal/usecase"
)

// DefaultMaxBodyBytes bounds the JSON body of a compare request.
const DefaultMaxBodyBytes int64 = 32 << 20

const (
	msgHealthy       = "Face matching API is running with DeepFace AI"
	msgMissingImages = "Both image1 and image2 are required"
	msgNoFace        = "No face detected in one or both images. Please use clear photos with visible faces."
	msgTooLarge      = "Request body too large"
)

// CompareRequest is the body of POST /api/compare. Both fields hold raw
// base64 or a data URL.
type CompareRequest struct {
	Image1 string `json:"image1" binding:"required"`
	Image2 string `json:"image2" binding:"required"`
}

// CompareResponse is the success body of POST /api/compare.
type CompareResponse struct {
	Success         bool    `json:"success"`
	MatchPercentage float64 `json:"match_percentage"`
	Distance        float64 `json:"distance"`
	Verified        bool    `json:"verified"`
	Threshold       float64 `json:"threshold"`
	MatchLevel      string  `json:"match_level"`
	MatchColor      string  `json:"match_color"`
	Message         string  `json:"message"`
	Model           string  `json:"model"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Options configure the HTTP layer.
type Options struct {
	MaxBodyBytes int64
}

type compareHandler struct {
	uc           *usecase.ComparisonUseCase
	logger       *zap.Logger
	maxBodyBytes int64
}

// RegisterRoutes wires the HTTP handlers and middleware to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.ComparisonUseCase, logger *zap.Logger, opts Options) {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	h := &compareHandler{uc: uc, logger: logger.Named("http"), maxBodyBytes: opts.MaxBodyBytes}

	router.Use(
		RequestID(),
		AccessLog(h.logger),
		Recovery(h.logger),
		CORS(),
	)

	api := router.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Message: msgHealthy})
	})
	api.POST("/compare", h.compare)
}

func (h *compareHandler) compare(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingImages})
		return
	}

	result, err := h.uc.Compare(c.Request.Context(), req.Image1, req.Image2)
	if err != nil {
		status, message := classifyError(err)
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusOK, CompareResponse{
		Success:         true,
		MatchPercentage: result.MatchPercentage,
		Distance:        result.Distance,
		Verified:        result.Verified,
		Threshold:       result.Threshold,
		MatchLevel:      string(result.MatchLevel),
		MatchColor:      result.MatchColor,
		Message:         result.Message,
		Model:           result.Model,
	})
}

// classifyError maps the comparison error taxonomy onto an HTTP status and
// the user-facing message.
func classifyError(err error) (int, string) {
	var (
		imageErr     *usecase.ImageError
		detectionErr *faceverify.FaceDetectionError
	)
	switch {
	case errors.Is(err, usecase.ErrMissingImages):
		return http.StatusBadRequest, msgMissingImages
	case errors.As(err, &imageErr):
		return http.StatusBadRequest, imageErr.Error()
	case errors.Is(err, faceverify.ErrNoFaceDetected):
		return http.StatusBadRequest, msgNoFace
	case errors.As(err, &detectionErr):
		return http.StatusBadRequest, "Face detection error: " + detectionErr.Message
	default:
		return http.StatusInternalServerError, "Server error: " + logging.Cause(err).Error()
	}
}
