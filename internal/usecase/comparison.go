package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-match/internal/faceverify"
	"github.com/example/face-match/internal/imagefile"
	"github.com/example/face-match/internal/logging"
	"github.com/example/face-match/internal/score"
)

// ErrMissingImages is returned when either image payload is absent.
var ErrMissingImages = errors.New("both image1 and image2 are required")

// ImageError reports a payload that could not be turned into an image file.
// Index is 1-based.
type ImageError struct {
	Index int
	Err   error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("Image %d: Error processing image: %v", e.Index, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// Comparison is the outcome returned to API callers.
type Comparison struct {
	MatchPercentage float64
	Distance        float64
	Verified        bool
	Threshold       float64
	MatchLevel      score.Level
	MatchColor      string
	Message         string
	Model           string
	Cached          bool
}

// Options configure ComparisonUseCase.
type Options struct {
	Model         string
	TempDir       string
	VerifyTimeout time.Duration
	CacheTTL      time.Duration
}

// ComparisonUseCase turns two image payloads into a scored comparison.
type ComparisonUseCase struct {
	verifier faceverify.Verifier
	cache    Cache
	logger   *zap.Logger
	opts     Options
	retry    retryPolicy
}

// NewComparisonUseCase constructs a use case. cache may be nil to disable
// result caching.
func NewComparisonUseCase(verifier faceverify.Verifier, cache Cache, opts Options, logger *zap.Logger) *ComparisonUseCase {
	if opts.Model == "" {
		opts.Model = faceverify.DefaultModel
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	return &ComparisonUseCase{
		verifier: verifier,
		cache:    cache,
		logger:   logger.Named("comparison_usecase"),
		opts:     opts,
		retry:    defaultRetryPolicy,
	}
}

// Model is the recognition model requests are sent to.
func (uc *ComparisonUseCase) Model() string {
	return uc.opts.Model
}

// Compare decodes both payloads into temporary files, runs the verifier and
// scores the result. Temporary files never outlive the call.
func (uc *ComparisonUseCase) Compare(ctx context.Context, image1, image2 string) (*Comparison, error) {
	requestID, ok := logging.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.compare", requestID)

	if strings.TrimSpace(image1) == "" || strings.TrimSpace(image2) == "" {
		return nil, ErrMissingImages
	}

	first, err := imagefile.StorePayload(uc.opts.TempDir, image1)
	if err != nil {
		return nil, &ImageError{Index: 1, Err: err}
	}
	defer uc.release(opLogger, first)

	second, err := imagefile.StorePayload(uc.opts.TempDir, image2)
	if err != nil {
		return nil, &ImageError{Index: 2, Err: err}
	}
	defer uc.release(opLogger, second)

	cacheKey := uc.cacheKey(first, second)
	if result, hit := uc.lookup(ctx, requestID, cacheKey); hit {
		opLogger.Debug("comparison served from cache")
		return uc.buildComparison(result, true)
	}

	verifyCtx := ctx
	if uc.opts.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, uc.opts.VerifyTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := uc.verifier.Verify(verifyCtx, first.Path(), second.Path(), uc.opts.Model)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.verify_faces", requestID, err)
		if isModelInputError(err) {
			opLogger.Info("model rejected input", zap.Error(err))
		} else {
			opLogger.Error("face verification failed", zap.Error(wrapped))
		}
		return nil, wrapped
	}
	opLogger.Info("faces verified",
		zap.Float64("distance", result.Distance),
		zap.Float64("threshold", result.Threshold),
		zap.Bool("verified", result.Verified),
		zap.Duration("latency", time.Since(start)),
	)

	comparison, err := uc.buildComparison(result, false)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.normalize_score", requestID, err)
		opLogger.Error("verifier returned unusable result", zap.Error(wrapped))
		return nil, wrapped
	}

	uc.store(ctx, requestID, cacheKey, result)
	return comparison, nil
}

func (uc *ComparisonUseCase) buildComparison(result *faceverify.Result, cached bool) (*Comparison, error) {
	verdict, err := score.Normalize(result.Distance, result.Threshold)
	if err != nil {
		return nil, err
	}
	return &Comparison{
		MatchPercentage: verdict.MatchPercentage,
		Distance:        score.Round(result.Distance, 4),
		Verified:        result.Verified,
		Threshold:       score.Round(result.Threshold, 4),
		MatchLevel:      verdict.MatchLevel,
		MatchColor:      verdict.MatchColor,
		Message:         "Faces analyzed successfully using DeepFace AI",
		Model:           uc.opts.Model,
		Cached:          cached,
	}, nil
}

func (uc *ComparisonUseCase) release(logger *zap.Logger, img *imagefile.TempImage) {
	if err := img.Remove(); err != nil {
		logger.Warn("failed to remove temporary image", zap.String("path", img.Path()), zap.Error(err))
	}
}

func (uc *ComparisonUseCase) cacheKey(first, second *imagefile.TempImage) string {
	h := sha1.New()
	h.Write([]byte(uc.opts.Model))
	h.Write([]byte{0})
	h.Write([]byte(first.SHA1()))
	h.Write([]byte{0})
	h.Write([]byte(second.SHA1()))
	return "comparison:" + hex.EncodeToString(h.Sum(nil))
}

func (uc *ComparisonUseCase) lookup(ctx context.Context, requestID, key string) (*faceverify.Result, bool) {
	if uc.cache == nil {
		return nil, false
	}

	var raw string
	err := withRetry(ctx, uc.retry, uc.logger, requestID, "cache.get.comparison", func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logging.WithOperation(uc.logger, "usecase.compare", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var result faceverify.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logging.WithOperation(uc.logger, "usecase.compare", requestID).Warn("failed to decode cached result", zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (uc *ComparisonUseCase) store(ctx context.Context, requestID, key string, result *faceverify.Result) {
	if uc.cache == nil {
		return
	}
	serialized, err := json.Marshal(result)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.compare", requestID).Warn("failed to serialize result", zap.Error(err))
		return
	}
	if err := withRetry(ctx, uc.retry, uc.logger, requestID, "cache.set.comparison", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.opts.CacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.compare", requestID).Warn("failed to cache result", zap.Error(err))
	}
}

func isModelInputError(err error) bool {
	var detectionErr *faceverify.FaceDetectionError
	return errors.Is(err, faceverify.ErrNoFaceDetected) || errors.As(err, &detectionErr)
}
