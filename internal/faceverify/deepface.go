package faceverify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DeepFaceConfig configures DeepFaceClient.
type DeepFaceConfig struct {
	BaseURL         string
	DetectorBackend string
	// SendPaths passes file paths instead of image contents; only valid when
	// the DeepFace server shares the temp directory.
	SendPaths bool
	Timeout   time.Duration
}

// DeepFaceClient calls the /verify endpoint of a DeepFace REST server.
type DeepFaceClient struct {
	baseURL         string
	detectorBackend string
	sendPaths       bool
	httpClient      *http.Client
	logger          *zap.Logger
}

type deepFaceVerifyRequest struct {
	Img1             string `json:"img1"`
	Img2             string `json:"img2"`
	ModelName        string `json:"model_name"`
	DetectorBackend  string `json:"detector_backend"`
	EnforceDetection bool   `json:"enforce_detection"`
}

type deepFaceVerifyResponse struct {
	Verified  *bool    `json:"verified"`
	Distance  *float64 `json:"distance"`
	Threshold *float64 `json:"threshold"`
	Error     string   `json:"error"`
}

// NewDeepFaceClient creates a client for the server at cfg.BaseURL.
func NewDeepFaceClient(cfg DeepFaceConfig, logger *zap.Logger) *DeepFaceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	detector := cfg.DetectorBackend
	if detector == "" {
		detector = "opencv"
	}
	return &DeepFaceClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		detectorBackend: detector,
		sendPaths:       cfg.SendPaths,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          logger.Named("deepface"),
	}
}

// Verify runs a DeepFace verification with face detection enforced.
func (c *DeepFaceClient) Verify(ctx context.Context, img1Path, img2Path, model string) (*Result, error) {
	if model == "" {
		model = DefaultModel
	}
	img1, err := c.imageArgument(img1Path)
	if err != nil {
		return nil, err
	}
	img2, err := c.imageArgument(img2Path)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(deepFaceVerifyRequest{
		Img1:             img1,
		Img2:             img2,
		ModelName:        model,
		DetectorBackend:  c.detectorBackend,
		EnforceDetection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("verify call finished",
		zap.String("model", model),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	var decoded deepFaceVerifyResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && decoded.Error != "" {
			if resp.StatusCode < http.StatusInternalServerError || IsNoFaceMessage(decoded.Error) {
				return nil, ClassifyModelError(decoded.Error)
			}
			return nil, fmt.Errorf("deepface error %d: %s", resp.StatusCode, decoded.Error)
		}
		return nil, fmt.Errorf("deepface error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if decoded.Error != "" {
		return nil, ClassifyModelError(decoded.Error)
	}
	if decoded.Distance == nil || decoded.Threshold == nil || decoded.Verified == nil {
		return nil, fmt.Errorf("incomplete deepface response: %s", strings.TrimSpace(string(body)))
	}

	return &Result{
		Distance:  *decoded.Distance,
		Verified:  *decoded.Verified,
		Threshold: *decoded.Threshold,
	}, nil
}

// Health checks that the DeepFace server answers on its root endpoint.
func (c *DeepFaceClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *DeepFaceClient) imageArgument(path string) (string, error) {
	if c.sendPaths {
		return path, nil
	}
	return EncodeImageFile(path)
}

// EncodeImageFile reads a JPEG from disk and returns it as a data URL.
func EncodeImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image file: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}
