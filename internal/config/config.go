// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Verifier transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config holds every tunable of the service.
type Config struct {
	Port  int    `validate:"min=1,max=65535"`
	Env   string `validate:"required"`
	Debug bool

	FaceModel       string `validate:"required"`
	DetectorBackend string `validate:"required"`

	VerifierTransport string        `validate:"oneof=http grpc"`
	DeepFaceURL       string        `validate:"omitempty,url"`
	VerifierGRPCAddr  string        `validate:"omitempty,hostname_port"`
	VerifyTimeout     time.Duration `validate:"gt=0"`
	SendPaths         bool

	TempDir      string
	MaxBodyBytes int64 `validate:"gt=0"`

	RedisAddr string        `validate:"omitempty,hostname_port"`
	CacheTTL  time.Duration `validate:"gt=0"`

	ShutdownTimeout time.Duration `validate:"gt=0"`
	LogFile         string
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CacheEnabled reports whether a Redis result cache is configured.
func (c *Config) CacheEnabled() bool {
	return c.RedisAddr != ""
}

// Load reads envFiles (ignoring missing ones) and then the process
// environment. Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var (
		cfg  Config
		errs []error
	)
	cfg.Port = getInt("PORT", 5001, &errs)
	cfg.Env = getEnv("APP_ENV", getEnv("FLASK_ENV", "development"))
	cfg.Debug = getBool("DEBUG", cfg.Env == "development", &errs)
	cfg.FaceModel = getEnv("FACE_MODEL", "Facenet512")
	cfg.DetectorBackend = getEnv("DETECTOR_BACKEND", "opencv")
	cfg.VerifierTransport = strings.ToLower(getEnv("VERIFIER_TRANSPORT", TransportHTTP))
	cfg.DeepFaceURL = getEnv("DEEPFACE_URL", "http://localhost:5005")
	cfg.VerifierGRPCAddr = os.Getenv("VERIFIER_GRPC_ADDR")
	cfg.SendPaths = getBool("DEEPFACE_SEND_PATHS", false, &errs)
	cfg.VerifyTimeout = getDuration("VERIFY_TIMEOUT", 60*time.Second, &errs)
	cfg.TempDir = os.Getenv("TEMP_DIR")
	cfg.MaxBodyBytes = int64(getInt("MAX_BODY_BYTES", 32<<20, &errs))
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.CacheTTL = getDuration("CACHE_TTL", 24*time.Hour, &errs)
	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs)
	cfg.LogFile = os.Getenv("LOG_FILE")

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.VerifierTransport == TransportGRPC && cfg.VerifierGRPCAddr == "" {
		return nil, errors.New("invalid configuration: VERIFIER_GRPC_ADDR is required when VERIFIER_TRANSPORT=grpc")
	}
	return &cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}

func getBool(key string, fallback bool, errs *[]error) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}
