package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "APP_ENV", "FLASK_ENV", "DEBUG", "FACE_MODEL", "DETECTOR_BACKEND",
	"VERIFIER_TRANSPORT", "DEEPFACE_URL", "VERIFIER_GRPC_ADDR",
	"DEEPFACE_SEND_PATHS", "VERIFY_TIMEOUT", "TEMP_DIR", "MAX_BODY_BYTES",
	"REDIS_ADDR", "CACHE_TTL", "SHUTDOWN_TIMEOUT", "LOG_FILE",
}

// clearEnv blanks every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 5001, cfg.Port)
	assert.Equal(t, ":5001", cfg.Addr())
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "Facenet512", cfg.FaceModel)
	assert.Equal(t, "opencv", cfg.DetectorBackend)
	assert.Equal(t, TransportHTTP, cfg.VerifierTransport)
	assert.Equal(t, "http://localhost:5005", cfg.DeepFaceURL)
	assert.Equal(t, 60*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, int64(32<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.CacheEnabled())
}

func TestLoadProductionDisablesDebug(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("PORT", "8080")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 8080, cfg.Port)

	t.Setenv("DEBUG", "true")
	cfg, err = Load(missingEnvFile(t))
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestLoadFallsBackToFlaskEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLASK_ENV", "production")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
	assert.False(t, cfg.Debug)

	t.Setenv("APP_ENV", "development")
	cfg, err = Load(missingEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.Debug)
}

func TestLoadFromEnvFile(t *testing.T) {
	clearEnv(t)
	for _, key := range configKeys {
		require.NoError(t, os.Unsetenv(key))
	}

	path := filepath.Join(t.TempDir(), ".env")
	content := "PORT=6000\nVERIFIER_TRANSPORT=grpc\nVERIFIER_GRPC_ADDR=deepface:50051\nREDIS_ADDR=redis:6379\nCACHE_TTL=1h\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() {
		for _, key := range configKeys {
			os.Unsetenv(key)
		}
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, TransportGRPC, cfg.VerifierTransport)
	assert.Equal(t, "deepface:50051", cfg.VerifierGRPCAddr)
	assert.True(t, cfg.CacheEnabled())
	assert.Equal(t, time.Hour, cfg.CacheTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad port":              {"PORT": "abc"},
		"port out of range":     {"PORT": "70000"},
		"bad duration":          {"VERIFY_TIMEOUT": "soon"},
		"bad bool":              {"DEEPFACE_SEND_PATHS": "maybe"},
		"unknown transport":     {"VERIFIER_TRANSPORT": "smoke-signals"},
		"grpc without address":  {"VERIFIER_TRANSPORT": "grpc"},
		"bad deepface url":      {"DEEPFACE_URL": "not a url"},
		"bad redis address":     {"REDIS_ADDR": "redis"},
		"negative body limit":   {"MAX_BODY_BYTES": "-1"},
		"zero shutdown timeout": {"SHUTDOWN_TIMEOUT": "0s"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for key, value := range env {
				t.Setenv(key, value)
			}
			_, err := Load(missingEnvFile(t))
			assert.Error(t, err)
		})
	}
}
