package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-match/internal/config"
	"github.com/example/face-match/internal/faceverify"
	"github.com/example/face-match/internal/grpcclient"
	"github.com/example/face-match/internal/handlers"
	"github.com/example/face-match/internal/logging"
	"github.com/example/face-match/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(logging.Options{Debug: cfg.Debug, LogFile: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	verifier, closeVerifier, err := initVerifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up face verifier", zap.Error(err))
	}
	defer closeVerifier()

	var cache usecase.Cache
	if cfg.CacheEnabled() {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
		redisCancel()
		defer redisClient.Close()
		cache = usecase.NewRedisCache(redisClient)
	}

	uc := usecase.NewComparisonUseCase(verifier, cache, usecase.Options{
		Model:         cfg.FaceModel,
		TempDir:       cfg.TempDir,
		VerifyTimeout: cfg.VerifyTimeout,
		CacheTTL:      cfg.CacheTTL,
	}, logger)

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	handlers.RegisterRoutes(r, uc, logger, handlers.Options{MaxBodyBytes: cfg.MaxBodyBytes})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face matching API starting",
		zap.String("addr", cfg.Addr()),
		zap.String("model", cfg.FaceModel),
		zap.String("detector", cfg.DetectorBackend),
		zap.String("transport", cfg.VerifierTransport),
		zap.Bool("debug", cfg.Debug),
		zap.Bool("cache", cfg.CacheEnabled()),
		zap.String("host", logging.Hostname()),
	)
	logger.Info("first comparison may be slow while the model server downloads weights")

	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initVerifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (faceverify.Verifier, func(), error) {
	switch cfg.VerifierTransport {
	case config.TransportGRPC:
		verifier, conn, err := grpcclient.DialFaceVerifier(ctx, cfg.VerifierGRPCAddr, grpcclient.Options{
			DetectorBackend: cfg.DetectorBackend,
			SendPaths:       cfg.SendPaths,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return verifier, func() { conn.Close() }, nil
	default:
		client := faceverify.NewDeepFaceClient(faceverify.DeepFaceConfig{
			BaseURL:         cfg.DeepFaceURL,
			DetectorBackend: cfg.DetectorBackend,
			SendPaths:       cfg.SendPaths,
			Timeout:         cfg.VerifyTimeout,
		}, logger)
		if err := client.Health(ctx); err != nil {
			logger.Warn("deepface server not reachable yet", zap.String("url", cfg.DeepFaceURL), zap.Error(err))
		}
		return client, func() {}, nil
	}
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", addr))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
