package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/pet-classifier/internal/config"
	"github.com/Brownie44l1/pet-classifier/internal/decode"
	"github.com/Brownie44l1/pet-classifier/internal/handlers"
	"github.com/Brownie44l1/pet-classifier/internal/logging"
	"github.com/Brownie44l1/pet-classifier/internal/metrics"
	"github.com/Brownie44l1/pet-classifier/internal/model"
	"github.com/Brownie44l1/pet-classifier/internal/pipeline"
	"github.com/Brownie44l1/pet-classifier/internal/preprocess"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("loading model", zap.String("model", cfg.Model.Path), zap.String("metadata", cfg.Model.MetadataPath))
	classifier, err := model.Load(cfg.ModelLoadConfig(), logger)
	if err != nil {
		logger.Fatal("failed to initialize classifier", zap.Error(err))
	}
	defer classifier.Close()

	m := metrics.New()
	m.RegisterPoolGauge(classifier.Available)

	decoder := decode.NewWithConfig(cfg.DecodeConfig())
	preprocessor := preprocess.New()
	controller := pipeline.New(decoder, preprocessor, classifier, logger,
		pipeline.WithMetrics(m),
		pipeline.WithInferenceTimeout(cfg.Pipeline.InferenceTimeout.Std()))
	defer controller.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = cfg.Decoder.MaxBytes

	handler := handlers.NewHandler(controller, decoder, preprocessor, classifier, cfg.Decoder.MaxBytes, logger)
	handler.RegisterRoutes(r, m.Handler())

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server listening",
		zap.String("addr", cfg.Server.Addr),
		zap.Strings("classes", classifier.Metadata().Classes),
		zap.Strings("endpoints", []string{
			"GET /health",
			"GET /session",
			"POST /session/image",
			"DELETE /session/image",
			"POST /session/predict",
			"POST /session/dismiss",
			"POST /predict",
			"POST /predict/image",
			"GET /metrics",
		}))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout.Std(), logger); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
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

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

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
