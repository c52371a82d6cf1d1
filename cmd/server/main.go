package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Brownie44l1/dementia-api/internal/config"
	"github.com/Brownie44l1/dementia-api/internal/handlers"
	"github.com/Brownie44l1/dementia-api/internal/history"
	"github.com/Brownie44l1/dementia-api/internal/logger"
	"github.com/Brownie44l1/dementia-api/internal/metrics"
	"github.com/Brownie44l1/dementia-api/internal/model"
	"github.com/Brownie44l1/dementia-api/internal/preprocess"
	"github.com/Brownie44l1/dementia-api/internal/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	meta, err := loadMetadata(cfg.MetadataPath, zl)
	if err != nil {
		return err
	}

	opts := meta.DecoderOptions()
	opts.MaxPixels = cfg.MaxImagePixels
	decoder, err := preprocess.New(cfg.DecoderBackend, opts)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	zl.Info("loading model", zap.String("path", cfg.ModelPath))
	modelServer, err := model.NewServer(cfg.ModelPath, meta, model.Options{
		SharedLibraryPath: cfg.OnnxRuntimeLib,
		IntraOpThreads:    cfg.IntraOpThreads,
	}, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	m := metrics.New()
	handlerOpts := []handlers.Option{
		handlers.WithMetrics(m),
		handlers.WithMaxUploadSize(cfg.MaxUploadBytes),
	}
	if cfg.HistoryDBPath != "" {
		store, err := history.NewSQLiteStore(cfg.HistoryDBPath)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer store.Close()
		handlerOpts = append(handlerOpts, handlers.WithHistory(store))
		zl.Info("prediction history enabled", zap.String("path", cfg.HistoryDBPath))
	}

	handler := handlers.NewHandler(modelServer, decoder, zl, handlerOpts...)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: routes.New(handler, m, cfg.CORSOrigins, zl),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		zl.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("decoder", cfg.DecoderBackend),
			zap.Strings("classes", meta.Classes))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadMetadata falls back to the built-in 32x32 four-class description when
// no metadata file is shipped next to the model.
func loadMetadata(path string, zl *zap.Logger) (model.Metadata, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		zl.Warn("metadata file not found, using defaults", zap.String("path", path))
		return model.DefaultMetadata(), nil
	}
	meta, err := model.LoadMetadata(path)
	if err != nil {
		return model.Metadata{}, err
	}
	return meta, nil
}
