// ocrconsoled is the document-OCR evaluation console daemon: upload a PDF or
// image, run it through an OCR provider, extract fields against a template or
// dump every detected block, and read the results back with citations.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/async"
	"github.com/belticlabs/alternate-ocr/internal/blob"
	"github.com/belticlabs/alternate-ocr/internal/citation"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/export"
	"github.com/belticlabs/alternate-ocr/internal/extract"
	"github.com/belticlabs/alternate-ocr/internal/llm"
	"github.com/belticlabs/alternate-ocr/internal/ocr"
	"github.com/belticlabs/alternate-ocr/internal/pipeline"
	"github.com/belticlabs/alternate-ocr/internal/repository"
	"github.com/belticlabs/alternate-ocr/internal/runs"
	"github.com/belticlabs/alternate-ocr/internal/server"
	"github.com/belticlabs/alternate-ocr/internal/templates"
)

func main() {
	if err := run(); err != nil {
		slog.Error("main.fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := blob.NewStore(cfg.Blob.Dir)
	if err != nil {
		return err
	}

	providers := map[constants.Provider]ocr.Client{
		constants.ProviderMistral: ocr.NewMistralClient(ocr.MistralConfig{
			BaseURL:       cfg.OCR.MistralBaseURL,
			APIKey:        cfg.OCR.MistralAPIKey,
			Model:         cfg.OCR.MistralModel,
			Timeout:       cfg.OCR.Timeout,
			RatePerMinute: cfg.OCR.RatePerMinute,
		}, logger),
	}
	if cfg.OCR.PaddleBaseURL != "" {
		providers[constants.ProviderPaddle] = ocr.NewPaddleClient(ocr.PaddleConfig{
			BaseURL:       cfg.OCR.PaddleBaseURL,
			Token:         cfg.OCR.PaddleToken,
			Timeout:       cfg.OCR.Timeout,
			RatePerMinute: cfg.OCR.RatePerMinute,
		}, logger)
	}

	var completer llm.StructuredCompleter
	if cfg.LLM.APIKey != "" {
		completer = llm.NewClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
	}

	resolver := citation.NewResolver(citation.Config{
		FullPageEpsilon: cfg.Citation.FullPageEpsilon,
		LabelBiasWeight: cfg.Citation.LabelBiasWeight,
		MaxValueChars:   cfg.Citation.MaxValueChars,
	})

	processor := pipeline.NewProcessor(
		store.Runs(),
		store.Templates(),
		blobs,
		providers,
		extract.NewTemplateExtractor(completer, logger),
		resolver,
		logger,
	)

	queue := async.NewRunQueue(cfg.Run.Concurrency, logger)

	runsSvc := runs.NewService(store.Runs(), store.Templates(), blobs, processor, queue, cfg.Run, logger)
	templatesSvc := templates.NewService(store.Templates(), completer, cfg.Template.CacheTTL, logger)
	defer templatesSvc.Close()
	exportSvc := export.NewService(store.Runs(), logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(runsSvc, templatesSvc, exportSvc, cfg.Run, logger).Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("main.listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("main.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("main.shutdown.http_error", "error", err)
	}
	queue.Shutdown()
	logger.Info("main.shutdown.done")
	return nil
}

func openStore(ctx context.Context, cfg *common.Config) (repository.Store, error) {
	if cfg.Store.Driver == "sql" {
		return repository.OpenSQLStore(ctx, cfg.Store)
	}
	return repository.NewMemoryStore(), nil
}
