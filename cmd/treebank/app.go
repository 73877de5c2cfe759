package main

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/catalog"
	"github.com/vbonduro/treebank/internal/config"
	"github.com/vbonduro/treebank/internal/db"
	"github.com/vbonduro/treebank/internal/metrics"
	"github.com/vbonduro/treebank/internal/photostore"
	"github.com/vbonduro/treebank/internal/photostore/local"
	s3store "github.com/vbonduro/treebank/internal/photostore/s3"
	"github.com/vbonduro/treebank/internal/portfolio"
	"github.com/vbonduro/treebank/internal/service"
	"github.com/vbonduro/treebank/internal/store"
	"github.com/vbonduro/treebank/internal/vision"
	claudevision "github.com/vbonduro/treebank/internal/vision/claude"
	geminivision "github.com/vbonduro/treebank/internal/vision/gemini"
	ollamavision "github.com/vbonduro/treebank/internal/vision/ollama"
)

// app holds everything a command needs once configuration has been checked.
type app struct {
	service  *service.TreeService
	metrics  *metrics.Metrics
	database *sql.DB
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog loaded", "path", cfg.CatalogPath, "templates", len(cat.Keys()))

	trees, err := portfolio.Open(cfg.PortfolioPath)
	if err != nil {
		return nil, err
	}

	photoStg, err := newPhotoStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	visionClient, err := newVisionClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.ChatLogDBPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open chat log database", goerr.V("path", cfg.ChatLogDBPath))
	}

	m := metrics.New()
	svc := service.NewTreeService(
		trees,
		store.NewChatLogStore(database),
		cat,
		visionClient,
		photoStg,
		m,
		cfg.ModelTimeout,
		logger,
	)
	return &app{service: svc, metrics: m, database: database, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.database.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

func newVisionClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (vision.Client, error) {
	switch cfg.VisionBackend {
	case "gemini":
		logger.Info("using Gemini vision backend", "model", cfg.GeminiModel)
		c, err := geminivision.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "claude":
		logger.Info("using Claude vision backend", "model", cfg.ClaudeModel)
		return claudevision.New(cfg.ClaudeAPIKey, cfg.ClaudeModel, cfg.ClaudeBaseURL), nil
	case "ollama":
		logger.Info("using Ollama vision backend", "model", cfg.OllamaModel)
		return ollamavision.New(cfg.OllamaHost, cfg.OllamaModel), nil
	default:
		return nil, goerr.Wrap(config.ErrConfiguration, "unknown vision backend", goerr.V("backend", cfg.VisionBackend))
	}
}

func newPhotoStore(ctx context.Context, cfg *config.Config) (photostore.PhotoStore, error) {
	switch cfg.PhotoBackend {
	case "local":
		s, err := local.New(cfg.PhotoPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := s3store.New(ctx, s3store.Config{
			Bucket:    cfg.PhotoS3Bucket,
			Region:    cfg.PhotoS3Region,
			Endpoint:  cfg.PhotoS3Endpoint,
			PathStyle: cfg.PhotoS3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, goerr.Wrap(config.ErrConfiguration, "unknown photo backend", goerr.V("backend", cfg.PhotoBackend))
	}
}
