// Package app builds the long-lived services of a crawl from configuration,
// acting as a small dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/api"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/config"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/arcgis-catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/policy/ratelimit"
	kafkapublisher "github.com/JakeFAU/arcgis-catalog-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/arcgis-catalog-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/arcgis-catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/storage/s3"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/storage/sqlite"
)

// Store is everything a sink driver provides.
type Store interface {
	crawler.RecordSink
	crawler.RecordSource
	crawler.Checkpoint
	Close() error
}

// App holds the shared services for one command invocation.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     Store
	publisher crawler.Publisher
	runner    *crawler.Runner
	closers   []func() error
}

// New wires the crawl pipeline: fetcher, limiter, client, walker, store,
// publisher and runner. It fails fast when any service cannot be built.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	store, err := NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	publisher, closePublisher, err := NewPublisher(ctx, cfg.Notify, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = publisher
	if closePublisher != nil {
		a.closers = append(a.closers, closePublisher)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.HTTP.RequestTimeout,
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RatePerHost,
		DefaultBurst: cfg.HTTP.Burst,
		Overrides:    cfg.HTTP.HostRates,
	})
	client := crawler.NewClient(fetcher, cfg.RetryPolicy(), limiter, cfg.ClientConfig(), logger)
	walker := crawler.NewWalker(client, cfg.WalkerConfig(), logger)

	topic := ""
	if publisher != nil {
		topic = cfg.Notify.Topic
	}
	a.runner = crawler.NewRunner(walker, store, store, publisher, crawler.RunnerConfig{NotifyTopic: topic}, logger)
	return a, nil
}

// NewStore opens the record sink and checkpoint selected by sink.driver.
func NewStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Sink.Driver {
	case config.SinkFile:
		records, err := local.OpenRecordFile(cfg.Sink.RecordsPath)
		if err != nil {
			return nil, fmt.Errorf("open record file: %w", err)
		}
		checkpoint, err := local.OpenCheckpointFile(cfg.Sink.CheckpointPath)
		if err != nil {
			_ = records.Close()
			return nil, fmt.Errorf("open checkpoint file: %w", err)
		}
		logger.Info("Using file sink",
			zap.String("records", cfg.Sink.RecordsPath),
			zap.String("checkpoint", cfg.Sink.CheckpointPath))
		return &fileStore{RecordFile: records, CheckpointFile: checkpoint}, nil
	case config.SinkSQLite:
		store, err := sqlite.Open(ctx, cfg.Sink.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("Using SQLite sink", zap.String("path", cfg.Sink.SQLitePath))
		return store, nil
	case config.SinkPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			RecordsTable:    cfg.DB.RecordsTable,
			CheckpointTable: cfg.DB.CheckpointTable,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.DB.Migrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		logger.Info("Using PostgreSQL sink")
		return store, nil
	case config.SinkMemory:
		logger.Warn("Using in-memory sink; records and checkpoints are discarded on exit")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown sink driver: %s", cfg.Sink.Driver)
	}
}

// NewPublisher builds the root notice publisher. It returns a nil publisher
// when notifications are disabled.
func NewPublisher(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (crawler.Publisher, func() error, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil, nil
	case "memory":
		return memorypublisher.New(), nil, nil
	case "pubsub":
		p, err := pubsubpublisher.New(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize pubsub: %w", err)
		}
		logger.Info("Publishing root notices to Pub/Sub", zap.String("topic", cfg.Topic))
		return p, p.Close, nil
	case "kafka":
		p, err := kafkapublisher.New(kafkapublisher.Config{
			Brokers:      cfg.Brokers,
			MaxAttempts:  cfg.MaxAttempts,
			RequiredAcks: cfg.RequiredAcks,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize kafka: %w", err)
		}
		logger.Info("Publishing root notices to Kafka", zap.String("topic", cfg.Topic))
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify driver: %s", cfg.Driver)
	}
}

// NewBlobStore builds the export target selected by export.driver.
func NewBlobStore(ctx context.Context, cfg config.ExportConfig) (crawler.BlobStore, func() error, error) {
	switch cfg.Driver {
	case "", "local":
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil, nil
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, store.Close, nil
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 blob store: %w", err)
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown export driver: %s", cfg.Driver)
	}
}

// Runner returns the configured crawl runner.
func (a *App) Runner() *crawler.Runner {
	return a.runner
}

// Store returns the configured sink and checkpoint.
func (a *App) Store() Store {
	return a.store
}

// Publisher returns the notice publisher, or nil when disabled.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// Server builds the status server for this app.
func (a *App) Server() *api.Server {
	return api.NewServer(a.runner, a.store, a.logger.Named("api"))
}

// Close shuts down services in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error closing application services", zap.Error(err))
	}
}

type fileStore struct {
	*local.RecordFile
	*local.CheckpointFile
}

func (s *fileStore) Close() error {
	return errors.Join(s.RecordFile.Close(), s.CheckpointFile.Close())
}
