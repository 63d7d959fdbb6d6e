package main

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/clock"
	"github.com/JakeFAU/docfetch/internal/config"
	"github.com/JakeFAU/docfetch/internal/engine"
	"github.com/JakeFAU/docfetch/internal/fetch"
	"github.com/JakeFAU/docfetch/internal/hash/sha256"
	"github.com/JakeFAU/docfetch/internal/id/uuid"
	"github.com/JakeFAU/docfetch/internal/metrics"
	"github.com/JakeFAU/docfetch/internal/proxy"
	pubsubpublisher "github.com/JakeFAU/docfetch/internal/publisher/pubsub"
	"github.com/JakeFAU/docfetch/internal/sink"
	gcsstore "github.com/JakeFAU/docfetch/internal/storage/gcs"
	localstore "github.com/JakeFAU/docfetch/internal/storage/local"
	memorystore "github.com/JakeFAU/docfetch/internal/storage/memory"
	"github.com/JakeFAU/docfetch/internal/storage/postgres"
	"github.com/JakeFAU/docfetch/internal/telemetry"
)

// app owns the engine and every client opened to build it.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	engine  *engine.Engine
	ids     fetch.IDGenerator
	clock   fetch.Clock
	closers []func()
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	metrics.Init()
	a := &app{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  clock.System{},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, "docfetch")
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() { _ = tp.Shutdown(context.Background()) })

	observers := []fetch.Observer{sink.LogObserver(logger.Named("outcome"))}
	recorder, err := a.buildRecorder(ctx)
	if err != nil {
		return nil, err
	}
	if recorder != nil {
		observers = append(observers, recorder)
	}

	var prober proxy.Prober
	if len(cfg.Proxy.Endpoints) > 0 {
		prober = proxy.HTTPProber{
			Target:    cfg.Proxy.ProbeURL,
			Timeout:   cfg.Proxy.ProbeTimeout,
			UserAgent: cfg.Fetch.UserAgent,
		}
	}

	a.engine = engine.New(engine.Options{
		Settings:       cfg.FetchSettings(),
		Filter:         cfg.FilterRules(),
		Proxies:        cfg.Proxies(),
		SwitchEvery:    cfg.Proxy.SwitchEvery,
		Prober:         prober,
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		MaxFailures:    cfg.Batch.MaxFailures,
		RetryBackoff:   cfg.Fetch.RetryBackoff,
		PerHostRPS:     cfg.Politeness.PerHostRPS,
		Burst:          cfg.Politeness.Burst,
		Observers:      observers,
		IDs:            a.ids,
		Logger:         logger,
	})
	return a, nil
}

// buildRecorder returns nil when no blob store, database or topic is configured.
func (a *app) buildRecorder(ctx context.Context) (*sink.Recorder, error) {
	cfg := a.cfg
	var deps sink.Deps

	switch cfg.Storage.Backend {
	case config.StorageMemory:
		deps.BlobStore = memorystore.NewBlobStore()
	case config.StorageLocal:
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		deps.BlobStore = store
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		deps.BlobStore = store
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.NewRetrievalStore(ctx, postgres.RetrievalStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("retrieval store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if cfg.DB.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		deps.Store = store
	}

	if cfg.PubSub.TopicName != "" {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, pub.Close)
		deps.Publisher = pub
	}

	if deps.BlobStore == nil && deps.Store == nil && deps.Publisher == nil {
		return nil, nil
	}
	deps.Hasher = sha256.New()
	deps.Clock = a.clock
	deps.IDs = a.ids
	prefix := cfg.Storage.Prefix
	if cfg.Storage.Backend == config.StorageGCS {
		// The GCS store applies the prefix itself.
		prefix = ""
	}
	return sink.NewRecorder(deps, sink.Config{
		BlobPrefix:     prefix,
		Topic:          cfg.PubSub.TopicName,
		RecordFailures: cfg.Storage.RecordFailures,
	}, a.logger.Named("recorder"))
}

// Close releases clients in reverse order and flushes the logger.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
