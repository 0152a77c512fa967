package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/andresuchdata/history-extracts/internal/catalog"
	"github.com/andresuchdata/history-extracts/internal/checksum"
	"github.com/andresuchdata/history-extracts/internal/config"
	"github.com/andresuchdata/history-extracts/internal/confset"
	"github.com/andresuchdata/history-extracts/internal/extract"
	"github.com/andresuchdata/history-extracts/internal/fetch"
	"github.com/andresuchdata/history-extracts/internal/notify"
	"github.com/andresuchdata/history-extracts/internal/pipeline"
	"github.com/andresuchdata/history-extracts/internal/publish"
	"github.com/andresuchdata/history-extracts/internal/repository/postgres"
	"github.com/andresuchdata/history-extracts/internal/snapshot"
	"github.com/andresuchdata/history-extracts/internal/storage"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

// build assembles the orchestrator for cfg. Subprocess output goes to stderr.
func build(ctx context.Context, cfg *config.Config, stderr io.Writer) (*pipeline.Orchestrator, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	layout := cfg.Paths.Layout()

	var objects storage.ObjectStorage
	if cfg.Catalog.Backend == "s3" || cfg.Fetch.Backend == "s3" {
		client, err := storage.NewMinioClient(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, cleanup, err
		}
		objects = client
	}

	cat, err := newCatalog(cfg, objects)
	if err != nil {
		return nil, cleanup, err
	}
	fetcher, err := newFetcher(cfg, objects, stderr)
	if err != nil {
		return nil, cleanup, err
	}
	verifier, err := newVerifier(cfg, stderr)
	if err != nil {
		return nil, cleanup, err
	}

	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		// the run must not depend on the notification channel
		logger.Log.Warn().Err(err).Str("backend", cfg.Notify.Backend).Msg("notifier unavailable, logging instead")
		notifier = notify.NewLogNotifier()
	}
	if c, ok := notifier.(io.Closer); ok {
		closers = append(closers, func() { _ = c.Close() })
	}

	recorder := pipeline.NoopRecorder()
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("run history disabled: database unavailable")
		} else {
			closers = append(closers, func() { _ = db.Close() })
			repo := postgres.NewRunRepository(db)
			if err := repo.Migrate(ctx); err != nil {
				logger.Log.Warn().Err(err).Msg("run history disabled")
			} else {
				recorder = repo
			}
		}
	}

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Layout:  layout,
		Catalog: cat,
		Store:   snapshot.NewStore(layout, fetcher, verifier),
		Configs: confset.New(layout.WorkDir, cfg.Paths.ConfigExt),
		Runner: extract.NewRunner(extract.NewCommandPartitioner(cfg.Splitter.Tool, stderr), extract.Options{
			Workers: cfg.Splitter.Workers,
			Timeout: cfg.Splitter.Timeout,
			Policy:  cfg.Splitter.FailurePolicy,
		}),
		Publisher:       publish.NewPublisher(layout, cfg.Publish.PointerMode),
		Notifier:        notifier,
		Recorder:        recorder,
		Metrics:         pipeline.NewMetrics(),
		MetricsTextfile: cfg.Metrics.Textfile,
	})
	return orch, cleanup, nil
}

func newCatalog(cfg *config.Config, objects storage.ObjectStorage) (catalog.Catalog, error) {
	switch cfg.Catalog.Backend {
	case "http":
		return catalog.NewHTTPCatalog(catalog.HTTPConfig{
			BaseURL:    cfg.Catalog.BaseURL,
			Pattern:    cfg.Catalog.Pattern,
			Timeout:    cfg.Catalog.HTTPTimeout,
			RPS:        cfg.Catalog.RPS,
			MaxRetries: cfg.Catalog.MaxRetries,
		})
	case "s3":
		return catalog.NewObjectCatalog(objects, cfg.Storage.Prefix, cfg.Catalog.Pattern)
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", cfg.Catalog.Backend)
	}
}

func newFetcher(cfg *config.Config, objects storage.ObjectStorage, stderr io.Writer) (fetch.Fetcher, error) {
	switch cfg.Fetch.Backend {
	case "wget":
		return fetch.NewWgetFetcher(cfg.Fetch.WgetPath, cfg.Catalog.BaseURL, stderr), nil
	case "http":
		return fetch.NewHTTPFetcher(&http.Client{}, cfg.Catalog.BaseURL), nil
	case "s3":
		return fetch.NewObjectFetcher(objects, cfg.Storage.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown fetch backend %q", cfg.Fetch.Backend)
	}
}

func newVerifier(cfg *config.Config, stdout io.Writer) (checksum.Verifier, error) {
	switch cfg.Checksum.Backend {
	case "md5sum":
		return checksum.NewMD5SumVerifier(cfg.Checksum.MD5SumPath, stdout), nil
	case "native":
		return checksum.NewNativeVerifier(), nil
	default:
		return nil, fmt.Errorf("unknown checksum backend %q", cfg.Checksum.Backend)
	}
}
