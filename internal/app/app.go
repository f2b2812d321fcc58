package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-course-client/internal/config"
	"github.com/samvad-hq/samvad-course-client/internal/enricher"
	"github.com/samvad-hq/samvad-course-client/internal/logger"
	"github.com/samvad-hq/samvad-course-client/internal/storage"
	"github.com/samvad-hq/samvad-course-client/pkg/dispatch"
	"github.com/samvad-hq/samvad-course-client/pkg/endpoints"
	"github.com/samvad-hq/samvad-course-client/pkg/httpclient"
	"github.com/samvad-hq/samvad-course-client/pkg/netclient"
	"github.com/samvad-hq/samvad-course-client/pkg/publishers"
)

const (
	defaultImageConcurrency = 4
	pageAccept              = "text/html,application/xhtml+xml"
)

// App is the course client runtime. It owns the backend client, the endpoint
// registry, the local store and the downstream publishers, plus the serial
// queue completion handlers are delivered on.
type App struct {
	cfg       *config.Config
	endpoints *endpoints.Registry
	client    *netclient.Client
	enricher  *enricher.Enricher
	fanout    *publishers.Fanout
	store     storage.Store
	queue     *dispatch.Queue
	log       logger.Logger
}

// NewApp builds the runtime from config files.
func NewApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	endpointReg, err := endpoints.LoadRegistry(cfg.EndpointsFile)
	if err != nil {
		return nil, fmt.Errorf("load endpoints registry: %w", err)
	}
	endpointIDs := make([]string, 0, len(endpointReg.All()))
	for _, e := range endpointReg.All() {
		endpointIDs = append(endpointIDs, e.ID)
	}
	log.InfoObj("endpoints registry loaded", "endpoints_meta", map[string]any{
		"count": len(endpointIDs),
		"ids":   endpointIDs,
	})

	httpOpts := httpclient.Options{
		Timeout:      cfg.HTTPTimeout,
		UserAgent:    cfg.UserAgent,
		AcceptBrotli: cfg.AcceptBrotli,
	}
	// One resty client (and connection pool) serves both the backend calls and page scraping.
	rc := httpclient.NewRestyHTTPClient(httpOpts)
	client := netclient.New(netclient.Options{Resty: rc, Logger: log})

	var enr *enricher.Enricher
	if cfg.EnrichMissingImages {
		enr = enricher.New(
			httpclient.WrapResty(rc),
			enricher.WithDelay(time.Duration(cfg.EnrichDelayMs)*time.Millisecond),
			enricher.WithHeaders(map[string]string{"Accept": pageAccept}),
			enricher.WithLogger(log),
		)
	}

	fanout, err := buildFanout(ctx, cfg.PublishersFile, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		CourseTTL:       cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"course_ttl_seconds":       int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	return &App{
		cfg:       cfg,
		endpoints: endpointReg,
		client:    client,
		enricher:  enr,
		fanout:    fanout,
		store:     store,
		queue:     dispatch.NewQueue(16),
		log:       log,
	}, nil
}

// buildFanout loads the optional publishers file. An empty path yields an empty fanout.
func buildFanout(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	if path == "" {
		log.InfoObj("no publishers file configured", "publishers_meta", map[string]any{"count": 0})
		return publishers.NewFanout(nil), nil
	}

	publisherReg, err := publishers.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := publisherReg.Enabled()

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

// Queue is the serial context completion handlers run on.
func (a *App) Queue() *dispatch.Queue {
	return a.queue
}

// Endpoints exposes the loaded endpoint registry.
func (a *App) Endpoints() *endpoints.Registry {
	return a.endpoints
}

// Close drains the completion queue, then releases publishers and storage.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.queue.Close()

	var errs []error
	if err := a.fanout.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.ErrorObj("storage close failed", "error", err.Error())
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) imageConcurrency() int {
	if a.cfg.ImageConcurrency > 0 {
		return a.cfg.ImageConcurrency
	}
	return defaultImageConcurrency
}
