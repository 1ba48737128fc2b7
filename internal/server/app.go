// Package server builds the crawler's dependency graph from configuration
// and runs one crawl to completion.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/channel-transcript-crawler/internal/api"
	"github.com/JakeFAU/channel-transcript-crawler/internal/browser"
	"github.com/JakeFAU/channel-transcript-crawler/internal/clock/system"
	"github.com/JakeFAU/channel-transcript-crawler/internal/config"
	"github.com/JakeFAU/channel-transcript-crawler/internal/consolidate"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawl"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawlstate"
	"github.com/JakeFAU/channel-transcript-crawler/internal/fallback"
	"github.com/JakeFAU/channel-transcript-crawler/internal/frontier"
	"github.com/JakeFAU/channel-transcript-crawler/internal/hash/sha256"
	"github.com/JakeFAU/channel-transcript-crawler/internal/id/uuid"
	pgmanifest "github.com/JakeFAU/channel-transcript-crawler/internal/manifest/postgres"
	sqlitemanifest "github.com/JakeFAU/channel-transcript-crawler/internal/manifest/sqlite"
	"github.com/JakeFAU/channel-transcript-crawler/internal/metrics"
	"github.com/JakeFAU/channel-transcript-crawler/internal/pipeline"
	"github.com/JakeFAU/channel-transcript-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/channel-transcript-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/channel-transcript-crawler/internal/shutdown"
	artifactstore "github.com/JakeFAU/channel-transcript-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/channel-transcript-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/channel-transcript-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/channel-transcript-crawler/internal/storage/memory"
	"github.com/JakeFAU/channel-transcript-crawler/internal/transcript"
)

// App contains one run's dependencies.
type App struct {
	cfg     config.Config
	handle  string
	runID   string
	logger  *zap.Logger
	blobs   crawler.BlobStore
	browser *browser.Browser

	cell        *crawlstate.Cell
	loop        *crawl.Loop
	coordinator *shutdown.Coordinator
	apiServer   *api.Server

	manifest        crawler.Manifest
	gcsClient       *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
}

// Build creates the application's dependencies for crawling handle. Nothing
// here touches the network or the artifact directory; Chrome starts on the
// first browser operation.
func Build(ctx context.Context, cfg config.Config, handle string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	app := &App{
		cfg:    cfg,
		handle: handle,
		runID:  runID,
		logger: logger.With(zap.String("run_id", runID)),
		cell:   crawlstate.New(),
	}
	built := false
	defer func() {
		if !built {
			app.Close()
		}
	}()

	app.logger.Info("building application dependencies",
		zap.String("channel", handle),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("manifest", cfg.Manifest.Backend),
		zap.Bool("youtube_api_key", cfg.YouTube.APIKey != ""),
	)

	if app.blobs, err = setupStorage(ctx, app); err != nil {
		return nil, err
	}
	if err = setupManifest(ctx, app); err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	opts := []artifactstore.Option{}
	if app.manifest != nil {
		opts = append(opts, artifactstore.WithManifest(app.manifest))
	}
	if publisher != nil {
		opts = append(opts, artifactstore.WithPublisher(publisher))
	}
	store, err := artifactstore.New(artifactstore.Config{
		Extension: cfg.Storage.Extension,
		RunID:     runID,
		Topic:     cfg.PubSub.Topic,
	}, app.blobs, system.New(), sha256.New(), app.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	if err = setupBrowser(app); err != nil {
		return nil, err
	}
	strategies, err := buildStrategies(app)
	if err != nil {
		return nil, err
	}
	acquirer, err := pipeline.New(app.logger, strategies...)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	app.logger.Info("transcript strategies", zap.Any("order", acquirer.Kinds()))

	pacer, err := ratelimit.NewJitter(ratelimit.JitterConfig{
		MinDelay: cfg.RateLimit.MinDelay,
		MaxDelay: cfg.RateLimit.MaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("jitter init failed: %w", err)
	}

	var related crawler.RelatedFinder
	if cfg.Crawler.FollowRelated {
		related = app.browser
	}
	app.loop, err = crawl.New(
		app.browser,
		related,
		acquirer,
		store,
		pacer,
		frontier.New(cfg.Crawler.JobCap),
		app.cell,
		crawl.Config{
			ChannelHandle: handle,
			ChannelURL:    app.browser.ChannelURL(handle),
			FollowRelated: cfg.Crawler.FollowRelated,
			RelatedLimit:  cfg.Crawler.RelatedLimit,
			RunID:         runID,
		},
		app.logger.Named("crawl"),
	)
	if err != nil {
		return nil, fmt.Errorf("crawl loop init failed: %w", err)
	}

	merger, err := consolidate.New(consolidate.Config{Output: cfg.Consolidation.Output}, app.blobs, app.logger.Named("consolidate"))
	if err != nil {
		return nil, fmt.Errorf("consolidator init failed: %w", err)
	}
	app.coordinator, err = shutdown.New(app.loop, merger, app.cell, shutdown.Config{
		DrainTimeout:       cfg.Shutdown.DrainTimeout,
		AbortGrace:         cfg.Shutdown.AbortGrace,
		ResolveTimeout:     cfg.Shutdown.ResolveTimeout,
		ConsolidateTimeout: cfg.Shutdown.ConsolidateTimeout,
	}, app.logger.Named("shutdown"))
	if err != nil {
		return nil, fmt.Errorf("shutdown coordinator init failed: %w", err)
	}

	if cfg.API.ListenAddr != "" {
		app.apiServer = api.NewServer(handle, app.coordinator, app.cell, app.loop, app.logger.Named("api"))
	}
	built = true
	return app, nil
}

// RunID returns the identifier stamped on this run's records.
func (a *App) RunID() string {
	return a.runID
}

// Phase reports the shutdown coordinator's state.
func (a *App) Phase() shutdown.Phase {
	return a.coordinator.Phase()
}

// Run crawls until the frontier drains or ctx is canceled, then shuts down
// gracefully. ctx is the interrupt signal. Run returns once the coordinator
// terminates, even if a strategy ignored the abort and the loop is still
// blocked.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	a.logger.Info("crawl started", zap.String("channel", a.handle))

	loopDone := make(chan struct{})
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	go func() {
		defer close(loopDone)
		a.loop.Run(ctx)
	}()

	var g errgroup.Group
	g.Go(func() error {
		defer stopServer()
		a.coordinator.Run(ctx, loopDone)
		return nil
	})
	if a.apiServer != nil {
		g.Go(func() error {
			if err := a.apiServer.ListenAndServe(serverCtx, a.cfg.API.ListenAddr); err != nil {
				a.logger.Warn("status server failed", zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return a.loop.Summary(), err
	}

	select {
	case <-loopDone:
	default:
		a.logger.Error("crawl loop still blocked after shutdown; exiting without it")
	}

	// Read after the coordinator, which may have resolved the interrupted job.
	summary := a.loop.Summary()
	a.logManifestCounts()

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("metrics textfile write failed", zap.String("path", path), zap.Error(err))
		}
	}
	return summary, nil
}

// Close releases every client. It is safe to call more than once.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
		a.browser = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.manifest != nil {
		if err := a.manifest.Close(); err != nil {
			a.logger.Warn("manifest close failed", zap.Error(err))
		}
		a.manifest = nil
	}
}

func (a *App) logManifestCounts() {
	counter, ok := a.manifest.(interface {
		Counts(ctx context.Context, channelKey string) (map[crawler.Outcome]int, error)
	})
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := counter.Counts(ctx, artifactstore.Sanitize(a.handle))
	if err != nil {
		a.logger.Warn("manifest counts failed", zap.Error(err))
		return
	}
	a.logger.Info("manifest totals for channel", zap.Any("counts", counts))
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("dir", cfg.Dir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	case "memory":
		app.logger.Warn("using in-memory storage backend; artifacts are lost on exit")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func setupManifest(ctx context.Context, app *App) error {
	cfg := app.cfg.Manifest
	switch cfg.Backend {
	case "", "none":
		app.logger.Debug("completion manifest disabled")
		return nil
	case "sqlite":
		m, err := sqlitemanifest.Open(ctx, cfg.Path)
		if err != nil {
			return fmt.Errorf("sqlite manifest init failed: %w", err)
		}
		app.manifest = m
		app.logger.Info("sqlite manifest opened", zap.String("path", cfg.Path))
		return nil
	case "postgres":
		m, err := pgmanifest.New(ctx, pgmanifest.Config{
			DSN:      cfg.DSN,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres manifest init failed: %w", err)
		}
		app.manifest = m
		app.logger.Info("postgres manifest connected", zap.String("table", cfg.Table))
		return nil
	default:
		return fmt.Errorf("unknown manifest backend %q", cfg.Backend)
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.Topic == "" || cfg.ProjectID == "" {
		app.logger.Debug("no Pub/Sub topic configured; notifications disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher, err = gcppublisher.New(client)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return app.pubsubPublisher, nil
}

func setupBrowser(app *App) error {
	cfg := app.cfg.Browser
	var limiter *ratelimit.Limiter
	if cfg.NavigationQPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.NavigationQPS, DefaultBurst: 1})
	}
	b, err := browser.New(browser.Config{
		BaseURL:           app.cfg.Channel.BaseURL,
		Headless:          cfg.Headless,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: cfg.NavTimeout,
		ProbeTimeout:      cfg.ProbeTimeout,
		SettleDelay:       cfg.SettleDelay,
		ScrollPause:       cfg.ScrollPause,
		MaxScrolls:        cfg.MaxScrolls,
	}, limiter, app.logger)
	if err != nil {
		return fmt.Errorf("browser init failed: %w", err)
	}
	app.browser = b
	return nil
}

func buildStrategies(app *App) ([]pipeline.Strategy, error) {
	cfg := app.cfg
	var strategies []pipeline.Strategy

	switch cfg.Transcript.Source {
	case "timedtext":
		fetcher, err := transcript.NewTimedtextFetcher(transcript.TimedtextConfig{
			BaseURL:   cfg.Transcript.TimedtextURL,
			Language:  cfg.Transcript.Language,
			UserAgent: cfg.Browser.UserAgent,
			Timeout:   cfg.Transcript.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("timedtext fetcher init failed: %w", err)
		}
		strategies = append(strategies, pipeline.Structured(fetcher))
	case "process", "":
		strategies = append(strategies, pipeline.Structured(transcript.NewProcessFetcher(transcript.ProcessConfig{
			Command: cfg.Transcript.Command,
			Args:    cfg.Transcript.Args,
			Timeout: cfg.Transcript.Timeout,
		})))
	default:
		return nil, fmt.Errorf("unknown transcript source %q", cfg.Transcript.Source)
	}

	if cfg.Browser.Enabled {
		if app.browser == nil {
			return nil, errors.New("rendered strategy needs a browser")
		}
		strategies = append(strategies, pipeline.Rendered(app.browser))
	}

	if cfg.Fallback.Enabled {
		extractor, err := fallback.New(fallback.Config{
			Command: cfg.Fallback.Command,
			Args:    cfg.Fallback.Args,
			Mode:    fallback.Mode(strings.TrimSpace(cfg.Fallback.Mode)),
			Timeout: cfg.Fallback.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("fallback extractor init failed: %w", err)
		}
		var snapshots crawler.Snapshotter
		if extractor.Mode() == fallback.ModeSnapshot && app.browser != nil {
			snapshots = app.browser
		}
		strategies = append(strategies, pipeline.External(extractor, snapshots))
	}
	return strategies, nil
}
