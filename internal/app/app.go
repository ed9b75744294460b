// Package app builds the long-lived services of a gatherer process from configuration:
// stores, transport, crawl engine, bots, queue, workers and the HTTP API.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/address"
	"github.com/JakeFAU/dealer-gatherer/internal/api"
	"github.com/JakeFAU/dealer-gatherer/internal/bots"
	"github.com/JakeFAU/dealer-gatherer/internal/bots/inventory"
	"github.com/JakeFAU/dealer-gatherer/internal/catalog"
	"github.com/JakeFAU/dealer-gatherer/internal/clock/system"
	"github.com/JakeFAU/dealer-gatherer/internal/config"
	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/dealer-gatherer/internal/fetcher/colly"
	"github.com/JakeFAU/dealer-gatherer/internal/id/uuid"
	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
	"github.com/JakeFAU/dealer-gatherer/internal/pipeline"
	"github.com/JakeFAU/dealer-gatherer/internal/product"
	memorypublisher "github.com/JakeFAU/dealer-gatherer/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/dealer-gatherer/internal/publisher/pubsub"
	memoryqueue "github.com/JakeFAU/dealer-gatherer/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/dealer-gatherer/internal/queue/pubsub"
	"github.com/JakeFAU/dealer-gatherer/internal/storage/gcs"
	"github.com/JakeFAU/dealer-gatherer/internal/storage/local"
	"github.com/JakeFAU/dealer-gatherer/internal/storage/memory"
	"github.com/JakeFAU/dealer-gatherer/internal/storage/postgres"
	"github.com/JakeFAU/dealer-gatherer/internal/worker"
)

// SourceStore is what the process needs from data-source persistence.
type SourceStore interface {
	crawler.SourceStore
	api.SourceReader
}

// App holds the services shared by the serve and gather commands.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	products   product.Store
	sources    SourceStore
	blobs      crawler.BlobStore
	queue      crawler.Queue
	publisher  crawler.Publisher
	engine     *crawler.Engine
	registry   *bots.Registry
	runner     *bots.Runner
	builder    *pipeline.Builder
	dispatcher *dispatcher.Dispatcher
	ready      api.ReadyFunc

	pubsubQueue *pubsubqueue.Queue
	closers     []func()
}

// New wires every service. A configured db.dsn selects the Postgres stores; otherwise
// products and sources stay in memory and the catalog comes from catalog.path.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	clock := system.New()
	ids := uuid.New()

	catalogSource, lookup, err := a.initStores(ctx)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(ctx, catalogSource)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	a.logger.Info("catalog loaded", zap.Int("makes", len(cat.Makes())))

	if err := a.initBlobs(ctx); err != nil {
		return err
	}
	if err := a.initMessaging(ctx); err != nil {
		return err
	}

	tr := collyfetcher.New(a.cfg.FetcherConfig(), a.logger)
	resolver := address.NewResolver(lookup, address.USParser{}, a.logger.Named("address"))
	a.builder = pipeline.NewBuilder(catalog.NewMatcher(cat), resolver, clock.Now, a.logger.Named("pipeline"))
	a.engine = crawler.New(a.cfg.EngineConfig(), crawler.Deps{
		Transport: tr,
		Builder:   a.builder,
		Products:  a.products,
		Sources:   a.sources,
		Blobs:     a.blobs,
		Clock:     clock,
		IDs:       ids,
	}, a.logger)
	a.registry = bots.NewRegistry()
	if err := inventory.Register(a.registry); err != nil {
		return fmt.Errorf("register bots: %w", err)
	}
	a.runner = bots.NewRunner(a.cfg.RunnerConfig(), tr, a.products, clock, a.logger)

	workers := make([]*worker.Worker, 0, a.cfg.Crawler.Workers)
	for i := 0; i < a.cfg.Crawler.Workers; i++ {
		workers = append(workers, a.newWorker(a.logger.Named("worker").With(zap.Int("index", i))))
	}
	a.dispatcher = dispatcher.New(a.queue, workers, ids, clock)
	return nil
}

func (a *App) initStores(ctx context.Context) (catalog.Source, address.Lookup, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory product and data-source stores", zap.String("catalog", a.cfg.Catalog.Path))
		a.products = memory.NewProductStore()
		a.sources = memory.NewSourceStore()
		return catalog.FileSource{Path: a.cfg.Catalog.Path}, nil, nil
	}

	pool, err := postgres.Connect(ctx, a.cfg.PostgresConfig())
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, pool.Close)
	a.ready = pool.Ping

	products, err := postgres.NewProductStore(pool, a.cfg.DB.ProductsTable)
	if err != nil {
		return nil, nil, err
	}
	sources, err := postgres.NewSourceStore(pool, a.cfg.DB.SourcesTable)
	if err != nil {
		return nil, nil, err
	}
	postal, err := postgres.NewPostalStore(pool, a.cfg.DB.PostalTable)
	if err != nil {
		return nil, nil, err
	}
	var catalogSource catalog.Source
	if a.cfg.Catalog.Path != "" {
		catalogSource = catalog.FileSource{Path: a.cfg.Catalog.Path}
	} else {
		catalogSource, err = postgres.NewCatalogSource(pool, a.cfg.DB.CatalogView)
		if err != nil {
			return nil, nil, err
		}
	}
	a.products = products
	a.sources = sources
	a.logger.Info("connected to postgres")
	return catalogSource, postal, nil
}

func (a *App) initBlobs(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local snapshot store: %w", err)
		}
		a.blobs = store
	case config.StorageGCS:
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.GCSPrefix})
		if err != nil {
			return fmt.Errorf("init gcs snapshot store: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		a.blobs = store
	default:
		a.blobs = memory.NewBlobStore()
	}
	a.logger.Info("snapshot store ready", zap.String("backend", a.cfg.Storage.Backend))
	return nil
}

func (a *App) initMessaging(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		q := memoryqueue.NewQueue(a.cfg.Crawler.QueueDepth)
		a.closers = append(a.closers, q.Close)
		a.queue = q
		a.publisher = memorypublisher.New(a.logger)
		return nil
	}

	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	})

	var topic *pubsub.Topic
	if a.cfg.PubSub.WorkTopic != "" {
		topic = client.Topic(a.cfg.PubSub.WorkTopic)
	}
	q := pubsubqueue.New(topic, client.Subscription(a.cfg.PubSub.WorkSubscription), a.logger)
	a.closers = append(a.closers, q.Stop)
	a.pubsubQueue = q
	a.queue = q

	pub := pubsubpublisher.New(client, map[string]string{"sender": "dealer-gatherer"})
	a.closers = append(a.closers, pub.Stop)
	a.publisher = pub
	a.logger.Info("using pubsub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("subscription", a.cfg.PubSub.WorkSubscription),
		zap.String("report_topic", a.cfg.PubSub.ReportTopic),
	)
	return nil
}

func (a *App) newWorker(logger *zap.Logger) *worker.Worker {
	return worker.New(worker.Deps{
		Queue:     a.queue,
		Engine:    a.engine,
		Registry:  a.registry,
		BotDeps:   bots.Deps{Builder: a.builder, Logger: logger},
		Runner:    a.runner,
		Sources:   a.sources,
		Publisher: a.publisher,
	}, a.cfg.WorkerConfig(), logger)
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry exposes the bot registry so site bots can be registered before serving.
func (a *App) Registry() *bots.Registry {
	return a.registry
}

// Sources returns the data-source store.
func (a *App) Sources() SourceStore {
	return a.sources
}

// Products returns the product store.
func (a *App) Products() product.Store {
	return a.products
}

// HTTPHandler builds the HTTP API.
func (a *App) HTTPHandler() http.Handler {
	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	return api.NewServer(a.dispatcher, a.sources, api.Config{
		APIKey: apiKey,
		Ready:  a.ready,
	}, a.logger).Handler()
}

// Port is the configured HTTP port.
func (a *App) Port() int {
	return a.cfg.Server.Port
}

// Gather executes one work order synchronously, outside the queue.
func (a *App) Gather(ctx context.Context, order crawler.WorkOrder) (crawler.DataSource, error) {
	if err := dispatcher.Validate(order); err != nil {
		return crawler.DataSource{}, err
	}
	return a.newWorker(a.logger.Named("gather")).Process(ctx, order), nil
}

// Serve runs the dispatcher, workers and the Pub/Sub receive loop until ctx ends.
func (a *App) Serve(ctx context.Context) {
	if a.pubsubQueue != nil {
		a.pubsubQueue.Start(ctx)
	}
	a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Workers))
	a.dispatcher.Run(ctx)
	a.logger.Info("dispatcher stopped")
}

// Close releases clients and pools in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}

// ShutdownTimeout is how long serve waits for in-flight HTTP requests.
func (a *App) ShutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout <= 0 {
		return 15 * time.Second
	}
	return a.cfg.Server.ShutdownTimeout
}
