// Package worker executes work orders: it picks a site bot or the generic engine, records
// the data-source outcome and publishes the report.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/bots"
	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives the final data-source report; empty disables publishing.
	Topic string
	// SaveTimeout bounds status persistence and publishing after a run.
	SaveTimeout time.Duration
}

// Engine runs generic crawls.
type Engine interface {
	Gather(ctx context.Context, ds crawler.DataSource) crawler.DataSource
	Build(ctx context.Context, ds crawler.DataSource, urls []string) crawler.DataSource
}

// BotRunner runs a registered site bot.
type BotRunner interface {
	Run(ctx context.Context, bot bots.Bot, ds crawler.DataSource) crawler.DataSource
}

// Worker consumes queue items and executes them one at a time.
type Worker struct {
	queue     crawler.Queue
	engine    Engine
	registry  *bots.Registry
	botDeps   bots.Deps
	runner    BotRunner
	sources   crawler.SourceStore
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// Deps groups the Worker collaborators. Registry, Runner, Sources and Publisher are optional.
type Deps struct {
	Queue     crawler.Queue
	Engine    Engine
	Registry  *bots.Registry
	BotDeps   bots.Deps
	Runner    BotRunner
	Sources   crawler.SourceStore
	Publisher crawler.Publisher
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 30 * time.Second
	}
	return &Worker{
		queue:     deps.Queue,
		engine:    deps.Engine,
		registry:  deps.Registry,
		botDeps:   deps.BotDeps,
		runner:    deps.Runner,
		sources:   deps.Sources,
		publisher: deps.Publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued work order",
			zap.String("work_order_id", item.Order.ID),
			zap.Int64("data_source_id", item.Order.Source.ID),
			zap.Int("attempt", item.Attempt),
		)
		w.Process(ctx, item.Order)
	}
}

// Process executes one work order and returns the reported data source.
func (w *Worker) Process(ctx context.Context, order crawler.WorkOrder) crawler.DataSource {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(
		zap.String("work_order_id", order.ID),
		zap.String("type", string(order.Type)),
		zap.Int64("data_source_id", order.Source.ID),
	)
	logger.Info("work order started", zap.String("url", order.Source.URL), zap.String("bot_key", order.Source.BotKey))

	ds := w.execute(ctx, order, logger)
	ds.FailureCount = nextFailureCount(order.Source.FailureCount, ds)
	metrics.ObserveWorkOrder(string(order.Type), string(ds.Status))

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.SaveTimeout)
	defer cancel()
	w.saveStatus(saveCtx, ds, logger)
	w.publishReport(saveCtx, order, ds, logger)

	logger.Info("work order finished",
		zap.String("status", string(ds.Status)),
		zap.String("reason", string(ds.Reason)),
		zap.Int("failure_count", ds.FailureCount),
	)
	return ds
}

func (w *Worker) execute(ctx context.Context, order crawler.WorkOrder, logger *zap.Logger) crawler.DataSource {
	ds := order.Source
	if key := ds.BotKey; key != "" && w.registry != nil && w.runner != nil {
		deps := w.botDeps
		deps.Logger = logger
		bot, err := w.registry.New(key, deps)
		if err == nil {
			return w.runner.Run(ctx, bot, ds)
		}
		logger.Warn("bot unavailable, using generic crawler", zap.String("bot_key", key), zap.Error(err))
	}
	if order.Type == crawler.OrderBuild {
		return w.engine.Build(ctx, ds, order.URLsToWork)
	}
	return w.engine.Gather(ctx, ds)
}

// nextFailureCount resets on success and skips shutdowns, which say nothing about the site.
func nextFailureCount(previous int, ds crawler.DataSource) int {
	switch {
	case ds.Status == crawler.StatusSuccess:
		return 0
	case ds.Reason == crawler.ReasonShutdown:
		return previous
	default:
		return previous + 1
	}
}

func (w *Worker) saveStatus(ctx context.Context, ds crawler.DataSource, logger *zap.Logger) {
	if w.sources == nil {
		return
	}
	if err := w.sources.SaveStatus(ctx, ds); err != nil {
		logger.Error("save data source status failed", zap.Error(err))
	}
}

// Report is the message published for every finished work order.
type Report struct {
	WorkOrderID string             `json:"work_order_id"`
	Type        crawler.OrderType  `json:"type"`
	DataSource  crawler.DataSource `json:"data_source"`
	FinishedAt  time.Time          `json:"finished_at"`
}

func (w *Worker) publishReport(ctx context.Context, order crawler.WorkOrder, ds crawler.DataSource, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	report := Report{WorkOrderID: order.ID, Type: order.Type, DataSource: ds, FinishedAt: ds.LastRun}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, report)
	if err != nil {
		logger.Error("publish report failed", zap.Error(fmt.Errorf("publish %s: %w", w.cfg.Topic, err)))
		return
	}
	logger.Debug("report published", zap.String("message_id", id))
}
