package chronicle

import (
	"context"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/history"
	"github.com/autom8ter/chronicle/kv"
	_ "github.com/autom8ter/chronicle/kv/badger"
	"github.com/autom8ter/chronicle/kv/registry"
	_ "github.com/autom8ter/chronicle/kv/tikv"
	"github.com/autom8ter/chronicle/logger"
	"github.com/autom8ter/chronicle/replica"
	"github.com/autom8ter/chronicle/stream"
	chronicleredis "github.com/autom8ter/chronicle/stream/redis"
	"github.com/autom8ter/chronicle/watcher"
	"github.com/go-redis/redis/v9"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Engine records document histories from a change feed, keeps them consistent with bucket schemas and reverts
// documents to a recorded state
type Engine struct {
	cfg        Config
	db         kv.DB
	logger     logger.Logger
	registerer prometheus.Registerer
	now        func() time.Time
	histories  *history.Store
	replica    *replica.Replica
	feed       *stream.Log
	redis      redis.UniversalClient
	schemas    *SchemaCache
	metrics    *watcher.Metrics
}

// Option configures an Engine
type Option func(e *Engine)

// WithLogger sets the engine's logger. By default a json logger at the configured level is used.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRegisterer sets the prometheus registerer of the watcher metrics
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = registerer
	}
}

// WithClock sets the clock of the replica
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Open opens the configured kv database and wires the history store, replica and change feed
func Open(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		registerer: prometheus.DefaultRegisterer,
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		l, err := logger.New(cfg.LogLevel, map[string]any{"service": "chronicle"})
		if err != nil {
			return nil, errors.Wrap(err, errors.Internal, "failed to create logger")
		}
		e.logger = l
	}
	db, err := registry.Open(cfg.Provider, cfg.ProviderParams)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to open %s database", cfg.Provider)
	}
	e.db = db
	e.histories = history.New(db,
		history.WithMaxHistory(cfg.MaxHistory),
		history.WithRetryMaxTries(cfg.RetryMaxTries),
		history.WithLogger(e.logger),
	)
	var publisher stream.Publisher
	switch cfg.Feed {
	case FeedRedis:
		e.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := e.redis.Ping(ctx).Err(); err != nil {
			_ = db.Close(ctx)
			return nil, errors.Wrap(err, errors.Internal, "failed to connect to redis at %s", cfg.RedisAddr)
		}
		publisher = chronicleredis.NewPublisher(e.redis, cfg.RedisStream, 0)
	default:
		e.feed = stream.NewLog(db, stream.WithLogLogger(e.logger))
		publisher = e.feed
	}
	e.replica = replica.New(db, publisher,
		replica.WithDatabase(cfg.Database),
		replica.WithCollectionPrefix(cfg.CollectionPrefix()),
		replica.WithSchemaCollection(cfg.SchemaCollection),
		replica.WithClock(e.now),
	)
	if e.schemas, err = NewSchemaCache(e.replica.Current()); err != nil {
		return nil, err
	}
	if e.metrics, err = watcher.NewMetrics(e.registerer); err != nil {
		return nil, err
	}
	return e, nil
}

// Config returns the engine's config
func (e *Engine) Config() Config {
	return e.cfg
}

// Replica returns the versioned document and schema store
func (e *Engine) Replica() *replica.Replica {
	return e.replica
}

// Histories returns the history store
func (e *Engine) Histories() *history.Store {
	return e.histories
}

// Schemas returns the normalized schema source
func (e *Engine) Schemas() SchemaSource {
	return e.schemas
}

// GetHistories lists the histories of a document newest first
func (e *Engine) GetHistories(ctx context.Context, bucketID, documentID string) ([]history.Summary, error) {
	return e.histories.Summaries(ctx, bucketID, documentID)
}

func (e *Engine) subscribe(ctx context.Context, name string, pattern string) (stream.Source, error) {
	consumer := e.cfg.ConsumerPrefix + "-" + name
	if e.feed != nil {
		return e.feed.Subscribe(ctx, consumer, pattern)
	}
	return chronicleredis.NewSource(ctx, e.redis, e.sourceOpts(name, pattern), e.logger)
}

// sourceOpts names the redis consumer after the watcher so a restarted engine reads the entries it left pending
func (e *Engine) sourceOpts(name string, pattern string) chronicleredis.SourceOpts {
	consumer := e.cfg.ConsumerPrefix + "-" + name
	return chronicleredis.SourceOpts{
		Stream:    e.cfg.RedisStream,
		Group:     consumer,
		Consumer:  consumer,
		ClaimIdle: e.cfg.RedisClaimIdle,
		Patterns:  []string{pattern},
	}
}

// Run runs the document and schema watchers (and periodic compaction) until the context is cancelled or a watcher
// fails
func (e *Engine) Run(ctx context.Context) error {
	documents, err := e.subscribe(ctx, watcher.DocumentWatcherName, e.cfg.DocumentPattern)
	if err != nil {
		return err
	}
	defer documents.Close(ctx)
	schemas, err := e.subscribe(ctx, watcher.SchemaWatcherName, e.cfg.SchemaCollection)
	if err != nil {
		return err
	}
	defer schemas.Close(ctx)
	opts := watcher.Options{
		Reader:        e.replica.Delayed(e.cfg.Staleness),
		Histories:     e.histories,
		Logger:        e.logger,
		Metrics:       e.metrics,
		RetryMaxTries: e.cfg.RetryMaxTries,
	}
	documentOpts := opts
	documentOpts.Source = documents
	documentWatcher, err := watcher.NewDocumentWatcher(documentOpts, e.cfg.CollectionPrefix())
	if err != nil {
		return err
	}
	schemaOpts := opts
	schemaOpts.Source = schemas
	schemaWatcher, err := watcher.NewSchemaWatcher(schemaOpts, e.cfg.SchemaCollection, e.schemas.Evict)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return documentWatcher.Run(ctx)
	})
	g.Go(func() error {
		return schemaWatcher.Run(ctx)
	})
	if e.cfg.CompactInterval > 0 {
		g.Go(func() error {
			return e.compactLoop(ctx)
		})
	}
	return g.Wait()
}

func (e *Engine) compactLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Compact(ctx); err != nil {
				e.logger.Error(ctx, "compaction failed", err, nil)
			}
		}
	}
}

// Compact removes document and schema revisions the snapshot reader can no longer observe and change feed events
// acknowledged by every watcher
func (e *Engine) Compact(ctx context.Context) error {
	revisions, err := e.replica.Compact(ctx, e.cfg.Staleness)
	if err != nil {
		return err
	}
	var events int
	if e.feed != nil {
		if events, err = e.feed.Trim(ctx); err != nil {
			return err
		}
	}
	e.logger.Debug(ctx, "compacted", map[string]any{
		"revisions": revisions,
		"events":    events,
	})
	return nil
}

// Close closes the change feed and the database
func (e *Engine) Close(ctx context.Context) error {
	e.schemas.Close()
	if e.feed != nil {
		if err := e.feed.Close(ctx); err != nil {
			return err
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			return err
		}
	}
	e.logger.Sync(ctx)
	return e.db.Close(ctx)
}
