package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/beacon/internal/automation"
	"github.com/hpungsan/beacon/internal/channel"
	"github.com/hpungsan/beacon/internal/config"
	"github.com/hpungsan/beacon/internal/db"
	"github.com/hpungsan/beacon/internal/focus"
	"github.com/hpungsan/beacon/internal/httpclient"
	"github.com/hpungsan/beacon/internal/logging"
	"github.com/hpungsan/beacon/internal/ops"
	"github.com/hpungsan/beacon/internal/session"
)

// shutdownTimeout bounds unsubscribing live sessions on exit.
const shutdownTimeout = 5 * time.Second

// runtime wires the store, broker, automation engine, live sessions and
// focus timer shared by every surface.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *db.Store
	broker   channel.Broker
	env      *ops.Env
	sessions *session.Manager
	timer    *focus.Timer
}

// openRuntime opens the database under baseDir and builds the pipeline.
// An empty cfg.RedisURL selects the in-process hub.
func openRuntime(ctx context.Context, baseDir string, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	logger = logging.OrNop(logger)

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)
	store := db.NewStore(database)

	var broker channel.Broker
	if cfg.RedisURL != "" {
		rb, err := channel.NewRedisBroker(ctx, cfg.RedisURL, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		broker = rb
	} else {
		broker = channel.NewHub(logger)
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.WebhookTimeout()
	client := httpclient.NewClient(httpCfg, logger)

	dispatcher := automation.NewDefaultDispatcher(automation.Deps{
		HTTP: client,
		Notifier: automation.MultiNotifier{
			automation.NewLogNotifier(logger),
			automation.NewChannelNotifier(broker),
		},
		IntegrationEndpoints: cfg.IntegrationEndpoints,
		Logger:               logger,
	})
	cache := automation.NewCachedHookSource(store, cfg.HookCacheTTL())
	engine := automation.NewEngine(cache, dispatcher, logger)

	timer, err := focus.NewTimer(logger)
	if err != nil {
		broker.Close()
		store.Close()
		return nil, fmt.Errorf("failed to create focus timer: %w", err)
	}
	timer.Start()

	sessions := session.NewManager(session.Options{
		Store:             store,
		Broker:            broker,
		Engine:            engine,
		Logger:            logger,
		HistoryBufferSize: cfg.HistoryBufferSize,
		HistoryLoadLimit:  cfg.HistoryLoadLimit,
	})
	sessions.OnSession = func(s *session.Session) {
		timer.Attach(s)
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		broker: broker,
		env: &ops.Env{
			Store:  store,
			Engine: engine,
			Cache:  cache,
			Now:    time.Now,
		},
		sessions: sessions,
		timer:    timer,
	}, nil
}

// Close unsubscribes sessions, stops the timer and closes the broker and
// database, in that order.
func (r *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return stderrors.Join(
		r.sessions.Close(ctx),
		r.timer.Stop(),
		r.broker.Close(),
		r.store.Close(),
	)
}
