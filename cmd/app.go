package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"auto_blog_publisher/clock"
	"auto_blog_publisher/config"
	"auto_blog_publisher/drafts"
	"auto_blog_publisher/generator"
	"auto_blog_publisher/logging"
	"auto_blog_publisher/model"
	"auto_blog_publisher/publisher"
	"auto_blog_publisher/quota"
	"auto_blog_publisher/scheduler"
	"auto_blog_publisher/store"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.MongoStore
	scheduler *scheduler.Scheduler
	drafts    *drafts.Service
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	st, err := store.ConnectMongo(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureIndexes(connectCtx); err != nil {
		_ = st.Close(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	clk := clock.Real{Location: cfg.Location()}
	tracker := quota.NewTracker(st, clk)
	factory := generator.Factory{Settings: cfg.LLMSettings()}

	sched := scheduler.New(cfg.SchedulerConfig(), scheduler.Deps{
		Store: st,
		Quota: tracker,
		Generators: func(account model.Account) (scheduler.Generator, error) {
			agent, err := factory.ForKey(account.APIKey)
			if err != nil {
				return nil, err
			}
			return agent, nil
		},
		Clock:  clk,
		Logger: logger,
	})
	adapter := publisher.NewAdapter(&http.Client{Timeout: cfg.Publisher.Timeout}, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		scheduler: sched,
		drafts:    drafts.NewService(st, adapter, tracker, clk, logger),
	}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("close mongo", slog.Any("error", err))
	}
}
