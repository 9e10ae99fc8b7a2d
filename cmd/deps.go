package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nocnoc-data/predize-sync/internal/notify"
	"github.com/nocnoc-data/predize-sync/internal/pipeline"
	"github.com/nocnoc-data/predize-sync/internal/topic"
	"github.com/nocnoc-data/predize-sync/internal/warehouse"
	"github.com/nocnoc-data/predize-sync/pkg/predize"
)

// initStore connects to the warehouse and applies migrations.
func initStore(ctx context.Context) (warehouse.Store, error) {
	if cfg.Warehouse.DatabaseURL == "" {
		return nil, eris.New("warehouse database_url is not configured")
	}
	store, err := warehouse.NewPostgres(ctx, cfg.Warehouse.DatabaseURL, &warehouse.PoolConfig{
		MaxConns: cfg.Warehouse.MaxConns,
		MinConns: cfg.Warehouse.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "connect warehouse")
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, eris.Wrap(err, "migrate warehouse")
	}
	return store, nil
}

// initPredize logs into the helpdesk API.
func initPredize(ctx context.Context) (predize.Client, error) {
	opts := []predize.Option{}
	if cfg.Predize.BaseURL != "" {
		opts = append(opts, predize.WithBaseURL(cfg.Predize.BaseURL))
	}
	if cfg.Predize.RateRPS > 0 {
		opts = append(opts, predize.WithRateLimit(cfg.Predize.RateRPS))
	}
	client, err := predize.Login(ctx, cfg.Predize.Email, cfg.Predize.Password, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "predize login")
	}
	return client, nil
}

// initClassifier builds the model-server client and loads the topic names.
func initClassifier() (topic.Classifier, topic.NameMap, error) {
	names, err := topic.LoadNames(cfg.Model.NamesPath)
	if err != nil {
		return nil, nil, eris.Wrap(err, "load topic names")
	}
	timeout := 60 * time.Second
	if cfg.Model.TimeoutSec > 0 {
		timeout = time.Duration(cfg.Model.TimeoutSec) * time.Second
	}
	clf := topic.NewModelClient(cfg.Model.ServerURL,
		topic.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return clf, names, nil
}

// initPipeline wires the full driver for the run command. The ingest and
// backfill commands build slimmer variants themselves.
func initPipeline(ctx context.Context) (*pipeline.Pipeline, func(), error) {
	store, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err := initPredize(ctx)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	clf, names, err := initClassifier()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	notifier := notify.FromURL(cfg.Notify.WebhookURL)
	p := pipeline.New(cfg, client, store, clf, names, notifier)
	return p, store.Close, nil
}
