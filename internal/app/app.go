// Package app assembles the orchestrator and its collaborators from loaded
// configuration.
package app

import (
	"fmt"

	"klinevault/internal/cache"
	"klinevault/internal/config"
	"klinevault/internal/fcp"
	"klinevault/internal/fetch"
	"klinevault/internal/journal"
	"klinevault/internal/market"
	"klinevault/internal/ratelimit"
	"klinevault/internal/source"
)

// App owns the wired component graph and its closable resources.
type App struct {
	Orchestrator *fcp.Orchestrator

	tracker    *ratelimit.Tracker
	cacheStore *cache.Store
	journalDB  *journal.Store
}

// New builds the full stack for one provider/market/chart coordinate.
func New(cfg *config.Config, m market.MarketType, chart market.ChartType) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var store *cache.Store
	if cfg.Cache.Enabled {
		var err error
		store, err = cache.NewStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
	}

	tracker := ratelimit.NewTracker(cfg.RateLimit.WeightPerMinute, nil)
	fetcher := fetch.NewManager(fetch.Config{
		Provider:       "binance",
		MaxConcurrency: cfg.Fetch.MaxConcurrency,
		MaxRetries:     cfg.Fetch.MaxRetries,
		BackoffMin:     cfg.Fetch.BackoffMin,
		BackoffMax:     cfg.Fetch.BackoffMax,
	}, tracker)

	rest, err := source.NewRESTSource(source.RESTConfig{
		SpotBaseURL:    cfg.REST.SpotBaseURL,
		FuturesBaseURL: cfg.REST.FuturesBaseURL,
		Timeout:        cfg.REST.Timeout,
		ProxyURL:       cfg.REST.ProxyURL,
		KlineWeight:    cfg.RateLimit.KlineWeight,
	})
	if err != nil {
		return nil, fmt.Errorf("build REST source: %w", err)
	}
	vision := source.NewVisionSource(source.VisionConfig{
		BaseURL: cfg.Vision.BaseURL,
		Timeout: cfg.Vision.Timeout,
	})

	var jstore *journal.Store
	if cfg.Journal.Enabled {
		jstore, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	orch, err := fcp.New(fcp.Config{
		Provider:       "binance",
		Market:         m,
		Chart:          chart,
		CachingEnabled: cfg.Cache.Enabled,
		VisionDelay:    cfg.Vision.DelayThreshold,
	}, fcp.Deps{
		Cache:   store,
		Fetcher: fetcher,
		Vision:  vision,
		REST:    rest,
		Journal: jstore,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		if jstore != nil {
			_ = jstore.Close()
		}
		return nil, err
	}

	return &App{Orchestrator: orch, tracker: tracker, cacheStore: store, journalDB: jstore}, nil
}

// ApplyRateLimit updates the provider weight ceiling at runtime, for config
// hot reload.
func (a *App) ApplyRateLimit(weightPerMinute int) {
	a.tracker.SetProviderLimit("binance", weightPerMinute)
}

func (a *App) Close() error {
	var firstErr error
	if a.cacheStore != nil {
		if err := a.cacheStore.Close(); err != nil {
			firstErr = err
		}
	}
	if a.journalDB != nil {
		if err := a.journalDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
