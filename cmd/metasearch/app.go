package main

import (
	"context"
	"fmt"
	"log/slog"

	"metasearch/internal/adapter/answerer"
	"metasearch/internal/adapter/bang"
	"metasearch/internal/adapter/engine"
	"metasearch/internal/adapter/network"
	"metasearch/internal/infra/config"
	"metasearch/internal/infra/logger"
	"metasearch/internal/infra/tracer"
	"metasearch/internal/plugin"
	"metasearch/internal/usecase/scheduling"
	"metasearch/internal/usecase/search"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	networks  *network.Registry
	engines   *engine.Registry
	answerers *answerer.Registry
	bangs     *bang.Table
	plugins   *plugin.Manager

	closers []func(context.Context) error
}

// newApp loads the config at path and builds every component from it.
// The caller must call close.
func newApp(ctx context.Context, path string) (*app, error) {
	// 1. Config
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &app{cfg: cfg}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.logger = log
	a.closers = append(a.closers, func(context.Context) error { return logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, tracerShutdown)

	// 3. Networks
	a.networks, err = network.Initialize(cfg.Engines, cfg.Outgoing, log)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("network: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.networks.Close()
		return nil
	})

	// 4. Engines
	a.engines, err = engine.Load(cfg.Engines, engine.Deps{
		Network:        func(name string) engine.Doer { return a.networks.ForEngine(name) },
		DefaultTimeout: cfg.Outgoing.RequestTimeout,
		Logger:         log,
	})
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("engines: %w", err)
	}

	// 5. Answerers, bangs, plugins
	a.answerers = answerer.Default()
	a.bangs = bang.New(cfg.Bangs)
	a.plugins = plugin.NewManager(log)
	if err := plugin.LoadBuiltins(a.plugins, cfg.Plugins); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("plugins: %w", err)
	}

	return a, nil
}

// searchDeps returns the collaborators of a search.
func (a *app) searchDeps() search.Deps {
	return search.Deps{
		Processors:        a.engines,
		Answerers:         a.answerers,
		Bangs:             a.bangs,
		MaxRequestTimeout: a.cfg.Outgoing.MaxRequestTimeout,
		Weights:           a.engines.Weights(),
		Logger:            a.logger,
	}
}

// queryOptions returns the query defaults from the search config.
func (a *app) queryOptions() search.QueryOptions {
	return search.QueryOptions{
		Lang:            a.cfg.Search.DefaultLang,
		PageNo:          1,
		SafeSearch:      a.cfg.Search.SafeSearch,
		DefaultCategory: a.cfg.Search.DefaultCategory,
	}
}

// newChecker builds an engine checker over every loaded engine.
func (a *app) newChecker() *scheduling.Checker {
	names := a.engines.Names()
	targets := make([]scheduling.Checkable, 0, len(names))
	for _, name := range names {
		if p, err := a.engines.Get(name); err == nil {
			targets = append(targets, p)
		}
	}
	return scheduling.NewChecker(targets, a.cfg.Checker.Query, a.logger)
}

// close releases the components in reverse order of creation.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}
