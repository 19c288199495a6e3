package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/cache"
	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/engine"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pack"
	"github.com/fyrsmithlabs/patternd/internal/ranking"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
	"github.com/fyrsmithlabs/patternd/internal/snapshot"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
	"github.com/fyrsmithlabs/patternd/internal/trust"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	registry *prometheus.Registry
	model    *trust.Model
	engine   *engine.Engine
}

// loadConfig reads the config file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newApp wires logging, telemetry, the trust store and the engine. Logs go
// to logOut so that stdout stays reserved for command output.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(&cfg.Logging,
		logging.WithWriter(logOut),
		logging.WithOTELProvider(tel.LoggerProvider()),
	)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := openStore(ctx, cfg.Trust)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	trustMetrics, err := trust.NewMetrics(tel.Meter(trust.InstrumentationName))
	if err != nil {
		logger.Warn(ctx, "trust metrics unavailable", zap.Error(err))
	}
	model, err := trust.NewModel(ctx, store,
		trust.WithZ(cfg.Trust.Z),
		trust.WithLogger(logger.Underlying().Named("trust")),
		trust.WithMetrics(trustMetrics),
	)
	if err != nil {
		_ = store.Close()
		a.Close(ctx)
		return nil, fmt.Errorf("loading trust model: %w", err)
	}
	a.model = model

	scrubber, err := secrets.New(cfg.Secrets)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("creating scrubber: %w", err)
	}

	rankingMetrics, err := ranking.NewMetrics(tel.Meter(ranking.InstrumentationName))
	if err != nil {
		logger.Warn(ctx, "ranking metrics unavailable", zap.Error(err))
	}
	packMetrics, err := pack.NewMetrics(tel.Meter(pack.InstrumentationName))
	if err != nil {
		logger.Warn(ctx, "pack metrics unavailable", zap.Error(err))
	}

	var scoring *ranking.ScoringCache
	if cfg.Cache.Enabled {
		scoring = cache.New[[]ranking.RankedPattern](cfg.Cache, cache.NewMetricsWithRegistry(a.registry))
	}

	eng, err := engine.New(model,
		engine.WithCache(scoring),
		engine.WithRankingConfig(cfg.Ranking),
		engine.WithPackOptions(cfg.Pack),
		engine.WithScrubber(scrubber),
		engine.WithRankingMetrics(rankingMetrics),
		engine.WithPackMetrics(packMetrics),
		engine.WithLogger(logger.Underlying().Named("engine")),
	)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.engine = eng
	return a, nil
}

func openStore(ctx context.Context, cfg config.TrustConfig) (trust.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := trust.OpenSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening trust store: %w", err)
		}
		return s, nil
	default:
		return trust.NewMemoryStore(), nil
	}
}

// loadSnapshot publishes the snapshot at path into the engine.
func (a *app) loadSnapshot(ctx context.Context, path string) (engine.PublishStats, error) {
	if path == "" {
		return engine.PublishStats{}, errors.New("no snapshot path: set snapshot.path or pass --snapshot")
	}
	metas, err := snapshot.Load(path)
	if err != nil {
		return engine.PublishStats{}, err
	}
	return a.engine.Publish(ctx, metas)
}

// Close releases the trust store, flushes telemetry and syncs the logger.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.model != nil {
		if err := a.model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing trust model: %w", err))
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
