package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/events"
	phttp "github.com/fyrsmithlabs/patternd/internal/http"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/snapshot"
)

func newServeCmd() *cobra.Command {
	var snapshotPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with snapshot reload, outcome events and metrics",
		Long: `Serve keeps the engine resident:

  - publishes the snapshot and, with snapshot.watch, republishes on change
  - applies outcome events from NATS when events.enabled is set
  - serves /health and /metrics on server.host:server.port

It stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if snapshotPath != "" {
				cfg.Snapshot.Path = snapshotPath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			s := &server{app: a}
			return s.run(ctx)
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot file or directory (default snapshot.path)")
	return cmd
}

// server holds the long-lived components of serve. Everything but app is
// optional.
type server struct {
	app      *app
	watcher  *snapshot.Watcher
	nc       *nats.Conn
	consumer *events.Consumer
	http     *phttp.Server
}

func (s *server) run(ctx context.Context) error {
	a := s.app
	log := a.logger.Underlying()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	if err := s.startSnapshot(ctx); err != nil {
		return err
	}
	if err := s.startEvents(ctx); err != nil {
		return err
	}

	metrics := phttp.NewMetrics(a.tel.Meter("github.com/fyrsmithlabs/patternd/internal/http"), log)
	srv, err := phttp.NewServer(s.health, log.Named("http"), &phttp.Config{
		Host:      a.cfg.Server.Host,
		Port:      a.cfg.Server.Port,
		RateLimit: a.cfg.Server.RateLimit,
	}, phttp.WithGatherer(a.registry), phttp.WithMetrics(metrics))
	if err != nil {
		return err
	}
	s.http = srv

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	a.logger.Info(ctx, "patternd serving",
		zap.String("addr", srv.Addr()),
		zap.String("snapshot", a.cfg.Snapshot.Path),
		zap.Bool("watch", s.watcher != nil),
		zap.Bool("events", s.consumer != nil))

	select {
	case <-ctx.Done():
		a.logger.Info(context.WithoutCancel(ctx), "shutdown requested")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// startSnapshot publishes the initial snapshot and starts the watcher.
func (s *server) startSnapshot(ctx context.Context) error {
	a := s.app
	path := a.cfg.Snapshot.Path
	if path == "" {
		a.logger.Warn(ctx, "no snapshot configured; rank requests fail until one is published")
		return nil
	}

	publish := func(ctx context.Context, patterns []pattern.Meta) error {
		stats, err := a.engine.Publish(ctx, patterns)
		if err != nil {
			return err
		}
		a.logger.Info(ctx, "snapshot published",
			zap.Int("accepted", stats.Accepted),
			zap.Int("rejected", stats.Rejected),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("seeded", stats.Seeded),
			zap.Bool("changed", stats.Changed))
		return nil
	}

	if !a.cfg.Snapshot.Watch {
		metas, err := snapshot.Load(path)
		if err != nil {
			return err
		}
		return publish(ctx, metas)
	}

	w, err := snapshot.NewWatcher(path, publish,
		snapshot.WithDebounce(a.cfg.Snapshot.Debounce),
		snapshot.WithWatcherLogger(a.logger.Underlying().Named("snapshot")),
	)
	if err != nil {
		return err
	}
	if err := w.Reload(ctx); err != nil {
		w.Stop()
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	s.watcher = w
	return nil
}

// startEvents subscribes the outcome-event consumer.
func (s *server) startEvents(ctx context.Context) error {
	a := s.app
	if !a.cfg.Events.Enabled {
		return nil
	}

	nc, err := connectNATS(a.cfg.Events,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				a.logger.Warn(ctx, "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.logger.Info(ctx, "nats reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return err
	}
	s.nc = nc

	c, err := events.NewConsumer(nc, a.engine,
		events.WithSubject(a.cfg.Events.Subject),
		events.WithQueue(a.cfg.Events.Queue),
		events.WithApplyTimeout(a.cfg.Events.ApplyTimeout),
		events.WithLogger(a.logger.Underlying().Named("events")),
	)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	s.consumer = c
	return nil
}

// health reports degraded until a snapshot is published or when telemetry
// export failed.
func (s *server) health(context.Context) phttp.HealthResponse {
	a := s.app
	resp := phttp.HealthResponse{
		Status:  phttp.StatusOK,
		Version: version,
		Trust: &phttp.TrustStatus{
			Tracked:    a.model.Len(),
			Generation: a.model.Generation(),
		},
	}

	snap := &phttp.SnapshotStatus{}
	if idx := a.engine.Current(); idx != nil {
		snap.Loaded = true
		snap.Version = strconv.FormatUint(idx.Version, 16)
		snap.Patterns = len(idx.Patterns)
	} else {
		resp.Status = phttp.StatusDegraded
	}
	resp.Snapshot = snap

	if s.consumer != nil {
		st := s.consumer.Stats()
		resp.Events = &phttp.EventsStatus{Applied: st.Applied, Rejected: st.Rejected}
		if s.nc != nil && !s.nc.IsConnected() {
			resp.Status = phttp.StatusDegraded
		}
	}

	th := a.tel.Health()
	resp.Telemetry = th
	if th.Degraded {
		resp.Status = phttp.StatusDegraded
	}
	return resp
}

// shutdown stops components in reverse start order.
func (s *server) shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
	}
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("nats drain: %w", err))
		}
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.app.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
