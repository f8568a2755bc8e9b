// Package app wires the orchestrator together: config, logging, storage,
// ledger, blob store, transfer routing, host adapter, publisher and the
// HTTP surface, with hot-reload of the tunable parts.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"crosspost/internal/api"
	"crosspost/internal/blob"
	"crosspost/internal/config"
	"crosspost/internal/eventbus"
	"crosspost/internal/host"
	"crosspost/internal/ledger"
	"crosspost/internal/observability/pprof"
	"crosspost/internal/publisher"
	"crosspost/internal/runtime/supervisor"
	"crosspost/internal/storage"
	"crosspost/internal/transfer"
	logx "crosspost/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	led      *ledger.Ledger
	blobs    *blob.Store
	sessions *blob.SessionManager
	router   *transfer.Router
	coord    *transfer.Coordinator

	hst    host.Host
	bridge *host.Bridge // nil unless host.driver == "bridge"

	pub  *publisher.Service
	api  *api.Service
	prof *pprof.Service
	cron *cron.Cron
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	led := ledger.New(store, bus, log.With(logx.String("comp", "ledger")))

	tcfg, err := mapTransferConfig(cfg)
	if err != nil {
		return nil, err
	}
	grace, err := config.ParseDurationOrDefault("transfer.session_grace", cfg.Transfer.SessionGrace, blob.DefaultSessionGrace)
	if err != nil {
		return nil, err
	}

	blobs := blob.NewStore(log.With(logx.String("comp", "blob")))
	sessions := blob.NewSessionManager(blobs, grace, bus, log.With(logx.String("comp", "ingest")))
	router := transfer.NewRouter(tcfg, blobs, log.With(logx.String("comp", "router")))
	coord := transfer.NewCoordinator(router, blobs, bus, log.With(logx.String("comp", "coordinator")))

	hst, bridge, err := openHost(cfg.Host, log.With(logx.String("comp", "host")))
	if err != nil {
		return nil, err
	}

	pcfg, err := mapPublisherConfig(cfg)
	if err != nil {
		return nil, err
	}
	pub := publisher.New(pcfg, hst, led, log.With(logx.String("comp", "publisher")))
	pub.SetTargets(targetsFromConfig(cfg))

	acfg, err := mapAPIConfig(cfg)
	if err != nil {
		return nil, err
	}
	profCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	prof := pprof.New(profCfg, log.With(logx.String("comp", "pprof")))

	apiSvc := api.New(acfg, api.Deps{
		Publisher: pub,
		Ledger:    led,
		Sessions:  sessions,
		Blobs:     blobs,
		Router:    router,
		Coord:     coord,
	}, log.With(logx.String("comp", "api")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		led:      led,
		blobs:    blobs,
		sessions: sessions,
		router:   router,
		coord:    coord,
		hst:      hst,
		bridge:   bridge,
		pub:      pub,
		api:      apiSvc,
		prof:     prof,
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Publisher exposes the publish service (tests and diagnostics).
func (a *App) Publisher() *publisher.Service { return a.pub }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		// Pre-parse mapped sections so a bad hot-reload is rejected whole.
		if _, err := mapPublisherConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTransferConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapBlobSweep(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAPIConfig(cfg); err != nil {
			return err
		}
		_, err := mapPprofConfig(cfg)
		return err
	})

	if err := a.led.Load(a.sup.Context()); err != nil {
		a.log.Warn("ledger restore failed; starting empty", logx.Err(err))
	}

	a.pub.Start(a.sup.Context())

	if a.bridge != nil {
		a.sup.GoRestart("host.bridge", func(c context.Context) error {
			return a.bridge.Run(c)
		})
	}

	if err := a.api.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := a.prof.Start(); err != nil {
		return fmt.Errorf("pprof: %w", err)
	}

	if err := a.startBlobSweep(); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies the hot-reloadable parts of a validated config:
// logging and publisher tuning plus the target catalog. Storage, host and
// API listener changes need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	pcfg, err := mapPublisherConfig(cfg)
	if err != nil {
		a.log.Warn("invalid publisher config; keeping previous", logx.Err(err))
	} else {
		a.pub.Apply(pcfg, targetsFromConfig(cfg))
	}

	if profCfg, err := mapPprofConfig(cfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else if err := a.prof.Reconfigure(context.Background(), profCfg); err != nil {
		a.log.Warn("pprof reconfigure failed", logx.Err(err))
	}

	a.log.Info("config reloaded")
}

// startBlobSweep schedules TTL eviction of stored files. No TTL, no sweep.
func (a *App) startBlobSweep() error {
	ttl, schedule, err := mapBlobSweep(a.cfgm.Get())
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if n := a.blobs.SweepExpired(ttl); n > 0 {
			a.log.Info("blob sweep evicted files", logx.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("blob.sweep_schedule: %w", err)
	}
	c.Start()
	a.cron = c
	a.log.Info("blob sweep scheduled", logx.String("schedule", schedule), logx.Duration("ttl", ttl))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	step("api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.prof.Stop(c); return nil })
	step("publisher", 2*time.Second, func(c context.Context) error { a.pub.Stop(c); return nil })
	if a.cron != nil {
		step("cron", time.Second, func(c context.Context) error {
			select {
			case <-a.cron.Stop().Done():
			case <-c.Done():
			}
			return nil
		})
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
