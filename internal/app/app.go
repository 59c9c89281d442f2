// Package app wires the daemon together: config, logging, storage,
// delivery transport, the dispatcher and the HTTP API, plus hot reload
// and ordered shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"remindd/internal/config"
	"remindd/internal/httpapi"
	"remindd/internal/metrics"
	"remindd/internal/observability/pprof"
	"remindd/internal/services/dispatch"
	"remindd/internal/services/reminders"
	"remindd/internal/storage"
	"remindd/internal/transport"
	"remindd/internal/transport/telegram"
	logx "remindd/pkg/logx"
)

// StopReason is recorded in the shutdown log line.
type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store storage.Store
	tr    transport.Transport
	met   *metrics.Metrics

	svc   *reminders.Service
	disp  *dispatch.Service
	api   *httpapi.Server
	prof  *pprof.Service

	runCtx    context.Context
	runCancel context.CancelFunc
	errCh     chan error
}

// New loads the config file and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := storage.Open(sc)
	if err != nil {
		logs.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	tr, err := buildTransport(cfg.Delivery, log)
	if err != nil {
		store.Close()
		logs.Close()
		return nil, err
	}

	met := metrics.New()
	svc := reminders.New(store, nil, tr, nil, log.With(logx.String("comp", "reminders")))
	disp := dispatch.New(dispatch.FromConfig(cfg.Dispatcher), store, tr, nil,
		log.With(logx.String("comp", "dispatcher")), met)

	var api *httpapi.Server
	if cfg.HTTP.Enabled {
		api = httpapi.New(cfg.HTTP, svc, met, log.With(logx.String("comp", "http")))
	}

	prof := pprof.New(pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgm:  cfgm,
		logs:  logs,
		log:   log,
		store: store,
		tr:    tr,
		met:   met,
		svc:   svc,
		disp:  disp,
		api:   api,
		prof:  prof,
		errCh: make(chan error, 4),
	}, nil
}

// Service exposes the reminder service for embedding callers.
func (a *App) Service() *reminders.Service { return a.svc }

// Dispatcher exposes the dispatch loop, mainly so operational tooling
// can force a cycle.
func (a *App) Dispatcher() *dispatch.Service { return a.disp }

// Start launches the dispatcher, the HTTP API, the config file watcher
// and the reload fan-out. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.disp.Start(a.runCtx)
	if a.api != nil {
		a.api.Start(a.errCh)
	}
	if err := a.prof.Start(); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	go func() {
		if err := a.cfgm.Watch(a.runCtx); err != nil && a.runCtx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()
	sub := a.cfgm.Subscribe(8)
	go a.reloadLoop(a.runCtx, sub)

	a.log.Info("started")
	return nil
}

// Err reports a fatal component error, if one has happened.
func (a *App) Err() <-chan error { return a.errCh }

// Stop shuts components down in dependency order, each step bounded so
// one stalled component cannot hang the whole exit.
func (a *App) Stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	if a.api != nil {
		step("http", 5*time.Second, a.api.Stop)
	}
	step("pprof", 1*time.Second, func(c context.Context) error { a.prof.Stop(c); return nil })
	step("dispatcher", 5*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	// Cancel the shared run context only once the dispatcher has drained:
	// its in-flight item runs on a child of runCtx and must finish, not
	// get aborted mid store call. The watcher and reload loops exit here.
	if a.runCancel != nil {
		a.runCancel()
	}
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
}

func mapStorageConfig(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.EffectiveDriver(),
		Path:        c.Path,
		BusyTimeout: busy,
	}, nil
}

func buildTransport(c config.DeliveryConfig, log logx.Logger) (transport.Transport, error) {
	switch ch := c.EffectiveChannel(); ch {
	case "log":
		return transport.NewLog(log.With(logx.String("comp", "delivery"))), nil
	case "telegram":
		if c.Telegram == nil {
			return nil, fmt.Errorf("delivery.telegram config is required for the telegram channel")
		}
		return telegram.New(telegram.Config{
			Token:  c.Telegram.Token,
			ChatID: c.Telegram.ChatID,
		}, log.With(logx.String("comp", "delivery")))
	default:
		return nil, fmt.Errorf("unknown delivery channel %q", ch)
	}
}
