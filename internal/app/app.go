// Package app wires configuration, storage, and services into one
// runnable daemon.
package app

import (
	"context"
	"fmt"
	"time"

	"postflow/internal/config"
	"postflow/internal/eventbus"
	"postflow/internal/notify"
	"postflow/internal/pipeline"
	"postflow/internal/publish"
	"postflow/internal/storage"
	"postflow/internal/trigger"
	logx "postflow/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus      eventbus.Bus
	store    storage.Store
	pipeline *pipeline.Service
	notifier *notify.Service
	trig     *trigger.Service

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		_, err := buildSchedule(c.Schedule)
		return err
	})

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log, bus: eventbus.New()}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	timeout, err := config.ParseDurationField("publisher.timeout", cfg.Publisher.Timeout)
	if err != nil {
		return err
	}
	client, err := publish.NewClient(publish.ClientConfig{
		BaseURL:    cfg.Publisher.BaseURL,
		Token:      cfg.Publisher.Token,
		RatePerSec: cfg.Publisher.RatePerSec,
		Timeout:    timeout,
	}, a.log.With(logx.String("comp", "publisher")))
	if err != nil {
		return err
	}

	var pausePoll time.Duration
	if cfg.Pipeline != nil {
		pausePoll, err = config.ParseDurationField("pipeline.pause_poll", cfg.Pipeline.PausePoll)
		if err != nil {
			return err
		}
	}

	a.pipeline = pipeline.New(pipeline.Config{PausePoll: pausePoll}, pipeline.Deps{
		Enhancer:  publish.PassthroughEnhancer{},
		Publisher: client,
		Analytics: client,
		Store:     a.store,
		Bus:       a.bus,
		Log:       a.log.With(logx.String("comp", "pipeline")),
	})

	ncfg := notify.Config{}
	if cfg.Notifier != nil {
		ncfg = notify.Config{Enabled: cfg.Notifier.Enabled, Token: cfg.Notifier.Token, ChatID: cfg.Notifier.ChatID}
	}
	a.notifier = notify.New(ncfg, a.log.With(logx.String("comp", "notify")))

	tcfg := trigger.Config{}
	if cfg.Trigger != nil {
		tcfg = trigger.Config{
			Enabled:         cfg.Trigger.Enabled,
			Spec:            cfg.Trigger.Spec,
			QueueFile:       cfg.Trigger.QueueFile,
			CheckDuplicates: cfg.Trigger.CheckDuplicates,
			Timezone:        cfg.Schedule.Timezone,
		}
	}
	a.trig = trigger.New(tcfg, a.startRun, a.log.With(logx.String("comp", "trigger")))
	return nil
}

// startRun is the trigger's entry into the pipeline: it reads the
// current committed config for schedule and destination.
func (a *App) startRun(ctx context.Context, queue []pipeline.QueueItem, checkDuplicates bool) error {
	cfg := a.cfgMgr.Get()
	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}
	sched, err := buildSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	return a.pipeline.Start(ctx, pipeline.RunRequest{
		Queue:           queue,
		Destination:     buildDestination(cfg.Publisher.Destination),
		Schedule:        sched,
		CheckDuplicates: checkDuplicates,
	})
}

// Pipeline exposes the run service for external control surfaces.
func (a *App) Pipeline() *pipeline.Service { return a.pipeline }

func (a *App) Start(ctx context.Context) error {
	if err := a.notifier.Start(ctx, a.bus); err != nil {
		return err
	}
	if err := a.trig.Start(ctx); err != nil {
		return err
	}

	// Watch the config file; logging changes apply live.
	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	sub := a.cfgMgr.Subscribe(2)
	go func() {
		defer close(a.watchDone)
		defer a.cfgMgr.Unsubscribe(sub)
		go func() {
			if err := a.cfgMgr.Watch(wctx); err != nil {
				a.log.Warn("config watch stopped", logx.Err(err))
			}
		}()
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File:    logx.FileConfig(cfg.Logging.File),
				})
				a.log.Info("config reloaded")
			}
		}
	}()

	a.log.Info("postflow started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	// Stop intake first, then let any active run wind down cooperatively.
	a.trig.Stop(ctx)
	if a.pipeline.State() == pipeline.StateRunning || a.pipeline.State() == pipeline.StatePaused {
		a.pipeline.RequestCancel()
	}
	a.pipeline.Wait()
	a.notifier.Stop(ctx)

	if a.watchCancel != nil {
		a.watchCancel()
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("postflow stopped")
	return a.logSvc.Close()
}
