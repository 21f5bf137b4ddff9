package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"digestbot/internal/config"
	"digestbot/pkg/logx"
)

const defaultCronSpec = "0 7 * * *"

// Daemon runs digest cycles on a cron schedule, reloading the pipeline when
// the config file changes. Intended to run under systemd; readiness and
// shutdown are signalled via sd_notify when available.
type Daemon struct {
	mgr    *config.Manager
	logsvc *logx.Service
	log    logx.Logger

	mu   sync.Mutex
	app  *App
	cron *cron.Cron
	spec string
	loc  *time.Location
}

func NewDaemon(mgr *config.Manager, logsvc *logx.Service, log logx.Logger) *Daemon {
	return &Daemon{mgr: mgr, logsvc: logsvc, log: log}
}

// Run blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.mgr.Get()
	if cfg == nil {
		return fmt.Errorf("daemon: config not loaded")
	}
	if err := d.apply(ctx, cfg); err != nil {
		return err
	}
	defer d.stopCron()

	// Best-effort: no-op outside systemd.
	if ok, err := sd.SdNotify(false, sd.SdNotifyReady); err == nil && ok {
		d.log.Debug("systemd notified ready")
	}

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- d.mgr.Watch(ctx, func(cfg *config.Config) {
			if err := d.apply(ctx, cfg); err != nil {
				d.log.Error("config change not applied", logx.Err(err))
			}
		})
	}()

	select {
	case <-ctx.Done():
		_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
		return nil
	case err := <-watchErr:
		if err != nil {
			return fmt.Errorf("daemon: config watcher: %w", err)
		}
		return nil
	}
}

// apply swaps in a new pipeline and reschedules if the cron spec or
// timezone changed. The running schedule survives a failed apply.
func (d *Daemon) apply(ctx context.Context, cfg *config.Config) error {
	a, err := New(cfg, d.log)
	if err != nil {
		return err
	}

	spec := cfg.Schedule.Cron
	if spec == "" {
		spec = defaultCronSpec
	}
	loc := time.UTC
	if cfg.Schedule.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Schedule.Timezone)
		if err != nil {
			return fmt.Errorf("daemon: invalid timezone %q: %w", cfg.Schedule.Timezone, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.logsvc.Apply(LogxConfig(cfg.Log))
	d.app = a

	if d.cron != nil && spec == d.spec && loc.String() == d.loc.String() {
		return nil
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() { d.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("daemon: invalid cron spec %q: %w", spec, err)
	}

	if d.cron != nil {
		d.cron.Stop()
	}
	c.Start()
	d.cron = c
	d.spec = spec
	d.loc = loc
	d.log.Info("schedule applied", logx.String("cron", spec), logx.String("tz", loc.String()))
	return nil
}

func (d *Daemon) runScheduled(ctx context.Context) {
	d.mu.Lock()
	a := d.app
	d.mu.Unlock()
	if a == nil {
		return
	}

	if err := a.RunOnce(ctx); err != nil {
		d.log.Error("scheduled run failed", logx.Err(err))
		a.NotifyError(ctx, err)
	}
}

func (d *Daemon) stopCron() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		// Stop returns once no job is mid-flight.
		<-d.cron.Stop().Done()
		d.cron = nil
	}
}
