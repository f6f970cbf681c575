// Package app wires configuration, storage, the platform adapter, the
// schedule registry, and the command surface into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"ackbot/internal/bot"
	"ackbot/internal/config"
	"ackbot/internal/relay"
	"ackbot/internal/runtime/supervisor"
	"ackbot/internal/schedule"
	"ackbot/internal/storage"
	kit "ackbot/internal/transport"
	"ackbot/internal/transport/telegram"
	logx "ackbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	adapter  *telegram.Adapter
	bulletin *relay.Bulletin
	registry *schedule.Registry
	bot      *bot.Bot

	updates chan kit.Update
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink disabled, point it at its chat, then
	// apply the final config. Avoids a spurious warning when the sink is
	// enabled before a target exists.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logs, log := logx.New(bootCfg, adapter)
	if cfg.Telegram.GroupLog != 0 {
		logs.SetTelegramTarget(cfg.Telegram.GroupLog)
	}
	logs.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
		DefaultTZ:   cfg.Schedule.DefaultTZ,
		DefaultHHMM: "08:00",
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bulletin := relay.NewBulletin(store, cfg.Telegram.BulletinChatID)
	rel := relay.New(store, adapter, bulletin, log.With(logx.String("comp", "relay")))

	promptTimeout, err := config.ParseDurationOrDefault("schedule.prompt_timeout", cfg.Schedule.PromptTimeout, 30*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	registry := schedule.New(schedule.Config{
		DefaultTZ:     cfg.Schedule.DefaultTZ,
		PromptTimeout: promptTimeout,
	}, store, bot.NewPrompter(adapter, cfg.Schedule.PromptText), log.With(logx.String("comp", "schedule")))

	gate := bot.NewGate(adapter, cfg.Telegram.GroupChatID, cfg.Admin.UserIDs, cfg.Admin.Usernames, log.With(logx.String("comp", "admin")))
	b := bot.New(bot.Config{
		GroupChatID: cfg.Telegram.GroupChatID,
		DefaultTZ:   cfg.Schedule.DefaultTZ,
	}, store, registry, bulletin, rel, adapter, gate, log.With(logx.String("comp", "bot")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		store:    store,
		adapter:  adapter,
		bulletin: bulletin,
		registry: registry,
		bot:      b,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.updates = make(chan kit.Update, 128)

	a.sup.Go("telegram.poller", func(c context.Context) error {
		if err := a.adapter.Start(c, a.updates); err != nil {
			return err
		}
		<-c.Done()
		return nil
	})
	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Dispatch(c, a.updates)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	cfgCh := a.cfgm.Subscribe(1)
	a.sup.Go("config.apply", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				a.cfgm.Unsubscribe(cfgCh)
				return nil
			case cfg, ok := <-cfgCh:
				if !ok {
					return nil
				}
				a.applyConfig(cfg)
			}
		}
	})

	// Command menu sync is cosmetic; a failure must not block startup.
	a.sup.Go("telegram.menu", func(c context.Context) error {
		mctx, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.bot.MenuCommands()); err != nil {
			a.log.Warn("command menu sync failed", logx.Err(err))
		}
		return nil
	})

	a.registry.Start()
	scheduled, failed := a.registry.RescheduleAll(ctx)
	a.log.Info("schedules restored",
		logx.Int("scheduled", scheduled),
		logx.Int("failed", failed))

	// Readiness comes after the reschedule pass, not before.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("started", logx.Int("active_triggers", a.registry.Active()))
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	logCfg := mapLogConfig(cfg)
	if cfg.Telegram.GroupLog != 0 {
		a.logs.SetTelegramTarget(cfg.Telegram.GroupLog)
	}
	a.logs.Apply(logCfg)
	a.bot.SetAdmins(cfg.Admin.UserIDs, cfg.Admin.Usernames)
	a.bulletin.SetOverride(cfg.Telegram.BulletinChatID)
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a.registry.Stop(sctx)
	if a.sup != nil {
		if err := a.sup.Stop(sctx); err != nil {
			a.log.Warn("shutdown wait expired", logx.Err(err))
		}
	}
	if err := a.adapter.Stop(sctx); err != nil {
		a.log.Warn("adapter stop failed", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		return fmt.Errorf("log close: %w", err)
	}
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}
