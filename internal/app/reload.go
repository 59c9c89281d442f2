package app

import (
	"context"

	"remindd/internal/config"
	"remindd/internal/services/dispatch"
	logx "remindd/pkg/logx"
)

// reloadLoop applies hot config changes: log level/sinks and dispatcher
// knobs take effect live; storage, delivery and HTTP changes need a
// restart and are only logged.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		var cfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			cfg = c
		}
		// Coalesce bursts; only the latest config matters.
		for {
			select {
			case newer, ok := <-sub:
				if !ok {
					return
				}
				if newer != nil {
					cfg = newer
				}
				continue
			default:
			}
			break
		}
		if cfg == nil {
			continue
		}
		a.applyReload(last, cfg)
		last = cfg
	}
}

func (a *App) applyReload(old, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.disp.Apply(dispatch.FromConfig(cfg.Dispatcher))

	if old != nil {
		if old.Storage != cfg.Storage {
			a.log.Warn("storage config changed; restart required to take effect")
		}
		if old.Delivery.Channel != cfg.Delivery.Channel {
			a.log.Warn("delivery channel changed; restart required to take effect")
		}
		if old.HTTP != cfg.HTTP {
			a.log.Warn("http config changed; restart required to take effect")
		}
	}
	a.log.Info("config reloaded")
}
