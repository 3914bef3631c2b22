package config

import (
	"context"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch reloads the config file on every change and passes the new,
// validated Config to onChange. Invalid edits are logged and ignored.
// Only settings that can change at runtime are expected to be applied
// by onChange; the rest take effect on restart.
func Watch(ctx context.Context, v *viper.Viper, onChange func(*Config)) {
	logger := lg.FromContext(ctx)
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := Load(v)
		if err != nil {
			logger.Warn("config reload rejected", lg.String("file", e.Name), lg.Any("error", err))
			return
		}
		logger.Info("config reloaded", lg.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}
