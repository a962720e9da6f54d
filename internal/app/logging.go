package app

import (
	"strconv"
	"strings"

	logx "bioscout/pkg/logx"
)

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; ok is false when unset or malformed.
func logTarget(cfg *Config) (chatID int64, ok bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// applyLogging sets the chat log target first so Apply does not warn about
// an enabled chat sink without a destination.
func applyLogging(svc *logx.Service, cfg *Config) {
	if id, ok := logTarget(cfg); ok {
		svc.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
	} else {
		svc.SetTelegramTarget(0, 0)
	}
	svc.Apply(mapLogConfig(cfg))
}
