package cmd

import (
	"github.com/spf13/cobra"

	"github.com/example/srt-scheduler/internal/browser"
	"github.com/example/srt-scheduler/internal/config"
	"github.com/example/srt-scheduler/internal/engine"
	"github.com/example/srt-scheduler/internal/logger"
	"github.com/example/srt-scheduler/internal/metrics"
	"github.com/example/srt-scheduler/internal/notify"
)

// loadConfig reads .env, then the environment, overlaying the --config file when given.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, err
	}
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

type stack struct {
	log     logger.Logger
	metrics *metrics.Metrics
	push    *notify.Push
	chat    notify.Notifier
	engine  *engine.Engine
}

// buildStack wires the pieces every command that runs jobs needs.
func buildStack(cfg config.Config, m *metrics.Metrics) (*stack, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	push := notify.NewPush(cfg.VAPID, nil, log.With(logger.String("channel", "push")))
	var chat notify.Notifier
	fanout := &notify.Fanout{Log: log, Metrics: m}
	if tg := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.APIURL); tg.Configured() {
		chat = tg
		fanout.Channels = append(fanout.Channels, tg)
	} else {
		log.Warn("telegram notifications disabled: TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set")
	}
	if push.Configured() {
		fanout.Channels = append(fanout.Channels, push)
	} else {
		log.Warn("push notifications disabled: VAPID keys not set")
	}

	launcher := browser.NewLauncher(cfg.Browser, log.With(logger.String("component", "browser")))
	eng := engine.New(launcher, fanout, cfg.Engine, log.With(logger.String("component", "engine")), m)

	return &stack{log: log, metrics: m, push: push, chat: chat, engine: eng}, nil
}
