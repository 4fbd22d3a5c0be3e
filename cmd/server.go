package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/srt-scheduler/internal/auth"
	"github.com/example/srt-scheduler/internal/jobs"
	"github.com/example/srt-scheduler/internal/logger"
	"github.com/example/srt-scheduler/internal/metrics"
	"github.com/example/srt-scheduler/internal/scheduler"
	"github.com/example/srt-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the web UI and the reservation job API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if cfg.AppPasswordHash == "" {
				return errors.New("APP_PASSWORD or APP_PASSWORD_BCRYPT is required")
			}

			st, err := buildStack(cfg, metrics.New())
			if err != nil {
				return err
			}
			log := st.log
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			state := jobs.NewState(cfg.Retention())
			jobLog := log.With(logger.String("component", "scheduler"))
			sched := scheduler.New(state, st.engine, jobLog)

			ws := &web.Server{
				Auth:    auth.NewGuard(cfg.AppPasswordHash, cfg.CookieHashKey, cfg.CookieBlockKey),
				Jobs:    sched,
				Push:    st.push,
				Chat:    st.chat,
				Metrics: st.metrics,
				Log:     log.With(logger.String("component", "web")),
			}
			serveErr := web.Start(ctx, cfg.ListenAddr, ws.Routes(), log)

			// Release the browser of a job still running before exiting.
			shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
			defer done()
			if err := sched.Shutdown(shutdownCtx); err != nil {
				log.Warn("job did not stop in time", logger.Error(err))
			}
			return serveErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $LISTEN_ADDR or :$PORT)")
	return cmd
}
