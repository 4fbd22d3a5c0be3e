package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/srt-scheduler/internal/config"
	"github.com/example/srt-scheduler/internal/domain/reservation"
	"github.com/example/srt-scheduler/internal/engine"
	"github.com/example/srt-scheduler/internal/jobs"
)

func newReserveCmd() *cobra.Command {
	var (
		in       reservation.Input
		headless bool
	)

	c := &cobra.Command{
		Use:   "reserve",
		Short: "Run one reservation job in the foreground",
		Long: "Run one reservation job in the foreground until it books, fails or is interrupted.\n" +
			"Values default to SRT_ID, SRT_PW, DEPARTURE, ARRIVAL, DATE, TIME and DEPART_TIME.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless = headless
			}

			req, err := reservation.Parse(mergeInput(in, config.ReserveInput()))
			if err != nil {
				return err
			}

			st, err := buildStack(cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = st.log.Sync() }()

			state := jobs.NewState(cfg.Retention())
			state.Observe(func(e jobs.Entry) { fmt.Fprintln(os.Stdout, e.String()) })
			state.Begin(uuid.NewString(), "starting")

			ctx, cancel := context.WithCancelCause(context.Background())
			defer cancel(nil)
			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			context.AfterFunc(sigCtx, func() { cancel(engine.ErrCancelled) })

			phase := st.engine.Run(ctx, state, req)
			snap := state.Snapshot()
			fmt.Fprintf(os.Stdout, "finished: %s (%s)\n", phase, snap.Status)

			switch phase {
			case jobs.PhaseSucceeded, jobs.PhaseCancelled:
				return nil
			case jobs.PhaseLoginFailed:
				return fmt.Errorf("%w: %s", reservation.ErrLoginFailed, snap.Status)
			default:
				return fmt.Errorf("reservation failed: %s", snap.Status)
			}
		},
	}

	f := c.Flags()
	f.StringVar(&in.MemberID, "id", "", "SRT member number")
	f.StringVar(&in.Password, "password", "", "SRT password")
	f.StringVar(&in.Departure, "from", "", "origin station, e.g. 수서")
	f.StringVar(&in.Arrival, "to", "", "destination station, e.g. 부산")
	f.StringVar(&in.Date, "date", "", "travel date, YYYYMMDD")
	f.StringVar(&in.Hour, "hour", "", "search hour, HH (defaults to the departure hour)")
	f.StringVar(&in.DepartureTime, "depart", "", "exact departure time, HH:MM")
	f.BoolVar(&headless, "headless", true, "run Chrome without a window")
	return c
}

// mergeInput fills empty flag values from the environment.
func mergeInput(flags, env reservation.Input) reservation.Input {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return reservation.Input{
		MemberID:      pick(flags.MemberID, env.MemberID),
		Password:      pick(flags.Password, env.Password),
		Departure:     pick(flags.Departure, env.Departure),
		Arrival:       pick(flags.Arrival, env.Arrival),
		Date:          pick(flags.Date, env.Date),
		Hour:          pick(flags.Hour, env.Hour),
		DepartureTime: pick(flags.DepartureTime, env.DepartureTime),
	}
}
