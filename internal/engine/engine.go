// Package engine runs one reservation job against the booking site: log in, configure the
// search, poll the results until the wanted train has a seat, then book it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/srt-scheduler/internal/domain/reservation"
	"github.com/example/srt-scheduler/internal/jobs"
	"github.com/example/srt-scheduler/internal/logger"
	"github.com/example/srt-scheduler/internal/metrics"
	"github.com/example/srt-scheduler/internal/notify"
)

var (
	// ErrCancelled is the context cause used when a user cancels the job.
	ErrCancelled = errors.New("job cancelled")
	// ErrDeadlineExceeded is the context cause when a job outlives Config.MaxDuration.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// Engine drives reservation jobs. It holds no per-job state and may be reused.
type Engine struct {
	launcher Launcher
	notifier notify.Notifier
	cfg      Config
	log      logger.Logger
	metrics  *metrics.Metrics
}

// New builds an engine. notifier, log and m may be nil.
func New(launcher Launcher, notifier notify.Notifier, cfg Config, log logger.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		launcher: launcher,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		metrics:  m,
	}
}

// Run executes the job claimed in st until it reaches a terminal phase, which it returns.
// st must already be claimed with Begin. Run returns only after the browser session, if one
// was opened, has been released; cancel ctx with ErrCancelled to stop it early.
func (e *Engine) Run(ctx context.Context, st *jobs.State, req reservation.Request) (phase jobs.Phase) {
	if e.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.cfg.MaxDuration, ErrDeadlineExceeded)
		defer cancel()
	}

	r := &run{
		Engine: e,
		st:     st,
		req:    req,
		log:    e.log.With(logger.String("job_id", st.Snapshot().JobID)),
	}
	if u, err := url.Parse(e.cfg.Site.SearchURL); err == nil {
		r.searchPath = u.Path
	}

	e.metrics.JobStarted()
	defer func() { e.metrics.JobFinished(string(phase)) }()

	return r.finish(ctx, r.safeExecute(ctx))
}

type outcome struct {
	phase jobs.Phase
	err   error
}

type run struct {
	*Engine
	st  *jobs.State
	req reservation.Request
	log logger.Logger

	sess        Session
	releaseOnce sync.Once
	searchPath  string

	attempt     int
	consecutive int
}

func (r *run) logf(format string, args ...any) {
	e := r.st.Appendf(format, args...)
	r.log.Info(e.Message)
}

func (r *run) transition(p jobs.Phase, status string) {
	if err := r.st.Transition(p, status); err != nil {
		r.log.Error("phase transition rejected", logger.Error(err))
	}
}

// interrupted reports whether the job must stop before its next step.
func (r *run) interrupted(ctx context.Context) (outcome, bool) {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, ErrDeadlineExceeded) {
			return outcome{phase: jobs.PhaseFatal, err: ErrDeadlineExceeded}, true
		}
		return outcome{phase: jobs.PhaseCancelled}, true
	}
	if !r.st.Running() {
		return outcome{phase: jobs.PhaseCancelled}, true
	}
	return outcome{}, false
}

// stop turns a failed step into the outcome that ends the job: interruption wins over the
// step's own error.
func (r *run) stop(ctx context.Context, err error) outcome {
	if o, ok := r.interrupted(ctx); ok {
		return o
	}
	return outcome{phase: jobs.PhaseFatal, err: err}
}

func (r *run) safeExecute(ctx context.Context) (o outcome) {
	defer func() {
		if p := recover(); p != nil {
			o = outcome{phase: jobs.PhaseFatal, err: fmt.Errorf("unexpected panic: %v", p)}
		}
	}()
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) outcome {
	r.logf("starting reservation: %s", r.req.Route())

	sess, err := r.launcher.Launch(ctx)
	if err != nil {
		return r.stop(ctx, fmt.Errorf("launch browser: %w", err))
	}
	r.sess = sess
	r.logf("browser started")

	if o, ok := r.interrupted(ctx); ok {
		return o
	}
	r.transition(jobs.PhaseLoggingIn, "logging in")
	if o, done := r.login(ctx); done {
		return o
	}

	if o, ok := r.interrupted(ctx); ok {
		return o
	}
	r.transition(jobs.PhaseConfiguringSearch, "configuring search")
	if o, done := r.configure(ctx); done {
		return o
	}

	return r.poll(ctx)
}

func (r *run) login(ctx context.Context) (outcome, bool) {
	site := r.cfg.Site

	r.logf("opening login page")
	if err := r.sess.Navigate(ctx, site.LoginURL); err != nil {
		return r.stop(ctx, fmt.Errorf("open login page: %w", err)), true
	}
	if err := r.sess.Fill(ctx, site.MemberIDField, r.req.MemberID); err != nil {
		return r.stop(ctx, fmt.Errorf("enter member id: %w", err)), true
	}
	if err := r.sess.Fill(ctx, site.PasswordField, r.req.MemberPassword); err != nil {
		return r.stop(ctx, fmt.Errorf("enter password: %w", err)), true
	}
	if err := r.sess.Click(ctx, site.LoginSubmit); err != nil {
		return r.stop(ctx, fmt.Errorf("submit login: %w", err)), true
	}
	r.logf("login submitted")

	r.logf("opening search page")
	if err := r.sess.Navigate(ctx, site.SearchURL); err != nil {
		return r.stop(ctx, fmt.Errorf("open search page: %w", err)), true
	}
	if err := sleep(ctx, r.cfg.Timings.LoginSettle); err != nil {
		return r.stop(ctx, err), true
	}

	links, err := r.sess.Texts(ctx, site.NavLinks)
	if err != nil {
		if o, ok := r.interrupted(ctx); ok {
			return o, true
		}
		if errors.Is(err, ErrSessionClosed) {
			return outcome{phase: jobs.PhaseFatal, err: err}, true
		}
		return outcome{phase: jobs.PhaseLoginFailed, err: fmt.Errorf("read header links: %w", err)}, true
	}
	r.logf("header links: %s", strings.Join(links, ", "))
	if len(links) == 0 {
		return outcome{phase: jobs.PhaseLoginFailed, err: errors.New("header links not found")}, true
	}
	for _, l := range links {
		if strings.Contains(l, site.LoginLabel) {
			return outcome{phase: jobs.PhaseLoginFailed, err: errors.New("still showing the login link")}, true
		}
	}
	r.logf("login succeeded")
	return outcome{}, false
}

type fieldStep struct {
	name      string
	value     string
	essential bool
	do        func(ctx context.Context) error
	// retry replaces do for the second attempt when set.
	retry func(ctx context.Context) error
}

// configure fills the search form. Stations are essential; date and hour fall back to the
// page defaults when they cannot be set.
func (r *run) configure(ctx context.Context) (outcome, bool) {
	site := r.cfg.Site
	steps := []fieldStep{
		{
			name: "origin station", value: r.req.Origin, essential: true,
			do: func(ctx context.Context) error { return r.enterStation(ctx, site.OriginField, r.req.Origin) },
		},
		{
			name: "destination station", value: r.req.Destination, essential: true,
			do: func(ctx context.Context) error {
				return r.enterStation(ctx, site.DestinationField, r.req.Destination)
			},
		},
		{
			name: "travel date", value: r.req.DateValue(),
			do: func(ctx context.Context) error { return r.sess.SelectByValue(ctx, site.DateField, r.req.DateValue()) },
		},
		{
			name: "departure hour", value: r.req.HourBlock,
			do: func(ctx context.Context) error { return r.sess.SelectByValue(ctx, site.HourField, r.req.HourValue()) },
			retry: func(ctx context.Context) error {
				return r.sess.SelectByLabel(ctx, site.HourField, r.req.HourBlock)
			},
		},
	}

	for _, s := range steps {
		r.logf("setting %s: %s", s.name, s.value)
		err := s.do(ctx)
		if err != nil && !errors.Is(err, ErrSessionClosed) {
			if o, ok := r.interrupted(ctx); ok {
				return o, true
			}
			r.logf("setting %s failed (%v), retrying", s.name, err)
			retry := s.retry
			if retry == nil {
				retry = s.do
			}
			err = retry(ctx)
		}
		if err == nil {
			continue
		}
		if o, ok := r.interrupted(ctx); ok {
			return o, true
		}
		if s.essential || errors.Is(err, ErrSessionClosed) {
			return outcome{phase: jobs.PhaseFatal, err: fmt.Errorf("set %s: %w", s.name, err)}, true
		}
		r.logf("could not set %s (%v), continuing with the page default", s.name, err)
	}

	r.logf("search configured")
	return outcome{}, false
}

// enterStation drives the station autocomplete: focus, clear, type, confirm.
func (r *run) enterStation(ctx context.Context, field, name string) error {
	if err := r.sess.Click(ctx, field); err != nil {
		return err
	}
	if err := r.sess.Clear(ctx, field); err != nil {
		return err
	}
	if err := r.sess.SendKeys(ctx, field, name); err != nil {
		return err
	}
	if err := sleep(ctx, r.cfg.Timings.KeySettle); err != nil {
		return err
	}
	if err := r.sess.PressEnter(ctx, field); err != nil {
		return err
	}
	return sleep(ctx, r.cfg.Timings.KeySettle)
}

type stepKind int

const (
	stepOK stepKind = iota
	stepTransient
	stepFatal
)

// stepResult decides what the polling loop does next.
type stepResult struct {
	kind stepKind
	// booked is set on the step that confirmed a reservation.
	booked bool
	delay  time.Duration
	step   string
	err    error
}

func (r *run) transient(ctx context.Context, step string, err error) stepResult {
	if ctx.Err() != nil {
		return stepResult{kind: stepTransient}
	}
	if errors.Is(err, ErrSessionClosed) {
		return stepResult{kind: stepFatal, step: step, err: err}
	}
	return stepResult{kind: stepTransient, step: step, err: err, delay: r.cfg.Timings.ErrorCooldown}
}

func (r *run) poll(ctx context.Context) outcome {
	r.transition(jobs.PhasePolling, fmt.Sprintf("searching for the %s train", r.req.DepartureTime))

	for {
		if o, ok := r.interrupted(ctx); ok {
			return o
		}
		r.attempt++

		res := r.iterate(ctx)
		if res.booked {
			return outcome{phase: jobs.PhaseSucceeded}
		}
		if res.kind == stepFatal {
			return r.stop(ctx, res.err)
		}

		if res.err != nil {
			r.metrics.Transient(res.step)
			r.consecutive++
			r.logf("%s failed: %v", res.step, res.err)
			if limit := r.cfg.MaxConsecutiveErrors; limit > 0 && r.consecutive >= limit {
				return r.stop(ctx, fmt.Errorf("%d consecutive errors, last: %w", r.consecutive, res.err))
			}
		} else {
			r.consecutive = 0
		}

		// An interrupted sleep is picked up at the top of the loop.
		_ = sleep(ctx, res.delay)
	}
}

// iterate runs one search attempt.
func (r *run) iterate(ctx context.Context) stepResult {
	site, t := r.cfg.Site, r.cfg.Timings

	r.logf("search attempt #%d", r.attempt)
	r.metrics.PollAttempt()

	if err := r.sess.Click(ctx, site.SearchButton); err != nil {
		return r.transient(ctx, "search", err)
	}
	r.waitReady(ctx)
	if err := sleep(ctx, t.SettleDelay); err != nil {
		return stepResult{kind: stepTransient}
	}

	if err := r.sess.WaitVisible(ctx, site.ResultsTable+" "+site.Rows.Row, t.ResultsTimeout); err != nil {
		if ctx.Err() != nil {
			return stepResult{kind: stepTransient}
		}
		if errors.Is(err, ErrSessionClosed) {
			return stepResult{kind: stepFatal, step: "results", err: err}
		}
		r.logf("results table not found at %s, retrying", r.location(ctx))
		return stepResult{kind: stepTransient, delay: t.ResultsCooldown}
	}

	html, err := r.sess.OuterHTML(ctx, site.ResultsTable)
	if err != nil {
		return r.transient(ctx, "read results", err)
	}
	rows, err := reservation.ParseRows(html, site.Rows)
	if err != nil {
		return r.transient(ctx, "parse results", err)
	}
	r.logf("%d trains listed", len(rows))

	matches := reservation.MatchRows(rows, r.req.DepartureTime)
	if len(matches) == 0 {
		r.logf("no %s train in the results", r.req.DepartureTime)
		return stepResult{kind: stepOK, delay: t.AttemptInterval}
	}
	r.logf("found %d listing(s) departing %s", len(matches), r.req.DepartureTime)

	row, ok := reservation.FirstBookable(matches, site.Labels, func(row reservation.Row, a reservation.Availability) {
		if a == reservation.Other {
			r.logf("train #%d shows %q", row.Index+1, row.ActionLabel)
		}
	})
	if !ok {
		r.st.SetStatus(fmt.Sprintf("sold out (attempt #%d)", r.attempt))
		r.logf("sold out, retrying")
		return stepResult{kind: stepOK, delay: t.AttemptInterval}
	}

	return r.book(ctx, row)
}

// waitReady races the page's load signal against ReadyCap. Neither side failing is an error.
func (r *run) waitReady(ctx context.Context) {
	t := r.cfg.Timings
	rctx, cancel := context.WithTimeout(ctx, t.ReadyCap)
	defer cancel()
	if err := r.sess.WaitReady(rctx, t.ReadyTimeout); err != nil && rctx.Err() == nil {
		r.log.Debug("page load signal not seen", logger.Error(err))
	}
}

func (r *run) actionSelector(row reservation.Row) string {
	rows := r.cfg.Site.Rows
	return fmt.Sprintf("%s %s:nth-child(%d) %s", r.cfg.Site.ResultsTable, rows.Row, row.Index+1, rows.Action)
}

// book clicks the row's action and judges the outcome. The booking window runs detached
// from cancellation so a click already sent is observed to the end.
func (r *run) book(ctx context.Context, row reservation.Row) stepResult {
	r.transition(jobs.PhaseBooking, fmt.Sprintf("booking the %s train", r.req.DepartureTime))
	r.logf("seat available on train #%d, booking", row.Index+1)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timings.BookingTimeout)
	defer cancel()

	ev, err := r.clickAndObserve(bctx, row)
	if err != nil {
		r.transition(jobs.PhasePolling, "searching")
		return r.transient(ctx, "book", err)
	}

	verdict := r.cfg.Site.Markers.Judge(ev)
	r.metrics.Booking(verdict.String())
	switch verdict {
	case reservation.Success:
		r.logf("booking confirmed")
		return stepResult{kind: stepOK, booked: true}
	case reservation.Failure:
		r.logf("booking rejected: %s", ev.DialogText)
	default:
		r.logf("booking not confirmed (location %s), retrying", ev.Location)
	}

	r.transition(jobs.PhasePolling, fmt.Sprintf("searching for the %s train", r.req.DepartureTime))
	if res, done := r.returnToSearch(ctx); done {
		return res
	}
	return stepResult{kind: stepOK, delay: r.cfg.Timings.ErrorCooldown}
}

func (r *run) clickAndObserve(ctx context.Context, row reservation.Row) (reservation.Evidence, error) {
	var ev reservation.Evidence

	dialogs := make(chan string, 1)
	unsubscribe := r.sess.OnDialog(func(msg string) {
		select {
		case dialogs <- msg:
		default:
		}
	})
	defer unsubscribe()

	if err := r.sess.Click(ctx, r.actionSelector(row)); err != nil {
		return ev, err
	}

	timer := time.NewTimer(r.cfg.Timings.DialogWait)
	defer timer.Stop()
	select {
	case msg := <-dialogs:
		ev.DialogSeen = true
		ev.DialogText = msg
		r.logf("dialog: %s", msg)
	case <-timer.C:
	case <-ctx.Done():
	}

	_ = sleep(ctx, r.cfg.Timings.NavigationSettle)
	if loc, err := r.sess.Location(ctx); err == nil {
		ev.Location = loc
	}
	return ev, nil
}

// returnToSearch brings the browser back to a configured search page after a booking that
// did not go through.
func (r *run) returnToSearch(ctx context.Context) (stepResult, bool) {
	loc, err := r.sess.Location(ctx)
	if err == nil && r.searchPath != "" && strings.Contains(loc, r.searchPath) {
		return stepResult{}, false
	}
	if ctx.Err() != nil {
		return stepResult{kind: stepTransient}, true
	}

	r.logf("left the search page (%s), returning", loc)
	r.transition(jobs.PhaseConfiguringSearch, "configuring search")
	if err := r.sess.Navigate(ctx, r.cfg.Site.SearchURL); err != nil {
		r.transition(jobs.PhasePolling, "searching")
		return r.transient(ctx, "return to search", err), true
	}
	if o, done := r.configure(ctx); done {
		if o.phase == jobs.PhaseFatal && o.err != nil {
			return stepResult{kind: stepFatal, step: "configure search", err: o.err}, true
		}
		return stepResult{kind: stepTransient}, true
	}
	r.transition(jobs.PhasePolling, fmt.Sprintf("searching for the %s train", r.req.DepartureTime))
	return stepResult{}, false
}

func (r *run) location(ctx context.Context) string {
	if r.sess == nil {
		return "unknown"
	}
	loc, err := r.sess.Location(ctx)
	if err != nil || loc == "" {
		return "unknown"
	}
	return loc
}

// finish applies the terminal phase: status, log, notification, release, then the phase
// itself, which clears the running flag.
func (r *run) finish(ctx context.Context, o outcome) jobs.Phase {
	t := r.cfg.Timings
	detached := context.WithoutCancel(ctx)

	var status string
	switch o.phase {
	case jobs.PhaseSucceeded:
		status = "reservation complete, finish payment in the SRT app"
		r.st.SetStatus(status)
		r.logf("reservation complete: %s", r.req.Route())
		r.notify(detached, notify.Message{
			Title: "SRT reservation complete",
			Body: fmt.Sprintf("%s, departing %s %s. Complete payment in the SRT app.",
				r.route(), r.req.TravelDate.Format("2006-01-02"), r.req.DepartureTime),
		})
		_ = sleep(detached, t.ReleaseDelay)

	case jobs.PhaseLoginFailed:
		status = "login failed, check your member number and password"
		r.st.SetStatus(status)
		r.logf("login failed: %v", o.err)
		r.notify(detached, notify.Message{
			Title: "SRT login failed",
			Body:  "Could not log in. Check your member number and password.",
		})

	case jobs.PhaseCancelled:
		status = "cancelled"
		r.logf("job cancelled")

	default:
		o.phase = jobs.PhaseFatal
		if o.err == nil {
			o.err = errors.New("unknown error")
		}
		status = "error: " + o.err.Error()
		r.st.SetStatus(status)
		// The page is read on a fresh bound; ctx may already be done.
		lctx, cancel := context.WithTimeout(detached, t.ErrorCooldown)
		r.logf("error at %s: %v", r.location(lctx), o.err)
		cancel()
		r.notify(detached, notify.Message{
			Title: "SRT reservation error",
			Body:  fmt.Sprintf("%s stopped: %v", r.route(), o.err),
		})
	}

	r.release()
	r.transition(o.phase, status)
	return o.phase
}

func (r *run) route() string {
	return fmt.Sprintf("%s → %s", r.req.Origin, r.req.Destination)
}

func (r *run) notify(ctx context.Context, m notify.Message) {
	if r.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, r.cfg.Timings.NotifyTimeout)
	defer cancel()
	if err := r.notifier.Notify(nctx, m); err != nil {
		r.log.Warn("notification failed", logger.Error(err))
	}
}

// release closes the session at most once.
func (r *run) release() {
	r.releaseOnce.Do(func() {
		if r.sess == nil {
			return
		}
		if err := r.sess.Close(); err != nil {
			r.logf("closing browser failed: %v", err)
			return
		}
		r.logf("browser closed")
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
