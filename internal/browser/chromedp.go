// Package browser drives a local Chrome through the DevTools protocol.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/example/srt-scheduler/internal/engine"
	"github.com/example/srt-scheduler/internal/logger"
)

// Options configures the browser process.
type Options struct {
	Headless bool `yaml:"headless"`
	// ExecPath overrides Chrome discovery.
	ExecPath  string `yaml:"exec_path"`
	UserAgent string `yaml:"user_agent"`
	// OpTimeout bounds page operations that carry no timeout of their own.
	OpTimeout       time.Duration `yaml:"op_timeout"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	WindowWidth     int           `yaml:"window_width"`
	WindowHeight    int           `yaml:"window_height"`
}

// DefaultOptions runs headless with generous bounds; the booking site is slow.
func DefaultOptions() Options {
	return Options{
		Headless:        true,
		OpTimeout:       30 * time.Second,
		NavigateTimeout: 60 * time.Second,
		WindowWidth:     1280,
		WindowHeight:    900,
	}
}

// Launcher starts one Chrome per session.
type Launcher struct {
	opts Options
	log  logger.Logger
}

func NewLauncher(opts Options, log logger.Logger) *Launcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Launcher{opts: opts, log: log}
}

// Launch starts the browser. The session outlives ctx; only Close ends it.
func (l *Launcher) Launch(ctx context.Context) (engine.Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.WindowSize(l.opts.WindowWidth, l.opts.WindowHeight),
	)
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}
	if l.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(l.opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	bctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }),
	)

	s := &session{
		ctx:         bctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		opts:        l.opts,
		log:         l.log,
		subscribers: make(map[int]func(string)),
	}
	chromedp.ListenTarget(bctx, s.onEvent)

	// The first Run starts the process.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(bctx)
	stop()
	if err != nil {
		_ = s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return s, nil
}

type session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        Options
	log         logger.Logger

	mu          sync.Mutex
	nextID      int
	subscribers map[int]func(string)

	closeOnce sync.Once
}

// run executes actions on a per-call context bounded by timeout and by the caller's ctx.
func (s *session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return engine.ErrSessionClosed
	}
	if timeout <= 0 {
		timeout = s.opts.OpTimeout
	}
	octx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return s.wrap(ctx, chromedp.Run(octx, actions...))
}

func (s *session) wrap(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case s.ctx.Err() != nil:
		return fmt.Errorf("%w: %v", engine.ErrSessionClosed, err)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, chromedp.ErrPollingTimeout):
		return fmt.Errorf("%w: %v", engine.ErrTimeout, err)
	default:
		return err
	}
}

func (s *session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.opts.NavigateTimeout, chromedp.Navigate(url))
}

func (s *session) Fill(ctx context.Context, selector, value string) error {
	return s.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (s *session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *session) Clear(ctx context.Context, selector string) error {
	return s.run(ctx, 0, chromedp.Clear(selector, chromedp.ByQuery))
}

func (s *session) SendKeys(ctx context.Context, selector, text string) error {
	return s.run(ctx, 0, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (s *session) PressEnter(ctx context.Context, selector string) error {
	return s.run(ctx, 0, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

func (s *session) SelectByValue(ctx context.Context, selector, value string) error {
	return s.selectOption(ctx, selector, "value", value)
}

func (s *session) SelectByLabel(ctx context.Context, selector, label string) error {
	return s.selectOption(ctx, selector, "label", label)
}

// selectJS picks an option and fires change so the page's own listeners run.
const selectJS = `(function(sel, by, want) {
	const el = document.querySelector(sel);
	if (!el) return "element not found";
	const opt = Array.from(el.options || []).find(o =>
		by === "value" ? o.value === want : (o.label || o.text).trim() === want);
	if (!opt) return "no such option";
	el.value = opt.value;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return "";
})(%s, %s, %s)`

func selectExpr(selector, by, want string) (string, error) {
	args := make([]any, 0, 3)
	for _, v := range []string{selector, by, want} {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		args = append(args, string(b))
	}
	return fmt.Sprintf(selectJS, args...), nil
}

func (s *session) selectOption(ctx context.Context, selector, by, want string) error {
	expr, err := selectExpr(selector, by, want)
	if err != nil {
		return err
	}
	var problem string
	if err := s.run(ctx, 0,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.Evaluate(expr, &problem),
	); err != nil {
		return err
	}
	if problem != "" {
		return fmt.Errorf("select %s %s=%q: %s", selector, by, want, problem)
	}
	return nil
}

const textsJS = `Array.from(document.querySelectorAll(%s)).map(e => (e.innerText || e.textContent || "").trim())`

func (s *session) Texts(ctx context.Context, selector string) ([]string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := s.run(ctx, 0, chromedp.Evaluate(fmt.Sprintf(textsJS, sel), &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *session) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *session) WaitReady(ctx context.Context, timeout time.Duration) error {
	var ready bool
	return s.run(ctx, timeout+time.Second,
		chromedp.Poll(`document.readyState === "complete"`, &ready, chromedp.WithPollingTimeout(timeout)),
	)
}

func (s *session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, 0, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (s *session) OnDialog(fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// onEvent runs on chromedp's event loop and must not block it.
func (s *session) onEvent(ev any) {
	e, ok := ev.(*page.EventJavascriptDialogOpening)
	if !ok {
		return
	}
	go func() {
		if err := chromedp.Run(s.ctx, page.HandleJavaScriptDialog(true)); err != nil {
			s.log.Warn("accept dialog failed", logger.Error(err))
		}
	}()
	s.dispatch(e.Message)
}

func (s *session) dispatch(msg string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.ctx.Err() == nil {
			if cerr := chromedp.Cancel(s.ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
				err = cerr
			}
		}
		s.cancel()
		s.allocCancel()
	})
	return err
}
