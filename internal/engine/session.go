package engine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionClosed means the browser is gone; nothing on the page can be retried.
	ErrSessionClosed = errors.New("browser session closed")
	// ErrTimeout wraps waits on the page that ran out of time.
	ErrTimeout = errors.New("timed out waiting for page")
)

// Session is the browser capability the engine drives. Selectors are CSS selectors.
// Every method blocks until done, ctx is cancelled, or the session's own bound elapses.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Fill replaces the value of an input.
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Clear(ctx context.Context, selector string) error
	// SendKeys types text into the element as keystrokes.
	SendKeys(ctx context.Context, selector, text string) error
	PressEnter(ctx context.Context, selector string) error
	SelectByValue(ctx context.Context, selector, value string) error
	SelectByLabel(ctx context.Context, selector, label string) error
	// Texts returns the trimmed visible text of every element matching selector.
	Texts(ctx context.Context, selector string) ([]string, error)
	OuterHTML(ctx context.Context, selector string) (string, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// WaitReady waits for the document to finish loading.
	WaitReady(ctx context.Context, timeout time.Duration) error
	Location(ctx context.Context) (string, error)
	// OnDialog subscribes fn to native dialogs, which the session accepts on its own.
	// The returned func unsubscribes.
	OnDialog(fn func(message string)) (unsubscribe func())
	Close() error
}

// Launcher opens a fresh browser session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context) (Session, error) { return f(ctx) }
