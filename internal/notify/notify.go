// Package notify delivers short job outcome messages to the user.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/example/srt-scheduler/internal/logger"
	"github.com/example/srt-scheduler/internal/metrics"
)

// Message is a channel-neutral notification.
type Message struct {
	Title string
	Body  string
}

// Notifier sends m to its recipients. Implementations must honor ctx.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, m Message) error
}

// Fanout sends to every channel concurrently and waits for all of them.
// Failures are logged and counted, then joined into the returned error; they never stop
// other channels.
type Fanout struct {
	Channels []Notifier
	Log      logger.Logger
	Metrics  *metrics.Metrics
}

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Notify(ctx context.Context, m Message) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, ch := range f.Channels {
		if ch == nil {
			continue
		}
		wg.Add(1)
		go func(ch Notifier) {
			defer wg.Done()
			err := ch.Notify(ctx, m)
			f.Metrics.Notification(ch.Name(), err)
			if err != nil {
				if f.Log != nil {
					f.Log.Warn("notification failed", logger.String("channel", ch.Name()), logger.Error(err))
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, m Message) error

func (fn Func) Name() string                                { return "func" }
func (fn Func) Notify(ctx context.Context, m Message) error { return fn(ctx, m) }
