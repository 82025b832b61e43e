package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 10 * time.Second

// Dispatcher fans an alert out to every notifier on its own goroutine.
// Dispatch never blocks on delivery; failures are logged and dropped.
type Dispatcher struct {
	Notifiers []Notifier
	Timeout   time.Duration
	Limiter   *rate.Limiter // optional throttle on alerts, not deliveries
	Clock     clockwork.Clock
	Logger    *slog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, clock clockwork.Clock, limiter *rate.Limiter, notifiers ...Notifier) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		Notifiers: notifiers,
		Timeout:   DefaultTimeout,
		Limiter:   limiter,
		Clock:     clock,
		Logger:    logger,
	}
}

// Dispatch hands a to every notifier and returns immediately. It reports
// false when the alert was throttled.
func (d *Dispatcher) Dispatch(a Alert) bool {
	if d.Limiter != nil && !d.Limiter.AllowN(d.Clock.Now(), 1) {
		d.Logger.Warn("alert throttled", "type", a.Type)
		return false
	}

	for _, n := range d.Notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.Logger.Error("notifier panicked", "notifier", n.Name(), "panic", r)
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
			defer cancel()

			if err := n.Notify(ctx, a); err != nil {
				d.Logger.Error("alert delivery failed", "notifier", n.Name(), "error", err)
				return
			}
			d.Logger.Debug("alert delivered", "notifier", n.Name())
		}(n)
	}
	return true
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
