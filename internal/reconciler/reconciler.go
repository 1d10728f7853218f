// Package reconciler keeps a session snapshot in step with the report
// table's change stream.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/rpggio/civicsync/internal/obs"
)

const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
)

// Status is the connection state shown to the UI layer.
type Status string

const (
	StatusConnecting Status = "connecting"
	// StatusLive means the snapshot is loaded and events are flowing.
	StatusLive Status = "live"
	// StatusSuspect means the stream dropped and the snapshot may be stale.
	StatusSuspect Status = "suspect"
	StatusStopped Status = "stopped"
)

// Subscriber opens change streams.
type Subscriber interface {
	Subscribe(ctx context.Context) (report.Subscription, error)
}

// Snapshot is the state the reconciler keeps current.
type Snapshot interface {
	Load(ctx context.Context) error
	Apply(evt report.ChangeEvent) bool
}

// Options configures a Reconciler.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts is the number of consecutive failed connection attempts
	// after which Run gives up. Zero retries forever.
	MaxAttempts int
	Logger      *slog.Logger
	Metrics     *obs.Metrics
	// OnStatus is called on every status change.
	OnStatus func(Status)
}

// Reconciler subscribes, reloads, then applies events in delivery order.
// When the stream drops it backs off, resubscribes and reloads.
type Reconciler struct {
	subscriber Subscriber
	snapshot   Snapshot
	opts       Options
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	status    Status
	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a reconciler.
func New(subscriber Subscriber, snapshot Snapshot, opts Options) *Reconciler {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{
		subscriber: subscriber,
		snapshot:   snapshot,
		opts:       opts,
		logger:     logger,
		sleep:      sleepCtx,
		status:     StatusConnecting,
		ready:      make(chan struct{}),
	}
}

// Status returns the current connection status.
func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Ready is closed the first time the reconciler goes live.
func (r *Reconciler) Ready() <-chan struct{} {
	return r.ready
}

// Run reconciles until ctx is done, returning nil, or until MaxAttempts
// consecutive attempts fail, returning a *report.SubscriptionLostError.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.setStatus(StatusStopped)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		wasLive, err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if wasLive {
			failures = 0
		}
		failures++

		r.setStatus(StatusSuspect)
		if r.opts.MaxAttempts > 0 && failures >= r.opts.MaxAttempts {
			r.logger.Error("giving up on change subscription", "attempts", failures, "error", err)
			return &report.SubscriptionLostError{Attempts: failures, Err: err}
		}

		delay := Backoff(failures, r.opts.InitialBackoff, r.opts.MaxBackoff)
		r.logger.Warn("change subscription interrupted, reconnecting",
			"attempt", failures, "delay", delay, "error", err)
		r.opts.Metrics.Reconnect()
		if err := r.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// runOnce subscribes before loading so that no change committed between
// the load and the subscription is missed. It returns when the stream ends.
func (r *Reconciler) runOnce(ctx context.Context) (bool, error) {
	sub, err := r.subscriber.Subscribe(ctx)
	if err != nil {
		return false, err
	}
	defer sub.Close()

	if err := r.snapshot.Load(ctx); err != nil {
		return false, err
	}

	r.setStatus(StatusLive)
	r.readyOnce.Do(func() { close(r.ready) })

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case evt, ok := <-events:
			if !ok {
				err := sub.Err()
				if err == nil {
					err = report.ErrSubscriptionLost
				}
				return true, err
			}
			r.snapshot.Apply(evt)
		}
	}
}

func (r *Reconciler) setStatus(s Status) {
	r.mu.Lock()
	changed := r.status != s
	r.status = s
	r.mu.Unlock()
	if !changed {
		return
	}

	r.opts.Metrics.SetLive(s == StatusLive)
	r.logger.Debug("reconciler status", "status", s)
	if r.opts.OnStatus != nil {
		r.opts.OnStatus(s)
	}
}

// Backoff returns the delay before reconnect attempt n (1-based): initial
// doubled per attempt, capped at max.
func Backoff(n int, initial, maxDelay time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := initial << min(n-1, 30)
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsLost reports whether err means Run gave up reconnecting.
func IsLost(err error) bool {
	return errors.Is(err, report.ErrSubscriptionLost)
}
