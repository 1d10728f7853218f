// Package changefeed fans committed report changes out to live subscribers.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rpggio/civicsync/internal/domain/report"
)

// DefaultBuffer is the per-subscriber event buffer.
const DefaultBuffer = 64

// ErrClosed is returned when subscribing to a closed feed.
var ErrClosed = errors.New("change feed closed")

// Feed fans change events out to every active subscriber in publish order.
// A subscriber whose buffer is full is cut off with report.ErrSubscriptionLost
// so that it reloads instead of missing an event.
type Feed struct {
	logger *slog.Logger
	buffer int

	mu      sync.Mutex
	subs    map[uint64]*subscription
	next    uint64
	entropy *ulid.MonotonicEntropy
	closed  bool
}

// New creates a feed. buffer <= 0 uses DefaultBuffer.
func New(buffer int, logger *slog.Logger) *Feed {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Feed{
		logger:  logger,
		buffer:  buffer,
		subs:    make(map[uint64]*subscription),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Subscribe registers a subscriber. The subscription ends when ctx is done
// or Close is called.
func (f *Feed) Subscribe(ctx context.Context) (report.Subscription, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &subscription{
		feed: f,
		id:   f.next,
		ch:   make(chan report.ChangeEvent, f.buffer),
		done: make(chan struct{}),
	}
	f.next++
	f.subs[sub.id] = sub
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish stamps an event and delivers it to every subscriber.
func (f *Feed) Publish(op report.Operation, key string, row *report.Report, committedAt time.Time) report.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	evt := report.ChangeEvent{
		ID:          ulid.MustNew(ulid.Timestamp(committedAt), f.entropy).String(),
		Op:          op,
		Key:         key,
		Row:         row,
		CommittedAt: committedAt,
	}
	for id, sub := range f.subs {
		select {
		case sub.ch <- evt:
		default:
			f.logger.Warn("change subscriber fell behind, cutting it off", "subscriber", id, "buffer", f.buffer)
			f.endLocked(sub, fmt.Errorf("subscriber %d fell behind: %w", id, report.ErrSubscriptionLost))
		}
	}
	return evt
}

// Close ends every subscription and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, sub := range f.subs {
		f.endLocked(sub, ErrClosed)
	}
}

// Len returns the number of active subscribers.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) endLocked(sub *subscription, err error) {
	if _, ok := f.subs[sub.id]; !ok {
		return
	}
	delete(f.subs, sub.id)
	sub.err = err
	close(sub.ch)
	close(sub.done)
}

type subscription struct {
	feed *Feed
	id   uint64
	ch   chan report.ChangeEvent
	done chan struct{}
	err  error
}

func (s *subscription) Events() <-chan report.ChangeEvent { return s.ch }

func (s *subscription) Err() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	return s.err
}

func (s *subscription) Close() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.feed.endLocked(s, nil)
}
