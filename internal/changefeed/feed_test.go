package changefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpggio/civicsync/internal/domain/report"
	"github.com/stretchr/testify/require"
)

func row(id string, version int64) *report.Report {
	return &report.Report{ID: id, Status: report.StatusPending, Version: version}
}

func TestFeed_DeliversInPublishOrder(t *testing.T) {
	feed := New(8, nil)
	sub, err := feed.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	now := time.Now()
	first := feed.Publish(report.OpInsert, "r1", row("r1", 1), now)
	second := feed.Publish(report.OpUpdate, "r1", row("r1", 2), now)
	feed.Publish(report.OpDelete, "r1", nil, now)

	got := []report.ChangeEvent{<-sub.Events(), <-sub.Events(), <-sub.Events()}
	require.Equal(t, report.OpInsert, got[0].Op)
	require.Equal(t, report.OpUpdate, got[1].Op)
	require.Equal(t, report.OpDelete, got[2].Op)
	require.Equal(t, "r1", got[2].Key)
	require.Less(t, first.ID, second.ID, "event ids sort in publish order")
}

func TestFeed_SlowSubscriberIsCutOff(t *testing.T) {
	feed := New(1, nil)
	sub, err := feed.Subscribe(context.Background())
	require.NoError(t, err)

	now := time.Now()
	feed.Publish(report.OpInsert, "r1", row("r1", 1), now)
	feed.Publish(report.OpInsert, "r2", row("r2", 1), now)

	evt, ok := <-sub.Events()
	require.True(t, ok)
	require.Equal(t, "r1", evt.Key)

	_, ok = <-sub.Events()
	require.False(t, ok)
	require.True(t, errors.Is(sub.Err(), report.ErrSubscriptionLost))
	require.Equal(t, 0, feed.Len())
}

func TestFeed_CloseUnsubscribes(t *testing.T) {
	feed := New(4, nil)
	sub, err := feed.Subscribe(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, feed.Len())

	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	require.False(t, ok)
	require.NoError(t, sub.Err())
	require.Equal(t, 0, feed.Len())

	feed.Publish(report.OpInsert, "r1", row("r1", 1), time.Now())
}

func TestFeed_ContextCancelUnsubscribes(t *testing.T) {
	feed := New(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool { return feed.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-sub.Events()
	require.False(t, ok)
}

func TestFeed_ClosedFeedRejectsSubscribers(t *testing.T) {
	feed := New(4, nil)
	sub, err := feed.Subscribe(context.Background())
	require.NoError(t, err)

	feed.Close()

	_, ok := <-sub.Events()
	require.False(t, ok)
	require.ErrorIs(t, sub.Err(), ErrClosed)

	_, err = feed.Subscribe(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
