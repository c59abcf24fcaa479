package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifierDeliversToAllSubscribers(t *testing.T) {
	n := NewCommitNotifier()
	a := n.Subscribe()
	defer a.Close()
	b := n.Subscribe()
	defer b.Close()

	n.Publish(7)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := a.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), got)

	got, err = b.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), got)
}

func TestNotifierPreservesOrder(t *testing.T) {
	n := NewCommitNotifier()
	sub := n.Subscribe()
	defer sub.Close()

	for h := uint64(1); h <= 5; h++ {
		n.Publish(h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for h := uint64(1); h <= 5; h++ {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, h, got)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	n := NewCommitNotifier()
	slow := n.Subscribe()
	defer slow.Close()
	fast := n.Subscribe()
	defer fast.Close()

	// Nothing reads from slow; publishing must still complete promptly and
	// the fast subscriber must see every height.
	done := make(chan struct{})
	go func() {
		for h := uint64(1); h <= 100; h++ {
			n.Publish(h)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for h := uint64(1); h <= 100; h++ {
		got, err := fast.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, h, got)
	}
}

func TestNextHonoursContextCancellation(t *testing.T) {
	n := NewCommitNotifier()
	sub := n.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextAfterCloseReturnsError(t *testing.T) {
	n := NewCommitNotifier()
	sub := n.Subscribe()
	sub.Close()

	_, err := sub.Next(context.Background())
	require.ErrorIs(t, err, ErrSubscriptionClosed)

	// Publishing after close must not panic or deliver.
	n.Publish(1)
	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestClosedSubscriberStopsReceiving(t *testing.T) {
	n := NewCommitNotifier()
	a := n.Subscribe()
	b := n.Subscribe()
	defer b.Close()

	a.Close()
	n.Publish(3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := b.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}
