package core

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("commit notifier: subscription closed")

// CommitNotifier broadcasts the height of every sealed block to all
// currently registered subscribers. The node owns exactly one instance and
// hands it to every synchronous submission; there is no process-wide
// singleton.
//
// Each subscriber owns an independent, unbounded delivery queue: a slow
// consumer only grows its own queue and never blocks publishing or its
// peers. Registration and removal are safe while a publish is in progress.
type CommitNotifier struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// NewCommitNotifier creates an empty notifier.
func NewCommitNotifier() *CommitNotifier {
	return &CommitNotifier{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber. Every height published after this call
// is delivered to it until Close. Synchronous submitters subscribe before
// handing their transaction to the pipeline so no seal can slip between
// submission and the first wait.
func (n *CommitNotifier) Subscribe() *Subscription {
	sub := &Subscription{
		notifier: n,
		out:      make(chan uint64),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	n.mu.Lock()
	n.nextID++
	sub.id = n.nextID
	n.subs[sub.id] = sub
	n.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish delivers a sealed block height to every registered subscriber.
// It is called once per sealed block, strictly after the block's
// transactions are durably applied.
func (n *CommitNotifier) Publish(height uint64) {
	n.mu.Lock()
	subs := make([]*Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(height)
	}
}

func (n *CommitNotifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

// Subscription is one subscriber's private view of the seal broadcast.
type Subscription struct {
	notifier *CommitNotifier
	id       uint64

	qmu   sync.Mutex
	queue []uint64

	out       chan uint64
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) enqueue(height uint64) {
	s.qmu.Lock()
	s.queue = append(s.queue, height)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves heights from the unbounded queue to the delivery channel so
// enqueue never blocks on a slow reader.
func (s *Subscription) pump() {
	for {
		s.qmu.Lock()
		var next uint64
		have := len(s.queue) > 0
		if have {
			next = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.qmu.Unlock()

		if !have {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

// Next blocks until the next sealed height arrives, the context is
// cancelled, or the subscription is closed. Without a deadline on the
// context the wait is unbounded; that is the documented default behaviour
// of the synchronous submission path.
func (s *Subscription) Next(ctx context.Context) (uint64, error) {
	select {
	case height := <-s.out:
		return height, nil
	case <-s.done:
		return 0, ErrSubscriptionClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close deregisters the subscriber and releases its queue.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.notifier.remove(s.id)
		close(s.done)
	})
}
