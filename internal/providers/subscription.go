package providers

import (
	"context"
	"sync"

	"infinite-experiment/tourdesk/internal/models/entities"
)

const subscriptionBuffer = 256

// subscription is the Subscription shared by every stream implementation.
// The producing goroutine calls deliver and finish; consumers read Events.
type subscription struct {
	events chan entities.ChangeEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	release func()
	once    sync.Once
}

func newSubscription(parent context.Context) *subscription {
	ctx, cancel := context.WithCancel(parent)
	return &subscription{
		events: make(chan entities.ChangeEvent, subscriptionBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *subscription) Events() <-chan entities.ChangeEvent { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer and waits for it to exit
func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// deliver blocks until the event is queued or the subscription is cancelled
func (s *subscription) deliver(ev entities.ChangeEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// tryDeliver queues without blocking, for producers that must not stall
func (s *subscription) tryDeliver(ev entities.ChangeEvent) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// finish records why the feed ended and closes Events. Safe to call more than once.
func (s *subscription) finish(err error) {
	s.once.Do(func() {
		if s.ctx.Err() != nil {
			err = nil
		}
		s.mu.Lock()
		s.err = err
		release := s.release
		s.mu.Unlock()

		s.cancel()
		if release != nil {
			release()
		}
		close(s.events)
		close(s.done)
	})
}
