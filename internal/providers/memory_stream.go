package providers

import (
	"context"
	"errors"
	"sync"

	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/entities"
)

// ErrSubscriberLagging ends a subscription whose consumer fell too far behind
var ErrSubscriberLagging = errors.New("subscriber fell behind the change stream")

// MemoryStream is an in-process ChangeStream and Publisher for single-replica
// deployments and tests
type MemoryStream struct {
	mu     sync.RWMutex
	subs   map[*subscription]memoryTarget
	closed bool
}

type memoryTarget struct {
	table  string
	filter Filter
}

func NewMemoryStream() *MemoryStream {
	return &MemoryStream{subs: make(map[*subscription]memoryTarget)}
}

var (
	_ ChangeStream = (*MemoryStream)(nil)
	_ Publisher    = (*MemoryStream)(nil)
)

func (m *MemoryStream) Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, SubscribeFailed(errors.New("stream closed"))
	}

	sub := newSubscription(ctx)
	sub.release = func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	}
	m.subs[sub] = memoryTarget{table: table, filter: filter}

	go func() {
		<-sub.ctx.Done()
		sub.finish(nil)
	}()
	return sub, nil
}

// Publish fans ev out to every matching subscription without blocking
func (m *MemoryStream) Publish(_ context.Context, ev entities.ChangeEvent) error {
	var lagging []*subscription

	m.mu.RLock()
	for sub, target := range m.subs {
		if target.table != ev.Table || !target.filter.Matches(ev) {
			continue
		}
		if !sub.tryDeliver(ev) {
			lagging = append(lagging, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range lagging {
		logging.Warn("Dropping lagging change subscriber", "table", ev.Table)
		sub.finish(ErrSubscriberLagging)
	}
	return nil
}

// Disconnect ends every subscription with err, as a broken connection would
func (m *MemoryStream) Disconnect(err error) {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		sub.finish(SubscribeFailed(err))
	}
}

// Close ends every subscription and rejects new ones
func (m *MemoryStream) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Disconnect(errors.New("stream closed"))
	return nil
}

// Subscribers returns the number of open subscriptions
func (m *MemoryStream) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}
