package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/entities"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/reconcile"
)

// Workspace is the process-wide registry of reconciled collections, one per kind
type Workspace struct {
	mu       sync.RWMutex
	services map[entities.Kind]*SyncService
	notifier *Notifier
}

func NewWorkspace(notifier *Notifier, services ...*SyncService) *Workspace {
	w := &Workspace{services: make(map[entities.Kind]*SyncService), notifier: notifier}
	for _, s := range services {
		w.Register(s)
	}
	return w
}

// Register adds s, replacing any service already registered for its kind
func (w *Workspace) Register(s *SyncService) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.services[s.Kind()] = s
}

// Service returns the sync service for kind
func (w *Workspace) Service(kind entities.Kind) (*SyncService, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.services[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no sync service registered for %q", providers.ErrUnknownKind, kind)
	}
	return s, nil
}

// Reconciler returns the collection for kind, or nil when none is registered
func (w *Workspace) Reconciler(kind entities.Kind) *reconcile.Reconciler {
	s, err := w.Service(kind)
	if err != nil {
		return nil
	}
	return s.Reconciler()
}

// Services lists the registered services in load order
func (w *Workspace) Services() []*SyncService {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*SyncService, 0, len(w.services))
	for _, k := range entities.Kinds {
		if s, ok := w.services[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (w *Workspace) Notifier() *Notifier { return w.notifier }

// LoadResult is the outcome of one kind's bulk load
type LoadResult struct {
	Kind    entities.Kind
	Records int
	Err     error
}

// LoadAll refreshes criteria and reloads every collection concurrently. Every
// kind is attempted; the first error is returned alongside the per-kind results.
func (w *Workspace) LoadAll(ctx context.Context) ([]LoadResult, error) {
	services := w.Services()
	results := make([]LoadResult, len(services))

	var g errgroup.Group
	for i, s := range services {
		g.Go(func() error {
			if _, err := s.RefreshCriteria(ctx); err != nil {
				logging.Warn("Criteria refresh failed before reload", "kind", s.Kind().String(), "error", err.Error())
			}
			n, err := s.Load(ctx)
			results[i] = LoadResult{Kind: s.Kind(), Records: n, Err: err}
			return err
		})
	}
	err := g.Wait()
	return results, err
}
