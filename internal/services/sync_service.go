package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/entities"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/reconcile"
	"infinite-experiment/tourdesk/internal/retry"
)

var errStreamClosed = errors.New("change stream closed")

// Recorder receives reconciliation counters; implemented by metrics.MetricsRegistry
type Recorder interface {
	RemoteEvent(kind, action string)
	Conflict(kind string)
	Mutation(kind, op, result string)
	SetCollectionSize(kind string, n int)
	SetStreamLive(kind string, live bool)
}

type nopRecorder struct{}

func (nopRecorder) RemoteEvent(string, string)      {}
func (nopRecorder) Conflict(string)                 {}
func (nopRecorder) Mutation(string, string, string) {}
func (nopRecorder) SetCollectionSize(string, int)   {}
func (nopRecorder) SetStreamLive(string, bool)      {}

// CapabilityChecker answers whether an optional column exists
type CapabilityChecker interface {
	Has(ctx context.Context, table, column string) (bool, error)
}

// SyncConfig describes one reconciled collection
type SyncConfig struct {
	Kind entities.Kind
	// Criteria is the desired filter. RequireVisible is only applied while the
	// visibility column exists.
	Criteria reconcile.Criteria
	// Filter narrows the change stream subscription
	Filter providers.Filter
	// Retry bounds every remote read and write
	Retry retry.Policy
	// Resubscribe paces reconnects after the change stream fails
	Resubscribe retry.Policy
}

// SyncService keeps one entity kind in sync between the data source, the
// change stream and the process-wide reconciled collection.
type SyncService struct {
	kind        entities.Kind
	rec         *reconcile.Reconciler
	source      providers.DataSource
	stream      providers.ChangeStream
	caps        CapabilityChecker
	notifier    *Notifier
	recorder    Recorder
	retry       retry.Policy
	resubscribe retry.Policy
	base        reconcile.Criteria
	filter      providers.Filter
	live        atomic.Bool
	log         *zap.SugaredLogger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSyncService(
	cfg SyncConfig,
	source providers.DataSource,
	stream providers.ChangeStream,
	caps CapabilityChecker,
	notifier *Notifier,
) *SyncService {
	initial := cfg.Criteria
	// Visibility stays off until RefreshCriteria has confirmed the column
	initial.RequireVisible = false
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &SyncService{
		kind:        cfg.Kind,
		rec:         reconcile.New(cfg.Kind, initial),
		source:      source,
		stream:      stream,
		caps:        caps,
		notifier:    notifier,
		recorder:    nopRecorder{},
		retry:       cfg.Retry,
		resubscribe: cfg.Resubscribe,
		base:        cfg.Criteria,
		filter:      cfg.Filter,
		log:         logging.Component("sync").With("kind", cfg.Kind.String()),
		sleep:       sleepContext,
	}
}

// WithRecorder sets the metrics sink
func (s *SyncService) WithRecorder(r Recorder) *SyncService {
	if r != nil {
		s.recorder = r
	}
	return s
}

func (s *SyncService) Kind() entities.Kind { return s.kind }

func (s *SyncService) Reconciler() *reconcile.Reconciler { return s.rec }

// Live reports whether the change stream subscription is currently healthy
func (s *SyncService) Live() bool { return s.live.Load() }

func (s *SyncService) policy(op string) retry.Policy {
	return s.retry.Named(op + "_" + s.kind.String())
}

func (s *SyncService) fetchFilter() providers.FetchFilter {
	c := s.rec.Criteria()
	return providers.FetchFilter{
		Statuses:       c.Statuses,
		StatusField:    c.StatusField,
		RequireVisible: c.RequireVisible,
		VisibleField:   c.VisibleField,
	}
}

// Load fetches the full collection and replaces the local copy. On failure the
// previous collection is left untouched.
func (s *SyncService) Load(ctx context.Context) (int, error) {
	filter := s.fetchFilter()
	records, err := retry.Do(ctx, s.policy("fetch"), func(ctx context.Context) ([]entities.Record, error) {
		return s.source.Fetch(ctx, s.kind, filter)
	})
	if err != nil {
		if ctx.Err() == nil {
			s.notifier.Notify(Notification{
				Level:   LevelWarning,
				Kind:    s.kind.String(),
				Message: constants.MsgLoadFailed,
				Detail:  providers.UserMessage(err),
			})
		}
		return 0, fmt.Errorf("failed to load %s records: %w", s.kind, err)
	}

	n := s.rec.Seed(records)
	s.recorder.SetCollectionSize(s.kind.String(), n)
	s.log.Infow("Collection loaded", "records", n, "fetched", len(records))
	return n, nil
}

// RefreshCriteria enables the visibility filter when the column exists. A
// failed probe keeps the current criteria.
func (s *SyncService) RefreshCriteria(ctx context.Context) (reconcile.Criteria, error) {
	current := s.rec.Criteria()
	if !s.base.RequireVisible || s.caps == nil {
		return current, nil
	}

	field := s.base.VisibleField
	if field == "" {
		field = constants.ColumnVisible
	}
	has, err := s.caps.Has(ctx, s.kind.Table(), field)
	if err != nil {
		s.log.Warnw("Capability probe failed, keeping current criteria",
			"column", field,
			"require_visible", current.RequireVisible,
			"error", err.Error(),
		)
		return current, err
	}
	if has == current.RequireVisible {
		return current, nil
	}

	next := s.base
	next.RequireVisible = has
	removed := s.rec.SetCriteria(next)
	s.recorder.SetCollectionSize(s.kind.String(), s.rec.Len())
	s.log.Infow("Criteria updated", "require_visible", has, "removed", removed)
	return next, nil
}

// Update applies patch locally at once, then writes it with the last seen
// version. A failed write is rolled back and reported.
func (s *SyncService) Update(ctx context.Context, id string, patch entities.Patch) (entities.Record, error) {
	if err := entities.ValidatePatch(s.kind, patch); err != nil {
		return entities.Record{}, providers.Validation("%v", err)
	}
	before, ok := s.rec.Get(id)
	if !ok {
		return entities.Record{}, providers.NotFound(s.kind.Table(), id)
	}

	h, err := s.rec.ApplyOptimistic(id, patch)
	if err != nil {
		return entities.Record{}, s.localError(id, err)
	}

	server, err := retry.Do(ctx, s.policy("update"), func(ctx context.Context) (entities.Record, error) {
		return s.source.Update(ctx, s.kind, id, patch, before.UpdatedAt)
	})
	if err != nil {
		s.rollback(h)
		s.recorder.Mutation(s.kind.String(), string(reconcile.OpUpdate), "failed")

		switch {
		case errors.Is(err, providers.ErrStaleWrite):
			s.refresh(ctx, id, &before)
			s.notify(LevelWarning, constants.MsgSaveFailed, id, err)
		case errors.Is(err, providers.ErrNotFound):
			s.HandleEvent(entities.ChangeEvent{
				Table:    s.kind.Table(),
				Kind:     entities.ChangeDelete,
				Previous: &before,
			})
			s.notify(LevelError, constants.MsgSaveFailed, id, err)
		default:
			s.notify(LevelError, constants.MsgSaveFailed, id, err)
		}
		return entities.Record{}, err
	}

	s.confirm(h, &server)
	s.recorder.Mutation(s.kind.String(), string(reconcile.OpUpdate), "confirmed")
	if rec, ok := s.rec.Get(id); ok {
		return rec, nil
	}
	return server, nil
}

// Create inserts rec, assigning an id when it has none
func (s *SyncService) Create(ctx context.Context, rec entities.Record) (entities.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Kind == "" {
		rec.Kind = s.kind
	}
	if rec.Kind != s.kind {
		return entities.Record{}, providers.Validation("record kind %s does not match %s", rec.Kind, s.kind)
	}
	if err := entities.ValidateRecord(rec); err != nil {
		return entities.Record{}, providers.Validation("%v", err)
	}

	h, err := s.rec.ApplyOptimisticInsert(rec)
	if err != nil {
		return entities.Record{}, s.localError(rec.ID, err)
	}

	attempt := 0
	stored, err := retry.Do(ctx, s.policy("insert"), func(ctx context.Context) (entities.Record, error) {
		attempt++
		out, err := s.source.Insert(ctx, rec)
		// An earlier attempt may have committed before its response was lost
		if attempt > 1 && errors.Is(err, providers.ErrAlreadyExists) {
			return s.source.Get(ctx, s.kind, rec.ID)
		}
		return out, err
	})
	if err != nil {
		s.rollback(h)
		s.recorder.Mutation(s.kind.String(), string(reconcile.OpInsert), "failed")
		s.notify(LevelError, constants.MsgCreateFailed, rec.ID, err)
		return entities.Record{}, err
	}

	s.confirm(h, &stored)
	s.recorder.Mutation(s.kind.String(), string(reconcile.OpInsert), "confirmed")
	return stored, nil
}

// Delete removes id locally at once and then remotely. A record that is
// already gone remotely counts as deleted.
func (s *SyncService) Delete(ctx context.Context, id string) error {
	h, err := s.rec.ApplyOptimisticDelete(id)
	if err != nil {
		return s.localError(id, err)
	}

	err = retry.Run(ctx, s.policy("delete"), func(ctx context.Context) error {
		err := s.source.Delete(ctx, s.kind, id)
		if errors.Is(err, providers.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		s.rollback(h)
		s.recorder.Mutation(s.kind.String(), string(reconcile.OpDelete), "failed")
		s.notify(LevelError, constants.MsgDeleteFailed, id, err)
		return err
	}

	s.confirm(h, nil)
	s.recorder.Mutation(s.kind.String(), string(reconcile.OpDelete), "confirmed")
	return nil
}

// HandleEvent merges one change stream event and reports conflicts
func (s *SyncService) HandleEvent(ev entities.ChangeEvent) reconcile.Outcome {
	out := s.rec.OnRemoteEvent(ev)
	s.recorder.RemoteEvent(s.kind.String(), string(out.Action))
	if out.Action != reconcile.ActionIgnored {
		s.recorder.SetCollectionSize(s.kind.String(), s.rec.Len())
	}
	if len(out.Conflicts) == 0 {
		return out
	}

	fields := make([]string, 0, len(out.Conflicts))
	for _, c := range out.Conflicts {
		s.recorder.Conflict(s.kind.String())
		fields = append(fields, c.Field)
	}
	sort.Strings(fields)
	s.notifier.Notify(Notification{
		Level:    LevelWarning,
		Kind:     s.kind.String(),
		EntityID: out.EntityID,
		Message:  constants.MsgConflictRemote,
		Detail:   "fields: " + strings.Join(fields, ", "),
	})
	return out
}

// Run keeps a change stream subscription open until ctx is cancelled. Each
// session subscribes first and then reloads, so nothing committed in between
// is missed. Failed sessions are retried with backoff.
func (s *SyncService) Run(ctx context.Context) error {
	failures := 0
	degraded := false

	for {
		established, err := s.session(ctx, degraded)
		s.setLive(false)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			failures = 0
			degraded = false
		}
		if err == nil {
			err = errStreamClosed
		}

		if !degraded {
			degraded = true
			s.notifier.Notify(Notification{
				Level:   LevelWarning,
				Kind:    s.kind.String(),
				Message: constants.GetErrorMessage(constants.ErrCodeSubscribeFailed),
				Detail:  err.Error(),
			})
		}

		wait := s.resubscribe.Wait(failures)
		failures++
		s.log.Warnw("Change stream session ended, resubscribing",
			"error", err.Error(),
			"attempt", failures,
			"wait_ms", wait.Milliseconds(),
		)
		if err := s.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// session runs one subscription. established is true once the collection was
// reloaded and events were flowing.
func (s *SyncService) session(ctx context.Context, recovering bool) (established bool, err error) {
	sub, err := s.stream.Subscribe(ctx, s.kind.Table(), s.filter)
	if err != nil {
		return false, err
	}
	defer sub.Close()

	if _, err := s.Load(ctx); err != nil {
		return false, err
	}

	s.setLive(true)
	if recovering {
		s.notifier.Info(s.kind.String(), constants.MsgLiveRecovered, "")
	}
	s.log.Infow("Change stream subscribed", "filter", s.filter.String())

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return true, sub.Err()
			}
			s.HandleEvent(ev)
		}
	}
}

// refresh re-reads one record after a stale write and merges it as a remote change
func (s *SyncService) refresh(ctx context.Context, id string, before *entities.Record) {
	current, err := retry.Do(ctx, s.policy("get"), func(ctx context.Context) (entities.Record, error) {
		return s.source.Get(ctx, s.kind, id)
	})
	switch {
	case err == nil:
		s.HandleEvent(entities.ChangeEvent{
			Table:   s.kind.Table(),
			Kind:    entities.ChangeUpdate,
			Current: &current,
		})
	case errors.Is(err, providers.ErrNotFound):
		s.HandleEvent(entities.ChangeEvent{
			Table:    s.kind.Table(),
			Kind:     entities.ChangeDelete,
			Previous: before,
		})
	default:
		s.log.Warnw("Failed to refresh record after stale write", "entity_id", id, "error", err.Error())
	}
}

func (s *SyncService) confirm(h reconcile.Handle, server *entities.Record) {
	if err := s.rec.Confirm(h, server); err != nil {
		// A reload replaced the collection while the write was in flight
		s.log.Debugw("Confirm skipped", "mutation_id", h.ID, "entity_id", h.EntityID, "error", err.Error())
	}
}

func (s *SyncService) rollback(h reconcile.Handle) {
	if err := s.rec.Rollback(h); err != nil {
		s.log.Debugw("Rollback skipped", "mutation_id", h.ID, "entity_id", h.EntityID, "error", err.Error())
	}
}

func (s *SyncService) notify(level Level, message, id string, err error) {
	s.notifier.Notify(Notification{
		Level:    level,
		Kind:     s.kind.String(),
		EntityID: id,
		Message:  message,
		Detail:   providers.UserMessage(err),
	})
}

// localError maps reconciler rejections onto provider errors
func (s *SyncService) localError(id string, err error) error {
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		return providers.NotFound(s.kind.Table(), id)
	case errors.Is(err, reconcile.ErrAlreadyPresent):
		return &providers.ProviderError{
			Code:    constants.ErrCodeAlreadyExists,
			Message: constants.GetErrorMessage(constants.ErrCodeAlreadyExists),
			Details: fmt.Sprintf("%s %s", s.kind.Table(), id),
		}
	}
	return providers.Validation("%v", err)
}

func (s *SyncService) setLive(live bool) {
	if s.live.Swap(live) != live {
		s.recorder.SetStreamLive(s.kind.String(), live)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
