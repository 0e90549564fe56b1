// Package reconcile keeps a local collection of remote records consistent with
// optimistic local edits and streamed remote change events.
package reconcile

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/entities"
)

var (
	ErrNotFound         = errors.New("record not in collection")
	ErrAlreadyPresent   = errors.New("record already in collection")
	ErrEmptyPatch       = errors.New("patch has no fields")
	ErrUnknownMutation  = errors.New("mutation is not pending")
	ErrInvalidRecord    = errors.New("record has no id")
	ErrKindMismatch     = errors.New("record kind does not match collection")
	ErrReadonlyField    = errors.New("field cannot be patched")
	readonlyPatchFields = map[string]bool{"id": true, "updated_at": true}
)

// Action describes what a remote event did to the collection
type Action string

const (
	ActionAdded    Action = "added"
	ActionMerged   Action = "merged"
	ActionRemoved  Action = "removed"
	ActionDeferred Action = "deferred"
	ActionIgnored  Action = "ignored"
)

// Conflict is a remote value that replaced a pending optimistic value
type Conflict struct {
	MutationID string
	EntityID   string
	Field      string
	Local      any
	Remote     any
}

// Outcome is the result of merging one remote event
type Outcome struct {
	Action    Action
	EntityID  string
	Conflicts []Conflict
}

// Change is delivered to listeners after every collection change
type Change struct {
	Kind     entities.Kind
	Version  uint64
	EntityID string
	Reason   string
}

// Reconciler owns the reconciled collection for one entity kind.
// All mutation goes through Seed, the optimistic operations and OnRemoteEvent.
type Reconciler struct {
	kind entities.Kind

	mu       sync.RWMutex
	records  map[string]entities.Record
	pending  map[string]*Mutation
	criteria Criteria
	version  uint64

	listenersMu  sync.RWMutex
	listeners    map[int]func(Change)
	nextListener int

	log *zap.SugaredLogger
	now func() time.Time
}

// New creates an empty reconciler for kind
func New(kind entities.Kind, criteria Criteria) *Reconciler {
	return &Reconciler{
		kind:      kind,
		records:   make(map[string]entities.Record),
		pending:   make(map[string]*Mutation),
		criteria:  criteria,
		listeners: make(map[int]func(Change)),
		log:       logging.Component("reconciler").With("kind", kind.String()),
		now:       time.Now,
	}
}

// Kind returns the entity kind of the collection
func (r *Reconciler) Kind() entities.Kind { return r.kind }

// Subscribe registers fn for change notifications and returns the unsubscribe func
func (r *Reconciler) Subscribe(fn func(Change)) func() {
	r.listenersMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

func (r *Reconciler) notify(c Change) {
	r.listenersMu.RLock()
	fns := make([]func(Change), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// bump must be called with mu held
func (r *Reconciler) bump(entityID, reason string) Change {
	r.version++
	return Change{Kind: r.kind, Version: r.version, EntityID: entityID, Reason: reason}
}

// Seed replaces the whole collection with records and drops pending mutations.
// Records outside the criteria are skipped. Returns the number kept.
func (r *Reconciler) Seed(records []entities.Record) int {
	next := make(map[string]entities.Record, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if rec.Kind == "" {
			rec.Kind = r.kind
		}
		if !r.criteria.Matches(rec) {
			continue
		}
		next[rec.ID] = rec.Clone()
	}

	r.mu.Lock()
	dropped := len(r.pending)
	r.records = next
	r.pending = make(map[string]*Mutation)
	change := r.bump("", "seed")
	criteria := r.criteria
	r.mu.Unlock()

	if dropped > 0 {
		r.log.Warnw("Seed dropped pending mutations", "dropped", dropped)
	}
	r.log.Debugw("Collection seeded", "records", len(next), "statuses", criteria.Statuses)
	r.notify(change)
	return len(next)
}

// ApplyOptimistic patches a present record immediately and returns the handle
// the write outcome is reported against.
func (r *Reconciler) ApplyOptimistic(id string, patch entities.Patch) (Handle, error) {
	if len(patch) == 0 {
		return Handle{}, ErrEmptyPatch
	}
	for field := range patch {
		if readonlyPatchFields[field] {
			return Handle{}, fmt.Errorf("%w: %s", ErrReadonlyField, field)
		}
	}
	patch = entities.NormalizePatch(patch)

	r.mu.Lock()
	cur, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s %s", ErrNotFound, r.kind, id)
	}

	next := cur.Clone()
	if next.Fields == nil {
		next.Fields = make(map[string]any, len(patch))
	}
	for field, value := range patch {
		next.Fields[field] = value
	}
	r.records[id] = next

	m := &Mutation{
		ID:        uuid.New().String(),
		EntityID:  id,
		Op:        OpUpdate,
		Previous:  cur,
		Next:      next.Clone(),
		Patch:     patch,
		State:     MutationPending,
		CreatedAt: r.now(),
	}
	r.pending[m.ID] = m
	change := r.bump(id, "optimistic_update")
	r.mu.Unlock()

	r.notify(change)
	return m.Handle(), nil
}

// ApplyOptimisticInsert adds a record before the remote insert completes
func (r *Reconciler) ApplyOptimisticInsert(rec entities.Record) (Handle, error) {
	if rec.ID == "" {
		return Handle{}, ErrInvalidRecord
	}
	if rec.Kind == "" {
		rec.Kind = r.kind
	}
	if rec.Kind != r.kind {
		return Handle{}, ErrKindMismatch
	}

	r.mu.Lock()
	if _, ok := r.records[rec.ID]; ok {
		r.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s", ErrAlreadyPresent, rec.ID)
	}
	rec = rec.Clone()
	r.records[rec.ID] = rec

	m := &Mutation{
		ID:        uuid.New().String(),
		EntityID:  rec.ID,
		Op:        OpInsert,
		Next:      rec.Clone(),
		State:     MutationPending,
		CreatedAt: r.now(),
	}
	r.pending[m.ID] = m
	change := r.bump(rec.ID, "optimistic_insert")
	r.mu.Unlock()

	r.notify(change)
	return m.Handle(), nil
}

// ApplyOptimisticDelete removes a record before the remote delete completes
func (r *Reconciler) ApplyOptimisticDelete(id string) (Handle, error) {
	r.mu.Lock()
	cur, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s %s", ErrNotFound, r.kind, id)
	}
	delete(r.records, id)

	m := &Mutation{
		ID:        uuid.New().String(),
		EntityID:  id,
		Op:        OpDelete,
		Previous:  cur,
		State:     MutationPending,
		CreatedAt: r.now(),
	}
	r.pending[m.ID] = m
	change := r.bump(id, "optimistic_delete")
	r.mu.Unlock()

	r.notify(change)
	return m.Handle(), nil
}

// Confirm marks a mutation as written. The optimistic values are never
// re-asserted: if a remote event superseded the mutation, the remote values
// stay. Otherwise only the version timestamp (and fields the local copy lacks)
// are adopted from server.
func (r *Reconciler) Confirm(h Handle, server *entities.Record) error {
	r.mu.Lock()
	m, ok := r.pending[h.ID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownMutation
	}
	delete(r.pending, h.ID)
	m.State = MutationConfirmed

	changed := false
	if server != nil && m.Op != OpDelete && !m.Superseded() {
		if cur, ok := r.records[m.EntityID]; ok {
			next := cur.Clone()
			if server.UpdatedAt.After(next.UpdatedAt) {
				next.UpdatedAt = server.UpdatedAt
				changed = true
			}
			for field, value := range server.Fields {
				if _, has := next.Fields[field]; !has {
					if next.Fields == nil {
						next.Fields = map[string]any{}
					}
					next.Fields[field] = value
					changed = true
				}
			}
			r.records[m.EntityID] = next
		}
	}

	var change Change
	if changed {
		change = r.bump(m.EntityID, "confirm")
	}
	r.mu.Unlock()

	if changed {
		r.notify(change)
	}
	return nil
}

// Rollback undoes a failed mutation. A field is restored only when it still
// holds the value this mutation wrote and no remote event has replaced it.
func (r *Reconciler) Rollback(h Handle) error {
	r.mu.Lock()
	m, ok := r.pending[h.ID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownMutation
	}
	delete(r.pending, h.ID)
	m.State = MutationFailed

	changed := false
	switch m.Op {
	case OpUpdate:
		cur, ok := r.records[m.EntityID]
		if !ok {
			break
		}
		next := cur.Clone()
		for field := range m.Patch {
			if m.isSuperseded(field) {
				continue
			}
			if !reflect.DeepEqual(next.Fields[field], m.Next.Fields[field]) {
				continue
			}
			if prev, had := m.Previous.Fields[field]; had {
				next.Fields[field] = prev
			} else {
				delete(next.Fields, field)
			}
			changed = true
		}
		if changed {
			r.records[m.EntityID] = next
		}

	case OpInsert:
		if m.isSuperseded(wholeRow) {
			break
		}
		if _, ok := r.records[m.EntityID]; ok {
			delete(r.records, m.EntityID)
			changed = true
		}

	case OpDelete:
		if m.isSuperseded(wholeRow) {
			break
		}
		if _, ok := r.records[m.EntityID]; !ok && r.criteria.Matches(m.Previous) {
			r.records[m.EntityID] = m.Previous.Clone()
			changed = true
		}
	}

	var change Change
	if changed {
		change = r.bump(m.EntityID, "rollback")
	}
	r.mu.Unlock()

	r.log.Infow("Optimistic mutation rolled back",
		"mutation_id", m.ID,
		"entity_id", m.EntityID,
		"op", m.Op,
		"restored", changed,
	)
	if changed {
		r.notify(change)
	}
	return nil
}

// OnRemoteEvent merges one change-stream event into the collection
func (r *Reconciler) OnRemoteEvent(ev entities.ChangeEvent) Outcome {
	if ev.Table != "" && ev.Table != r.kind.Table() {
		return Outcome{Action: ActionIgnored, EntityID: ev.EntityID()}
	}

	r.mu.Lock()
	var out Outcome
	switch ev.Kind {
	case entities.ChangeInsert:
		out = r.applyInsert(ev)
	case entities.ChangeUpdate:
		out = r.applyUpdate(ev)
	case entities.ChangeDelete:
		out = r.applyDelete(ev)
	default:
		out = Outcome{Action: ActionIgnored, EntityID: ev.EntityID()}
	}

	var change Change
	if out.Action != ActionIgnored && out.Action != ActionDeferred {
		change = r.bump(out.EntityID, "remote_"+string(ev.Kind))
	}
	r.mu.Unlock()

	for _, c := range out.Conflicts {
		r.log.Warnw("Remote change replaced a pending optimistic value",
			"mutation_id", c.MutationID,
			"entity_id", c.EntityID,
			"field", c.Field,
			"local", c.Local,
			"remote", c.Remote,
		)
	}
	if change.Version != 0 {
		r.notify(change)
	}
	return out
}

func (r *Reconciler) applyInsert(ev entities.ChangeEvent) Outcome {
	if ev.Current == nil || ev.Current.ID == "" {
		return Outcome{Action: ActionIgnored}
	}
	id := ev.Current.ID

	// The remote row now exists, so a failing local insert must not remove it
	for _, m := range r.pendingFor(id) {
		m.supersede(wholeRow)
	}

	if _, ok := r.records[id]; ok {
		return Outcome{Action: ActionIgnored, EntityID: id}
	}
	rec := r.normalize(*ev.Current)
	if !r.criteria.Matches(rec) {
		return Outcome{Action: ActionIgnored, EntityID: id}
	}
	r.records[id] = rec
	return Outcome{Action: ActionAdded, EntityID: id}
}

func (r *Reconciler) applyUpdate(ev entities.ChangeEvent) Outcome {
	if ev.Current == nil || ev.Current.ID == "" {
		return Outcome{Action: ActionIgnored}
	}
	id := ev.Current.ID
	incoming := r.normalize(*ev.Current)
	pending := r.pendingFor(id)

	// A pending local delete absorbs the update so a rollback restores the newest row
	for _, m := range pending {
		if m.Op == OpDelete {
			m.Previous = mergeFields(m.Previous, incoming, nil)
			return Outcome{Action: ActionDeferred, EntityID: id}
		}
	}

	cur, ok := r.records[id]
	if !ok {
		if !r.criteria.Matches(incoming) {
			return Outcome{Action: ActionIgnored, EntityID: id}
		}
		r.records[id] = incoming
		return Outcome{Action: ActionAdded, EntityID: id}
	}

	var conflicts []Conflict
	keep := map[string]bool{}
	for field, remote := range incoming.Fields {
		for _, m := range pending {
			if m.Op != OpUpdate || !m.touches(field) {
				continue
			}
			// With a previous image, a field the remote writer left unchanged
			// does not override the pending local value.
			if ev.Previous != nil {
				if before, had := ev.Previous.Fields[field]; had && reflect.DeepEqual(before, remote) {
					keep[field] = true
					continue
				}
			}
			m.supersede(field)
			if local := m.Next.Fields[field]; !reflect.DeepEqual(local, remote) {
				conflicts = append(conflicts, Conflict{
					MutationID: m.ID,
					EntityID:   id,
					Field:      field,
					Local:      local,
					Remote:     remote,
				})
			}
		}
	}
	for _, m := range pending {
		if m.Op == OpInsert {
			m.supersede(wholeRow)
		}
	}

	merged := mergeFields(cur, incoming, keep)
	if !r.criteria.Matches(merged) {
		delete(r.records, id)
		return Outcome{Action: ActionRemoved, EntityID: id, Conflicts: conflicts}
	}
	r.records[id] = merged
	return Outcome{Action: ActionMerged, EntityID: id, Conflicts: conflicts}
}

func (r *Reconciler) applyDelete(ev entities.ChangeEvent) Outcome {
	id := ev.EntityID()
	if id == "" {
		return Outcome{Action: ActionIgnored}
	}
	for _, m := range r.pendingFor(id) {
		m.supersede(wholeRow)
	}
	if _, ok := r.records[id]; !ok {
		return Outcome{Action: ActionIgnored, EntityID: id}
	}
	delete(r.records, id)
	return Outcome{Action: ActionRemoved, EntityID: id}
}

// pendingFor must be called with mu held
func (r *Reconciler) pendingFor(id string) []*Mutation {
	var out []*Mutation
	for _, m := range r.pending {
		if m.EntityID == id {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Reconciler) normalize(rec entities.Record) entities.Record {
	rec = rec.Clone()
	if rec.Kind == "" {
		rec.Kind = r.kind
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return rec
}

// mergeFields applies every incoming field onto base except those in keep.
// The incoming version timestamp wins when present.
func mergeFields(base, incoming entities.Record, keep map[string]bool) entities.Record {
	out := base.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(incoming.Fields))
	}
	for field, value := range incoming.Fields {
		if keep[field] {
			continue
		}
		out.Fields[field] = value
	}
	if !incoming.UpdatedAt.IsZero() {
		out.UpdatedAt = incoming.UpdatedAt
	}
	return out
}

// SetCriteria swaps the filter and drops records that no longer match
func (r *Reconciler) SetCriteria(c Criteria) int {
	r.mu.Lock()
	r.criteria = c
	removed := 0
	for id, rec := range r.records {
		if !c.Matches(rec) {
			delete(r.records, id)
			removed++
		}
	}
	change := r.bump("", "criteria")
	r.mu.Unlock()

	r.notify(change)
	return removed
}

// Criteria returns the active filter
func (r *Reconciler) Criteria() Criteria {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.criteria
}

// Get returns a copy of one record
func (r *Reconciler) Get(id string) (entities.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return entities.Record{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns copies of every record sorted by id
func (r *Reconciler) Snapshot() []entities.Record {
	r.mu.RLock()
	out := make([]entities.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of records in the collection
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Version increases on every collection change
func (r *Reconciler) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Pending returns copies of the in-flight mutations, oldest first
func (r *Reconciler) Pending() []Mutation {
	r.mu.RLock()
	out := make([]Mutation, 0, len(r.pending))
	for _, m := range r.pending {
		out = append(out, m.copy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Mutation returns a copy of a pending mutation
func (r *Reconciler) Mutation(h Handle) (Mutation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.pending[h.ID]
	if !ok {
		return Mutation{}, false
	}
	return m.copy(), true
}
