package reconcile

import (
	"time"

	"infinite-experiment/tourdesk/internal/models/entities"
)

// MutationState tracks an optimistic change through its write
type MutationState string

const (
	MutationPending   MutationState = "pending"
	MutationConfirmed MutationState = "confirmed"
	MutationFailed    MutationState = "failed"
)

// MutationOp is the kind of optimistic change
type MutationOp string

const (
	OpUpdate MutationOp = "update"
	OpInsert MutationOp = "insert"
	OpDelete MutationOp = "delete"
)

// Handle identifies an optimistic mutation until it is confirmed or rolled back
type Handle struct {
	ID       string
	EntityID string
	Op       MutationOp
}

// Mutation is an in-flight local change together with what is needed to undo it
type Mutation struct {
	ID        string
	EntityID  string
	Op        MutationOp
	Previous  entities.Record
	Next      entities.Record
	Patch     entities.Patch
	State     MutationState
	CreatedAt time.Time

	// superseded holds patched fields a remote event has since overwritten.
	// For inserts and deletes the "*" key marks the whole row.
	superseded map[string]bool
}

const wholeRow = "*"

// Handle returns the caller-facing handle
func (m *Mutation) Handle() Handle {
	return Handle{ID: m.ID, EntityID: m.EntityID, Op: m.Op}
}

// Superseded reports whether any remote event overwrote part of this mutation
func (m *Mutation) Superseded() bool {
	return len(m.superseded) > 0
}

func (m *Mutation) supersede(field string) {
	if m.superseded == nil {
		m.superseded = make(map[string]bool)
	}
	m.superseded[field] = true
}

func (m *Mutation) isSuperseded(field string) bool {
	return m.superseded[wholeRow] || m.superseded[field]
}

func (m *Mutation) touches(field string) bool {
	_, ok := m.Patch[field]
	return ok
}

func (m *Mutation) copy() Mutation {
	out := *m
	out.Previous = m.Previous.Clone()
	out.Next = m.Next.Clone()
	out.Patch = make(entities.Patch, len(m.Patch))
	for k, v := range m.Patch {
		out.Patch[k] = v
	}
	out.superseded = make(map[string]bool, len(m.superseded))
	for k, v := range m.superseded {
		out.superseded[k] = v
	}
	return out
}
