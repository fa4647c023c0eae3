// Package reconcile merges server confirmations of optimistic client mutations into
// locally-held state without letting concurrent in-flight mutations clobber each other.
//
// Every mutation claims the fields it is authoritative for when it starts. A server
// response overwrites only fields not claimed by a still-pending later mutation; claimed
// fields keep their optimistic values until the claiming mutation's own response lands.
// A claim is released strictly when the response (or failure) is processed, never when
// the request is sent.
//
// The tracker assumes a single-goroutine, event-loop style caller and holds no locks.
package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMutation indicates a resolve or fail for a mutation id that is not in flight.
	ErrUnknownMutation = errors.New("reconcile: unknown mutation")
	// ErrNoClaims indicates a mutation that claims no fields.
	ErrNoClaims = errors.New("reconcile: mutation must claim at least one field")
)

// Field names one reconciled attribute of a record.
type Field string

// RecordID identifies one locally-held record.
type RecordID string

// MutationID identifies one in-flight mutation. Ids are issued in Begin order and the
// ordering is what decides which claim supersedes which.
type MutationID int64

// Value is an opaque field value; the tracker only moves values, never inspects them.
type Value interface{}

type mutation struct {
	id     MutationID
	record RecordID
	claims []Field
}

type recordState struct {
	displayed     map[Field]Value
	authoritative map[Field]Value
	// claimant holds the newest pending mutation claiming each field.
	claimant map[Field]MutationID
	// appliedSeq holds the newest mutation whose server value reached the field.
	appliedSeq map[Field]MutationID
}

func newRecordState() *recordState {
	return &recordState{
		displayed:     make(map[Field]Value),
		authoritative: make(map[Field]Value),
		claimant:      make(map[Field]MutationID),
		appliedSeq:    make(map[Field]MutationID),
	}
}

// Tracker folds server truth into optimistic local state, field by field.
type Tracker struct {
	nextID    MutationID
	records   map[RecordID]*recordState
	mutations map[MutationID]*mutation
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records:   make(map[RecordID]*recordState),
		mutations: make(map[MutationID]*mutation),
	}
}

// Seed installs server-authoritative values for a record without any claim, e.g. from
// an initial fetch.
func (t *Tracker) Seed(record RecordID, values map[Field]Value) {
	state := t.state(record)
	for field, value := range values {
		state.authoritative[field] = value
		if _, claimed := state.claimant[field]; !claimed {
			state.displayed[field] = value
		}
	}
}

// Begin registers an optimistic mutation, applies its values to the displayed state and
// claims exactly the supplied fields. A later Begin on the same field supersedes the
// earlier claim: the earlier mutation's eventual response is ignored for that field.
func (t *Tracker) Begin(record RecordID, optimistic map[Field]Value) (MutationID, error) {
	if len(optimistic) == 0 {
		return 0, ErrNoClaims
	}

	t.nextID++
	id := t.nextID
	state := t.state(record)

	claims := make([]Field, 0, len(optimistic))
	for field, value := range optimistic {
		state.displayed[field] = value
		state.claimant[field] = id
		claims = append(claims, field)
	}

	t.mutations[id] = &mutation{id: id, record: record, claims: claims}
	return id, nil
}

// Resolve processes the server confirmation for a mutation. Server values land on every
// field not claimed by a still-pending later mutation; for fields that are, the
// optimistic display survives and the server value is recorded as last-known
// authoritative for later rollback. Fields already confirmed by a newer mutation are
// left untouched entirely.
func (t *Tracker) Resolve(id MutationID, server map[Field]Value) error {
	pending, ok := t.mutations[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMutation, id)
	}
	state := t.state(pending.record)

	for field, value := range server {
		if state.appliedSeq[field] > id {
			continue
		}
		state.authoritative[field] = value

		claimant, claimed := state.claimant[field]
		if claimed && claimant != id {
			continue
		}
		state.displayed[field] = value
		state.appliedSeq[field] = id
	}

	t.release(pending, state)
	return nil
}

// Fail rolls back only the failing mutation's still-owned claimed fields to their
// last-known-authoritative values. Claims held by other mutations are untouched.
func (t *Tracker) Fail(id MutationID) error {
	pending, ok := t.mutations[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMutation, id)
	}
	state := t.state(pending.record)

	for _, field := range pending.claims {
		if state.claimant[field] != id {
			continue
		}
		if value, ok := state.authoritative[field]; ok {
			state.displayed[field] = value
		} else {
			delete(state.displayed, field)
		}
	}

	t.release(pending, state)
	return nil
}

// Displayed returns a copy of the merged view for a record.
func (t *Tracker) Displayed(record RecordID) map[Field]Value {
	state, ok := t.records[record]
	if !ok {
		return map[Field]Value{}
	}
	view := make(map[Field]Value, len(state.displayed))
	for field, value := range state.displayed {
		view[field] = value
	}
	return view
}

// InFlight reports the number of unresolved mutations.
func (t *Tracker) InFlight() int {
	return len(t.mutations)
}

func (t *Tracker) release(pending *mutation, state *recordState) {
	for _, field := range pending.claims {
		if state.claimant[field] == pending.id {
			delete(state.claimant, field)
		}
	}
	delete(t.mutations, pending.id)
}

func (t *Tracker) state(record RecordID) *recordState {
	state, ok := t.records[record]
	if !ok {
		state = newRecordState()
		t.records[record] = state
	}
	return state
}
