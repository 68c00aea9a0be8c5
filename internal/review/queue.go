// Package review implements the pending-change queue that sits between
// extraction and the world model.
//
// Proposals enter the queue tagged with the conversation context they were
// produced for. Each one is later accepted (applied exactly once) or denied
// (dropped without effect). A proposal is in exactly one of three states:
// pending, applied or discarded. Only pending proposals are held here.
package review

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/worldtracker/internal/merge"
	"github.com/MrWong99/worldtracker/internal/proposal"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// Applier executes accepted proposals against the live world model.
// [*merge.Engine] implements it.
type Applier interface {
	Apply(mut merge.Mutation)
}

// Kind names the operation that produced a [Change].
type Kind int

const (
	KindEnqueued Kind = iota
	KindAccepted
	KindDenied
	KindAcceptedAll
	KindDeniedAll
	KindReset
)

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case KindEnqueued:
		return "enqueued"
	case KindAccepted:
		return "accepted"
	case KindDenied:
		return "denied"
	case KindAcceptedAll:
		return "accepted_all"
	case KindDeniedAll:
		return "denied_all"
	case KindReset:
		return "reset"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Change is the notification sent after every effective queue operation.
type Change struct {
	Kind Kind

	// ContextID is the active context at the time of the change.
	ContextID string

	// Affected is the number of proposals added, applied or dropped.
	Affected int

	// Remaining is the number of proposals still pending.
	Remaining int
}

// Applied reports whether the change modified the world model.
func (c Change) Applied() bool {
	return (c.Kind == KindAccepted || c.Kind == KindAcceptedAll) && c.Affected > 0
}

// Status renders the change as a short user-facing status line.
func (c Change) Status() string {
	switch c.Kind {
	case KindAcceptedAll:
		return "all changes applied ✓"
	case KindDeniedAll:
		return "all changes denied ✓"
	case KindAccepted:
		if c.Remaining == 0 {
			return "all changes applied ✓"
		}
	case KindDenied, KindReset:
		if c.Remaining == 0 {
			return "idle ✓"
		}
	}
	return PendingStatus(c.Remaining)
}

// PendingStatus renders the pending-count status line.
func PendingStatus(n int) string {
	if n == 0 {
		return "idle ✓"
	}
	if n == 1 {
		return "1 change pending review"
	}
	return fmt.Sprintf("%d changes pending review", n)
}

// Option configures a [Queue].
type Option func(*Queue)

// WithOnChange registers fn to be called once after every effective queue
// operation. fn runs without the queue lock held and may call back into the
// queue.
func WithOnChange(fn func(Change)) Option {
	return func(q *Queue) { q.onChange = fn }
}

// Queue holds pending proposals for the active context. All methods are safe
// for concurrent use.
type Queue struct {
	applier  Applier
	onChange func(Change)

	mu        sync.Mutex
	contextID string
	pending   []*proposal.Proposal
}

// New returns an empty queue applying accepted proposals through applier.
func New(applier Applier, opts ...Option) *Queue {
	q := &Queue{applier: applier}
	for _, o := range opts {
		o(q)
	}
	return q
}

// ContextID returns the active context.
func (q *Queue) ContextID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.contextID
}

// Enqueue appends props in order. A batch tagged with a context other than
// the active one is stale and dropped. It returns the number of proposals
// added. No deduplication happens across calls.
func (q *Queue) Enqueue(contextID string, props []*proposal.Proposal) int {
	q.mu.Lock()
	if contextID != q.contextID || len(props) == 0 {
		q.mu.Unlock()
		return 0
	}
	q.pending = append(q.pending, props...)
	c := Change{Kind: KindEnqueued, ContextID: q.contextID, Affected: len(props), Remaining: len(q.pending)}
	q.mu.Unlock()

	q.notify(c)
	return len(props)
}

// Accept applies the pending proposal id and removes it from the queue. It
// reports false, doing nothing, for ids that are not pending.
func (q *Queue) Accept(id string) bool {
	p, c, ok := q.take(id, KindAccepted)
	if !ok {
		return false
	}
	q.applier.Apply(p)
	q.notify(c)
	return true
}

// Deny drops the pending proposal id without applying it. It reports false
// for ids that are not pending.
func (q *Queue) Deny(id string) bool {
	_, c, ok := q.take(id, KindDenied)
	if !ok {
		return false
	}
	q.notify(c)
	return true
}

// AcceptAll applies every pending proposal in queue order and empties the
// queue. It returns the number applied.
func (q *Queue) AcceptAll() int {
	props, c := q.drain(KindAcceptedAll)
	if len(props) == 0 {
		return 0
	}
	q.applier.Apply(merge.MutationFunc(func(m *world.Model) {
		for _, p := range props {
			p.Apply(m)
		}
	}))
	q.notify(c)
	return len(props)
}

// DenyAll drops every pending proposal. It returns the number dropped.
func (q *Queue) DenyAll() int {
	props, c := q.drain(KindDeniedAll)
	if len(props) == 0 {
		return 0
	}
	q.notify(c)
	return len(props)
}

// Toggle flips the expanded flag of a pending proposal. It only affects how
// the proposal is displayed.
func (q *Queue) Toggle(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return false
	}
	q.pending[i].Expanded = !q.pending[i].Expanded
	return true
}

// Reset clears the queue unconditionally and makes contextID the active
// context.
func (q *Queue) Reset(contextID string) {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.contextID = contextID
	q.mu.Unlock()

	q.notify(Change{Kind: KindReset, ContextID: contextID, Affected: dropped})
}

// Len returns the number of pending proposals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns copies of the pending proposals in queue order. Copies
// still carry their change; apply through [Queue.Accept] only.
func (q *Queue) Pending() []proposal.Proposal {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]proposal.Proposal, len(q.pending))
	for i, p := range q.pending {
		out[i] = *p
	}
	return out
}

// Get returns a copy of the pending proposal id.
func (q *Queue) Get(id string) (proposal.Proposal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return proposal.Proposal{}, false
	}
	return *q.pending[i], true
}

func (q *Queue) take(id string, kind Kind) (*proposal.Proposal, Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return nil, Change{}, false
	}
	p := q.pending[i]
	q.pending = slices.Delete(q.pending, i, i+1)
	return p, Change{Kind: kind, ContextID: q.contextID, Affected: 1, Remaining: len(q.pending)}, true
}

func (q *Queue) drain(kind Kind) ([]*proposal.Proposal, Change) {
	q.mu.Lock()
	defer q.mu.Unlock()
	props := q.pending
	q.pending = nil
	return props, Change{Kind: kind, ContextID: q.contextID, Affected: len(props)}
}

func (q *Queue) index(id string) int {
	return slices.IndexFunc(q.pending, func(p *proposal.Proposal) bool { return p.ID == id })
}

func (q *Queue) notify(c Change) {
	if q.onChange != nil {
		q.onChange(c)
	}
}
