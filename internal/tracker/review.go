package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/worldtracker/internal/extract"
	"github.com/MrWong99/worldtracker/internal/observe"
	"github.com/MrWong99/worldtracker/internal/proposal"
	"github.com/MrWong99/worldtracker/internal/render"
	"github.com/MrWong99/worldtracker/internal/review"
	"github.com/MrWong99/worldtracker/pkg/world"
)

// HandleNarrative extracts a delta from ev and queues its proposals for
// review under the context that was active when extraction started. It
// returns the number of proposals queued.
//
// Events that are dropped (in flight, duplicate, empty, nothing loaded) are
// reported through the extract sentinel errors without a status change.
// Oracle failures publish an extraction error status and leave the queue
// untouched. An empty delta republishes the pending count.
func (s *Session) HandleNarrative(ctx context.Context, ev extract.Event) (int, error) {
	contextID := s.ContextID()
	if contextID == "" {
		return 0, ErrNoContext
	}
	snap := s.engine.Snapshot()

	res, err := s.extractor.Extract(ctx, ev, snap)
	if err != nil {
		if IsDropped(err) {
			observe.Logger(ctx).Debug("tracker: narrative event dropped", "reason", err)
			return 0, err
		}
		s.publish(statusExtractError + err.Error())
		return 0, err
	}
	if res.Delta.IsEmpty() {
		s.publish(review.PendingStatus(s.queue.Len()))
		return 0, nil
	}
	return s.enqueue(ctx, contextID, s.expander.Expand(res.Delta, snap, contextID)), nil
}

// IsDropped reports whether err means a narrative event was ignored rather
// than failed.
func IsDropped(err error) bool {
	return errors.Is(err, extract.ErrInFlight) ||
		errors.Is(err, extract.ErrDuplicate) ||
		errors.Is(err, extract.ErrEmpty) ||
		errors.Is(err, extract.ErrNotLoaded)
}

func (s *Session) enqueue(ctx context.Context, contextID string, props []*proposal.Proposal) int {
	n := s.queue.Enqueue(contextID, props)
	if n == 0 && len(props) > 0 {
		s.metrics.RecordDropped(ctx, "stale_context")
		observe.Logger(ctx).Info("tracker: discarding proposals for inactive context", "context", contextID, "count", len(props))
		return 0
	}
	for _, p := range props[:n] {
		s.metrics.RecordProposal(ctx, string(p.Category))
	}
	return n
}

// Import queues a whole-file import of data as a single proposal.
func (s *Session) Import(ctx context.Context, filename string, data []byte) (*proposal.Proposal, error) {
	contextID := s.ContextID()
	if contextID == "" {
		return nil, ErrNoContext
	}
	p, err := s.expander.ExpandImport(filename, data, s.engine.Snapshot(), contextID)
	if err != nil {
		return nil, err
	}
	if s.enqueue(ctx, contextID, []*proposal.Proposal{p}) == 0 {
		return nil, fmt.Errorf("tracker: import %s: context switched", filename)
	}
	return p, nil
}

// EditDocument replaces filename with the hand-edited JSON object in data,
// bypassing review. Invalid input is rejected before the model is touched.
func (s *Session) EditDocument(ctx context.Context, filename string, data []byte) error {
	if !strings.HasSuffix(filename, ".json") {
		return fmt.Errorf("%w: %s: not a .json file", ErrInvalidDocument, filename)
	}
	var doc world.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, filename, err)
	}
	if doc == nil {
		return fmt.Errorf("%w: %s: not an object", ErrInvalidDocument, filename)
	}

	s.opMu.Lock()
	if s.ContextID() == "" {
		s.opMu.Unlock()
		return ErrNoContext
	}
	s.engine.ReplaceDocument(filename, doc)
	s.opMu.Unlock()

	return s.persist(ctx)
}

// Accept applies the pending proposal id.
func (s *Session) Accept(id string) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.queue.Accept(id)
}

// Deny drops the pending proposal id.
func (s *Session) Deny(id string) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.queue.Deny(id)
}

// AcceptAll applies every pending proposal in order.
func (s *Session) AcceptAll() int {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.queue.AcceptAll()
}

// DenyAll drops every pending proposal.
func (s *Session) DenyAll() int {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.queue.DenyAll()
}

// Toggle flips the expanded display state of a pending proposal.
func (s *Session) Toggle(id string) bool { return s.queue.Toggle(id) }

// Pending returns the pending proposals in queue order.
func (s *Session) Pending() []proposal.Proposal { return s.queue.Pending() }

// Proposal returns the pending proposal id.
func (s *Session) Proposal(id string) (proposal.Proposal, bool) { return s.queue.Get(id) }

// Injection renders the prompt injection for the recent messages.
func (s *Session) Injection(messages []string) render.Injection {
	opts := s.renderOptions()
	var inj render.Injection
	s.engine.View(func(m *world.Model) {
		inj = render.Inject(m, messages, opts)
	})
	return inj
}

// Summary renders the panel summary for the recent messages.
func (s *Session) Summary(messages []string) string {
	opts := s.renderOptions()
	var out string
	s.engine.View(func(m *world.Model) {
		out = render.Summary(m, render.Select(m, messages, opts))
	})
	return out
}

// onQueueChange runs after every effective queue operation. Changes that
// modified the model are persisted.
func (s *Session) onQueueChange(c review.Change) {
	ctx := context.Background()
	switch c.Kind {
	case review.KindAccepted, review.KindAcceptedAll:
		s.metrics.RecordDecision(ctx, "accepted", c.Affected)
	case review.KindDenied, review.KindDeniedAll:
		s.metrics.RecordDecision(ctx, "denied", c.Affected)
	case review.KindReset:
		s.metrics.RecordDecision(ctx, "reset", c.Affected)
	}
	if c.Kind != review.KindReset {
		s.publish(c.Status())
	}
	if c.Applied() {
		if err := s.persist(ctx); err != nil {
			observe.Logger(ctx).Warn("tracker: schedule persistence failed", "err", err)
		}
	}
}

// persist mirrors the live model and schedules a push to the linked set.
func (s *Session) persist(ctx context.Context) error {
	return s.sched.Schedule(ctx, s.target())
}
