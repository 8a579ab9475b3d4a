/*
Package notify defines the notification event stream emitted by the engine.

PURPOSE:
  Every lifecycle transition and dispute change produces an Event. The
  engine only EMITS events; delivery (push, in-app, email) is an external
  collaborator that consumes them. This keeps the core free of delivery
  concerns while preserving a complete record of what happened.

DELIVERY SEMANTICS:
  At-most-once, advisory. A sink failure is logged by the caller and never
  fails the transition that produced the event - money and state
  correctness do not depend on notifications landing.

IMPLEMENTATIONS:
  - LogNotifier: writes events to the process log (default for the server)
  - Recorder:    captures events in memory (tests)

SEE ALSO:
  - booking/lifecycle.go: emits booking.* events
  - settlement/ledger.go: emits dispute.* events
*/
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EVENT - One notification-worthy fact
// =============================================================================

type EventType string

const (
	BookingCreated   EventType = "booking.created"
	BookingCompleted EventType = "booking.completed"
	BookingCancelled EventType = "booking.cancelled"
	DisputeOpened    EventType = "dispute.opened"
	DisputeResolved  EventType = "dispute.resolved"
)

type Event struct {
	ID         string
	Type       EventType
	BookingID  string
	UserID     string
	ProviderID string
	At         time.Time
	Detail     map[string]string
}

// NewEvent builds an event with a fresh id.
func NewEvent(typ EventType, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, At: at}
}

// =============================================================================
// NOTIFIER - Consumed by the external delivery layer
// =============================================================================

// Notifier receives events as they occur. Implementations must be safe for
// concurrent use; the scheduler and request handlers emit concurrently.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// =============================================================================
// LOG NOTIFIER - Default sink, writes to the process log
// =============================================================================

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, e Event) error {
	log.Printf("[Notify] %s booking=%s provider=%s user=%s", e.Type, e.BookingID, e.ProviderID, e.UserID)
	return nil
}

// =============================================================================
// RECORDER - In-memory sink for tests
// =============================================================================

type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events matching typ, in order.
func (r *Recorder) OfType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
