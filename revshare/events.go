package revshare

import (
	"context"
	"sync"
	"time"
)

// EventKind distinguishes audit records.
type EventKind uint8

const (
	// EventDeposit records funds entering the pool.
	EventDeposit EventKind = iota + 1
	// EventRelease records a payment to a beneficiary.
	EventRelease
)

// String returns the lowercase kind name.
func (k EventKind) String() string {
	switch k {
	case EventDeposit:
		return "deposit"
	case EventRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Event is an append-only audit record. Seq is assigned by the sink.
type Event struct {
	Seq     uint64
	Kind    EventKind
	Address Address // depositor or beneficiary
	Amount  uint64
	Ref     string // treasury transfer reference, releases only
	Time    time.Time
}

// EventSink receives audit records. Sinks are best-effort: the ledger logs
// a Record error and carries on.
type EventSink interface {
	Record(ctx context.Context, ev *Event) error
}

// EventSinkFunc adapts a plain function to EventSink.
type EventSinkFunc func(ctx context.Context, ev *Event) error

// Record implements EventSink.
func (f EventSinkFunc) Record(ctx context.Context, ev *Event) error {
	return f(ctx, ev)
}

// MemEventLog is an in-memory EventSink that can be queried.
type MemEventLog struct {
	mu     sync.RWMutex
	events []Event
}

// Compile-time interface check.
var _ EventSink = (*MemEventLog)(nil)

// NewMemEventLog creates an empty event log.
func NewMemEventLog() *MemEventLog {
	return &MemEventLog{}
}

// Record appends ev and assigns its sequence number, starting at 1.
func (l *MemEventLog) Record(_ context.Context, ev *Event) error {
	if ev == nil {
		return ErrNilParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.Seq = uint64(len(l.events)) + 1
	l.events = append(l.events, *ev)
	return nil
}

// Events returns a copy of all recorded events in order.
func (l *MemEventLog) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
