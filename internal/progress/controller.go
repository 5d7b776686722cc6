// Package progress mediates between a processing run and whoever watches it.
//
// The run owns a Controller: it reports page completions and phase changes,
// and checks Cancelled between pages. The watcher reads Events (or polls
// Snapshot) and may call Cancel once. Nothing else is shared between the two.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the lifecycle stage of a run.
type Phase string

const (
	Extracting Phase = "EXTRACTING"
	Analyzing  Phase = "ANALYZING"
	Done       Phase = "DONE"
	Cancelled  Phase = "CANCELLED"
	Failed     Phase = "FAILED"
)

// Terminal reports whether no transition can leave p.
func (p Phase) Terminal() bool {
	return p == Done || p == Cancelled || p == Failed
}

var (
	// ErrInvalidTransition is returned when a phase change would move backwards
	// or leave a terminal phase.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrNotCancellable is returned by Cancel once analysis has started or the run has ended.
	ErrNotCancellable = errors.New("run can no longer be cancelled")

	// ErrAlreadyCancelled is returned by a second Cancel call.
	ErrAlreadyCancelled = errors.New("cancellation already requested")
)

var transitions = map[Phase][]Phase{
	Extracting: {Analyzing, Done, Cancelled, Failed},
	Analyzing:  {Done, Failed},
}

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventPageDone     EventKind = "page_done"
	EventPhaseChanged EventKind = "phase_changed"
	EventError        EventKind = "error"
)

// Event is one progress notification from the run to its watcher.
type Event struct {
	Kind  EventKind `json:"kind"`
	State State     `json:"state"`
	Page  int       `json:"page,omitempty"`
	Err   string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// State is a point-in-time copy of the run's progress.
type State struct {
	PagesTotal int   `json:"pages_total"`
	PagesDone  int   `json:"pages_done"`
	Cancelled  bool  `json:"cancelled"`
	Phase      Phase `json:"phase"`
}

// Fraction returns the completed share of pages and whether that value is
// meaningful. Only extraction has a known denominator.
func (s State) Fraction() (float64, bool) {
	if s.Phase != Extracting || s.PagesTotal <= 0 {
		return 0, false
	}
	return float64(s.PagesDone) / float64(s.PagesTotal), true
}

// DefaultBuffer is the event channel capacity used by New.
const DefaultBuffer = 64

// Controller is the per-run progress and cancellation context.
// The zero value is not usable; call New.
type Controller struct {
	mu     sync.Mutex
	state  State
	events chan Event
	closed bool

	cancelled  atomic.Bool
	cancelOnce sync.Once
	done       chan struct{}

	dropped atomic.Int64
}

// New returns a controller in the EXTRACTING phase.
func New() *Controller {
	return NewWithBuffer(DefaultBuffer)
}

// NewWithBuffer returns a controller whose event channel holds up to size events.
func NewWithBuffer(size int) *Controller {
	if size < 1 {
		size = 1
	}
	return &Controller{
		state:  State{Phase: Extracting},
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Events returns the channel the watcher reads. It is closed when the run
// reaches a terminal phase. Events that do not fit in the buffer are dropped;
// Snapshot always reflects the latest state.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Dropped returns the number of events discarded because the buffer was full.
func (c *Controller) Dropped() int64 {
	return c.dropped.Load()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin records the page count of the document being extracted.
func (c *Controller) Begin(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total < 0 {
		total = 0
	}
	c.state.PagesTotal = total
	if c.state.PagesDone > total {
		c.state.PagesDone = total
	}
}

// PageDone records that page index has been extracted and persisted.
func (c *Controller) PageDone(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != Extracting {
		return
	}
	if c.state.PagesDone < c.state.PagesTotal {
		c.state.PagesDone++
	}
	c.emitLocked(Event{Kind: EventPageDone, Page: index})
}

// Report forwards a non-fatal error to the watcher.
func (c *Controller) Report(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(Event{Kind: EventError, Err: err.Error()})
}

// Enter moves the run to phase next.
func (c *Controller) Enter(next Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.state.Phase
	if !allowed(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	if next == Analyzing && c.state.Cancelled {
		return fmt.Errorf("%w: %s -> %s after cancellation", ErrInvalidTransition, current, next)
	}

	c.state.Phase = next
	c.emitLocked(Event{Kind: EventPhaseChanged})

	if next.Terminal() {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Fail enters FAILED and attaches err to the final event.
func (c *Controller) Fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.state.Phase
	if !allowed(current, Failed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, Failed)
	}
	c.state.Phase = Failed
	ev := Event{Kind: EventPhaseChanged}
	if err != nil {
		ev.Err = err.Error()
	}
	c.emitLocked(ev)
	c.closed = true
	close(c.events)
	return nil
}

// Cancel requests cooperative cancellation. The run observes it at the next
// page boundary. Only one request is accepted, and only during extraction.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != Extracting {
		return fmt.Errorf("%w: phase is %s", ErrNotCancellable, c.state.Phase)
	}
	if c.cancelled.Load() {
		return ErrAlreadyCancelled
	}

	c.cancelled.Store(true)
	c.state.Cancelled = true
	c.cancelOnce.Do(func() { close(c.done) })
	return nil
}

// Cancelled reports whether cancellation has been requested.
func (c *Controller) Cancelled() bool {
	return c.cancelled.Load()
}

// Done is closed when cancellation is requested.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) emitLocked(ev Event) {
	if c.closed {
		return
	}
	ev.State = c.state
	ev.At = time.Now()
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

func allowed(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
