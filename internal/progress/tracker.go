// Package progress turns raw command output into discrete progress events
// for a rendering surface.
package progress

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/juju/clock"
)

// DefaultCapacity is the number of recent lines kept for FullOutput.
const DefaultCapacity = 1000

// EventType identifies a progress event.
type EventType string

const (
	EventInit     EventType = "init"
	EventLine     EventType = "line"
	EventComplete EventType = "complete"
)

// Event is one progress notification. Line is set for EventLine; Success,
// Message, Elapsed and Lines are set for EventComplete.
type Event struct {
	Type      EventType
	Operation string
	Time      time.Time

	Line string

	Success bool
	Message string
	Elapsed time.Duration
	Lines   int
}

// Publisher receives events in order. Publish is called while the tracker
// holds its lock and must not call back into the tracker.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Tracker buffers streamed output for one operation at a time.
type Tracker struct {
	mu    sync.Mutex
	pub   Publisher
	clock clock.Clock
	buf   *RingBuffer[string]

	active    bool
	operation string
	started   time.Time
	pending   string
	lines     int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCapacity sets how many recent lines are kept.
func WithCapacity(n int) Option {
	return func(t *Tracker) { t.buf = NewRingBuffer[string](n) }
}

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// NewTracker creates a Tracker publishing to pub. A nil pub discards events.
func NewTracker(pub Publisher, opts ...Option) *Tracker {
	t := &Tracker{
		pub:   pub,
		clock: clock.WallClock,
		buf:   NewRingBuffer[string](DefaultCapacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTracking resets the buffer and begins a new operation.
func (t *Tracker) StartTracking(operation string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Clear()
	t.pending = ""
	t.lines = 0
	t.operation = operation
	t.started = t.clock.Now()
	t.active = true
	t.publish(Event{Type: EventInit, Operation: operation, Time: t.started})
}

// UpdateOutput appends a chunk of output. Complete lines are cleaned and
// published; a trailing partial line waits for the next chunk. It is a no-op
// when no operation is being tracked.
func (t *Tracker) UpdateOutput(chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	data := t.pending + chunk
	t.pending = ""
	for {
		idx := strings.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		t.emit(data[:idx])
		data = data[idx+1:]
	}
	t.pending = data
}

// Complete flushes any partial line and ends the operation. It is a no-op
// when no operation is being tracked.
func (t *Tracker) Complete(success bool, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	if t.pending != "" {
		t.emit(t.pending)
		t.pending = ""
	}
	t.active = false
	now := t.clock.Now()
	t.publish(Event{
		Type:      EventComplete,
		Operation: t.operation,
		Time:      now,
		Success:   success,
		Message:   message,
		Elapsed:   now.Sub(t.started),
		Lines:     t.lines,
	})
}

// Active reports whether an operation is being tracked.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// FullOutput returns the retained cleaned lines joined by newlines.
func (t *Tracker) FullOutput() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.buf.Slice(), "\n")
}

// Clear drops the retained lines without ending the operation.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Clear()
}

// Sink adapts the tracker to a line-oriented producer such as the executor.
func (t *Tracker) Sink() func(line string) {
	return func(line string) { t.UpdateOutput(line + "\n") }
}

func (t *Tracker) emit(raw string) {
	line := CleanLine(raw)
	if line == "" {
		return
	}
	t.buf.Push(line)
	t.lines++
	t.publish(Event{Type: EventLine, Operation: t.operation, Time: t.clock.Now(), Line: line})
}

func (t *Tracker) publish(ev Event) {
	if t.pub != nil {
		t.pub.Publish(ev)
	}
}

// CleanLine strips terminal escape sequences and resolves carriage-return
// overwrites to the last visible segment. Whitespace-only input yields "".
func CleanLine(raw string) string {
	if strings.ContainsRune(raw, '\r') {
		segments := strings.Split(raw, "\r")
		raw = ""
		for i := len(segments) - 1; i >= 0; i-- {
			if strings.TrimSpace(ansi.Strip(segments[i])) != "" {
				raw = segments[i]
				break
			}
		}
	}
	line := strings.TrimRight(ansi.Strip(raw), " \t")
	if strings.TrimSpace(line) == "" {
		return ""
	}
	return line
}
