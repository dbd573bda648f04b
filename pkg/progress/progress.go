// Package progress distributes per-job progress events to subscribers.
// Each job gets its own topic with a monotonic sequence number and a
// bounded replay buffer, so a subscriber that attaches mid-job first
// receives the buffered history and then tails live events in order.
package progress

import (
	"sync"
	"time"

	"github.com/netman-network/netman/pkg/metrics"
)

// EventKind classifies a progress event.
type EventKind string

const (
	KindJobStatus     EventKind = "job_status"
	KindDeviceStatus  EventKind = "device_status"
	KindCommandStatus EventKind = "command_status"
	KindLog           EventKind = "log"
	KindTerminal      EventKind = "terminal"
)

// Event is one progress update for a job. Seq is monotonically increasing
// per job starting at 1. Lagged marks a gap: the subscriber's buffer
// overflowed and at least one event before this one was dropped.
type Event struct {
	Seq             uint64            `json:"seq"`
	JobID           string            `json:"job_id"`
	Kind            EventKind         `json:"kind"`
	Timestamp       time.Time         `json:"timestamp"`
	JobStatus       string            `json:"job_status,omitempty"`
	DeviceID        string            `json:"device_id,omitempty"`
	DeviceName      string            `json:"device_name,omitempty"`
	DeviceStatus    string            `json:"device_status,omitempty"`
	Command         string            `json:"command,omitempty"`
	CommandStatus   string            `json:"command_status,omitempty"`
	Message         string            `json:"message,omitempty"`
	ProgressPercent int               `json:"progress_percent"`
	Completed       int               `json:"completed_devices"`
	Failed          int               `json:"failed_devices"`
	Total           int               `json:"total_devices"`
	Lagged          bool              `json:"lagged,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// defaultBuffer is the subscriber and replay depth when the bus is
// built with no explicit size.
const defaultBuffer = 256

// Subscriber receives a job's events in publish order.
type Subscriber <-chan Event

type subscriber struct {
	ch     chan Event
	lagged bool
}

type topic struct {
	mu     sync.Mutex
	jobID  string
	seq    uint64
	replay []Event // bounded by the bus buffer, oldest first
	subs   map[*subscriber]bool
	closed bool
}

// Bus fans events out per job.
type Bus struct {
	mu     sync.RWMutex
	buffer int
	topics map[string]*topic
}

// NewBus creates a bus whose subscribers buffer up to bufferSize events.
// The same bound caps each topic's replay history.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	return &Bus{
		buffer: bufferSize,
		topics: make(map[string]*topic),
	}
}

func (b *Bus) topicFor(jobID string, create bool) *topic {
	b.mu.RLock()
	t := b.topics[jobID]
	b.mu.RUnlock()
	if t != nil || !create {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t = b.topics[jobID]; t == nil {
		t = &topic{jobID: jobID, subs: make(map[*subscriber]bool)}
		b.topics[jobID] = t
	}
	return t
}

// Publish assigns the next sequence number for the job and delivers the
// event to all subscribers. Slow subscribers lose events rather than
// block publishing; the loss is marked on their next delivered event.
func (b *Bus) Publish(jobID string, ev Event) {
	t := b.topicFor(jobID, true)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.seq++
	ev.Seq = t.seq
	ev.JobID = jobID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	t.replay = append(t.replay, ev)
	if len(t.replay) > b.buffer {
		t.replay = t.replay[len(t.replay)-b.buffer:]
	}

	for sub := range t.subs {
		out := ev
		if sub.lagged {
			out.Lagged = true
		}
		select {
		case sub.ch <- out:
			sub.lagged = false
		default:
			sub.lagged = true
			metrics.ProgressEventsDropped.Inc()
		}
	}

	if ev.Kind == KindTerminal {
		t.closed = true
		for sub := range t.subs {
			close(sub.ch)
		}
		t.subs = make(map[*subscriber]bool)
	}
}

// Subscribe attaches to a job's topic. The returned channel first yields
// the buffered history, then live events; it is closed when the job
// reaches a terminal state or the caller cancels. Subscribing to a job
// already terminal yields the history and an immediately closed channel.
func (b *Bus) Subscribe(jobID string) (Subscriber, func()) {
	t := b.topicFor(jobID, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.buffer+len(t.replay))}
	for _, ev := range t.replay {
		sub.ch <- ev
	}

	if t.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	t.subs[sub] = true
	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.subs[sub] {
			delete(t.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// History returns a copy of the replay buffer for a job. Unknown jobs
// return nil.
func (b *Bus) History(jobID string) []Event {
	t := b.topicFor(jobID, false)
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.replay))
	copy(out, t.replay)
	return out
}

// Drop discards a job's topic and its history. Call after the terminal
// event once no late subscribers are expected.
func (b *Bus) Drop(jobID string) {
	b.mu.Lock()
	t := b.topics[jobID]
	delete(b.topics, jobID)
	b.mu.Unlock()

	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		for sub := range t.subs {
			close(sub.ch)
		}
		t.subs = make(map[*subscriber]bool)
	}
}
