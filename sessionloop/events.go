package sessionloop

import (
	"sync"
	"time"
)

// UpdateKind identifies the state transition an Update reports.
type UpdateKind string

const (
	UpdateSessionStart         UpdateKind = "session_start"
	UpdatePerception           UpdateKind = "perception"
	UpdateFastPathComplete     UpdateKind = "fast_path_complete"
	UpdatePlanVersionAdded     UpdateKind = "plan_version_added"
	UpdateStepCompleted        UpdateKind = "step_completed"
	UpdateClarificationNeeded  UpdateKind = "clarification_needed"
	UpdateSessionComplete      UpdateKind = "session_complete"
	UpdatePlanExhausted        UpdateKind = "plan_exhausted"
	UpdateCeilingReached       UpdateKind = "ceiling_reached"
)

// Update is a fire-and-forget notification carrying a deep copy of the
// session after a state transition. Sinks never feed errors back into the
// loop.
type Update struct {
	Kind      UpdateKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
	Session   *Session   `json:"session"`
}

// UpdateSink receives live session updates.
type UpdateSink interface {
	Publish(u Update)
}

// SinkFunc adapts a function to the UpdateSink interface.
type SinkFunc func(u Update)

func (f SinkFunc) Publish(u Update) { f(u) }

// ChannelSink delivers updates to a host application over a buffered
// channel. If the channel is full the update is dropped so the loop is
// never blocked by a slow consumer.
type ChannelSink struct {
	ch     chan Update
	closed bool
	mu     sync.Mutex
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(bufferSize int) *ChannelSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelSink{ch: make(chan Update, bufferSize)}
}

// Publish sends an update, dropping it if the buffer is full or the sink is
// closed.
func (s *ChannelSink) Publish(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- u:
	default:
		// Buffer full; drop rather than block the session.
	}
}

// Updates returns the read-only update channel.
func (s *ChannelSink) Updates() <-chan Update {
	return s.ch
}

// Close closes the update channel. Safe to call multiple times.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
