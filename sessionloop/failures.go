package sessionloop

// DefaultFailureWindowSize bounds how many recent step failures are carried
// as context into subsequent perception calls.
const DefaultFailureWindowSize = 3

// FailureWindow is a session-scoped FIFO of recent step-failure summaries.
// Only the most recent failures are useful context for the next perception
// or decision call, so the oldest entry is evicted once capacity is
// exceeded. The window lives for one Run invocation and is never persisted
// with the session.
type FailureWindow struct {
	capacity int
	records  []MemoryRecord
}

// NewFailureWindow creates a window with the given capacity. Non-positive
// capacities fall back to the default.
func NewFailureWindow(capacity int) *FailureWindow {
	if capacity <= 0 {
		capacity = DefaultFailureWindowSize
	}
	return &FailureWindow{capacity: capacity}
}

// Add appends a failure record, evicting the oldest entry if the window is
// over capacity.
func (w *FailureWindow) Add(rec MemoryRecord) {
	w.records = append(w.records, rec)
	if len(w.records) > w.capacity {
		w.records = w.records[1:]
	}
}

// Records returns the current window contents, oldest first. The returned
// slice is a copy.
func (w *FailureWindow) Records() []MemoryRecord {
	out := make([]MemoryRecord, len(w.records))
	copy(out, w.records)
	return out
}

// Len returns the number of records currently held.
func (w *FailureWindow) Len() int { return len(w.records) }
