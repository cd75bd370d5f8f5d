package recorder

import "sync"

// Recorder is the ordered output log of captures. Captures are appended and
// never removed while a trace runs.
type Recorder interface {
	RecordCapture(c Capture) error
	Captures() []Capture
	Clear()
	Close() error
}

type InMemoryRecorder struct {
	mu       sync.Mutex
	captures []Capture
}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{captures: []Capture{}}
}

func (r *InMemoryRecorder) RecordCapture(c Capture) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, c)
	return nil
}

// Captures returns a copy of the recorded captures in order
func (r *InMemoryRecorder) Captures() []Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Capture, len(r.captures))
	copy(out, r.captures)
	return out
}

func (r *InMemoryRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = []Capture{}
}

func (r *InMemoryRecorder) Close() error {
	return nil
}
