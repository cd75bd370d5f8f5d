package replay

import (
	"errors"
	"fmt"
	"io"

	"github.com/willibrandon/calltrace/pkg/recorder"
)

// ErrAtBeginning is returned when stepping backward from the first capture
var ErrAtBeginning = errors.New("already at the beginning")

// Replayer interface defines methods for stepping through recorded captures
type Replayer interface {
	// Load loads recorded captures into the replayer
	Load([]recorder.Capture) error

	// ReplayForward prints all captures from the current position
	ReplayForward() error

	// ReplayUntil replays captures until match reports true
	ReplayUntil(match func(c recorder.Capture) bool) error

	// ReplayToIndex moves to the specified index
	ReplayToIndex(idx int) error

	// StepBackward steps backward from the current index
	// returns the new index after stepping back
	StepBackward() (int, error)

	// CurrentIndex returns the current capture index
	CurrentIndex() int

	// Captures returns all loaded captures
	Captures() []recorder.Capture
}

// BasicReplayer implements the Replayer interface
type BasicReplayer struct {
	captures   []recorder.Capture
	currentIdx int
	out        io.Writer
}

// NewBasicReplayer creates a new BasicReplayer printing to out
func NewBasicReplayer(out io.Writer) *BasicReplayer {
	if out == nil {
		out = io.Discard
	}
	return &BasicReplayer{
		captures:   []recorder.Capture{},
		currentIdx: -1,
		out:        out,
	}
}

// Open reads the trace document at path into a new replayer
func Open(path string, out io.Writer) (*BasicReplayer, error) {
	doc, err := recorder.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %w", path, err)
	}
	r := NewBasicReplayer(out)
	if err := r.Load(doc.Breakpoints); err != nil {
		return nil, err
	}
	return r, nil
}

// Load loads the given captures into the replayer
func (r *BasicReplayer) Load(captures []recorder.Capture) error {
	if captures == nil {
		captures = []recorder.Capture{}
	}
	r.captures = captures
	r.currentIdx = -1
	return nil
}

// ReplayForward replays all captures from current position to the end
func (r *BasicReplayer) ReplayForward() error {
	return r.ReplayUntil(nil)
}

// ReplayUntil replays captures until match is satisfied. A nil match replays
// everything.
func (r *BasicReplayer) ReplayUntil(match func(c recorder.Capture) bool) error {
	if len(r.captures) == 0 {
		return nil
	}

	for i := r.currentIdx + 1; i < len(r.captures); i++ {
		c := r.captures[i]
		r.currentIdx = i
		if match != nil && match(c) {
			fmt.Fprintf(r.out, "Stopped at capture %d\n", i)
			return nil
		}
		fmt.Fprintln(r.out, Summary(i, c))
	}

	fmt.Fprintln(r.out, "Replay complete")
	return nil
}

// ReplayToIndex moves the cursor to idx; out of range indexes are ignored
func (r *BasicReplayer) ReplayToIndex(idx int) error {
	if idx < 0 || idx >= len(r.captures) {
		return nil
	}
	r.currentIdx = idx
	return nil
}

// StepBackward moves one capture backward
func (r *BasicReplayer) StepBackward() (int, error) {
	if r.currentIdx <= 0 {
		return r.currentIdx, ErrAtBeginning
	}
	r.currentIdx--
	return r.currentIdx, nil
}

// CurrentIndex returns the current capture index
func (r *BasicReplayer) CurrentIndex() int {
	return r.currentIdx
}

// Current returns the capture under the cursor
func (r *BasicReplayer) Current() (recorder.Capture, bool) {
	if r.currentIdx < 0 || r.currentIdx >= len(r.captures) {
		return recorder.Capture{}, false
	}
	return r.captures[r.currentIdx], true
}

// Captures returns all loaded captures
func (r *BasicReplayer) Captures() []recorder.Capture {
	return r.captures
}

// Filter returns the captures whose location or state contains filter
func Filter(captures []recorder.Capture, filter string) []recorder.Capture {
	var out []recorder.Capture
	for _, c := range captures {
		if c.Matches(filter) {
			out = append(out, c)
		}
	}
	return out
}

// Summary renders one line describing capture i
func Summary(i int, c recorder.Capture) string {
	s := fmt.Sprintf("[%d] %s: %s", i, c.Location, c.State)
	if c.File != "" {
		s += fmt.Sprintf(" (%s:%d)", c.File, c.Line)
	} else if c.Line > 0 {
		s += fmt.Sprintf(" (line %d)", c.Line)
	}
	return s
}
