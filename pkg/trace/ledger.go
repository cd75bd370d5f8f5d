package trace

import "fmt"

type callPair struct {
	caller string
	callee string
}

func (p callPair) String() string {
	return fmt.Sprintf("%s -> %s", p.caller, p.callee)
}

// Ledger counts observed invocations per (caller, callee) pair. Counts only
// ever grow.
type Ledger struct {
	counts map[callPair]int
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{counts: make(map[callPair]int)}
}

// Increment records one more call of callee from caller and returns the new count
func (l *Ledger) Increment(caller, callee string) int {
	p := callPair{caller, callee}
	l.counts[p]++
	return l.counts[p]
}

// Count returns how often caller has been observed calling callee
func (l *Ledger) Count(caller, callee string) int {
	return l.counts[callPair{caller, callee}]
}

// Len returns the number of distinct pairs observed
func (l *Ledger) Len() int {
	return len(l.counts)
}

// pendingCall is an observed call whose return has not been seen yet.
// ordinal is the ledger count of the pair when the call was made.
type pendingCall struct {
	callPair
	ordinal int
}

// callStack holds observed calls in the order they were made
type callStack []pendingCall

func (s *callStack) push(caller, callee string, ordinal int) {
	*s = append(*s, pendingCall{callPair{caller, callee}, ordinal})
}

// pop removes the innermost pending call of callee. Calls made after it
// returned without being observed and are dropped with it.
func (s *callStack) pop(callee string) (pendingCall, bool) {
	for i := len(*s) - 1; i >= 0; i-- {
		if (*s)[i].callee == callee {
			call := (*s)[i]
			*s = (*s)[:i]
			return call, true
		}
	}
	return pendingCall{}, false
}
