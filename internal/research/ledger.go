package research

import (
	"errors"
	"sync"
	"time"
)

// ToolCallRecord is one adapter call made during a citizen query.
type ToolCallRecord struct {
	Tool     string
	Input    string
	Err      error
	Duration time.Duration
}

// Ledger records the adapter calls of one citizen query. The validator reads
// it to check research depth and to ground the cited links.
type Ledger struct {
	mu           sync.Mutex
	calls        []ToolCallRecord
	observations []string
}

// Record appends a call. observation is the annotated result and is kept
// only for successful calls.
func (l *Ledger) Record(rec ToolCallRecord, observation string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, rec)
	if rec.Err == nil {
		l.observations = append(l.observations, observation)
	}
}

// Calls returns the number of adapter calls, failed ones included.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// Succeeded returns the number of calls that produced an observation.
func (l *Ledger) Succeeded() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.observations)
}

// Observations returns a copy of the successful results.
func (l *Ledger) Observations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.observations...)
}

// Records returns a copy of every call.
func (l *Ledger) Records() []ToolCallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ToolCallRecord(nil), l.calls...)
}

// Err joins the errors of failed calls, or returns nil.
func (l *Ledger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, c := range l.calls {
		if c.Err != nil {
			errs = append(errs, c.Err)
		}
	}
	return errors.Join(errs...)
}
