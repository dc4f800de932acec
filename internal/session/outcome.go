package session

import (
	"time"

	"github.com/allbin/forcerig/internal/link"
)

// ErrorRecord is one fault reported by the actuator during a session.
type ErrorRecord struct {
	Time    time.Time
	Kind    link.ErrorKind
	Message string
}

// ErrorSummary condenses a session's error log.
type ErrorSummary struct {
	Total    int
	Kinds    []link.ErrorKind // distinct, in first-seen order
	Recent   []ErrorRecord    // at most the last three
	Critical bool
}

func summarize(records []ErrorRecord, critical bool) ErrorSummary {
	sum := ErrorSummary{Total: len(records), Critical: critical}

	seen := make(map[link.ErrorKind]bool)
	for _, r := range records {
		if !seen[r.Kind] {
			seen[r.Kind] = true
			sum.Kinds = append(sum.Kinds, r.Kind)
		}
	}

	recent := records
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	sum.Recent = append([]ErrorRecord(nil), recent...)
	return sum
}

// Outcome is the result of one Run.
type Outcome struct {
	ID    string
	Label string
	State State

	Success         bool
	CriticalError   bool
	SweepSucceeded  bool
	HomingConfirmed bool
	Quality         Quality
	AbortReason     string

	Started     time.Time
	Finished    time.Time
	WindowStart time.Time
	WindowEnd   time.Time

	Readings     int
	ErrorSummary ErrorSummary
	Warnings     []string
}

// Duration is the wall time of the session.
func (o Outcome) Duration() time.Duration {
	return o.Finished.Sub(o.Started)
}
