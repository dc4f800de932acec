package session

// State is the phase of a measurement session.
type State int

const (
	Idle State = iota
	CommandSent
	ForceReached
	Logging
	AwaitingHoming
	Completed
	Aborted
	CriticalFault
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CommandSent:
		return "command-sent"
	case ForceReached:
		return "force-reached"
	case Logging:
		return "logging"
	case AwaitingHoming:
		return "awaiting-homing"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case CriticalFault:
		return "critical-fault"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Completed || s == Aborted || s == CriticalFault
}

// Quality tells callers what to do with the files of a finished session.
type Quality int

const (
	// QualityComplete: force data and sweep are both usable.
	QualityComplete Quality = iota
	// QualityNoData: the session ended before the logging window opened.
	QualityNoData
	// QualityUntrusted: the session faulted or was stopped after the
	// logging window opened, or homing was required but not confirmed.
	QualityUntrusted
	// QualityCleanFailure: force data is valid but the sweep failed.
	QualityCleanFailure
)

func (q Quality) String() string {
	switch q {
	case QualityComplete:
		return "complete"
	case QualityNoData:
		return "no-data"
	case QualityUntrusted:
		return "untrusted"
	case QualityCleanFailure:
		return "clean-failure"
	default:
		return "unknown"
	}
}

// Keep reports whether the session's files should be retained.
func (q Quality) Keep() bool {
	return q == QualityComplete
}
