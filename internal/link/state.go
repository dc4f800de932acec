package link

// State is the connection state owned by the reader goroutine. Callers only
// ever see copies returned by Controller.Snapshot.
type State struct {
	Connected         bool
	LastError         ErrorKind
	ErrorCount        uint
	ConsecutiveErrors uint
	LastForce         float64
	LastPosition      int
	LastLine          string
}

// MeasurementLikelyComplete reports whether the actuator appears to be back
// at rest: connected, no active error and force below lowForce.
func (s State) MeasurementLikelyComplete(lowForce float64) bool {
	return s.Connected && s.LastError == ErrorNone && s.LastForce < lowForce
}

// HasCriticalError reports three or more consecutive faults, or a force
// sensor failure as the most recent fault.
func (s State) HasCriticalError() bool {
	return s.ConsecutiveErrors >= 3 || s.LastError == ErrorForceSensor
}

// apply folds one parsed event into the state.
func (s *State) apply(ev Event) {
	if ev.Kind == EventLinkDown {
		s.Connected = false
		return
	}
	s.LastLine = ev.Raw
	switch ev.Kind {
	case EventReading:
		s.LastForce = ev.Force
		s.LastPosition = ev.Steps
		s.ConsecutiveErrors = 0
	case EventError:
		s.LastError = ev.ErrKind
		s.ErrorCount++
		s.ConsecutiveErrors++
	}
}
