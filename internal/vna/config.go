package vna

import "time"

// Config holds sweep and recovery parameters.
type Config struct {
	StartHz          float64
	StopHz           float64
	Points           int
	Segments         int
	PointsPerSegment int
	CalibrationFile  string
	OutputDir        string

	SegmentRetries int
	BackoffUnit    time.Duration

	RecoveryAttempts int
	RecoveryTimeout  time.Duration
	KillSettle       time.Duration
	ReconnectSettle  time.Duration
	PowerOffDuration time.Duration
	RecoveryPause    time.Duration

	LoopFailureLimit    int
	LoopErrorPause      time.Duration
	RecoveryFailedPause time.Duration
}

// DefaultConfig returns a 10 kHz to 500 kHz sweep in 16 segments of 256 points.
func DefaultConfig() Config {
	return Config{
		StartHz:          10e3,
		StopHz:           500e3,
		Points:           256,
		Segments:         16,
		PointsPerSegment: 256,
		OutputDir:        "output",

		SegmentRetries: 3,
		BackoffUnit:    time.Second,

		RecoveryAttempts: 3,
		RecoveryTimeout:  20 * time.Second,
		KillSettle:       2 * time.Second,
		ReconnectSettle:  2 * time.Second,
		PowerOffDuration: 5 * time.Second,
		RecoveryPause:    time.Second,

		LoopFailureLimit:    5,
		LoopErrorPause:      10 * time.Second,
		RecoveryFailedPause: 30 * time.Second,
	}
}

// Grid returns n evenly spaced frequencies from start to stop inclusive.
func Grid(startHz, stopHz float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{startHz}
	}
	step := (stopHz - startHz) / float64(n-1)
	out := make([]float64, n)
	for i := range out {
		out[i] = startHz + float64(i)*step
	}
	out[n-1] = stopHz
	return out
}
