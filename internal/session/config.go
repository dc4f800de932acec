package session

import "time"

// Config holds the measurement protocol parameters.
type Config struct {
	TargetForce    float64 // N
	HoldSeconds    int
	ForceTolerance float64 // N
	SettleDelay    time.Duration
	LoggingWindow  time.Duration

	HomingTimeout time.Duration
	HomingPoll    time.Duration
	HomingGrace   time.Duration
	ParkedPrefix  string
	// RequireHomingConfirmation makes a homing timeout fail the session
	// instead of completing it with a warning.
	RequireHomingConfirmation bool

	// ForceReachTimeout aborts a session that never reaches the target.
	// Zero disables it.
	ForceReachTimeout time.Duration

	StepsPerMM float64

	// SkipSweep marks a force-only session: success no longer requires an
	// RF sweep. Without it, a session with no sweep registered cannot
	// succeed.
	SkipSweep bool
}

// DefaultConfig returns the standard 9 N protocol.
func DefaultConfig() Config {
	return Config{
		TargetForce:       9.0,
		HoldSeconds:       21,
		ForceTolerance:    1.1,
		SettleDelay:       time.Second,
		LoggingWindow:     20 * time.Second,
		HomingTimeout:     10 * time.Second,
		HomingPoll:        500 * time.Millisecond,
		HomingGrace:       5 * time.Second,
		ParkedPrefix:      "S0",
		ForceReachTimeout: 120 * time.Second,
		StepsPerMM:        100,
	}
}
