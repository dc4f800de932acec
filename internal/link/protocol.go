package link

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Wire tokens sent by the actuator firmware.
const (
	TokenStartup    = "STARTUP"
	TokenForceError = "FORCEERROR"
	TokenI2CTimeout = "I2CTIMEOUT"
	TokenFail       = "FAIL"
)

var readingRE = regexp.MustCompile(`^F(?P<force>[-\d.]+)\s+S(?P<steps>-?\d+)`)

// ErrorKind classifies fault lines reported by the actuator.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorForceSensor
	ErrorI2CTimeout
	ErrorGeneralFail
)

// String returns the wire token for the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "NONE"
	case ErrorForceSensor:
		return TokenForceError
	case ErrorI2CTimeout:
		return TokenI2CTimeout
	case ErrorGeneralFail:
		return TokenFail
	default:
		return "UNKNOWN"
	}
}

// IsCritical reports whether the newest entry of an ordered error history
// makes the measurement untrustworthy: a force sensor error, or an I2C
// timeout that is the third (or later) among the last five errors.
func IsCritical(history []ErrorKind) bool {
	if len(history) == 0 {
		return false
	}
	switch history[len(history)-1] {
	case ErrorForceSensor:
		return true
	case ErrorI2CTimeout:
		recent := history
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		n := 0
		for _, k := range recent {
			if k == ErrorI2CTimeout {
				n++
			}
		}
		return n >= 3
	default:
		return false
	}
}

// EventKind tags an Event.
type EventKind int

const (
	EventReading EventKind = iota
	EventError
	EventStartup
	EventUnrecognized
	// EventLinkDown is emitted once when a transport read failure stops the reader.
	EventLinkDown
)

func (k EventKind) String() string {
	switch k {
	case EventReading:
		return "reading"
	case EventError:
		return "error"
	case EventStartup:
		return "startup"
	case EventUnrecognized:
		return "unrecognized"
	case EventLinkDown:
		return "link-down"
	default:
		return "unknown"
	}
}

// Event is one classified line (or link status change) from the actuator.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Force   float64   // EventReading, newtons
	Steps   int       // EventReading, actuator position
	ErrKind ErrorKind // EventError
	Raw     string
	Err     error // EventLinkDown
}

// ParseLine classifies one trimmed, non-empty line. Error tokens and
// STARTUP are matched case-sensitively before the reading pattern.
func ParseLine(line string) Event {
	ev := Event{Kind: EventUnrecognized, Raw: line}

	switch line {
	case TokenForceError:
		ev.Kind, ev.ErrKind = EventError, ErrorForceSensor
		return ev
	case TokenI2CTimeout:
		ev.Kind, ev.ErrKind = EventError, ErrorI2CTimeout
		return ev
	case TokenFail:
		ev.Kind, ev.ErrKind = EventError, ErrorGeneralFail
		return ev
	case TokenStartup:
		ev.Kind = EventStartup
		return ev
	}

	m := readingRE.FindStringSubmatch(line)
	if m == nil {
		return ev
	}
	force, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return ev
	}
	steps, err := strconv.Atoi(m[2])
	if err != nil {
		return ev
	}
	ev.Kind, ev.Force, ev.Steps = EventReading, force, steps
	return ev
}

// IsTerminalToken reports whether a raw line is one of the fault tokens
// the firmware sends when it aborts a move.
func IsTerminalToken(line string) bool {
	return line == TokenFail || line == TokenForceError || line == TokenI2CTimeout
}

// FormatMoveToForce renders the MOVETOFORCE command line.
func FormatMoveToForce(targetN float64, holdSeconds int) string {
	return fmt.Sprintf("MOVETOFORCE %.2f %d\n", targetN, holdSeconds)
}
