package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/allbin/forcerig/internal/logger"
)

// Validate checks the configuration without modifying it. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// ---- log ----
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case string(logger.FormatJSON), string(logger.FormatConsole):
	default:
		add("log.format must be %q or %q, got %q", logger.FormatJSON, logger.FormatConsole, cfg.Log.Format)
	}

	// ---- link ----
	l := cfg.Link
	if strings.TrimSpace(l.Port) == "" {
		add("link.port is required")
	}
	if l.BaudRate <= 0 {
		add("link.baud_rate must be > 0")
	}
	if l.ReadTimeout <= 0 {
		add("link.read_timeout must be > 0")
	}
	if l.BootDelay < 0 || l.RetryDelay < 0 {
		add("link delays must be >= 0")
	}
	if l.MaxRetries < 1 {
		add("link.max_retries must be >= 1")
	}
	if l.EventBuffer < 1 {
		add("link.event_buffer must be >= 1")
	}

	// ---- session ----
	s := cfg.Session
	if s.TargetForce <= 0 {
		add("session.target_force must be > 0")
	}
	if s.HoldSeconds < 0 {
		add("session.hold_seconds must be >= 0")
	}
	if s.ForceTolerance <= 0 {
		add("session.force_tolerance must be > 0")
	}
	if s.LoggingWindow <= 0 {
		add("session.logging_window must be > 0")
	}
	if s.HomingTimeout <= 0 {
		add("session.homing_timeout must be > 0")
	}
	if s.HomingPoll <= 0 {
		add("session.homing_poll must be > 0")
	}
	if s.ForceReachTimeout < 0 {
		add("session.force_reach_timeout must be >= 0")
	}
	if s.StepsPerMM <= 0 {
		add("session.steps_per_mm must be > 0")
	}

	// ---- vna ----
	if v := cfg.VNA; v.Enabled {
		if v.StartHz <= 0 || v.StopHz <= v.StartHz {
			add("vna: invalid range %.0f-%.0f Hz", v.StartHz, v.StopHz)
		}
		if v.Segments < 1 {
			add("vna.segments must be >= 1")
		}
		if v.PointsPerSegment < 2 {
			add("vna.points_per_segment must be >= 2")
		}
		if v.Points < 1 {
			add("vna.points must be >= 1")
		}
		if v.MaxScanPoints < 1 {
			add("vna.max_scan_points must be >= 1")
		}
		if v.BaudRate <= 0 {
			add("vna.baud_rate must be > 0")
		}
		if v.SegmentRetries < 1 {
			add("vna.segment_retries must be >= 1")
		}
		if v.RecoveryAttempts < 1 {
			add("vna.recovery_attempts must be >= 1")
		}
		if v.RecoveryTimeout <= 0 {
			add("vna.recovery_timeout must be > 0")
		}
		if v.Interval <= 0 {
			add("vna.interval must be > 0")
		}
	}

	// ---- usb ----
	switch cfg.USB.Method {
	case MethodUhubctl:
		if cfg.USB.HubLocation == "" {
			add("usb.hub_location is required for method %q", MethodUhubctl)
		}
		if cfg.USB.HubPort < 1 {
			add("usb.hub_port must be >= 1")
		}
	case MethodUSBReset, MethodNone:
	default:
		add("usb.method must be one of %q, %q, %q; got %q", MethodUhubctl, MethodUSBReset, MethodNone, cfg.USB.Method)
	}
	if cfg.USB.Timeout <= 0 {
		add("usb.timeout must be > 0")
	}

	// ---- journal / output ----
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		add("journal.path is required when the journal is enabled")
	}
	if cfg.Output.Dir == "" {
		add("output.dir is required")
	}

	return errors.Join(errs...)
}
