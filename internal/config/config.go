// Package config defines the forcerig configuration file, its defaults and
// validation. Values are loaded through viper from a YAML file, FORCERIG_*
// environment variables and command-line flags.
package config

import (
	"time"

	"github.com/allbin/forcerig/internal/link"
	"github.com/allbin/forcerig/internal/session"
	"github.com/allbin/forcerig/internal/vna"
)

type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Link    LinkConfig    `mapstructure:"link" yaml:"link"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	VNA     VNAConfig     `mapstructure:"vna" yaml:"vna"`
	USB     USBConfig     `mapstructure:"usb" yaml:"usb"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ---- ACTUATOR LINK ----

type LinkConfig struct {
	Port              string        `mapstructure:"port" yaml:"port"`
	BaudRate          int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	BootDelay         time.Duration `mapstructure:"boot_delay" yaml:"boot_delay"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	JoinTimeout       time.Duration `mapstructure:"join_timeout" yaml:"join_timeout"`
	LowForceThreshold float64       `mapstructure:"low_force_threshold" yaml:"low_force_threshold"`
	EventBuffer       int           `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// ---- MEASUREMENT PROTOCOL ----

type SessionConfig struct {
	TargetForce               float64       `mapstructure:"target_force" yaml:"target_force"`
	HoldSeconds               int           `mapstructure:"hold_seconds" yaml:"hold_seconds"`
	ForceTolerance            float64       `mapstructure:"force_tolerance" yaml:"force_tolerance"`
	SettleDelay               time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	LoggingWindow             time.Duration `mapstructure:"logging_window" yaml:"logging_window"`
	HomingTimeout             time.Duration `mapstructure:"homing_timeout" yaml:"homing_timeout"`
	HomingPoll                time.Duration `mapstructure:"homing_poll" yaml:"homing_poll"`
	HomingGrace               time.Duration `mapstructure:"homing_grace" yaml:"homing_grace"`
	ParkedPrefix              string        `mapstructure:"parked_prefix" yaml:"parked_prefix"`
	RequireHomingConfirmation bool          `mapstructure:"require_homing_confirmation" yaml:"require_homing_confirmation"`
	ForceReachTimeout         time.Duration `mapstructure:"force_reach_timeout" yaml:"force_reach_timeout"`
	StepsPerMM                float64       `mapstructure:"steps_per_mm" yaml:"steps_per_mm"`
}

// ---- ANALYZER ----

type VNAConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Port            string        `mapstructure:"port" yaml:"port"` // empty = discover by USB id
	BaudRate        int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	MaxScanPoints   int           `mapstructure:"max_scan_points" yaml:"max_scan_points"`
	CalibrationFile string        `mapstructure:"calibration_file" yaml:"calibration_file"`

	StartHz          float64 `mapstructure:"start_hz" yaml:"start_hz"`
	StopHz           float64 `mapstructure:"stop_hz" yaml:"stop_hz"`
	Points           int     `mapstructure:"points" yaml:"points"`
	Segments         int     `mapstructure:"segments" yaml:"segments"`
	PointsPerSegment int     `mapstructure:"points_per_segment" yaml:"points_per_segment"`

	SegmentRetries      int           `mapstructure:"segment_retries" yaml:"segment_retries"`
	BackoffUnit         time.Duration `mapstructure:"backoff_unit" yaml:"backoff_unit"`
	RecoveryAttempts    int           `mapstructure:"recovery_attempts" yaml:"recovery_attempts"`
	RecoveryTimeout     time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
	KillSettle          time.Duration `mapstructure:"kill_settle" yaml:"kill_settle"`
	ReconnectSettle     time.Duration `mapstructure:"reconnect_settle" yaml:"reconnect_settle"`
	PowerOffDuration    time.Duration `mapstructure:"power_off_duration" yaml:"power_off_duration"`
	RecoveryPause       time.Duration `mapstructure:"recovery_pause" yaml:"recovery_pause"`
	LoopFailureLimit    int           `mapstructure:"loop_failure_limit" yaml:"loop_failure_limit"`
	LoopErrorPause      time.Duration `mapstructure:"loop_error_pause" yaml:"loop_error_pause"`
	RecoveryFailedPause time.Duration `mapstructure:"recovery_failed_pause" yaml:"recovery_failed_pause"`
	Interval            time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ---- USB POWER ----

// Recovery methods for the analyzer.
const (
	MethodUhubctl  = "uhubctl"
	MethodUSBReset = "usbreset"
	MethodNone     = "none"
)

type USBConfig struct {
	Method      string        `mapstructure:"method" yaml:"method"`
	HubLocation string        `mapstructure:"hub_location" yaml:"hub_location"`
	HubPort     int           `mapstructure:"hub_port" yaml:"hub_port"`
	Binary      string        `mapstructure:"binary" yaml:"binary"`
	Sudo        bool          `mapstructure:"sudo" yaml:"sudo"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// KeepFailed retains files of sessions that did not complete cleanly.
	KeepFailed bool `mapstructure:"keep_failed" yaml:"keep_failed"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	lc := link.DefaultConfig()
	sc := session.DefaultConfig()
	vc := vna.DefaultConfig()
	dc := vna.DefaultNanoVNAConfig()

	return Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Link: LinkConfig{
			Port:              lc.Port,
			BaudRate:          lc.BaudRate,
			ReadTimeout:       lc.ReadTimeout,
			BootDelay:         lc.BootDelay,
			RetryDelay:        lc.RetryDelay,
			MaxRetries:        lc.MaxRetries,
			JoinTimeout:       lc.JoinTimeout,
			LowForceThreshold: lc.LowForceThreshold,
			EventBuffer:       lc.EventBuffer,
		},
		Session: SessionConfig{
			TargetForce:               sc.TargetForce,
			HoldSeconds:               sc.HoldSeconds,
			ForceTolerance:            sc.ForceTolerance,
			SettleDelay:               sc.SettleDelay,
			LoggingWindow:             sc.LoggingWindow,
			HomingTimeout:             sc.HomingTimeout,
			HomingPoll:                sc.HomingPoll,
			HomingGrace:               sc.HomingGrace,
			ParkedPrefix:              sc.ParkedPrefix,
			RequireHomingConfirmation: sc.RequireHomingConfirmation,
			ForceReachTimeout:         sc.ForceReachTimeout,
			StepsPerMM:                sc.StepsPerMM,
		},
		VNA: VNAConfig{
			Enabled:         true,
			BaudRate:        dc.BaudRate,
			CommandTimeout:  dc.CommandTimeout,
			MaxScanPoints:   dc.MaxScanPoints,
			CalibrationFile: "calibration/calibration_10-500khz.cal",

			StartHz:          vc.StartHz,
			StopHz:           vc.StopHz,
			Points:           vc.Points,
			Segments:         vc.Segments,
			PointsPerSegment: vc.PointsPerSegment,

			SegmentRetries:      vc.SegmentRetries,
			BackoffUnit:         vc.BackoffUnit,
			RecoveryAttempts:    vc.RecoveryAttempts,
			RecoveryTimeout:     vc.RecoveryTimeout,
			KillSettle:          vc.KillSettle,
			ReconnectSettle:     vc.ReconnectSettle,
			PowerOffDuration:    vc.PowerOffDuration,
			RecoveryPause:       vc.RecoveryPause,
			LoopFailureLimit:    vc.LoopFailureLimit,
			LoopErrorPause:      vc.LoopErrorPause,
			RecoveryFailedPause: vc.RecoveryFailedPause,
			Interval:            5 * time.Minute,
		},
		USB: USBConfig{
			Method:      MethodUhubctl,
			HubLocation: "1-1.2",
			HubPort:     1,
			Binary:      "uhubctl",
			Sudo:        true,
			Timeout:     10 * time.Second,
		},
		Journal: JournalConfig{Enabled: true, Path: "output/forcerig.db"},
		Output:  OutputConfig{Dir: vc.OutputDir},
	}
}

// LinkSettings converts the section into link.Config.
func (c LinkConfig) LinkSettings() link.Config {
	return link.Config{
		Port:              c.Port,
		BaudRate:          c.BaudRate,
		ReadTimeout:       c.ReadTimeout,
		BootDelay:         c.BootDelay,
		RetryDelay:        c.RetryDelay,
		MaxRetries:        c.MaxRetries,
		JoinTimeout:       c.JoinTimeout,
		LowForceThreshold: c.LowForceThreshold,
		EventBuffer:       c.EventBuffer,
	}
}

// SessionSettings converts the section into session.Config.
func (c SessionConfig) SessionSettings() session.Config {
	return session.Config{
		TargetForce:               c.TargetForce,
		HoldSeconds:               c.HoldSeconds,
		ForceTolerance:            c.ForceTolerance,
		SettleDelay:               c.SettleDelay,
		LoggingWindow:             c.LoggingWindow,
		HomingTimeout:             c.HomingTimeout,
		HomingPoll:                c.HomingPoll,
		HomingGrace:               c.HomingGrace,
		ParkedPrefix:              c.ParkedPrefix,
		RequireHomingConfirmation: c.RequireHomingConfirmation,
		ForceReachTimeout:         c.ForceReachTimeout,
		StepsPerMM:                c.StepsPerMM,
	}
}

// ControllerSettings converts the section into vna.Config writing to outputDir.
func (c VNAConfig) ControllerSettings(outputDir string) vna.Config {
	return vna.Config{
		StartHz:             c.StartHz,
		StopHz:              c.StopHz,
		Points:              c.Points,
		Segments:            c.Segments,
		PointsPerSegment:    c.PointsPerSegment,
		CalibrationFile:     c.CalibrationFile,
		OutputDir:           outputDir,
		SegmentRetries:      c.SegmentRetries,
		BackoffUnit:         c.BackoffUnit,
		RecoveryAttempts:    c.RecoveryAttempts,
		RecoveryTimeout:     c.RecoveryTimeout,
		KillSettle:          c.KillSettle,
		ReconnectSettle:     c.ReconnectSettle,
		PowerOffDuration:    c.PowerOffDuration,
		RecoveryPause:       c.RecoveryPause,
		LoopFailureLimit:    c.LoopFailureLimit,
		LoopErrorPause:      c.LoopErrorPause,
		RecoveryFailedPause: c.RecoveryFailedPause,
	}
}

// DriverSettings converts the section into the NanoVNA driver config.
func (c VNAConfig) DriverSettings() vna.NanoVNAConfig {
	return vna.NanoVNAConfig{
		Port:           c.Port,
		BaudRate:       c.BaudRate,
		CommandTimeout: c.CommandTimeout,
		MaxScanPoints:  c.MaxScanPoints,
	}
}
