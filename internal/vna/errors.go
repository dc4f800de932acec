package vna

import "errors"

var (
	// ErrDeviceNotFound is returned when no analyzer responds.
	ErrDeviceNotFound = errors.New("vna: device not found")
	// ErrCalibration is returned when the calibration profile cannot be applied.
	ErrCalibration = errors.New("vna: calibration failed")
	// ErrSegmentFailed is wrapped by errors for a segment that exhausted its retries.
	ErrSegmentFailed = errors.New("vna: segment failed")
	// ErrSweepFailed is returned by SweepAndSave when any segment fails.
	// Nothing is written in that case.
	ErrSweepFailed = errors.New("vna: sweep failed")
	// ErrNotConnected is returned when no device session is open.
	ErrNotConnected = errors.New("vna: not connected")
)
