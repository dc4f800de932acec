package vna

import (
	"context"
	"time"

	"github.com/allbin/forcerig/internal/touchstone"
)

// Sample is one frequency point: S11 and S21 at Freq Hz.
type Sample = touchstone.Point

// Device is one open session with an analyzer.
type Device interface {
	IsConnected() bool
	SetSweep(startHz, stopHz float64, points int) error
	Sweep(ctx context.Context) ([]Sample, error)
	LoadCalibration(path string) error
	Kill() error
}

// Connector opens a fresh device session.
type Connector func(ctx context.Context) (Device, error)

// PowerCycler removes and restores power to the analyzer.
type PowerCycler interface {
	PowerCycle(ctx context.Context, off time.Duration) error
}
