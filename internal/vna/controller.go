// Package vna runs segmented RF sweeps on a vector network analyzer and
// recovers the instrument by power cycling its USB port when it stops
// responding.
package vna

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/allbin/forcerig/internal/logger"
	"github.com/allbin/forcerig/internal/touchstone"
)

// LabelLayout formats timestamps used as sweep labels.
const LabelLayout = "20060102_150405"

// SweepReport describes one sweep attempted by Run.
type SweepReport struct {
	Label    string
	Path     string
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithReporter registers a callback invoked after every sweep in Run.
func WithReporter(fn func(SweepReport)) Option {
	return func(c *Controller) { c.report = fn }
}

// Controller owns the analyzer session. Sweeps and recovery never overlap:
// recovery only runs from within SweepAndSave or Run.
type Controller struct {
	cfg     Config
	connect Connector
	cycler  PowerCycler
	logger  logger.Logger
	report  func(SweepReport)

	mu  sync.Mutex
	dev Device
}

// New creates a controller. cycler may be nil, in which case recovery only
// reconnects.
func New(cfg Config, connect Connector, cycler PowerCycler, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		connect: connect,
		cycler:  cycler,
		logger:  logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "vna")
	return c
}

// Connect opens a device session, loads calibration and configures the
// full sweep range.
func (c *Controller) Connect(ctx context.Context, initial bool) error {
	if initial {
		c.logger.Info("initial connection to analyzer")
	} else {
		c.logger.Info("reconnecting to analyzer")
	}

	dev, err := c.open(ctx)
	if err != nil {
		c.logger.Error("analyzer connection failed", "error", err)
		return err
	}
	c.swap(dev)
	c.logger.Info("analyzer ready",
		"start_hz", c.cfg.StartHz, "stop_hz", c.cfg.StopHz, "points", c.cfg.Points)
	return nil
}

func (c *Controller) open(ctx context.Context) (Device, error) {
	dev, err := c.connect(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	}
	if dev == nil || !dev.IsConnected() {
		if dev != nil {
			dev.Kill()
		}
		return nil, ErrDeviceNotFound
	}

	if c.cfg.CalibrationFile != "" {
		if err := dev.LoadCalibration(c.cfg.CalibrationFile); err != nil {
			dev.Kill()
			return nil, fmt.Errorf("%w: %s: %w", ErrCalibration, c.cfg.CalibrationFile, err)
		}
		c.logger.Info("calibration loaded", "file", c.cfg.CalibrationFile)
	}

	if err := dev.SetSweep(c.cfg.StartHz, c.cfg.StopHz, c.cfg.Points); err != nil {
		dev.Kill()
		return nil, fmt.Errorf("configure sweep: %w", err)
	}
	return dev, nil
}

func (c *Controller) device() Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev
}

func (c *Controller) swap(dev Device) {
	c.mu.Lock()
	old := c.dev
	c.dev = dev
	c.mu.Unlock()

	if old != nil && old != dev {
		old.Kill()
	}
}

// SweepAndSave sweeps segments × pointsPerSegment evenly spaced points over
// the configured range and writes sweep_<label>.s2p to OutputDir. Either
// every segment succeeds and the file is written, or nothing is written.
func (c *Controller) SweepAndSave(ctx context.Context, segments, pointsPerSegment int, label string) (string, error) {
	if segments < 1 || pointsPerSegment < 1 {
		return "", fmt.Errorf("%w: invalid segmentation %d×%d", ErrSweepFailed, segments, pointsPerSegment)
	}
	if label == "" {
		label = time.Now().Format(LabelLayout)
	}

	grid := Grid(c.cfg.StartHz, c.cfg.StopHz, segments*pointsPerSegment)
	all := make([]Sample, 0, len(grid))

	for i := 0; i < segments; i++ {
		seg := grid[i*pointsPerSegment : (i+1)*pointsPerSegment]
		samples, err := c.sweepSegment(ctx, i, segments, seg)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.Error("full sweep failed, no file will be saved", "segment", i+1, "error", err)
			return "", fmt.Errorf("%w: %w", ErrSweepFailed, err)
		}
		all = append(all, samples...)
	}

	path := filepath.Join(c.cfg.OutputDir, touchstone.FileName(label))
	if err := touchstone.Write(path, all); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrSweepFailed, path, err)
	}
	c.logger.Info("sweep saved", "path", path, "points", len(all))
	return path, nil
}

func (c *Controller) sweepSegment(ctx context.Context, i, segments int, freqs []float64) ([]Sample, error) {
	f0, f1 := freqs[0], freqs[len(freqs)-1]
	c.logger.Info("sweeping segment", "segment", i+1, "segments", segments, "start_hz", f0, "stop_hz", f1)

	retries := max(c.cfg.SegmentRetries, 1)
	var lastErr error
	for retry := 1; retry <= retries; retry++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		samples, err := c.sweepOnce(ctx, f0, f1, len(freqs))
		if err == nil {
			return samples, nil
		}
		lastErr = err
		c.logger.Warn("segment attempt failed", "segment", i+1, "retry", retry, "error", err)

		if retry == retries {
			break
		}
		if !c.ReinitializeWithTimeout(ctx) {
			break
		}
		if err := sleep(ctx, (1<<retry)*c.cfg.BackoffUnit); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %d/%d after retries: %w", ErrSegmentFailed, i+1, segments, lastErr)
}

func (c *Controller) sweepOnce(ctx context.Context, f0, f1 float64, points int) ([]Sample, error) {
	dev := c.device()
	if dev == nil {
		return nil, ErrNotConnected
	}
	if err := dev.SetSweep(f0, f1, points); err != nil {
		return nil, fmt.Errorf("set sweep: %w", err)
	}
	samples, err := dev.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	if len(samples) != points {
		return nil, fmt.Errorf("got %d samples, want %d", len(samples), points)
	}
	for k := 1; k < len(samples); k++ {
		if samples[k].Freq <= samples[k-1].Freq {
			return nil, fmt.Errorf("frequencies not increasing at sample %d", k)
		}
	}
	return samples, nil
}

type reinitResult struct {
	dev Device
	err error
}

// ReinitializeWithTimeout kills the device, power cycles it and reconnects,
// up to RecoveryAttempts times. Each attempt is bounded by RecoveryTimeout;
// a timed-out attempt is cancelled and waited for before the next one
// starts. It reports whether a new session was established.
func (c *Controller) ReinitializeWithTimeout(ctx context.Context) bool {
	attempts := max(c.cfg.RecoveryAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("recovery attempt", "attempt", attempt, "max_attempts", attempts)

		actx, cancel := context.WithTimeout(ctx, c.cfg.RecoveryTimeout)
		result := make(chan reinitResult, 1)
		go func() {
			dev, err := c.reinitializeOnce(actx)
			result <- reinitResult{dev, err}
		}()

		select {
		case r := <-result:
			cancel()
			if r.err == nil {
				c.swap(r.dev)
				c.logger.Info("recovery succeeded", "attempt", attempt)
				return true
			}
			c.logger.Error("recovery attempt failed", "attempt", attempt, "error", r.err)
		case <-actx.Done():
			cancel()
			c.logger.Error("recovery attempt timed out", "attempt", attempt, "timeout", c.cfg.RecoveryTimeout)
			// the attempt finishes tearing down before anything else touches
			// the port; a late session is never installed
			if r := <-result; r.dev != nil {
				r.dev.Kill()
			}
		}

		if ctx.Err() != nil {
			return false
		}
		if attempt < attempts {
			if err := sleep(ctx, c.cfg.RecoveryPause); err != nil {
				return false
			}
		}
	}
	return false
}

func (c *Controller) reinitializeOnce(ctx context.Context) (Device, error) {
	if dev := c.device(); dev != nil {
		if err := dev.Kill(); err != nil {
			c.logger.Debug("kill failed", "error", err)
		}
	}
	if err := sleep(ctx, c.cfg.KillSettle); err != nil {
		return nil, err
	}

	if c.cycler != nil {
		c.logger.Warn("power cycling analyzer USB port")
		if err := c.cycler.PowerCycle(ctx, c.cfg.PowerOffDuration); err != nil {
			c.logger.Error("USB power cycle failed", "error", err)
		} else {
			c.logger.Info("USB power cycle complete")
		}
	}

	if err := sleep(ctx, c.cfg.ReconnectSettle); err != nil {
		return nil, err
	}

	c.logger.Info("reconnecting to analyzer")
	dev, err := c.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconnect: %w", err)
	}
	if ctx.Err() != nil {
		dev.Kill()
		return nil, ctx.Err()
	}
	return dev, nil
}

// CheckHealth reports whether the device is connected and completes a
// sweep over the configured range.
func (c *Controller) CheckHealth(ctx context.Context) bool {
	dev := c.device()
	if dev == nil || !dev.IsConnected() {
		c.logger.Warn("analyzer disconnected")
		return false
	}
	if err := dev.SetSweep(c.cfg.StartHz, c.cfg.StopHz, c.cfg.Points); err != nil {
		c.logger.Warn("health check failed", "error", err)
		return false
	}
	if _, err := dev.Sweep(ctx); err != nil {
		c.logger.Warn("health check failed", "error", err)
		return false
	}
	return true
}

// Run sweeps every interval until ctx is cancelled, recovering the device
// as needed. The device is killed before Run returns.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	c.logger.Info("starting continuous sweeps", "interval", interval)
	defer c.Close()

	failures := 0
	for ctx.Err() == nil {
		start := time.Now()

		if !c.CheckHealth(ctx) {
			c.logger.Warn("analyzer unhealthy, attempting recovery")
			if !c.ReinitializeWithTimeout(ctx) {
				c.logger.Error("recovery failed, waiting", "pause", c.cfg.RecoveryFailedPause)
				sleep(ctx, c.cfg.RecoveryFailedPause)
				continue
			}
		}

		label := start.Format(LabelLayout)
		path, err := c.SweepAndSave(ctx, c.cfg.Segments, c.cfg.PointsPerSegment, label)
		if ctx.Err() != nil {
			break
		}
		if c.report != nil {
			c.report(SweepReport{Label: label, Path: path, Started: start, Duration: time.Since(start), Err: err})
		}

		if err != nil {
			failures++
			c.logger.Error("sweep loop error", "error", err, "failures", failures)
			if failures >= c.cfg.LoopFailureLimit {
				c.logger.Warn("too many failures, forcing recovery", "failures", failures)
				c.ReinitializeWithTimeout(ctx)
				failures = 0
			}
			sleep(ctx, c.cfg.LoopErrorPause)
			continue
		}

		failures = 0
		wait := max(interval-time.Since(start), 0)
		c.logger.Info("next sweep scheduled", "wait", wait.Round(100*time.Millisecond))
		sleep(ctx, wait)
	}

	c.logger.Info("sweep loop stopped")
}

// Close kills the current device session.
func (c *Controller) Close() error {
	c.mu.Lock()
	dev := c.dev
	c.dev = nil
	c.mu.Unlock()

	if dev == nil {
		return nil
	}
	c.logger.Info("killing analyzer connection")
	return dev.Kill()
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
