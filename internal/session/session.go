// Package session runs one force-deflection measurement: it commands the
// actuator to a target force, records telemetry, opens a fixed logging
// window once the force has settled, triggers the RF sweep for that window
// and waits for the actuator to return home.
package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/allbin/forcerig/internal/link"
	"github.com/allbin/forcerig/internal/logger"
	"github.com/allbin/forcerig/internal/record"
)

// Link is the actuator connection used by a session.
type Link interface {
	MoveToForce(ctx context.Context, targetN float64, holdSeconds int) error
	Subscribe() (<-chan link.Event, func())
	Snapshot() link.State
	IsMeasurementLikelyComplete() bool
	Close() error
}

// Sink persists force-deflection readings.
type Sink interface {
	Write(r record.Reading) error
	Close() error
}

// SweepFunc runs the RF sweep for the logging window and reports success.
type SweepFunc func(ctx context.Context) bool

// Option configures a Session.
type Option func(*Session)

// WithSweep registers the sweep launched when the logging window opens.
func WithSweep(fn SweepFunc) Option {
	return func(s *Session) { s.sweep = fn }
}

// WithLogger sets the session logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithLabel sets the label recorded in the outcome.
func WithLabel(label string) Option {
	return func(s *Session) { s.label = label }
}

// Session is a single-use measurement. Run may be called once.
type Session struct {
	link   Link
	sink   Sink
	cfg    Config
	sweep  SweepFunc
	logger logger.Logger
	label  string
}

// New creates a session over an already connected link.
func New(l Link, sink Sink, cfg Config, opts ...Option) *Session {
	s := &Session{
		link:   l,
		sink:   sink,
		cfg:    cfg,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	if s.label != "" {
		s.logger = s.logger.With("label", s.label)
	}
	return s
}

// run holds the mutable state of one Run.
type run struct {
	*Session

	log     logger.Logger
	out     Outcome
	state   State
	errors  []ErrorRecord
	history []link.ErrorKind

	sinkFailed  bool
	homingStart time.Time

	settle   *time.Timer
	window   *time.Timer
	deadline *time.Timer
	reach    *time.Timer
	ticker   *time.Ticker

	sweepGroup  errgroup.Group
	sweepOK     atomic.Bool
	sweepCancel context.CancelFunc
	sweepLaunch bool
}

// Run drives the session to a terminal state and returns its outcome. The
// link and sink are closed before Run returns.
func (s *Session) Run(ctx context.Context) Outcome {
	r := &run{
		Session: s,
		out: Outcome{
			ID:      uuid.NewString(),
			Label:   s.label,
			Started: time.Now(),
		},
		state: Idle,
	}
	r.log = s.logger.With("session_id", r.out.ID)
	defer r.stopTimers()

	events, unsubscribe := s.link.Subscribe()

	r.execute(ctx, events)

	unsubscribe()
	if r.sweepCancel != nil {
		if r.state != Completed {
			r.sweepCancel()
		}
		r.sweepGroup.Wait()
		r.sweepCancel()
	}

	if err := s.link.Close(); err != nil {
		r.log.Warn("closing link failed", "error", err)
	}
	if err := s.sink.Close(); err != nil {
		r.log.Warn("closing sink failed", "error", err)
	}

	return r.finish()
}

func (r *run) execute(ctx context.Context, events <-chan link.Event) {
	r.log.Info("sending command", "target_n", r.cfg.TargetForce, "hold_s", r.cfg.HoldSeconds)
	if err := r.link.MoveToForce(ctx, r.cfg.TargetForce, r.cfg.HoldSeconds); err != nil {
		if ctx.Err() != nil {
			r.abort("stopped before start")
			return
		}
		r.abort(fmt.Sprintf("connection error: %v", err))
		return
	}
	r.transition(CommandSent)

	if r.cfg.ForceReachTimeout > 0 {
		r.reach = time.NewTimer(r.cfg.ForceReachTimeout)
	}

	for !r.state.Terminal() {
		select {
		case <-ctx.Done():
			r.abort("stopped")

		case ev, ok := <-events:
			if !ok {
				r.onLinkLost(nil)
				continue
			}
			r.onEvent(ev)

		case <-timerC(r.reach):
			r.abort(fmt.Sprintf("target force not reached within %s", r.cfg.ForceReachTimeout))

		case <-timerC(r.settle):
			r.startLogging(ctx)

		case <-timerC(r.window):
			r.stopLogging()

		case <-tickerC(r.ticker):
			r.checkHoming()

		case <-timerC(r.deadline):
			r.homingTimedOut()
		}
	}
}

func (r *run) onEvent(ev link.Event) {
	switch ev.Kind {
	case link.EventReading:
		r.onReading(ev)
	case link.EventError:
		r.onError(ev)
	case link.EventLinkDown:
		r.onLinkLost(ev.Err)
	case link.EventStartup:
		if r.state != CommandSent {
			r.warn("actuator restarted during measurement")
		}
	}
}

func (r *run) onReading(ev link.Event) {
	reading := record.Reading{
		Time:         ev.Time,
		ForceN:       ev.Force,
		DeflectionMM: float64(ev.Steps) / r.cfg.StepsPerMM,
	}
	if err := r.sink.Write(reading); err != nil {
		if !r.sinkFailed {
			r.sinkFailed = true
			r.warn(fmt.Sprintf("writing readings failed: %v", err))
		}
	} else {
		r.out.Readings++
	}

	if r.state == CommandSent && math.Abs(ev.Force-r.cfg.TargetForce) < r.cfg.ForceTolerance {
		r.log.Info("target force reached", "force_n", ev.Force, "settle", r.cfg.SettleDelay)
		r.transition(ForceReached)
		stopTimer(r.reach)
		r.settle = time.NewTimer(r.cfg.SettleDelay)
	}
}

func (r *run) onError(ev link.Event) {
	r.errors = append(r.errors, ErrorRecord{Time: ev.Time, Kind: ev.ErrKind, Message: ev.Raw})
	r.history = append(r.history, ev.ErrKind)
	r.log.Warn("actuator error", "kind", ev.ErrKind.String(), "total", len(r.errors))

	if link.IsCritical(r.history) {
		r.log.Error("critical actuator error, stopping measurement", "kind", ev.ErrKind.String())
		r.transition(CriticalFault)
	}
}

func (r *run) onLinkLost(err error) {
	msg := "link lost"
	if err != nil {
		msg = fmt.Sprintf("link lost: %v", err)
	}
	if r.state == AwaitingHoming {
		r.warn(msg + " while awaiting homing")
		r.complete(false)
		return
	}
	r.abort(msg)
}

func (r *run) startLogging(ctx context.Context) {
	r.transition(Logging)
	r.out.WindowStart = time.Now()
	r.window = time.NewTimer(r.cfg.LoggingWindow)
	r.log.Info("logging window open", "duration", r.cfg.LoggingWindow)

	if r.sweep == nil {
		if !r.cfg.SkipSweep {
			r.warn("no analyzer available, sweep not run")
		}
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	r.sweepCancel = cancel
	r.sweepLaunch = true
	r.sweepGroup.Go(func() error {
		r.log.Info("starting sweep")
		ok := r.sweep(sctx)
		r.sweepOK.Store(ok)
		r.log.Info("sweep finished", "success", ok)
		return nil
	})
}

func (r *run) stopLogging() {
	r.transition(AwaitingHoming)
	r.out.WindowEnd = time.Now()
	r.log.Info("logging window complete, awaiting homing")

	r.homingStart = time.Now()
	r.ticker = time.NewTicker(r.cfg.HomingPoll)
	r.deadline = time.NewTimer(r.cfg.HomingTimeout)
}

func (r *run) checkHoming() {
	snap := r.link.Snapshot()
	last := snap.LastLine

	switch {
	case r.cfg.ParkedPrefix != "" && strings.HasPrefix(last, r.cfg.ParkedPrefix):
		r.log.Info("actuator parked", "line", last)
	case link.IsTerminalToken(last):
		r.log.Info("actuator signalled end of move", "line", last)
	case time.Since(r.homingStart) > r.cfg.HomingGrace && r.link.IsMeasurementLikelyComplete():
		r.log.Info("actuator at rest")
	default:
		return
	}
	r.complete(true)
}

func (r *run) homingTimedOut() {
	r.warn(fmt.Sprintf("actuator did not confirm homing within %s", r.cfg.HomingTimeout))
	r.complete(false)
}

func (r *run) complete(homed bool) {
	r.out.HomingConfirmed = homed
	r.transition(Completed)
}

func (r *run) abort(reason string) {
	r.out.AbortReason = reason
	r.log.Warn("measurement aborted", "reason", reason, "state", r.state.String())
	r.transition(Aborted)
}

func (r *run) warn(msg string) {
	r.out.Warnings = append(r.out.Warnings, msg)
	r.log.Warn(msg)
}

func (r *run) transition(to State) {
	r.log.Debug("state change", "from", r.state.String(), "to", to.String())
	r.state = to
	if to.Terminal() {
		r.stopTimers()
	}
}

func (r *run) stopTimers() {
	stopTimer(r.reach)
	stopTimer(r.settle)
	stopTimer(r.window)
	stopTimer(r.deadline)
	if r.ticker != nil {
		r.ticker.Stop()
	}
}

func (r *run) finish() Outcome {
	out := r.out
	out.State = r.state
	out.Finished = time.Now()
	out.CriticalError = r.state == CriticalFault
	out.SweepSucceeded = r.sweepLaunch && r.sweepOK.Load()
	sweepOK := out.SweepSucceeded || r.cfg.SkipSweep
	out.ErrorSummary = summarize(r.errors, out.CriticalError)

	switch {
	case r.state == Completed:
		homed := out.HomingConfirmed || !r.cfg.RequireHomingConfirmation
		out.Success = sweepOK && homed
		switch {
		case !homed:
			out.Quality = QualityUntrusted
		case !sweepOK:
			out.Quality = QualityCleanFailure
		default:
			out.Quality = QualityComplete
		}
	case out.WindowStart.IsZero():
		out.Quality = QualityNoData
	default:
		out.Quality = QualityUntrusted
	}

	r.log.Info("measurement finished",
		"state", out.State.String(),
		"quality", out.Quality.String(),
		"success", out.Success,
		"readings", out.Readings,
		"errors", out.ErrorSummary.Total,
		"duration", out.Duration().Round(time.Millisecond),
	)
	return out
}

// timerC returns the timer channel, or nil so the select case never fires.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
