package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/allbin/forcerig/internal/logger"
	"github.com/allbin/forcerig/internal/serialport"
)

// maxLineLength bounds the pending buffer when the device never sends a newline.
const maxLineLength = 4096

// Transport is the byte stream to the actuator.
type Transport interface {
	io.ReadWriteCloser
	FlushInput() error
	FlushOutput() error
}

// Opener opens a transport for the given port.
type Opener func(port string, baudRate int, readTimeout time.Duration) (Transport, error)

// SerialOpener opens a real tty through serialport.
func SerialOpener(port string, baudRate int, readTimeout time.Duration) (Transport, error) {
	return serialport.Open(port,
		serialport.WithBaudRate(baudRate),
		serialport.WithReadTimeout(readTimeout),
		serialport.WithExclusive(),
	)
}

// Config holds the link parameters.
type Config struct {
	Port              string
	BaudRate          int
	ReadTimeout       time.Duration
	BootDelay         time.Duration
	RetryDelay        time.Duration
	MaxRetries        int
	JoinTimeout       time.Duration
	LowForceThreshold float64
	EventBuffer       int
}

// DefaultConfig returns the settings the actuator firmware expects.
func DefaultConfig() Config {
	return Config{
		Port:              "/dev/ttyACM0",
		BaudRate:          9600,
		ReadTimeout:       time.Second,
		BootDelay:         2 * time.Second,
		RetryDelay:        time.Second,
		MaxRetries:        3,
		JoinTimeout:       3 * time.Second,
		LowForceThreshold: 0.5,
		EventBuffer:       1024,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithOpener replaces the transport opener.
func WithOpener(open Opener) Option {
	return func(c *Controller) { c.open = open }
}

// WithLogger sets the controller logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns one serial connection to the actuator. A single reader
// goroutine drains the port, updates State and publishes Events to
// subscribers; commands are written by the caller under a write lock.
type Controller struct {
	cfg    Config
	open   Opener
	logger logger.Logger

	mu        sync.Mutex
	state     State
	transport Transport
	stop      chan struct{}
	done      chan struct{}

	writeMu sync.Mutex

	subs   *xsync.MapOf[uint64, *subscriber]
	nextID atomic.Uint64
}

// New creates an unconnected controller.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		open:   SerialOpener,
		logger: logger.GetLogger(),
		subs:   xsync.NewMapOf[uint64, *subscriber](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "link", "port", cfg.Port)
	if c.cfg.MaxRetries < 1 {
		c.cfg.MaxRetries = 1
	}
	if c.cfg.EventBuffer < 1 {
		c.cfg.EventBuffer = 1
	}
	return c
}

// Connect opens the port, waits for the firmware to boot, discards stale
// input and starts the reader. Opening is retried MaxRetries times. An
// existing connection is stopped and released first.
func (c *Controller) Connect(ctx context.Context) error {
	c.stopReader()
	if err := c.release(); err != nil && !errors.Is(err, serialport.ErrPortClosed) {
		c.logger.Warn("closing previous connection failed", "error", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		c.logger.Info("connecting to actuator", "attempt", attempt, "max_attempts", c.cfg.MaxRetries)

		t, err := c.open(c.cfg.Port, c.cfg.BaudRate, c.cfg.ReadTimeout)
		if err == nil {
			c.start(t)
			c.logger.Info("actuator connected")
			return nil
		}

		lastErr = err
		c.logger.Warn("connection attempt failed", "attempt", attempt, "error", err)
		if attempt == c.cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}

	c.logger.Error("giving up on actuator", "attempts", c.cfg.MaxRetries)
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectionFailure, c.cfg.Port, c.cfg.MaxRetries, lastErr)
}

func (c *Controller) start(t Transport) {
	// the firmware resets when the port opens; give it time to boot
	time.Sleep(c.cfg.BootDelay)

	if err := t.FlushInput(); err != nil {
		c.logger.Warn("flush input failed", "error", err)
	}
	if err := t.FlushOutput(); err != nil {
		c.logger.Warn("flush output failed", "error", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.transport = t
	c.stop, c.done = stop, done
	c.state.Connected = true
	c.state.LastError = ErrorNone
	c.state.ConsecutiveErrors = 0
	c.mu.Unlock()

	go c.readLoop(t, stop, done)
}

func (c *Controller) readLoop(t Transport, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 256)
	var pending []byte

	for {
		select {
		case <-stop:
			c.logger.Debug("reader stopped")
			return
		default:
		}

		n, err := t.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			c.linkDown(err, stop)
			return
		}
		if n == 0 {
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(strings.ToValidUTF8(string(pending[:i]), ""))
			pending = append(pending[:0], pending[i+1:]...)
			if line != "" {
				c.handleLine(line, stop)
			}
		}
		if len(pending) > maxLineLength {
			c.logger.Warn("discarding unterminated input", "bytes", len(pending))
			pending = pending[:0]
		}
	}
}

func (c *Controller) handleLine(line string, stop <-chan struct{}) {
	ev := ParseLine(line)
	ev.Time = time.Now()

	c.mu.Lock()
	c.state.apply(ev)
	consecutive := c.state.ConsecutiveErrors
	c.mu.Unlock()

	switch ev.Kind {
	case EventReading:
		c.logger.Debug("reading", "force_n", ev.Force, "steps", ev.Steps)
	case EventError:
		c.logger.Warn("actuator fault", "kind", ev.ErrKind.String(), "consecutive_errors", consecutive)
	case EventStartup:
		c.logger.Info("actuator startup detected")
	default:
		c.logger.Debug("unparsed line", "line", line)
	}

	c.publish(ev, stop)
}

func (c *Controller) linkDown(err error, stop <-chan struct{}) {
	ev := Event{Kind: EventLinkDown, Time: time.Now(), Err: err}

	c.mu.Lock()
	c.state.apply(ev)
	c.mu.Unlock()

	c.logger.Error("read failed, link down", "error", err)
	c.publish(ev, stop)
}

// MoveToForce sends the MOVETOFORCE command. Write failures are returned
// wrapped in ErrWriteFailure and are not retried.
func (c *Controller) MoveToForce(ctx context.Context, targetN float64, holdSeconds int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	t, connected := c.transport, c.state.Connected
	c.mu.Unlock()
	if t == nil || !connected {
		return ErrNotConnected
	}

	cmd := FormatMoveToForce(targetN, holdSeconds)

	c.writeMu.Lock()
	_, err := t.Write([]byte(cmd))
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Error("command write failed", "command", strings.TrimSpace(cmd), "error", err)
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}

	c.logger.Info("command sent", "command", strings.TrimSpace(cmd))
	return nil
}

// Reset stops the reader, releases the transport and connects again.
func (c *Controller) Reset(ctx context.Context) error {
	c.logger.Info("resetting actuator connection")
	c.stopReader()
	c.release()
	return c.Connect(ctx)
}

// Close stops the reader, releases the transport and closes all subscriber
// channels. It is safe to call more than once.
func (c *Controller) Close() error {
	c.stopReader()
	err := c.release()

	c.subs.Range(func(id uint64, s *subscriber) bool {
		c.subs.Delete(id)
		s.close()
		return true
	})

	if errors.Is(err, serialport.ErrPortClosed) {
		err = nil
	}
	return err
}

func (c *Controller) stopReader() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)

	select {
	case <-done:
	case <-time.After(c.cfg.JoinTimeout):
		c.logger.Warn("reader did not stop in time", "timeout", c.cfg.JoinTimeout)
	}
}

func (c *Controller) release() error {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.state.Connected = false
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	c.logger.Info("closing actuator connection")
	return t.Close()
}

// Snapshot returns a copy of the connection state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsMeasurementLikelyComplete reports whether the actuator appears to have
// returned to rest.
func (c *Controller) IsMeasurementLikelyComplete() bool {
	return c.Snapshot().MeasurementLikelyComplete(c.cfg.LowForceThreshold)
}

// HasCriticalError reports whether the link has seen a critical fault.
func (c *Controller) HasCriticalError() bool {
	return c.Snapshot().HasCriticalError()
}

// Subscribe registers a buffered event channel. The returned function
// unsubscribes and closes the channel. Readings and other informational
// events are dropped, with a warning, for subscribers whose buffer is full.
// Error and link-down events are never dropped: the reader waits for the
// subscriber to make room, to unsubscribe or for the reader to be stopped.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	id := c.nextID.Add(1)
	s := &subscriber{
		ch:   make(chan Event, c.cfg.EventBuffer),
		done: make(chan struct{}),
	}
	c.subs.Store(id, s)

	return s.ch, func() {
		if s, ok := c.subs.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

func (c *Controller) publish(ev Event, stop <-chan struct{}) {
	c.subs.Range(func(id uint64, s *subscriber) bool {
		if !s.send(ev, stop) {
			c.logger.Warn("subscriber lagging, event dropped", "subscriber", id, "kind", ev.Kind.String())
		}
		return true
	})
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	closed bool
}

// mustDeliver reports whether ev may never be dropped for a slow subscriber.
func mustDeliver(ev Event) bool {
	return ev.Kind == EventError || ev.Kind == EventLinkDown
}

// send reports false if the event had to be dropped.
func (s *subscriber) send(ev Event, stop <-chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
	}
	if !mustDeliver(ev) {
		return false
	}

	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return true
	case <-stop:
		return false
	}
}

func (s *subscriber) close() {
	// wake a send blocked on a full buffer before taking the lock
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
