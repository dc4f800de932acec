package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allbin/forcerig/internal/logger"
)

// fakeTransport feeds queued chunks to the reader and records writes.
type fakeTransport struct {
	in chan []byte

	mu       sync.Mutex
	written  []string
	writeErr error
	readErr  error
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 64)}
}

func (f *fakeTransport) Read(buf []byte) (int, error) {
	f.mu.Lock()
	err, closed := f.readErr, f.closed
	f.mu.Unlock()
	if closed {
		return 0, errors.New("closed")
	}
	if err != nil {
		return 0, err
	}
	select {
	case chunk := <-f.in:
		return copy(buf, chunk), nil
	case <-time.After(10 * time.Millisecond):
		return 0, nil
	}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, string(p))
	return len(p), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) FlushInput() error  { return nil }
func (f *fakeTransport) FlushOutput() error { return nil }

func (f *fakeTransport) send(s string) { f.in <- []byte(s) }

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = "/dev/fake"
	cfg.BootDelay = 0
	cfg.RetryDelay = time.Millisecond
	cfg.JoinTimeout = time.Second
	return cfg
}

// newTestController returns a controller whose opener hands out fresh
// fake transports; every transport opened is appended to opened.
func newTestController(t *testing.T) (*Controller, *[]*fakeTransport) {
	t.Helper()
	var mu sync.Mutex
	opened := &[]*fakeTransport{}
	c := New(testConfig(),
		WithLogger(logger.Discard()),
		WithOpener(func(string, int, time.Duration) (Transport, error) {
			mu.Lock()
			defer mu.Unlock()
			ft := newFakeTransport()
			*opened = append(*opened, ft)
			return ft, nil
		}),
	)
	t.Cleanup(func() { c.Close() })
	return c, opened
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestController_ConnectRetries(t *testing.T) {
	attempts := 0
	c := New(testConfig(),
		WithLogger(logger.Discard()),
		WithOpener(func(string, int, time.Duration) (Transport, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("busy")
			}
			return newFakeTransport(), nil
		}),
	)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 3, attempts)
	assert.True(t, c.Snapshot().Connected)
}

func TestController_ConnectFailure(t *testing.T) {
	openErr := errors.New("no such device")
	attempts := 0
	c := New(testConfig(),
		WithLogger(logger.Discard()),
		WithOpener(func(string, int, time.Duration) (Transport, error) {
			attempts++
			return nil, openErr
		}),
	)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailure)
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, 3, attempts)
	assert.False(t, c.Snapshot().Connected)
}

func TestController_ConnectCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = time.Hour
	c := New(cfg,
		WithLogger(logger.Discard()),
		WithOpener(func(string, int, time.Duration) (Transport, error) {
			return nil, errors.New("busy")
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Connect(ctx), context.Canceled)
}

func TestController_ReaderParsesLines(t *testing.T) {
	c, opened := newTestController(t)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.Connect(context.Background()))
	ft := (*opened)[0]

	// split across chunks, CRLF terminated, with a blank line and invalid UTF-8
	ft.send("F1.2")
	ft.send("5 S10\r\n\r\nI2CTI")
	ft.send("MEOUT\nST\xffARTUP\nFAIL\n")

	ev := nextEvent(t, events)
	assert.Equal(t, EventReading, ev.Kind)
	assert.Equal(t, 1.25, ev.Force)
	assert.Equal(t, 10, ev.Steps)
	assert.False(t, ev.Time.IsZero())

	ev = nextEvent(t, events)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, ErrorI2CTimeout, ev.ErrKind)

	ev = nextEvent(t, events)
	assert.Equal(t, EventStartup, ev.Kind)

	ev = nextEvent(t, events)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, ErrorGeneralFail, ev.ErrKind)

	s := c.Snapshot()
	assert.Equal(t, uint(2), s.ErrorCount)
	assert.Equal(t, uint(2), s.ConsecutiveErrors)
	assert.Equal(t, ErrorGeneralFail, s.LastError)
	assert.Equal(t, 1.25, s.LastForce)
	assert.Equal(t, "FAIL", s.LastLine)
}

func TestController_ConsecutiveErrorsResetByReading(t *testing.T) {
	c, opened := newTestController(t)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.Connect(context.Background()))
	ft := (*opened)[0]

	ft.send("I2CTIMEOUT\nI2CTIMEOUT\n")
	nextEvent(t, events)
	nextEvent(t, events)
	assert.False(t, c.HasCriticalError())
	assert.Equal(t, uint(2), c.Snapshot().ConsecutiveErrors)

	ft.send("F0.1 S5\n")
	nextEvent(t, events)
	assert.Equal(t, uint(0), c.Snapshot().ConsecutiveErrors)

	ft.send("FAIL\nFAIL\nFAIL\n")
	for i := 0; i < 3; i++ {
		nextEvent(t, events)
	}
	assert.True(t, c.HasCriticalError())

	ft.send("F0.1 S5\n")
	nextEvent(t, events)
	assert.False(t, c.HasCriticalError())
}

func TestController_ForceSensorIsCritical(t *testing.T) {
	c, opened := newTestController(t)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.Connect(context.Background()))
	(*opened)[0].send("FORCEERROR\n")
	nextEvent(t, events)

	assert.True(t, c.HasCriticalError())
	assert.Equal(t, uint(1), c.Snapshot().ConsecutiveErrors)
}

func TestController_MeasurementLikelyComplete(t *testing.T) {
	c, opened := newTestController(t)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	assert.False(t, c.IsMeasurementLikelyComplete())

	require.NoError(t, c.Connect(context.Background()))
	ft := (*opened)[0]

	ft.send("F9.0 S900\n")
	nextEvent(t, events)
	assert.False(t, c.IsMeasurementLikelyComplete())

	ft.send("F0.2 S0\n")
	nextEvent(t, events)
	assert.True(t, c.IsMeasurementLikelyComplete())
}

func TestController_MoveToForce(t *testing.T) {
	c, opened := newTestController(t)

	err := c.MoveToForce(context.Background(), 9, 21)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.MoveToForce(context.Background(), 9, 21))
	assert.Equal(t, []string{"MOVETOFORCE 9.00 21\n"}, (*opened)[0].writes())
}

func TestController_MoveToForceWriteFailure(t *testing.T) {
	c, opened := newTestController(t)
	require.NoError(t, c.Connect(context.Background()))

	ft := (*opened)[0]
	ft.mu.Lock()
	ft.writeErr = errors.New("EIO")
	ft.mu.Unlock()

	err := c.MoveToForce(context.Background(), 9, 21)
	assert.ErrorIs(t, err, ErrWriteFailure)
	assert.Empty(t, ft.writes())
}

func TestController_ResetThenMoveToForce(t *testing.T) {
	c, opened := newTestController(t)
	require.NoError(t, c.Connect(context.Background()))

	(*opened)[0].send("I2CTIMEOUT\nI2CTIMEOUT\nI2CTIMEOUT\n")
	require.Eventually(t, c.HasCriticalError, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Reset(context.Background()))
	require.Len(t, *opened, 2)
	assert.True(t, (*opened)[0].isClosed())

	s := c.Snapshot()
	assert.True(t, s.Connected)
	assert.Equal(t, uint(0), s.ConsecutiveErrors)
	assert.Equal(t, ErrorNone, s.LastError)
	assert.Equal(t, uint(3), s.ErrorCount)

	require.NoError(t, c.MoveToForce(context.Background(), 9, 21))
	assert.Equal(t, []string{"MOVETOFORCE 9.00 21\n"}, (*opened)[1].writes())
	assert.Empty(t, (*opened)[0].writes())
}

func TestController_LinkDown(t *testing.T) {
	c, opened := newTestController(t)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.Connect(context.Background()))
	ft := (*opened)[0]
	ft.mu.Lock()
	ft.readErr = errors.New("device disconnected")
	ft.mu.Unlock()

	ev := nextEvent(t, events)
	assert.Equal(t, EventLinkDown, ev.Kind)
	assert.EqualError(t, ev.Err, "device disconnected")
	assert.False(t, c.Snapshot().Connected)
	assert.ErrorIs(t, c.MoveToForce(context.Background(), 9, 21), ErrNotConnected)
}

func TestController_CloseClosesSubscribers(t *testing.T) {
	c, _ := newTestController(t)
	events, unsubscribe := c.Subscribe()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, ok := <-events
	assert.False(t, ok)
	assert.False(t, c.Snapshot().Connected)

	// unsubscribing after close must not panic
	unsubscribe()
}

func TestController_SlowSubscriberDoesNotBlockReader(t *testing.T) {
	cfg := testConfig()
	cfg.EventBuffer = 1

	ft := newFakeTransport()
	c := New(cfg,
		WithLogger(logger.Discard()),
		WithOpener(func(string, int, time.Duration) (Transport, error) { return ft, nil }),
	)
	defer c.Close()

	slow, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.Connect(context.Background()))
	ft.send("F1 S1\nF2 S2\nF3 S3\n")

	require.Eventually(t, func() bool { return c.Snapshot().LastForce == 3 }, 2*time.Second, 5*time.Millisecond)

	ev := nextEvent(t, slow)
	assert.Equal(t, 1.0, ev.Force)
}

func TestController_SlowSubscriberStillGetsErrors(t *testing.T) {
	cfg := testConfig()
	cfg.EventBuffer = 1

	ft := newFakeTransport()
	c := New(cfg,
		WithLogger(logger.Discard()),
		WithOpener(func(string, int, time.Duration) (Transport, error) { return ft, nil }),
	)
	defer c.Close()

	slow, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.Connect(context.Background()))
	ft.send("F1 S1\nFORCEERROR\nF2 S2\n")

	// the reader waits on the full buffer instead of dropping the fault
	require.Eventually(t, func() bool { return c.Snapshot().LastError == ErrorForceSensor }, 2*time.Second, 5*time.Millisecond)

	ev := nextEvent(t, slow)
	assert.Equal(t, EventReading, ev.Kind)
	assert.Equal(t, 1.0, ev.Force)

	ev = nextEvent(t, slow)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, ErrorForceSensor, ev.ErrKind)

	require.Eventually(t, func() bool { return c.Snapshot().LastForce == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestController_UnsubscribeReleasesBlockedReader(t *testing.T) {
	cfg := testConfig()
	cfg.EventBuffer = 1

	ft := newFakeTransport()
	c := New(cfg,
		WithLogger(logger.Discard()),
		WithOpener(func(string, int, time.Duration) (Transport, error) { return ft, nil }),
	)
	defer c.Close()

	_, unsubscribe := c.Subscribe()

	require.NoError(t, c.Connect(context.Background()))
	ft.send("FAIL\nFAIL\nF5 S5\n")
	require.Eventually(t, func() bool { return c.Snapshot().ErrorCount >= 2 }, 2*time.Second, 5*time.Millisecond)

	unsubscribe()
	require.Eventually(t, func() bool { return c.Snapshot().LastForce == 5 }, 2*time.Second, 5*time.Millisecond)
}

func TestController_ConnectTwiceReleasesPreviousTransport(t *testing.T) {
	c, opened := newTestController(t)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	require.Len(t, *opened, 2)
	assert.True(t, (*opened)[0].isClosed())
	assert.False(t, (*opened)[1].isClosed())
	assert.True(t, c.Snapshot().Connected)

	// only the current transport feeds events
	(*opened)[1].send("F4 S40\n")
	ev := nextEvent(t, events)
	assert.Equal(t, 4.0, ev.Force)

	require.NoError(t, c.MoveToForce(context.Background(), 9, 21))
	assert.Empty(t, (*opened)[0].writes())
	assert.Equal(t, []string{"MOVETOFORCE 9.00 21\n"}, (*opened)[1].writes())
}
