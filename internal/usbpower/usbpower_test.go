package usbpower

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allbin/forcerig/internal/logger"
	"github.com/allbin/forcerig/internal/serialport"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error // keyed by the last argument
	out   string
	block bool
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name, args})
	err := f.fail[args[len(args)-1]]
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, errors.New("signal: killed")
	}
	return []byte(f.out), err
}

func newTestController(r *fakeRunner) *Controller {
	c := NewController("1-1.2", 1)
	c.Run = r.run
	c.Logger = logger.Discard()
	return c
}

func TestController_Args(t *testing.T) {
	c := NewController("1-1.2", 1)

	name, args := c.Args(0)
	assert.Equal(t, "sudo", name)
	assert.Equal(t, []string{"uhubctl", "-l", "1-1.2", "-p", "1", "-a", "0"}, args)

	c.Sudo = false
	c.Binary = "/usr/local/bin/uhubctl"
	name, args = c.Args(1)
	assert.Equal(t, "/usr/local/bin/uhubctl", name)
	assert.Equal(t, []string{"-l", "1-1.2", "-p", "1", "-a", "1"}, args)
}

func TestController_PowerCycle(t *testing.T) {
	r := &fakeRunner{out: "Current status for hub 1-1.2\n"}
	c := newTestController(r)

	start := time.Now()
	require.NoError(t, c.PowerCycle(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.Len(t, r.calls, 2)
	assert.Equal(t, "0", r.calls[0].args[len(r.calls[0].args)-1])
	assert.Equal(t, "1", r.calls[1].args[len(r.calls[1].args)-1])
}

func TestController_PowerCycleRestoresPowerAfterCancel(t *testing.T) {
	var (
		mu      sync.Mutex
		actions []string
	)
	c := NewController("1-1.2", 1)
	c.Logger = logger.Discard()
	// behaves like exec.CommandContext: a done context fails the command
	c.Run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mu.Lock()
		actions = append(actions, args[len(args)-1])
		mu.Unlock()
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	require.NoError(t, c.PowerCycle(ctx, 50*time.Millisecond))
	require.Error(t, ctx.Err())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "1"}, actions)
}

func TestController_PowerOffFailure(t *testing.T) {
	cause := errors.New("exit status 1")
	r := &fakeRunner{fail: map[string]error{"0": cause}, out: "No compatible devices detected"}
	c := newTestController(r)

	err := c.PowerCycle(context.Background(), time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPowerControl)
	assert.ErrorIs(t, err, cause)

	var pcErr *PowerControlError
	require.ErrorAs(t, err, &pcErr)
	assert.Equal(t, "power off", pcErr.Action)
	assert.Equal(t, -1, pcErr.ExitCode)
	assert.Equal(t, "No compatible devices detected", pcErr.Output)

	// power on is never attempted after a failed power off
	assert.Len(t, r.calls, 1)
}

func TestController_Timeout(t *testing.T) {
	r := &fakeRunner{block: true}
	c := newTestController(r)
	c.Timeout = 20 * time.Millisecond

	err := c.PowerOn(context.Background())
	assert.ErrorIs(t, err, ErrPowerControl)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResetCycler_USBPath(t *testing.T) {
	tests := []struct {
		name    string
		info    serialport.PortInfo
		want    string
		wantErr error
	}{
		{"padded", serialport.PortInfo{Path: "/dev/ttyACM0", BusNumber: "1", DeviceNumber: "7"}, "001/007", nil},
		{"wide", serialport.PortInfo{Path: "/dev/ttyACM0", BusNumber: "12", DeviceNumber: "104"}, "012/104", nil},
		{"missing", serialport.PortInfo{Path: "/dev/ttyS0"}, "", ErrUSBInfoNotAvailable},
		{"garbage", serialport.PortInfo{Path: "/dev/ttyACM0", BusNumber: "x", DeviceNumber: "1"}, "", ErrUSBInfoNotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResetCycler(tt.info.Path)
			r.lookup = func(string) (*serialport.PortInfo, error) {
				info := tt.info
				return &info, nil
			}

			got, err := r.USBPath()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResetCycler_PowerCycle(t *testing.T) {
	fr := &fakeRunner{}
	r := &ResetCycler{
		VendorID:  "0483",
		ProductID: "5740",
		Sudo:      true,
		Run:       fr.run,
		Logger:    logger.Discard(),
		find: func(vid, pid string) (*serialport.PortInfo, error) {
			assert.Equal(t, "0483", vid)
			assert.Equal(t, "5740", pid)
			return &serialport.PortInfo{Path: "/dev/ttyACM1", BusNumber: "3", DeviceNumber: "12"}, nil
		},
	}

	require.NoError(t, r.PowerCycle(context.Background(), 5*time.Second))
	require.Len(t, fr.calls, 1)
	assert.Equal(t, "sudo", fr.calls[0].name)
	assert.Equal(t, "usbreset 003/012", strings.Join(fr.calls[0].args, " "))
}

func TestResetCycler_NotFound(t *testing.T) {
	r := &ResetCycler{
		VendorID:  "0483",
		ProductID: "5740",
		Run:       (&fakeRunner{}).run,
		Logger:    logger.Discard(),
		find: func(string, string) (*serialport.PortInfo, error) {
			return nil, serialport.ErrDeviceNotFound
		},
	}

	err := r.PowerCycle(context.Background(), 0)
	assert.ErrorIs(t, err, ErrPowerControl)
	assert.ErrorIs(t, err, serialport.ErrDeviceNotFound)
}
