// Package usbpower switches power on individual USB hub ports so a hung
// device can be recovered without physically unplugging it.
package usbpower

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/allbin/forcerig/internal/logger"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// IsAvailable reports whether binary can be found in PATH.
func IsAvailable(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// Controller drives one port of a hub through uhubctl.
type Controller struct {
	HubLocation string // e.g. "1-1.2", as listed by `uhubctl`
	Port        int
	Binary      string
	Sudo        bool
	Timeout     time.Duration

	Run    Runner
	Logger logger.Logger
}

// NewController returns a controller with the default binary and timeout.
func NewController(hubLocation string, port int) *Controller {
	return &Controller{
		HubLocation: hubLocation,
		Port:        port,
		Binary:      "uhubctl",
		Sudo:        true,
		Timeout:     10 * time.Second,
	}
}

// PowerOff cuts power to the port.
func (c *Controller) PowerOff(ctx context.Context) error {
	return c.set(ctx, 0)
}

// PowerOn restores power to the port.
func (c *Controller) PowerOn(ctx context.Context) error {
	return c.set(ctx, 1)
}

// PowerCycle turns the port off, waits off and turns it back on. Once the
// port is off, neither the wait nor the power on is cut short by ctx: the
// port is always powered again, bounded only by Timeout.
func (c *Controller) PowerCycle(ctx context.Context, off time.Duration) error {
	log := c.log()
	log.Info("power cycling USB port", "off_duration", off)

	if err := c.PowerOff(ctx); err != nil {
		return err
	}
	time.Sleep(off)
	if err := c.PowerOn(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	log.Info("USB port power restored")
	return nil
}

// Args returns the helper invocation for the given action.
func (c *Controller) Args(action int) (string, []string) {
	args := []string{"-l", c.HubLocation, "-p", strconv.Itoa(c.Port), "-a", strconv.Itoa(action)}
	if c.Sudo {
		return "sudo", append([]string{c.binary()}, args...)
	}
	return c.binary(), args
}

func (c *Controller) set(ctx context.Context, action int) error {
	name, args := c.Args(action)
	label := "power off"
	if action == 1 {
		label = "power on"
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := c.Run
	if run == nil {
		run = ExecRunner
	}

	log := c.log()
	log.Debug("running hub control", "command", name, "args", strings.Join(args, " "))

	out, err := run(ctx, name, args...)
	output := strings.TrimSpace(string(out))
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		pcErr := &PowerControlError{Action: label, ExitCode: exitCode(err), Output: output, Err: err}
		log.Error("hub control failed", "action", label, "error", pcErr)
		return pcErr
	}

	if output != "" {
		log.Info("hub control output", "action", label, "output", output)
	}
	return nil
}

func (c *Controller) binary() string {
	if c.Binary == "" {
		return "uhubctl"
	}
	return c.Binary
}

func (c *Controller) log() logger.Logger {
	l := c.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	return l.With("component", "usbpower", "hub", c.HubLocation, "port", c.Port)
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
