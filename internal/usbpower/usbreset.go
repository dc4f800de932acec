package usbpower

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allbin/forcerig/internal/logger"
	"github.com/allbin/forcerig/internal/serialport"
)

// ResetCycler recovers a device with a USB-level reset through the
// usbreset utility (from usbutils). It is the fallback for hubs without
// per-port power switching.
//
// The device is located by PortPath, or by VendorID/ProductID when no path
// is set. Bus and device numbers come from sysfs.
type ResetCycler struct {
	PortPath  string
	VendorID  string
	ProductID string
	Sudo      bool
	Timeout   time.Duration
	// Settle is the wait for the device to re-enumerate.
	Settle time.Duration

	Run    Runner
	Logger logger.Logger

	lookup func(portPath string) (*serialport.PortInfo, error)
	find   func(vendorID, productID string) (*serialport.PortInfo, error)
}

// NewResetCycler returns a cycler for the device at portPath.
func NewResetCycler(portPath string) *ResetCycler {
	return &ResetCycler{
		PortPath: portPath,
		Timeout:  10 * time.Second,
		Settle:   2 * time.Second,
	}
}

// USBPath returns the BBB/DDD device path expected by usbreset.
func (r *ResetCycler) USBPath() (string, error) {
	info, err := r.portInfo()
	if err != nil {
		return "", err
	}
	return DevicePath(info)
}

// DevicePath formats the bus and device numbers of info as BBB/DDD.
func DevicePath(info *serialport.PortInfo) (string, error) {
	if info.BusNumber == "" || info.DeviceNumber == "" {
		return "", fmt.Errorf("%w: %s", ErrUSBInfoNotAvailable, info.Path)
	}
	bus, err := strconv.Atoi(info.BusNumber)
	if err != nil {
		return "", fmt.Errorf("%w: bus %q", ErrUSBInfoNotAvailable, info.BusNumber)
	}
	dev, err := strconv.Atoi(info.DeviceNumber)
	if err != nil {
		return "", fmt.Errorf("%w: device %q", ErrUSBInfoNotAvailable, info.DeviceNumber)
	}
	return fmt.Sprintf("%03d/%03d", bus, dev), nil
}

// PowerCycle resets the device and waits for it to re-enumerate. usbreset
// has no separate off phase, so off is ignored.
func (r *ResetCycler) PowerCycle(ctx context.Context, off time.Duration) error {
	log := r.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.With("component", "usbpower", "method", "usbreset")

	usbPath, err := r.USBPath()
	if err != nil {
		return &PowerControlError{Action: "usb reset", ExitCode: -1, Err: err}
	}

	name, args := "usbreset", []string{usbPath}
	if r.Sudo {
		name, args = "sudo", []string{"usbreset", usbPath}
	}

	run := r.Run
	if run == nil {
		if !IsAvailable("usbreset") {
			return &PowerControlError{Action: "usb reset", ExitCode: -1, Err: ErrToolNotAvailable}
		}
		run = ExecRunner
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("resetting USB device", "usb_path", usbPath)
	out, err := run(cctx, name, args...)
	output := strings.TrimSpace(string(out))
	if err != nil {
		if cctx.Err() != nil {
			err = cctx.Err()
		}
		return &PowerControlError{Action: "usb reset", ExitCode: exitCode(err), Output: output, Err: err}
	}
	if output != "" {
		log.Debug("usbreset output", "output", output)
	}

	time.Sleep(r.Settle)
	return nil
}

func (r *ResetCycler) portInfo() (*serialport.PortInfo, error) {
	if r.PortPath != "" {
		lookup := r.lookup
		if lookup == nil {
			lookup = serialport.GetPortInfo
		}
		info, err := lookup(r.PortPath)
		if err != nil {
			return nil, fmt.Errorf("port info for %s: %w", r.PortPath, err)
		}
		return info, nil
	}

	if r.VendorID == "" || r.ProductID == "" {
		return nil, fmt.Errorf("%w: no port path or USB id configured", ErrUSBInfoNotAvailable)
	}
	find := r.find
	if find == nil {
		find = serialport.FindByUSBID
	}
	info, err := find(r.VendorID, r.ProductID)
	if err != nil {
		return nil, fmt.Errorf("find %s:%s: %w", r.VendorID, r.ProductID, err)
	}
	return info, nil
}
