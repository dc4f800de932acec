package vna

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/allbin/forcerig/internal/logger"
	"github.com/allbin/forcerig/internal/serialport"
)

// NanoVNA USB identifiers (STMicroelectronics virtual COM port).
const (
	NanoVNAVendorID  = "0483"
	NanoVNAProductID = "5740"
)

const (
	shellPrompt = "ch> "
	// scan output mask: frequency, S11 and S21
	scanMask = 7
)

// shellTransport is the byte stream to the analyzer shell.
type shellTransport interface {
	io.ReadWriteCloser
	FlushInput() error
}

// NanoVNAConfig configures the shell driver.
//
// An empty Port means discover the device by USB id. Sweeps longer than
// MaxScanPoints are split into several scan commands.
type NanoVNAConfig struct {
	Port           string
	BaudRate       int
	CommandTimeout time.Duration
	MaxScanPoints  int
}

// DefaultNanoVNAConfig returns settings for a NanoVNA-H.
func DefaultNanoVNAConfig() NanoVNAConfig {
	return NanoVNAConfig{
		BaudRate:       115200,
		CommandTimeout: 10 * time.Second,
		MaxScanPoints:  101,
	}
}

// NanoVNA drives the analyzer through its USB CDC text shell.
type NanoVNA struct {
	cfg    NanoVNAConfig
	path   string
	logger logger.Logger

	// cmdMu serializes shell commands
	cmdMu sync.Mutex

	mu          sync.Mutex
	t           shellTransport
	killed      bool
	startHz     float64
	stopHz      float64
	points      int
	calibration *Calibration
}

// DiscoverNanoVNA returns the tty path of the first attached NanoVNA.
func DiscoverNanoVNA() (string, error) {
	info, err := serialport.FindByUSBID(NanoVNAVendorID, NanoVNAProductID)
	if err != nil {
		return "", fmt.Errorf("%w: no %s:%s device: %w", ErrDeviceNotFound, NanoVNAVendorID, NanoVNAProductID, err)
	}
	return info.Path, nil
}

// NanoVNAConnector returns a Connector opening a new shell session on
// every call. Discovery is repeated each time because the tty can change
// after a power cycle.
func NanoVNAConnector(cfg NanoVNAConfig, l logger.Logger) Connector {
	return func(ctx context.Context) (Device, error) {
		path := cfg.Port
		if path == "" {
			p, err := DiscoverNanoVNA()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return OpenNanoVNA(ctx, path, cfg, l)
	}
}

// OpenNanoVNA opens path and waits for the shell prompt.
func OpenNanoVNA(ctx context.Context, path string, cfg NanoVNAConfig, l logger.Logger) (*NanoVNA, error) {
	p, err := serialport.Open(path,
		serialport.WithBaudRate(cfg.BaudRate),
		serialport.WithReadTimeout(100*time.Millisecond),
		serialport.WithExclusive(),
	)
	if err != nil {
		return nil, err
	}
	return newNanoVNA(ctx, p, path, cfg, l)
}

func newNanoVNA(ctx context.Context, t shellTransport, path string, cfg NanoVNAConfig, l logger.Logger) (*NanoVNA, error) {
	if l == nil {
		l = logger.GetLogger()
	}
	if cfg.MaxScanPoints < 1 {
		cfg.MaxScanPoints = 101
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}

	v := &NanoVNA{
		cfg:    cfg,
		path:   path,
		logger: l.With("component", "nanovna", "port", path),
		t:      t,
	}

	if err := t.FlushInput(); err != nil {
		v.logger.Debug("flush input failed", "error", err)
	}
	// an empty command only produces a prompt
	if _, err := v.exec(ctx, ""); err != nil {
		t.Close()
		return nil, fmt.Errorf("%w: %s: no shell prompt: %w", ErrDeviceNotFound, path, err)
	}
	v.logger.Info("analyzer shell ready")
	return v, nil
}

// IsConnected reports whether the session is open and the tty still exists.
func (v *NanoVNA) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.killed || v.t == nil {
		return false
	}
	if v.path != "" {
		if _, err := os.Stat(v.path); err != nil {
			return false
		}
	}
	return true
}

// SetSweep records the range used by the next Sweep.
func (v *NanoVNA) SetSweep(startHz, stopHz float64, points int) error {
	if points < 1 || stopHz < startHz || startHz <= 0 {
		return fmt.Errorf("invalid sweep %.0f-%.0f Hz, %d points", startHz, stopHz, points)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.startHz, v.stopHz, v.points = startHz, stopHz, points
	if v.calibration != nil {
		lo, hi := v.calibration.Range()
		if startHz < lo || stopHz > hi {
			v.logger.Warn("sweep exceeds calibrated range",
				"start_hz", startHz, "stop_hz", stopHz, "cal_start_hz", lo, "cal_stop_hz", hi)
		}
	}
	return nil
}

// Sweep measures the configured range, issuing one scan per
// MaxScanPoints chunk.
func (v *NanoVNA) Sweep(ctx context.Context) ([]Sample, error) {
	v.mu.Lock()
	start, stop, n, cal := v.startHz, v.stopHz, v.points, v.calibration
	v.mu.Unlock()
	if n == 0 {
		return nil, errors.New("sweep range not set")
	}

	freqs := Grid(start, stop, n)
	out := make([]Sample, 0, n)
	for lo := 0; lo < n; lo += v.cfg.MaxScanPoints {
		hi := min(lo+v.cfg.MaxScanPoints, n)
		chunk := freqs[lo:hi]

		cmd := fmt.Sprintf("scan %d %d %d %d",
			int64(chunk[0]), int64(chunk[len(chunk)-1]), len(chunk), scanMask)
		resp, err := v.exec(ctx, cmd)
		if err != nil {
			return nil, err
		}
		samples, err := parseScan(resp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
		if len(samples) != len(chunk) {
			return nil, fmt.Errorf("%s: got %d points, want %d", cmd, len(samples), len(chunk))
		}
		out = append(out, samples...)
	}
	if cal != nil {
		out = cal.Apply(out)
	}
	return out, nil
}

// LoadCalibration reads a calibration file and corrects every following
// Sweep with it on the host. The device's own correction is switched off
// so raw data is not corrected twice.
func (v *NanoVNA) LoadCalibration(path string) error {
	cal, err := ReadCalibration(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.CommandTimeout)
	defer cancel()
	if _, err := v.exec(ctx, "cal off"); err != nil {
		return err
	}

	v.mu.Lock()
	v.calibration = cal
	v.mu.Unlock()

	lo, hi := cal.Range()
	v.logger.Info("calibration applied on host", "points", len(cal.points), "start_hz", lo, "stop_hz", hi)
	return nil
}

// Kill closes the session. It is safe to call more than once.
func (v *NanoVNA) Kill() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.killed {
		return nil
	}
	v.killed = true
	if v.t == nil {
		return nil
	}
	err := v.t.Close()
	if errors.Is(err, serialport.ErrPortClosed) {
		err = nil
	}
	return err
}

// exec sends one command line and returns the output lines between the
// echoed command and the next prompt.
func (v *NanoVNA) exec(ctx context.Context, cmd string) ([]string, error) {
	v.cmdMu.Lock()
	defer v.cmdMu.Unlock()

	v.mu.Lock()
	t, killed := v.t, v.killed
	v.mu.Unlock()
	if killed || t == nil {
		return nil, ErrNotConnected
	}

	if _, err := t.Write([]byte(cmd + "\r")); err != nil {
		return nil, fmt.Errorf("write %q: %w", cmd, err)
	}

	deadline := time.Now().Add(v.cfg.CommandTimeout)
	var acc bytes.Buffer
	buf := make([]byte, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%q: timed out after %s", cmd, v.cfg.CommandTimeout)
		}

		n, err := t.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", cmd, err)
		}
		acc.Write(buf[:n])

		if i := bytes.Index(acc.Bytes(), []byte(shellPrompt)); i >= 0 {
			return shellLines(acc.String()[:i], cmd), nil
		}
	}
}

// shellLines splits shell output, dropping the command echo and blanks.
func shellLines(raw, cmd string) []string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(raw, "\r", ""), "\n") {
		l = strings.TrimSpace(l)
		if l == "" || l == cmd {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// parseScan parses "freq s11re s11im s21re s21im" lines.
func parseScan(lines []string) ([]Sample, error) {
	out := make([]Sample, 0, len(lines))
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) != 5 {
			return nil, fmt.Errorf("unexpected scan line %q", l)
		}
		var v [5]float64
		for i := range v {
			x, err := strconv.ParseFloat(f[i], 64)
			if err != nil {
				return nil, fmt.Errorf("scan line %q: %w", l, err)
			}
			v[i] = x
		}
		out = append(out, Sample{
			Freq: v[0],
			S11:  complex(v[1], v[2]),
			S21:  complex(v[3], v[4]),
		})
	}
	return out, nil
}
