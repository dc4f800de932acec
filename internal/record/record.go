// Package record writes force-deflection samples to CSV.
package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("record: writer closed")

// Header is the first row of every file.
var Header = []string{"timestamp", "force_N", "deflection_mm"}

// Reading is one persisted sample.
type Reading struct {
	Time         time.Time
	ForceN       float64
	DeflectionMM float64
}

// FileName returns the CSV file name for a measurement label.
func FileName(label string) string {
	return "fd_" + label + ".csv"
}

// Writer appends readings to a CSV file. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	w      *csv.Writer
	count  int
	closed bool
}

// Create creates (or truncates) path and writes the header row.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Writer{path: path, f: f, w: w}, nil
}

// Write appends one row and flushes it to the file.
func (w *Writer) Write(r Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	row := []string{
		r.Time.Format(time.RFC3339Nano),
		strconv.FormatFloat(r.ForceN, 'f', 3, 64),
		strconv.FormatFloat(r.DeflectionMM, 'f', 4, 64),
	}
	if err := w.w.Write(row); err != nil {
		return err
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of rows written, header excluded.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// Close flushes and closes the file. Subsequent calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.w.Flush()
	flushErr := w.w.Error()
	if err := w.f.Close(); err != nil {
		return err
	}
	return flushErr
}

// Read parses a file written by Writer.
func Read(path string) ([]Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parse %s: missing header", path)
	}

	out := make([]Reading, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(Header) {
			return nil, fmt.Errorf("parse %s: row %d has %d fields", path, i+2, len(row))
		}
		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("parse %s: row %d: %w", path, i+2, err)
		}
		force, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: row %d: %w", path, i+2, err)
		}
		defl, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: row %d: %w", path, i+2, err)
		}
		out = append(out, Reading{Time: ts, ForceN: force, DeflectionMM: defl})
	}
	return out, nil
}
