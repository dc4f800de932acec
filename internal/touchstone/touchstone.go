// Package touchstone reads and writes 2-port Touchstone (.s2p) files in
// real/imaginary format with a 50 ohm reference.
//
// Only S11 and S21 are measured; the file is written as a reciprocal,
// symmetric network (S12 = S21, S22 = S11).
package touchstone

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Header is the option line written at the top of every file.
const Header = "# Hz S RI R 50"

// Point is one frequency point.
type Point struct {
	Freq float64 // Hz
	S11  complex128
	S21  complex128
}

// FileName returns the sweep file name for a measurement label.
func FileName(label string) string {
	return "sweep_" + label + ".s2p"
}

// Encode writes points to w. Frequencies are rounded to whole Hz.
func Encode(w io.Writer, points []Point) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, Header); err != nil {
		return err
	}
	for _, p := range points {
		_, err := fmt.Fprintf(bw, "%d %.6e %.6e %.6e %.6e %.6e %.6e %.6e %.6e\n",
			int64(math.Round(p.Freq)),
			real(p.S11), imag(p.S11),
			real(p.S21), imag(p.S21),
			real(p.S21), imag(p.S21),
			real(p.S11), imag(p.S11),
		)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Write creates path and encodes points into it. A partially written file
// is removed on error.
func Write(path string, points []Point) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return Encode(f, points)
}

// Decode parses data lines from r. Comment (!) and option (#) lines are
// skipped. Lines must carry at least the frequency, S11 and S21.
func Decode(r io.Reader) ([]Point, error) {
	var points []Point
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 fields, got %d", lineNo, len(fields))
		}
		var v [5]float64
		for i := range v {
			f, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			v[i] = f
		}
		points = append(points, Point{
			Freq: v[0],
			S11:  complex(v[1], v[2]),
			S21:  complex(v[3], v[4]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// Read opens and decodes path.
func Read(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
