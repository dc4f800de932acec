package vna

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Calibration holds per-frequency error terms measured against ideal
// short, open and load standards on port 1, plus through and isolation
// for port 2. It corrects raw samples on the host.
//
// Files use the NanoVNA-Saver layout: '#' and '!' lines are comments and
// each data line is
//
//	Hz ShortR ShortI OpenR OpenI LoadR LoadI [ThroughR ThroughI [ThrureflR ThrureflI] IsolationR IsolationI]
type Calibration struct {
	points []calPoint // ascending frequency
}

type calPoint struct {
	freq float64
	// one-port error model: directivity, source match, reflection tracking
	e00, e11, e01 complex128
	// transmission response and isolation
	thru, iso complex128
	hasThru   bool
}

// ReadCalibration parses a calibration file.
func ReadCalibration(path string) (*Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cal, err := ParseCalibration(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cal, nil
}

// ParseCalibration parses calibration data from r.
func ParseCalibration(r io.Reader) (*Calibration, error) {
	cal := &Calibration{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}

		fields := strings.Fields(line)
		switch len(fields) {
		case 7, 11, 13:
		default:
			return nil, fmt.Errorf("line %d: expected 7, 11 or 13 fields, got %d", lineNo, len(fields))
		}
		v := make([]float64, len(fields))
		for i, s := range fields {
			x, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			v[i] = x
		}

		p, err := newCalPoint(v)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		cal.points = append(cal.points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(cal.points) == 0 {
		return nil, errors.New("no calibration points")
	}

	sort.Slice(cal.points, func(i, j int) bool { return cal.points[i].freq < cal.points[j].freq })
	return cal, nil
}

func newCalPoint(v []float64) (calPoint, error) {
	short := complex(v[1], v[2])
	open := complex(v[3], v[4])
	load := complex(v[5], v[6])

	// ideal standards: short -1, open +1, load 0
	a := open - load
	b := short - load
	if a == b {
		return calPoint{}, errors.New("open and short standards are identical")
	}
	p := calPoint{
		freq: v[0],
		e00:  load,
		e11:  (a + b) / (a - b),
		e01:  -2 * a * b / (a - b),
	}

	switch len(v) {
	case 11:
		p.thru, p.iso, p.hasThru = complex(v[7], v[8]), complex(v[9], v[10]), true
	case 13:
		p.thru, p.iso, p.hasThru = complex(v[7], v[8]), complex(v[11], v[12]), true
	}
	if p.hasThru && p.thru == p.iso {
		return calPoint{}, errors.New("through equals isolation")
	}
	return p, nil
}

// Range returns the calibrated frequency span.
func (c *Calibration) Range() (startHz, stopHz float64) {
	return c.points[0].freq, c.points[len(c.points)-1].freq
}

// Apply returns corrected copies of samples. Error terms are linearly
// interpolated between calibration points and held constant beyond the
// calibrated span.
func (c *Calibration) Apply(samples []Sample) []Sample {
	out := make([]Sample, len(samples))
	for i, s := range samples {
		p := c.at(s.Freq)

		d := s.S11 - p.e00
		s11 := s.S11
		if den := p.e01 + p.e11*d; den != 0 {
			s11 = d / den
		}

		s21 := s.S21
		if p.hasThru {
			s21 = (s.S21 - p.iso) / (p.thru - p.iso)
		}
		out[i] = Sample{Freq: s.Freq, S11: s11, S21: s21}
	}
	return out
}

func (c *Calibration) at(hz float64) calPoint {
	pts := c.points
	i := sort.Search(len(pts), func(i int) bool { return pts[i].freq >= hz })
	switch {
	case i == 0:
		return pts[0]
	case i == len(pts):
		return pts[len(pts)-1]
	case pts[i].freq == hz:
		return pts[i]
	}

	lo, hi := pts[i-1], pts[i]
	t := complex((hz-lo.freq)/(hi.freq-lo.freq), 0)
	lerp := func(a, b complex128) complex128 { return a + (b-a)*t }
	return calPoint{
		freq:    hz,
		e00:     lerp(lo.e00, hi.e00),
		e11:     lerp(lo.e11, hi.e11),
		e01:     lerp(lo.e01, hi.e01),
		thru:    lerp(lo.thru, hi.thru),
		iso:     lerp(lo.iso, hi.iso),
		hasThru: lo.hasThru && hi.hasThru,
	}
}
