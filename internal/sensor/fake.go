package sensor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrExhausted = errors.New("scripted readings exhausted")

// FakeReader replays a fixed list of readings. With Loop set it starts over
// after the last one, otherwise it fails with ErrExhausted.
type FakeReader struct {
	readings []float64
	next     int
	Loop     bool
}

func NewFakeReader(readings ...float64) *FakeReader {
	return &FakeReader{readings: readings}
}

// ParseReadings parses a comma separated list such as "31, 32.5, 29".
func ParseReadings(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reading %q: %w", part, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("no readings given")
	}
	return out, nil
}

func (f *FakeReader) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.next >= len(f.readings) {
		if !f.Loop || len(f.readings) == 0 {
			return 0, &DeviceError{Device: "fake", Op: "read", Err: ErrExhausted}
		}
		f.next = 0
	}
	v := f.readings[f.next]
	f.next++
	return v, nil
}

func (f *FakeReader) Close() error { return nil }
