// Package sensor reads the bottle temperature from hardware or from a
// scripted in-memory source.
package sensor

import (
	"context"
	"fmt"
)

// Reader produces one temperature in degrees Celsius per call. Failures are
// reported as *DeviceError.
type Reader interface {
	Read(ctx context.Context) (float64, error)
	Close() error
}

// DeviceError means the sensor could not be read or its output could not be
// understood. The monitor treats it as fatal.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("sensor %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
