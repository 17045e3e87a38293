package telemetry

import (
	"context"
	"time"
)

// Telemetry is one message on the telemetry bus. A reading message carries
// Temperature; a cooling message also carries CoolingRate and Samples.
type Telemetry struct {
	DeviceID       string    `json:"device_id"`
	Timestamp      time.Time `json:"timestamp"`
	Temperature    float64   `json:"temperature_c"`
	AboveThreshold bool      `json:"above_threshold"`
	CoolingRate    *float64  `json:"cooling_rate_c_per_s,omitempty"`
	Samples        *int      `json:"samples,omitempty"`
	Sequence       int       `json:"sequence"`
}

// Publisher delivers telemetry to a bus. Implementations must not block
// longer than their own configured timeout.
type Publisher interface {
	PublishTelemetry(ctx context.Context, t Telemetry) error
	Close() error
}

// Nop drops every message.
type Nop struct{}

func (Nop) PublishTelemetry(context.Context, Telemetry) error { return nil }
func (Nop) Close() error                                      { return nil }
