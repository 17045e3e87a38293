package sensor

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// BME280Reader reads the temperature channel of a Bosch BME280 on the
// default I2C bus.
type BME280Reader struct {
	bus  i2c.BusCloser
	dev  *bmxx80.Dev
	name string
}

func NewBME280Reader(addr uint16) (*BME280Reader, error) {
	name := fmt.Sprintf("bme280@%#x", addr)

	if _, err := host.Init(); err != nil {
		return nil, &DeviceError{Device: name, Op: "host init", Err: err}
	}

	bus, err := i2creg.Open("") // default bus, usually /dev/i2c-1
	if err != nil {
		return nil, &DeviceError{Device: name, Op: "open i2c", Err: err}
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, &DeviceError{Device: name, Op: "init", Err: err}
	}

	return &BME280Reader{bus: bus, dev: dev, name: name}, nil
}

func (r *BME280Reader) Read(_ context.Context) (float64, error) {
	var env physic.Env
	if err := r.dev.Sense(&env); err != nil {
		return 0, &DeviceError{Device: r.name, Op: "sense", Err: err}
	}
	return env.Temperature.Celsius(), nil
}

func (r *BME280Reader) Close() error {
	haltErr := r.dev.Halt()
	closeErr := r.bus.Close()
	if haltErr != nil {
		return haltErr
	}
	return closeErr
}
