package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultW1Dir is where the kernel w1 bus exposes 1-Wire slaves.
const DefaultW1Dir = "/sys/bus/w1/devices/"

// DS18B20 family code.
const w1ThermometerPrefix = "28-"

var ErrNoW1Device = errors.New("no 1-wire thermometer found")

// W1Reader reads a DS18B20 through the w1_therm "temperature" attribute,
// which holds millidegrees Celsius.
type W1Reader struct {
	path   string
	logger *slog.Logger
}

func NewW1Reader(path string, logger *slog.Logger) *W1Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &W1Reader{path: path, logger: logger}
}

// DiscoverW1 returns the temperature attribute of the first thermometer under
// dir, in lexical order of the slave ids.
func DiscoverW1(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &DeviceError{Device: dir, Op: "discover", Err: err}
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), w1ThermometerPrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", &DeviceError{Device: dir, Op: "discover", Err: ErrNoW1Device}
	}
	sort.Strings(names)

	return filepath.Join(dir, names[0], "temperature"), nil
}

func (r *W1Reader) Path() string { return r.path }

func (r *W1Reader) Read(_ context.Context) (float64, error) {
	r.logger.Debug("reading temperature", "path", r.path)

	raw, err := os.ReadFile(r.path)
	if err != nil {
		return 0, &DeviceError{Device: r.path, Op: "read", Err: err}
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, &DeviceError{Device: r.path, Op: "parse", Err: fmt.Errorf("%q: %w", strings.TrimSpace(string(raw)), err)}
	}
	return milli / 1000.0, nil
}

func (r *W1Reader) Close() error { return nil }
