package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"

	"babybottle-monitor/internal/config"
)

// New builds the process logger. Dev builds get colored tint output, release
// builds JSON. When cfg.LogDir is set the JSON records are also appended to a
// per-day file there; the returned closer releases it.
func New(cfg config.Config, version string, appName string) (*slog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	var file io.Writer
	if cfg.LogDir != "" {
		df, err := NewDailyFile(cfg.LogDir, ".log", time.Now)
		if err != nil {
			return nil, nil, err
		}
		file, closer = df, df
	}

	if version == "dev" {
		h := tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		var handler slog.Handler = h
		if file != nil {
			handler = slogmulti.Fanout(h, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: cfg.LogLevel}))
		}
		return slog.New(handler).With("app", appName), closer, nil
	}

	var w io.Writer = os.Stdout
	if file != nil {
		w = io.MultiWriter(os.Stdout, file)
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
