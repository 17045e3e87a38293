package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"babybottle-monitor/internal/alert"
	"babybottle-monitor/internal/config"
	"babybottle-monitor/internal/db"
	"babybottle-monitor/internal/db/migrate"
	"babybottle-monitor/internal/history"
	"babybottle-monitor/internal/httpapi"
	"babybottle-monitor/internal/kafka"
	"babybottle-monitor/internal/metrics"
	"babybottle-monitor/internal/monitor"
	"babybottle-monitor/internal/mqtt"
	"babybottle-monitor/internal/report"
	"babybottle-monitor/internal/sensor"
	"babybottle-monitor/internal/telemetry"
)

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"dataCollection", cfg.DataCollectionEnabled,
		"threshold", cfg.TemperatureThreshold,
		"samplingSize", cfg.SamplingSize,
		"pollInterval", cfg.PollInterval,
		"sensorBackend", cfg.SensorBackend,
		"recipients", len(cfg.ToPhoneNumbers),
		"httpAddr", cfg.HTTPAddr,
		"sqlitePath", cfg.SQLitePath,
		"telemetrySink", cfg.TelemetrySink,
	)

	reader, err := newSensor(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.Error("sensor close", "error", err)
		}
	}()

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("telemetry close", "error", err)
		}
	}()

	m := metrics.New()
	deps := monitor.Deps{
		Sensor: reader,
		Reporter: report.NewClient(report.Options{
			Enabled: cfg.DataCollectionEnabled,
			URL:     cfg.DataCollectionURL,
			Secret:  cfg.DataCollectionSecret,
			Timeout: cfg.ReportTimeout,
		}, nil, slog.Default()),
		Notifier: alert.NewTwilioNotifier(
			cfg.TwilioAccountID, cfg.TwilioAuthToken, cfg.FromPhoneNumber, cfg.ToPhoneNumbers, slog.Default()),
		Publisher: publisher,
		Metrics:   m,
	}

	api := httpapi.Deps{Metrics: m}
	if cfg.SQLitePath != "" {
		dbConn, err := db.Open(cfg.SQLitePath, cfg.LogLevel <= slog.LevelDebug, slog.Default())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(dbConn); closeErr != nil {
				slog.Error("db close", "error", closeErr)
			}
		}()
		if _, err := migrate.Run(ctx, dbConn); err != nil {
			return err
		}
		repo := history.NewRepository(dbConn)
		deps.Recorder = repo
		api.DB = dbConn
		api.History = repo
	}

	session := monitor.NewSession(cfg.TemperatureThreshold, cfg.ReportMinDelta, cfg.SamplingSize)
	loop := monitor.NewLoop(session, deps, monitor.Options{
		PollInterval:       cfg.PollInterval,
		AlertOnRecovery:    cfg.AlertOnRecovery,
		AlertRetryInterval: cfg.AlertRetryInterval,
		HistoryRetention:   cfg.HistoryRetention,
		DeviceID:           cfg.DeviceID,
	})
	api.Status = loop

	if cfg.HTTPAddr == "" {
		return loop.Run(ctx)
	}

	srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(api))
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopCh := make(chan error, 1)
	go func() { loopCh <- loop.Run(loopCtx) }()

	var loopErr error
	select {
	case loopErr = <-loopCh:
	case err := <-errCh:
		stopLoop()
		<-loopCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(loopErr, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(loopErr, err)
	}
	return loopErr
}

func newSensor(cfg config.Config) (sensor.Reader, error) {
	switch cfg.SensorBackend {
	case "w1":
		path := cfg.SensorDevicePath
		if path == "" {
			var err error
			path, err = sensor.DiscoverW1(cfg.W1DevicesDir)
			if err != nil {
				return nil, err
			}
		}
		slog.Info("w1 sensor", "path", path)
		return sensor.NewW1Reader(path, slog.Default()), nil
	case "bme280":
		return sensor.NewBME280Reader(cfg.BME280Address)
	case "fake":
		readings, err := sensor.ParseReadings(cfg.FakeSensorReadings)
		if err != nil {
			return nil, fmt.Errorf("FAKE_SENSOR_READINGS: %w", err)
		}
		r := sensor.NewFakeReader(readings...)
		r.Loop = true
		return r, nil
	default:
		return nil, fmt.Errorf("unknown sensor backend %q", cfg.SensorBackend)
	}
}

func newPublisher(ctx context.Context, cfg config.Config) (telemetry.Publisher, error) {
	switch cfg.TelemetrySink {
	case "", "none":
		return telemetry.Nop{}, nil
	case "mqtt":
		client, err := mqtt.NewClient(cfg, slog.Default())
		if err != nil {
			return nil, err
		}
		// Short connect timeout so a missing broker does not block startup;
		// paho keeps retrying in the background.
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Connect(connectCtx)
		cancel()
		if err != nil {
			slog.Warn("mqtt connection failed (continuing, will retry)", "error", err)
		}
		return client, nil
	case "kafka":
		return kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, slog.Default()), nil
	default:
		return nil, fmt.Errorf("unknown telemetry sink %q", cfg.TelemetrySink)
	}
}
