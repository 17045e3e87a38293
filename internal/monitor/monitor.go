// Package monitor runs the sampling loop: read the sensor, update the
// threshold tracker, collect cooling samples, report, and alert.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"babybottle-monitor/internal/alert"
	"babybottle-monitor/internal/history"
	"babybottle-monitor/internal/metrics"
	"babybottle-monitor/internal/report"
	"babybottle-monitor/internal/sensor"
	"babybottle-monitor/internal/telemetry"
	"babybottle-monitor/internal/thermal"
)

type Notifier interface {
	Notify(ctx context.Context, body string) (alert.Result, error)
}

type Reporter interface {
	Report(ctx context.Context, src report.Source) report.Outcome
}

// Recorder is the write side of the history store.
type Recorder interface {
	InsertReading(ctx context.Context, r history.Reading) error
	InsertAlert(ctx context.Context, a history.Alert) error
	InsertCoolingRate(ctx context.Context, c history.CoolingRate) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// pruneEvery bounds how often the loop deletes expired history.
const pruneEvery = time.Hour

// Session is the state owned by one running loop.
type Session struct {
	Tracker *thermal.Tracker
	Window  *thermal.Window
	Gate    *thermal.Gate
}

func NewSession(threshold int, minDelta float64, samplingSize int) *Session {
	return &Session{
		Tracker: thermal.NewTracker(threshold, minDelta),
		Window:  thermal.NewWindow(samplingSize),
		Gate:    thermal.NewGate(),
	}
}

// Status is an immutable view of the session after a tick.
type Status struct {
	Time            time.Time     `json:"ts"`
	Ticks           uint64        `json:"ticks"`
	Thermal         thermal.State `json:"thermal"`
	Gate            string        `json:"gate"`
	Episode         string        `json:"episode_id,omitempty"`
	WindowSamples   int           `json:"window_samples"`
	WindowCapacity  int           `json:"window_capacity"`
	LastReport      string        `json:"last_report"`
	CoolingRate     *float64      `json:"cooling_rate_c_per_s,omitempty"`
	CoolingRateTime *time.Time    `json:"cooling_rate_ts,omitempty"`
}

type Options struct {
	PollInterval    time.Duration
	AlertOnRecovery bool
	// AlertRetryInterval is the minimum gap between alert attempts after a
	// failed dispatch. Zero retries on every tick.
	AlertRetryInterval time.Duration
	// HistoryRetention is the age past which history rows are pruned. Zero
	// disables pruning.
	HistoryRetention time.Duration
	DeviceID         string
}

type Loop struct {
	session   *Session
	sensor    sensor.Reader
	reporter  Reporter
	notifier  Notifier
	publisher telemetry.Publisher
	recorder  Recorder
	metrics   *metrics.Metrics
	opts      Options
	logger    *slog.Logger
	now       func() time.Time

	ticks         uint64
	sequence      int
	lastRate      *float64
	rateTime      *time.Time
	alertFailedAt time.Time
	lastPrune     time.Time
	status        atomic.Pointer[Status]
}

// Deps groups the collaborators of a Loop. Publisher, Recorder and Metrics
// are optional.
type Deps struct {
	Sensor    sensor.Reader
	Reporter  Reporter
	Notifier  Notifier
	Publisher telemetry.Publisher
	Recorder  Recorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewLoop(session *Session, deps Deps, opts Options) *Loop {
	if deps.Publisher == nil {
		deps.Publisher = telemetry.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	l := &Loop{
		session:   session,
		sensor:    deps.Sensor,
		reporter:  deps.Reporter,
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		opts:      opts,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	l.publish(l.now(), "")
	return l
}

// Status returns the snapshot published after the most recent tick. It is
// safe to call from any goroutine.
func (l *Loop) Status() Status {
	return *l.status.Load()
}

// Run ticks until ctx is cancelled or the sensor fails. Cancellation is only
// observed between ticks, never in the middle of one.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("monitor started",
		"threshold", l.session.Tracker.Threshold(),
		"samplingSize", l.session.Window.Capacity(),
		"pollInterval", l.opts.PollInterval,
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := l.Tick(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		timer.Reset(l.opts.PollInterval)
	}
}

// Tick runs one full iteration. The only error it returns is a sensor
// failure; everything downstream of the reading is logged and skipped.
func (l *Loop) Tick(ctx context.Context) error {
	s := l.session

	reading, err := l.sensor.Read(ctx)
	if err != nil {
		var devErr *sensor.DeviceError
		if errors.As(err, &devErr) {
			return err
		}
		return &sensor.DeviceError{Device: "sensor", Op: "read", Err: err}
	}
	now := l.now()
	l.ticks++

	s.Tracker.Update(reading)
	l.metrics.ObserveReading(reading, s.Tracker.Changed())
	l.logger.Debug("reading",
		"celsius", reading,
		"aboveThreshold", s.Tracker.Changed(),
		"backToNormal", s.Tracker.BackToNormal(),
	)

	s.Window.MaybeCollect(s.Tracker, now)

	outcome := l.reporter.Report(ctx, s.Tracker)
	l.metrics.ObserveReport(outcome.Kind.String())
	if outcome.Failed() {
		l.logger.Warn("report failed", "outcome", outcome.String())
	}
	if s.Tracker.ShouldCollect() {
		l.sendTelemetry(ctx, telemetry.Telemetry{
			Timestamp:      now,
			Temperature:    reading,
			AboveThreshold: s.Tracker.Changed(),
		})
	}

	l.runGate(ctx, now, reading)
	l.metrics.SetGateAlerted(s.Gate.State() == thermal.Alerted)

	if s.Window.IsReady(s.Tracker) {
		l.finishWindow(ctx, now, reading)
	}
	l.metrics.SetWindowSamples(s.Window.Len())

	if s.Tracker.ShouldCollect() {
		l.recordReading(ctx, now, reading, outcome)
	}
	l.prune(ctx, now)
	l.publish(now, outcome.String())
	return nil
}

func (l *Loop) runGate(ctx context.Context, now time.Time, reading float64) {
	s := l.session
	episode := s.Gate.Episode()

	action := s.Gate.Next(s.Tracker)
	if action != thermal.ActionAlert {
		l.alertFailedAt = time.Time{}
	}

	switch action {
	case thermal.ActionAlert:
		if !l.alertFailedAt.IsZero() && now.Sub(l.alertFailedAt) < l.opts.AlertRetryInterval {
			l.logger.Debug("alert retry deferred", "lastFailure", l.alertFailedAt)
			return
		}
		res, err := l.notifier.Notify(ctx, alert.TemperatureMessage(reading))
		l.metrics.ObserveAlert(string(history.KindAlert), res.OK())
		if err != nil || !res.OK() {
			l.alertFailedAt = now
			l.logger.Error("alert not delivered", "celsius", reading, "retryIn", l.opts.AlertRetryInterval, "error", err)
			return
		}
		l.alertFailedAt = time.Time{}
		episode = s.Gate.Confirm()
		l.logger.Info("alert sent", "episode", episode, "celsius", reading, "recipients", len(res.Delivered))
		l.recordAlert(ctx, episode, history.KindAlert, now, reading, res)

	case thermal.ActionRearm:
		l.logger.Info("temperature back to normal, alert rearmed", "episode", episode, "celsius", reading)
		if !l.opts.AlertOnRecovery {
			break
		}
		res, err := l.notifier.Notify(ctx, alert.TemperatureMessage(reading))
		l.metrics.ObserveAlert(string(history.KindRecovery), res.OK())
		if err != nil {
			l.logger.Warn("recovery notice not delivered", "episode", episode, "error", err)
		}
		l.recordAlert(ctx, episode, history.KindRecovery, now, reading, res)
	}
}

func (l *Loop) finishWindow(ctx context.Context, now time.Time, reading float64) {
	s := l.session
	samples := s.Window.Len()
	rate, err := s.Window.CoolingRatePerSecond()
	s.Window.Flush()
	if err != nil {
		l.logger.Warn("cooling rate unavailable", "samples", samples, "error", err)
		return
	}

	l.lastRate = &rate
	l.rateTime = &now
	l.metrics.ObserveCoolingRate(rate)
	l.logger.Info("cooling rate", "celsiusPerSecond", rate, "samples", samples)

	l.sendTelemetry(ctx, telemetry.Telemetry{
		Timestamp:      now,
		Temperature:    reading,
		AboveThreshold: s.Tracker.Changed(),
		CoolingRate:    &rate,
		Samples:        &samples,
	})
	if l.recorder != nil {
		if err := l.recorder.InsertCoolingRate(ctx, history.CoolingRate{Time: now, Rate: rate, Samples: samples}); err != nil {
			l.logger.Error("history: cooling rate", "error", err)
		}
	}
}

func (l *Loop) sendTelemetry(ctx context.Context, t telemetry.Telemetry) {
	l.sequence++
	t.DeviceID = l.opts.DeviceID
	t.Sequence = l.sequence
	if err := l.publisher.PublishTelemetry(ctx, t); err != nil {
		l.logger.Warn("telemetry publish failed", "sequence", t.Sequence, "error", err)
	}
}

func (l *Loop) recordReading(ctx context.Context, now time.Time, reading float64, outcome report.Outcome) {
	if l.recorder == nil {
		return
	}
	rec := history.Reading{
		Time:           now,
		Temperature:    reading,
		AboveThreshold: l.session.Tracker.Changed(),
		ReportOutcome:  outcome.Kind.String(),
	}
	if outcome.Kind == report.Success || outcome.Kind == report.RemoteError {
		code := outcome.StatusCode
		rec.ReportStatus = &code
	}
	if err := l.recorder.InsertReading(ctx, rec); err != nil {
		l.logger.Error("history: reading", "error", err)
	}
}

func (l *Loop) prune(ctx context.Context, now time.Time) {
	if l.recorder == nil || l.opts.HistoryRetention <= 0 {
		return
	}
	if !l.lastPrune.IsZero() && now.Sub(l.lastPrune) < pruneEvery {
		return
	}
	l.lastPrune = now
	n, err := l.recorder.Prune(ctx, now.Add(-l.opts.HistoryRetention))
	if err != nil {
		l.logger.Error("history: prune", "error", err)
		return
	}
	if n > 0 {
		l.logger.Info("history pruned", "rows", n, "retention", l.opts.HistoryRetention)
	}
}

func (l *Loop) recordAlert(ctx context.Context, episode string, kind history.AlertKind, now time.Time, reading float64, res alert.Result) {
	if l.recorder == nil {
		return
	}
	err := l.recorder.InsertAlert(ctx, history.Alert{
		EpisodeID:   episode,
		Time:        now,
		Kind:        kind,
		Temperature: reading,
		Delivered:   len(res.Delivered),
		Failed:      len(res.Failed),
	})
	if err != nil {
		l.logger.Error("history: alert", "kind", kind, "error", err)
	}
}

func (l *Loop) publish(now time.Time, lastReport string) {
	s := l.session
	st := &Status{
		Time:           now,
		Ticks:          l.ticks,
		Thermal:        s.Tracker.Snapshot(),
		Gate:           s.Gate.State().String(),
		Episode:        s.Gate.Episode(),
		WindowSamples:  s.Window.Len(),
		WindowCapacity: s.Window.Capacity(),
		LastReport:     lastReport,
	}
	if l.rateTime != nil {
		t := *l.rateTime
		st.CoolingRateTime = &t
	}
	if l.lastRate != nil {
		r := *l.lastRate
		st.CoolingRate = &r
	}
	l.status.Store(st)
}
