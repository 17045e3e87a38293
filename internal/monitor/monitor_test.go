package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"babybottle-monitor/internal/alert"
	"babybottle-monitor/internal/history"
	"babybottle-monitor/internal/metrics"
	"babybottle-monitor/internal/report"
	"babybottle-monitor/internal/sensor"
	"babybottle-monitor/internal/telemetry"
	"babybottle-monitor/internal/thermal"
)

type fakeReporter struct {
	outcome  report.Outcome
	reported []float64
	calls    int
}

func (f *fakeReporter) Report(_ context.Context, src report.Source) report.Outcome {
	f.calls++
	if !src.ShouldCollect() {
		return report.Outcome{Kind: report.Unchanged}
	}
	f.reported = append(f.reported, src.Current())
	return f.outcome
}

type fakeNotifier struct {
	// fail lists call indexes (0-based) that fail for every recipient.
	fail   map[int]bool
	bodies []string
}

func (f *fakeNotifier) Notify(_ context.Context, body string) (alert.Result, error) {
	i := len(f.bodies)
	f.bodies = append(f.bodies, body)
	if f.fail[i] {
		return alert.Result{Failed: map[string]error{"+100": errors.New("boom")}}, errors.New("not delivered")
	}
	return alert.Result{Delivered: []string{"+100", "+200"}, Failed: map[string]error{}}, nil
}

type fakePublisher struct {
	msgs []telemetry.Telemetry
	err  error
}

func (f *fakePublisher) PublishTelemetry(_ context.Context, t telemetry.Telemetry) error {
	f.msgs = append(f.msgs, t)
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

type fakeRecorder struct {
	readings []history.Reading
	alerts   []history.Alert
	rates    []history.CoolingRate
	pruned   []time.Time
	err      error
}

func (f *fakeRecorder) InsertReading(_ context.Context, r history.Reading) error {
	f.readings = append(f.readings, r)
	return f.err
}

func (f *fakeRecorder) InsertAlert(_ context.Context, a history.Alert) error {
	f.alerts = append(f.alerts, a)
	return f.err
}

func (f *fakeRecorder) InsertCoolingRate(_ context.Context, c history.CoolingRate) error {
	f.rates = append(f.rates, c)
	return f.err
}

func (f *fakeRecorder) Prune(_ context.Context, before time.Time) (int64, error) {
	f.pruned = append(f.pruned, before)
	return 0, f.err
}

// stepClock advances one second per call.
type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type harness struct {
	loop      *Loop
	session   *Session
	reporter  *fakeReporter
	notifier  *fakeNotifier
	publisher *fakePublisher
	recorder  *fakeRecorder
	clock     *stepClock
}

func newHarness(t *testing.T, samplingSize int, opts Options, readings ...float64) *harness {
	t.Helper()
	h := &harness{
		session:   NewSession(30, 0, samplingSize),
		reporter:  &fakeReporter{outcome: report.Outcome{Kind: report.Success, StatusCode: 201}},
		notifier:  &fakeNotifier{fail: map[int]bool{}},
		publisher: &fakePublisher{},
		recorder:  &fakeRecorder{},
	}
	clock := &stepClock{t: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)}
	h.clock = clock
	h.loop = NewLoop(h.session, Deps{
		Sensor:    sensor.NewFakeReader(readings...),
		Reporter:  h.reporter,
		Notifier:  h.notifier,
		Publisher: h.publisher,
		Recorder:  h.recorder,
		Metrics:   metrics.New(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       clock.Now,
	}, opts)
	return h
}

func (h *harness) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.loop.Tick(context.Background()))
	}
}

func TestLoop_AlertsOncePerEpisodeAndRearms(t *testing.T) {
	h := newHarness(t, 300, Options{DeviceID: "bottle"}, 31, 32, 29)

	h.tick(t, 1)
	require.Equal(t, []string{"The temperature is 31"}, h.notifier.bodies)
	require.Equal(t, thermal.Alerted, h.session.Gate.State())
	episode := h.session.Gate.Episode()
	require.NotEmpty(t, episode)

	h.tick(t, 1)
	require.Len(t, h.notifier.bodies, 1, "still above threshold, no second alert")

	h.tick(t, 1)
	require.Len(t, h.notifier.bodies, 1, "recovery notice disabled")
	require.Equal(t, thermal.Idle, h.session.Gate.State())
	require.False(t, h.session.Tracker.BackToNormal())

	require.Len(t, h.recorder.alerts, 1)
	require.Equal(t, history.KindAlert, h.recorder.alerts[0].Kind)
	require.Equal(t, episode, h.recorder.alerts[0].EpisodeID)
	require.Equal(t, 2, h.recorder.alerts[0].Delivered)
}

func TestLoop_RecoveryNotice(t *testing.T) {
	h := newHarness(t, 300, Options{AlertOnRecovery: true}, 31, 29)

	h.tick(t, 2)
	require.Equal(t, []string{"The temperature is 31", "The temperature is 29"}, h.notifier.bodies)
	require.Len(t, h.recorder.alerts, 2)
	require.Equal(t, history.KindRecovery, h.recorder.alerts[1].Kind)
	require.Equal(t, h.recorder.alerts[0].EpisodeID, h.recorder.alerts[1].EpisodeID)
}

func TestLoop_UndeliveredAlertRetriedNextTick(t *testing.T) {
	h := newHarness(t, 300, Options{}, 31, 32)
	h.notifier.fail[0] = true

	h.tick(t, 1)
	require.Equal(t, thermal.Idle, h.session.Gate.State())
	require.Empty(t, h.recorder.alerts)

	h.tick(t, 1)
	require.Len(t, h.notifier.bodies, 2)
	require.Equal(t, thermal.Alerted, h.session.Gate.State())
	require.Len(t, h.recorder.alerts, 1)
}

func TestLoop_FailedAlertRetryIsThrottled(t *testing.T) {
	h := newHarness(t, 300, Options{AlertRetryInterval: 5 * time.Second}, 31, 31, 31, 31, 31, 31, 31)
	h.notifier.fail[0] = true

	h.tick(t, 1)
	require.Len(t, h.notifier.bodies, 1)
	require.Equal(t, thermal.Idle, h.session.Gate.State())

	h.tick(t, 4)
	require.Len(t, h.notifier.bodies, 1, "no attempt inside the retry interval")
	require.Equal(t, thermal.Idle, h.session.Gate.State())

	h.tick(t, 1)
	require.Len(t, h.notifier.bodies, 2, "retried once the interval elapsed")
	require.Equal(t, thermal.Alerted, h.session.Gate.State())

	h.tick(t, 1)
	require.Len(t, h.notifier.bodies, 2)
	require.Len(t, h.recorder.alerts, 1)
}

func TestLoop_RetryThrottleResetsWhenBackToNormal(t *testing.T) {
	h := newHarness(t, 300, Options{AlertRetryInterval: time.Hour}, 31, 29, 33)
	h.notifier.fail[0] = true

	h.tick(t, 3)
	require.Len(t, h.notifier.bodies, 2, "a new crossing is not held back by the last failure")
	require.Equal(t, thermal.Alerted, h.session.Gate.State())
}

func TestLoop_PrunesHistoryHourly(t *testing.T) {
	h := newHarness(t, 300, Options{HistoryRetention: 24 * time.Hour}, 25, 26, 27, 28)

	h.tick(t, 1)
	first := h.loop.Status().Time
	require.Equal(t, []time.Time{first.Add(-24 * time.Hour)}, h.recorder.pruned)

	h.tick(t, 2)
	require.Len(t, h.recorder.pruned, 1, "pruned at most once per hour")

	h.clock.t = h.clock.t.Add(time.Hour)
	h.tick(t, 1)
	require.Len(t, h.recorder.pruned, 2)
	require.Equal(t, h.loop.Status().Time.Add(-24*time.Hour), h.recorder.pruned[1])
}

func TestLoop_ZeroRetentionNeverPrunes(t *testing.T) {
	h := newHarness(t, 300, Options{}, 25, 26)

	h.tick(t, 2)
	require.Empty(t, h.recorder.pruned)
	require.Len(t, h.recorder.readings, 2)
}

func TestLoop_FailedAlertThenRecoveryDoesNotWedge(t *testing.T) {
	h := newHarness(t, 300, Options{}, 31, 29, 33)
	h.notifier.fail[0] = true

	h.tick(t, 2)
	require.Equal(t, thermal.Idle, h.session.Gate.State())
	require.False(t, h.session.Tracker.BackToNormal())

	h.tick(t, 1)
	require.Len(t, h.notifier.bodies, 2, "next crossing alerts again")
	require.Equal(t, thermal.Alerted, h.session.Gate.State())
}

func TestLoop_ReportsOnlyChangedReadings(t *testing.T) {
	h := newHarness(t, 300, Options{DeviceID: "bottle"}, 25, 25, 26)

	h.tick(t, 3)
	require.Equal(t, 3, h.reporter.calls)
	require.Equal(t, []float64{25, 26}, h.reporter.reported)

	require.Len(t, h.recorder.readings, 2, "unchanged readings are not stored")
	require.Equal(t, 25.0, h.recorder.readings[0].Temperature)
	require.Equal(t, 26.0, h.recorder.readings[1].Temperature)
	require.Equal(t, "success", h.recorder.readings[0].ReportOutcome)
	require.NotNil(t, h.recorder.readings[0].ReportStatus)
	require.Equal(t, 201, *h.recorder.readings[0].ReportStatus)

	require.Len(t, h.publisher.msgs, 2)
	require.Equal(t, "bottle", h.publisher.msgs[0].DeviceID)
	require.Equal(t, 1, h.publisher.msgs[0].Sequence)
	require.Equal(t, 2, h.publisher.msgs[1].Sequence)
	require.Empty(t, h.notifier.bodies)
}

func TestLoop_CoolingRateFromFullWindow(t *testing.T) {
	h := newHarness(t, 2, Options{}, 35, 34, 33, 32)

	h.tick(t, 2)
	require.Equal(t, 1, h.session.Window.Len())

	h.tick(t, 1)
	require.Equal(t, 0, h.session.Window.Len(), "window flushed after the rate is computed")
	require.Len(t, h.recorder.rates, 1)
	require.InDelta(t, -1.0, h.recorder.rates[0].Rate, 1e-9)
	require.Equal(t, 2, h.recorder.rates[0].Samples)

	last := h.publisher.msgs[len(h.publisher.msgs)-1]
	require.NotNil(t, last.CoolingRate)
	require.InDelta(t, -1.0, *last.CoolingRate, 1e-9)
	require.Equal(t, 2, *last.Samples)

	st := h.loop.Status()
	require.NotNil(t, st.CoolingRate)
	require.InDelta(t, -1.0, *st.CoolingRate, 1e-9)
	require.Equal(t, uint64(3), st.Ticks)

	h.tick(t, 1)
	require.Equal(t, 1, h.session.Window.Len(), "collection starts over")
}

func TestLoop_DownstreamFailuresDoNotStopTheLoop(t *testing.T) {
	h := newHarness(t, 300, Options{}, 31, 32, 33)
	h.reporter.outcome = report.Outcome{Kind: report.TransportError, Message: "dial tcp: refused"}
	h.publisher.err = errors.New("broker down")
	h.recorder.err = errors.New("disk full")

	h.tick(t, 3)
	require.Equal(t, "transport_error(dial tcp: refused)", h.loop.Status().LastReport)
	require.Equal(t, thermal.Alerted, h.session.Gate.State())
}

func TestLoop_SensorFailureIsFatal(t *testing.T) {
	h := newHarness(t, 300, Options{}, 31)
	h.tick(t, 1)

	err := h.loop.Tick(context.Background())
	var devErr *sensor.DeviceError
	require.ErrorAs(t, err, &devErr)
	require.ErrorIs(t, err, sensor.ErrExhausted)

	err = h.loop.Run(context.Background())
	require.ErrorIs(t, err, sensor.ErrExhausted)
}

func TestLoop_StatusBeforeFirstTick(t *testing.T) {
	h := newHarness(t, 10, Options{}, 31)

	st := h.loop.Status()
	require.Zero(t, st.Ticks)
	require.Equal(t, "idle", st.Gate)
	require.Equal(t, 10, st.WindowCapacity)
	require.Empty(t, st.LastReport)
	require.Nil(t, st.CoolingRate)
}

type cancellingReader struct {
	cancel context.CancelFunc
	after  int
	reads  int
}

func (r *cancellingReader) Read(context.Context) (float64, error) {
	r.reads++
	if r.reads == r.after {
		r.cancel()
	}
	return 20, nil
}

func (r *cancellingReader) Close() error { return nil }

func TestLoop_RunStopsBetweenTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &cancellingReader{cancel: cancel, after: 3}
	loop := NewLoop(NewSession(30, 0, 10), Deps{
		Sensor:   reader,
		Reporter: &fakeReporter{},
		Notifier: &fakeNotifier{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{PollInterval: time.Millisecond})

	err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, reader.reads, 3)
	require.Equal(t, uint64(reader.reads), loop.Status().Ticks, "the cancelling tick ran to completion")
}
