// Package metrics exposes monitor counters and gauges in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	readingsTotal     prometheus.Counter
	temperature       prometheus.Gauge
	aboveThreshold    prometheus.Gauge
	reportsTotal      *prometheus.CounterVec
	alertsTotal       *prometheus.CounterVec
	coolingRate       prometheus.Gauge
	coolingRatesTotal prometheus.Counter
	windowSamples     prometheus.Gauge
	gateAlerted       prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New builds the collectors on a private registry so tests and multiple
// instances never collide on the global one.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bottle_readings_total",
			Help: "Total sensor readings taken.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bottle_temperature_celsius",
			Help: "Latest sensor reading in degrees Celsius.",
		}),
		aboveThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bottle_above_threshold",
			Help: "1 while the latest reading is above the threshold.",
		}),
		reportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottle_reports_total",
			Help: "Report outcomes by kind.",
		}, []string{"outcome"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottle_alerts_total",
			Help: "Alert dispatches by kind and result.",
		}, []string{"kind", "result"}),
		coolingRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bottle_cooling_rate_celsius_per_second",
			Help: "Last computed cooling rate.",
		}),
		coolingRatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bottle_cooling_rates_total",
			Help: "Total cooling rates computed from a full window.",
		}),
		windowSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bottle_window_samples",
			Help: "Samples currently held in the cooling window.",
		}),
		gateAlerted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bottle_gate_alerted",
			Help: "1 while an alert episode is open.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readingsTotal,
		m.temperature,
		m.aboveThreshold,
		m.reportsTotal,
		m.alertsTotal,
		m.coolingRate,
		m.coolingRatesTotal,
		m.windowSamples,
		m.gateAlerted,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveReading(celsius float64, above bool) {
	if m == nil {
		return
	}
	m.readingsTotal.Inc()
	m.temperature.Set(celsius)
	m.aboveThreshold.Set(boolToFloat(above))
}

func (m *Metrics) ObserveReport(outcome string) {
	if m == nil {
		return
	}
	m.reportsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAlert(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.alertsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveCoolingRate(rate float64) {
	if m == nil {
		return
	}
	m.coolingRate.Set(rate)
	m.coolingRatesTotal.Inc()
}

func (m *Metrics) SetWindowSamples(n int) {
	if m == nil {
		return
	}
	m.windowSamples.Set(float64(n))
}

func (m *Metrics) SetGateAlerted(alerted bool) {
	if m == nil {
		return
	}
	m.gateAlerted.Set(boolToFloat(alerted))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
