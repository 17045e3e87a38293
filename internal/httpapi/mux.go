// Package httpapi serves the read-only status API next to the monitor loop.
package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"

	"babybottle-monitor/internal/history"
	"babybottle-monitor/internal/metrics"
	"babybottle-monitor/internal/monitor"
	"babybottle-monitor/internal/utils"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// StatusSource is satisfied by *monitor.Loop.
type StatusSource interface {
	Status() monitor.Status
}

// Deps are the read-only views the API serves. DB and History are nil when
// the history store is disabled.
type Deps struct {
	Status  StatusSource
	DB      *sql.DB
	History history.Repository
	Metrics *metrics.Metrics
}

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	h := &handlers{deps: deps}

	handle := func(pattern, route string, fn http.HandlerFunc) {
		mux.Handle(pattern, deps.Metrics.WrapHandler(route, fn))
	}
	handle("GET /healthz", "/healthz", h.healthz)
	handle("GET /api/status", "/api/status", h.status)
	handle("GET /api/readings", "/api/readings", h.readings)
	handle("GET /api/alerts", "/api/alerts", h.alerts)
	handle("GET /api/cooling-rates", "/api/cooling-rates", h.coolingRates)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	return mux
}

type handlers struct {
	deps Deps
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		var ok int
		if err := h.deps.DB.QueryRowContext(r.Context(), `SELECT 1`).Scan(&ok); err != nil {
			slog.Error("failed to check database connectivity", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	utils.WriteJSON(w, http.StatusOK, h.deps.Status.Status())
}

func (h *handlers) readings(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	out, err := h.deps.History.LatestReadings(r.Context(), limit)
	if err != nil {
		slog.Error("list readings", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to list readings")
		return
	}
	if out == nil {
		out = []history.Reading{}
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

func (h *handlers) alerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	out, err := h.deps.History.LatestAlerts(r.Context(), limit)
	if err != nil {
		slog.Error("list alerts", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if out == nil {
		out = []history.Alert{}
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

func (h *handlers) coolingRates(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	out, err := h.deps.History.LatestCoolingRates(r.Context(), limit)
	if err != nil {
		slog.Error("list cooling rates", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to list cooling rates")
		return
	}
	if out == nil {
		out = []history.CoolingRate{}
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

// limit also rejects the request when history is disabled.
func (h *handlers) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	if h.deps.History == nil {
		utils.WriteError(w, http.StatusServiceUnavailable, "history is disabled")
		return 0, false
	}
	n, err := utils.QueryLimit(r, defaultLimit, maxLimit)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
