package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/config"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/engine"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/upstream"
	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/view"
)

// readyThreshold is the loop queue utilization above which /readyz fails.
const readyThreshold = 0.8

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	hub    *Hub
	mux    *http.ServeMux
}

// New creates an HTTP handler, registers all routes and starts the
// WebSocket hub, which stops when the engine closes.
func New(eng *engine.Engine, loader *config.Loader) http.Handler {
	h := &Handler{eng: eng, loader: loader, hub: NewHub(), mux: http.NewServeMux()}
	go h.hub.Run(eng)

	h.mux.HandleFunc("GET /v1/state", h.state)
	h.mux.HandleFunc("GET /v1/events", h.listEvents)
	h.mux.HandleFunc("GET /v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("GET /v1/view", h.getView)
	h.mux.HandleFunc("PUT /v1/view", h.putView)
	h.mux.HandleFunc("POST /v1/view/toggle-sort", h.toggleSort)
	h.mux.HandleFunc("GET /v1/timeseries", h.timeseries)
	h.mux.HandleFunc("GET /v1/metrics/latest", h.latest)
	h.mux.HandleFunc("GET /v1/alerts", h.listAlerts)
	h.mux.HandleFunc("DELETE /v1/alerts/{id}", h.dismissAlert)
	h.mux.HandleFunc("POST /v1/stream/start", h.startStream)
	h.mux.HandleFunc("POST /v1/stream/stop", h.stopStream)
	h.mux.HandleFunc("POST /v1/poller/start", h.startPoller)
	h.mux.HandleFunc("POST /v1/poller/stop", h.stopPoller)
	h.mux.HandleFunc("POST /v1/poller/refresh", h.refreshPoller)
	h.mux.HandleFunc("GET /v1/thresholds", h.getThresholds)
	h.mux.HandleFunc("POST /v1/thresholds", h.updateThresholds)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /v1/ws", h.hub.HandleWS)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// GET /v1/state — full snapshot.
func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	s, err := h.eng.State(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GET /v1/events — the live table under the current view parameters.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	events, params, err := h.eng.View(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"params": params,
		"count":  len(events),
		"events": events,
	})
}

// GET /v1/events/{id} — newest entry with that id.
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, found, err := h.eng.Event(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("event %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) getView(w http.ResponseWriter, r *http.Request) {
	p, err := h.eng.ViewParams(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PUT /v1/view — replace query, decision filter and sort direction.
func (h *Handler) putView(w http.ResponseWriter, r *http.Request) {
	var p view.Params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	out, err := h.eng.SetView(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) toggleSort(w http.ResponseWriter, r *http.Request) {
	p, err := h.eng.ToggleSort(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /v1/timeseries — sampled points, oldest first.
func (h *Handler) timeseries(w http.ResponseWriter, r *http.Request) {
	pts, err := h.eng.Timeseries(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"points": pts})
}

// GET /v1/metrics/latest — 404 until the first successful poll.
func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	s, ok, err := h.eng.Latest(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no metrics sample yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":          s.Total,
		"approved":       s.Approved,
		"rejected":       s.Rejected,
		"review":         s.Review(),
		"avg_latency_ms": s.AvgLatencyMs,
		"captured_at":    s.CapturedAt,
	})
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.eng.Alerts(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// DELETE /v1/alerts/{id} — dismiss.
func (h *Handler) dismissAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.eng.Dismiss(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("alert %q not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startStream(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.StartIngest(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.streamStatus(w, r)
}

func (h *Handler) stopStream(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.StopIngest(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.streamStatus(w, r)
}

func (h *Handler) streamStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.eng.State(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stream": s.Stream,
		"active": s.StreamActive,
	})
}

func (h *Handler) startPoller(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.StartPolling(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"polling": true})
}

func (h *Handler) stopPoller(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.StopPolling(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"polling": false})
}

// POST /v1/poller/refresh — 202 when a fetch was triggered, 409 otherwise.
func (h *Handler) refreshPoller(w http.ResponseWriter, r *http.Request) {
	ok, err := h.eng.RefreshNow(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "polling stopped or fetch already in flight")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

func (h *Handler) getThresholds(w http.ResponseWriter, r *http.Request) {
	t, err := h.eng.Thresholds(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// POST /v1/thresholds — pass-through to the backend config endpoint.
func (h *Handler) updateThresholds(w http.ResponseWriter, r *http.Request) {
	var t upstream.Thresholds
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	accepted, err := h.eng.UpdateThresholds(r.Context(), t)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accepted)
}

// POST /v1/config/reload — re-read the config file; registered OnChange
// callbacks apply it.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"version":     cfg.Version,
		"alert_rules": len(cfg.Alerts.Rules),
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the loop queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	if util > readyThreshold {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}

// fail maps engine and upstream errors onto status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrClosed), errors.Is(err, engine.ErrNoThresholds):
		status = http.StatusServiceUnavailable
	case errors.Is(err, upstream.ErrInvalidThresholds), errors.Is(err, view.ErrInvalidFilter):
		status = http.StatusBadRequest
	case errors.Is(err, upstream.ErrStatus):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}
