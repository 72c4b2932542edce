// Package api serves the HTTP control surface: processor lifecycle, status
// events, pending windows and the JSON feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dash0.com/window-drain-backend/internal/feed"
	"dash0.com/window-drain-backend/internal/orchestrator"
	"dash0.com/window-drain-backend/internal/store"
)

// maxFeedBody bounds one POST /feed request.
const maxFeedBody = 32 << 20

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RateResponse is the body of GET /feed/rate.
type RateResponse struct {
	RecordsPerSecond float64 `json:"recordsPerSecond"`
}

// FeedResponse is the body of POST /feed.
type FeedResponse struct {
	Accepted int `json:"accepted"`
}

// WindowResponse is the body of GET /windows/{key}.
type WindowResponse struct {
	Key     string         `json:"key"`
	Records []store.Record `json:"records"`
}

// Handler serves the control surface for one instance.
type Handler struct {
	ctrl        orchestrator.Controller
	logger      *slog.Logger
	stopTimeout time.Duration

	nowFn func() time.Time
}

// New returns a Handler. stopTimeout bounds how long POST /processor/stop
// waits for an in-flight drain cycle.
func New(ctrl orchestrator.Controller, logger *slog.Logger, stopTimeout time.Duration) *Handler {
	return &Handler{ctrl: ctrl, logger: logger, stopTimeout: stopTimeout, nowFn: time.Now}
}

// Router returns the routes of the control surface.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/processor/start", h.startProcessor).Methods(http.MethodPost)
	r.HandleFunc("/processor/stop", h.stopProcessor).Methods(http.MethodPost)
	r.HandleFunc("/processor/status", h.processorStatus).Methods(http.MethodGet)
	r.HandleFunc("/processor/events", h.processorEvents).Methods(http.MethodGet)

	r.HandleFunc("/windows", h.listWindows).Methods(http.MethodGet)
	r.HandleFunc("/windows/{key}", h.getWindow).Methods(http.MethodGet)
	r.HandleFunc("/windows/{key}", h.deleteWindow).Methods(http.MethodDelete)

	r.HandleFunc("/feed", h.postFeed).Methods(http.MethodPost)
	r.HandleFunc("/feed/rate", h.feedRate).Methods(http.MethodGet)

	return r
}

func (h *Handler) startProcessor(w http.ResponseWriter, r *http.Request) {
	h.ctrl.StartProcessing(r.Context())
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: h.ctrl.Status()})
}

func (h *Handler) stopProcessor(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.stopTimeout)
	defer cancel()

	if err := h.ctrl.StopProcessing(ctx); err != nil {
		h.logger.WarnContext(ctx, "stop processor", slog.String("err", err.Error()))
		h.writeJSON(w, http.StatusAccepted, Response{Success: false, Data: h.ctrl.Status(), Error: err.Error()})

		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: h.ctrl.Status()})
}

func (h *Handler) processorStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: h.ctrl.Status()})
}

// processorEvents streams every published status as a server-sent event,
// starting with the current one.
func (h *Handler) processorEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeJSON(w, http.StatusInternalServerError, Response{Error: "streaming unsupported"})
		return
	}

	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}

			b, err := json.Marshal(st)
			if err != nil {
				h.logger.ErrorContext(r.Context(), "encode status event", slog.String("err", err.Error()))
				return
			}

			if _, err := fmt.Fprintf(w, "id: %d\nevent: status\ndata: %s\n\n", st.Version, b); err != nil {
				return
			}

			flusher.Flush()
		}
	}
}

func (h *Handler) listWindows(w http.ResponseWriter, r *http.Request) {
	ws, err := h.ctrl.ListWindows(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: ws})
}

func (h *Handler) getWindow(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	win, ok, err := h.ctrl.GetWindow(r.Context(), key)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	if !ok {
		h.writeJSON(w, http.StatusNotFound, Response{Error: "window not found"})
		return
	}

	recs := win.Records
	if recs == nil {
		recs = []store.Record{}
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: WindowResponse{Key: win.Key, Records: recs}})
}

func (h *Handler) deleteWindow(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeleteWindow(r.Context(), mux.Vars(r)["key"]); err != nil {
		h.storeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// postFeed accepts one JSON document, NDJSON or concatenated values. Values
// that are not JSON are not data: they are skipped and the request still succeeds.
func (h *Handler) postFeed(w http.ResponseWriter, r *http.Request) {
	arrival := h.nowFn()

	accepted, malformed, err := feed.ReadStream(http.MaxBytesReader(w, r.Body, maxFeedBody), func(rec store.Record) {
		h.ctrl.Append(rec, arrival)
	})

	h.ctrl.IncrMetric(r.Context(), orchestrator.MetricRecordsReceived, int64(accepted))

	if malformed > 0 {
		h.logger.DebugContext(r.Context(), "skipped malformed feed lines", slog.Int("lines", malformed))
	}

	if err != nil {
		status := http.StatusBadRequest

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}

		h.writeJSON(w, status, Response{Data: FeedResponse{Accepted: accepted}, Error: err.Error()})

		return
	}

	h.writeJSON(w, http.StatusAccepted, Response{Success: true, Data: FeedResponse{Accepted: accepted}})
}

func (h *Handler) feedRate(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: RateResponse{RecordsPerSecond: h.ctrl.Rate()}})
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "window store request failed", slog.String("path", r.URL.Path), slog.String("err", err.Error()))

	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrClosed) {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, Response{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("write response", slog.String("err", err.Error()))
	}
}
