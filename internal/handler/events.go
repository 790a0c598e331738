package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dbilnica/fundwave-dapp/internal/controller"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/queue"
	"github.com/dbilnica/fundwave-dapp/internal/service"
)

// streamBuffer is how many live events a slow SSE client may lag behind
// before events are dropped. Dropped events are recovered by reconnecting
// with Last-Event-ID.
const streamBuffer = 64

// EventsHandler exposes the ledger event log for polling and as a
// server-sent event stream.
type EventsHandler struct {
	Query     *service.QueryService
	Queue     queue.Queue
	Logger    *slog.Logger
	Heartbeat time.Duration
}

func NewEventsHandler(query *service.QueryService, q queue.Queue, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		Query:     query,
		Queue:     q,
		Logger:    logger.With("component", "events_handler"),
		Heartbeat: 15 * time.Second,
	}
}

func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events", h.ListEventsHandler)
	r.Get("/events/stream", h.StreamHandler)
}

// ListEventsHandler returns events with seq greater than ?after.
func (h *EventsHandler) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	after, err := parseInt(r.URL.Query().Get("after"), "after")
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	limit, err := parseInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	events, err := h.Query.ListEvents(r.Context(), int64(after), limit)
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	controller.RespondJSON(w, events, http.StatusOK)
}

func writeEvent(w http.ResponseWriter, ev *model.LedgerEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Instruction, data)
	return err
}

// StreamHandler streams committed events. The backlog after ?after (or the
// Last-Event-ID header) is sent first, then live events in seq order.
func (h *EventsHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	cursor := r.Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = r.URL.Query().Get("after")
	}
	var last int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid event cursor", http.StatusBadRequest)
			return
		}
		last = n
	}

	ctx := r.Context()
	live := make(chan model.LedgerEvent, streamBuffer)
	// subscribe before reading the backlog so nothing committed in between
	// is missed
	id, err := h.Queue.Subscribe(queue.TopicLedgerEvents, func(payload any) error {
		ev, ok := payload.(model.LedgerEvent)
		if !ok {
			return nil
		}
		select {
		case live <- ev:
		default:
			h.Logger.Warn("sse client lagging, dropping event", "seq", ev.Seq)
		}
		return nil
	})
	if err != nil {
		controller.RespondError(w, h.Logger, err)
		return
	}
	defer h.Queue.Unsubscribe(queue.TopicLedgerEvents, id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	backlog, err := h.Query.ListEvents(ctx, last, 0)
	if err != nil {
		h.Logger.Error("failed to read event backlog", "error", err)
		return
	}
	for _, ev := range backlog {
		if err := writeEvent(w, ev); err != nil {
			return
		}
		last = ev.Seq
	}
	flusher.Flush()

	interval := h.Heartbeat
	if interval <= 0 {
		interval = 15 * time.Second
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-live:
			if ev.Seq <= last {
				continue
			}
			if err := writeEvent(w, &ev); err != nil {
				return
			}
			last = ev.Seq
			flusher.Flush()
		}
	}
}
