package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/audit"
)

type EventLister interface {
	List(ctx context.Context, f audit.ListFilter) ([]audit.Event, error)
}

type EventsHandler struct {
	events EventLister
}

func NewEventsHandler(events EventLister) *EventsHandler {
	return &EventsHandler{events: events}
}

func (h *EventsHandler) RegisterRoutes(router chi.Router) {
	router.Get("/events", h.handleListEvents)
}

func (h *EventsHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	eventType := audit.EventType(strings.ToUpper(strings.TrimSpace(query.Get("type"))))
	if eventType != "" && !eventType.Valid() {
		respondWithError(w, http.StatusBadRequest, "Unknown event type")
		return
	}

	events, err := h.events.List(r.Context(), audit.ListFilter{
		Type:     eventType,
		EntityID: query.Get("entity_id"),
		Limit:    limit,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to list events")
		return
	}

	respondWithJSON(w, http.StatusOK, events)
}
