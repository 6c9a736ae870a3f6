// Package audit is the append-only event log. Rows double as an outbox: a
// relay publishes unpublished rows to the configured broker.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type EventType string

const (
	EventOrderCreated       EventType = "ORDER_CREATED"
	EventOrderPaid          EventType = "ORDER_PAID"
	EventOrderStatusChanged EventType = "ORDER_STATUS_CHANGED"
	EventPaymentRegistered  EventType = "PAYMENT_REGISTERED"
	EventStockUpdated       EventType = "STOCK_UPDATED"
	EventShipmentStatus     EventType = "SHIPMENT_STATUS"
	EventPromoApplied       EventType = "PROMO_APPLIED"
	EventCartUpdated        EventType = "CART_UPDATED"
)

// KnownTypes lists the event types the dashboard filter accepts.
var KnownTypes = []EventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderStatusChanged,
	EventPaymentRegistered,
	EventStockUpdated,
	EventShipmentStatus,
	EventPromoApplied,
	EventCartUpdated,
}

func (t EventType) Valid() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

const (
	EntityOrder   = "order"
	EntityPayment = "payment"
)

type Event struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Type        EventType       `json:"event_type" db:"event_type"`
	EntityKind  string          `json:"entity_kind" db:"entity_kind"`
	EntityID    string          `json:"entity_id" db:"entity_id"`
	OccurredAt  time.Time       `json:"timestamp" db:"occurred_at"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	PublishedAt *time.Time      `json:"-" db:"published_at"`
}

// NewEvent builds an event with a fresh ID, marshalling payload to JSON.
func NewEvent(t EventType, kind, entityID string, at time.Time, payload any) (Event, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Event{}, fmt.Errorf("audit: failed to generate event id: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("audit: failed to marshal %s payload: %w", t, err)
	}

	return Event{
		ID:         id,
		Type:       t,
		EntityKind: kind,
		EntityID:   entityID,
		OccurredAt: at.UTC(),
		Payload:    data,
	}, nil
}
