package audit_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/audit"
)

func newMockRepository(t *testing.T) (*audit.Repository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return audit.NewRepository(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestRepository_List_FiltersByType(t *testing.T) {
	repo, mock := newMockRepository(t)

	id := uuid.Must(uuid.NewV4())
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "event_type", "entity_kind", "entity_id", "occurred_at", "payload"}).
		AddRow(id.String(), "ORDER_PAID", "order", "ORD-20261019120000-ab12", at, []byte(`{"total_paid":"25.00"}`))

	mock.ExpectQuery(regexp.QuoteMeta("FROM events WHERE event_type = $1 ORDER BY occurred_at DESC, seq DESC LIMIT $2")).
		WithArgs("ORDER_PAID", audit.DefaultListLimit).
		WillReturnRows(rows)

	events, err := repo.List(context.Background(), audit.ListFilter{Type: audit.EventOrderPaid})
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, audit.EventOrderPaid, events[0].Type)
	assert.Equal(t, at, events[0].OccurredAt)
	assert.JSONEq(t, `{"total_paid":"25.00"}`, string(events[0].Payload))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List_NoFilterCapsLimit(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, event_type, entity_kind, entity_id, occurred_at, payload FROM events ORDER BY occurred_at DESC, seq DESC LIMIT $1")).
		WithArgs(audit.DefaultListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "entity_kind", "entity_id", "occurred_at", "payload"}))

	events, err := repo.List(context.Background(), audit.ListFilter{Limit: 5000})
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_FetchPending_KeepsInsertionOrder(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	outbox := audit.NewOutbox(sqlx.NewDb(mockDB, "sqlmock"))

	// Both events come from one transaction and share a timestamp. The
	// earlier one has the larger id, so an id tie-break would reorder them.
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	registered := uuid.Must(uuid.FromString("ffffffff-0000-4000-8000-000000000001"))
	paid := uuid.Must(uuid.FromString("00000000-0000-4000-8000-000000000002"))

	rows := sqlmock.NewRows([]string{"id", "event_type", "entity_kind", "entity_id", "occurred_at", "payload"}).
		AddRow(registered.String(), "PAYMENT_REGISTERED", "payment", "ORD-1", at, []byte(`{}`)).
		AddRow(paid.String(), "ORDER_PAID", "order", "ORD-1", at, []byte(`{}`))

	mock.ExpectQuery(`WHERE published_at IS NULL\s+ORDER BY seq\s+LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(rows)

	events, err := outbox.FetchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, []audit.EventType{audit.EventPaymentRegistered, audit.EventOrderPaid},
		[]audit.EventType{events[0].Type, events[1].Type})
	assert.Equal(t, registered, events[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 10, 19, 7, 0, 0, 0, time.FixedZone("PET", -5*3600))

	e, err := audit.NewEvent(audit.EventOrderCreated, audit.EntityOrder, "ORD-1", at, map[string]any{"total": "25.00"})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
	assert.True(t, e.OccurredAt.Equal(at))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	assert.Equal(t, "25.00", payload["total"])
}

func TestEventType_Valid(t *testing.T) {
	assert.True(t, audit.EventOrderCreated.Valid())
	assert.True(t, audit.EventCartUpdated.Valid())
	assert.False(t, audit.EventType("ORDER_DELETED").Valid())
}
