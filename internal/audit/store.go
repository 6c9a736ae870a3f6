package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/db"
)

const (
	insertEventQuery = `
		INSERT INTO events (id, event_type, entity_kind, entity_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	selectPendingQuery = `
		SELECT id, event_type, entity_kind, entity_id, occurred_at, payload
		FROM events
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`
	markPublishedQuery = `
		UPDATE events
		SET published_at = $2
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL
	`
)

// DefaultListLimit caps how many events the dashboard listing returns.
const DefaultListLimit = 200

// Execer is satisfied by pgx.Tx and *pgxpool.Pool, so events can be appended
// inside the caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Append writes events through q. It never updates existing rows.
func Append(ctx context.Context, q Execer, events ...Event) error {
	for _, e := range events {
		_, err := q.Exec(ctx, insertEventQuery,
			e.ID.String(),
			string(e.Type),
			e.EntityKind,
			e.EntityID,
			e.OccurredAt,
			[]byte(e.Payload),
		)
		if err != nil {
			return fmt.Errorf("audit: failed to append %s event: %w", e.Type, db.Classify(err))
		}
	}
	return nil
}

type eventRow struct {
	ID         uuid.UUID `db:"id"`
	Type       string    `db:"event_type"`
	EntityKind string    `db:"entity_kind"`
	EntityID   string    `db:"entity_id"`
	OccurredAt time.Time `db:"occurred_at"`
	Payload    []byte    `db:"payload"`
}

func (r eventRow) toEvent() Event {
	return Event{
		ID:         r.ID,
		Type:       EventType(r.Type),
		EntityKind: r.EntityKind,
		EntityID:   r.EntityID,
		OccurredAt: r.OccurredAt,
		Payload:    r.Payload,
	}
}

type ListFilter struct {
	Type     EventType
	EntityID string
	Limit    int
}

// Repository serves the read-only dashboard listing.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// List returns events newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	args = append(args, limit)

	query := "SELECT id, event_type, entity_kind, entity_id, occurred_at, payload FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, seq DESC LIMIT $%d", len(args))

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("audit: failed to list events: %w", db.Classify(err))
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}

// Outbox reads and acknowledges unpublished events for the relay. Pending
// events come back in insertion order, so events appended by one transaction
// keep their relative order even when they share a timestamp.
type Outbox struct {
	db *sqlx.DB
}

func NewOutbox(db *sqlx.DB) *Outbox {
	return &Outbox{db: db}
}

func (o *Outbox) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	var rows []eventRow
	if err := o.db.SelectContext(ctx, &rows, selectPendingQuery, limit); err != nil {
		return nil, fmt.Errorf("audit: failed to query pending events: %w", db.Classify(err))
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}

func (o *Outbox) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}

	if _, err := o.db.ExecContext(ctx, markPublishedQuery, raw, at.UTC()); err != nil {
		return fmt.Errorf("audit: failed to mark events published: %w", db.Classify(err))
	}
	return nil
}
