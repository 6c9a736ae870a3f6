package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/audit"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/db"
)

// Tx is the set of operations that run inside one database transaction.
type Tx interface {
	// LockOrder reads the order and holds a row lock until the transaction
	// ends.
	LockOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	InsertOrder(ctx context.Context, order *Order) error
	InsertPayment(ctx context.Context, payment *Payment) error
	Payments(ctx context.Context, orderID uuid.UUID) ([]Payment, error)
	// SumApproved re-scans the approved payments of an order.
	SumApproved(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
	// UpdateOrderState writes status, total_paid and updated_at if the stored
	// version still equals expectedVersion, and bumps the version.
	UpdateOrderState(ctx context.Context, order *Order, expectedVersion int64) error
	AppendEvents(ctx context.Context, events ...audit.Event) error
}

type Repository interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	OrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	OrderByCode(ctx context.Context, code string) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	PaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error)
	RecentPayments(ctx context.Context, limit int) ([]Payment, error)
}

const (
	orderColumns   = "id, code, customer_id, channel_code, currency, items, total, total_paid, status, version, created_at, updated_at"
	paymentColumns = "id, order_id, amount, currency, method, status, transaction_reference, idempotency_key, created_at"

	insertOrderQuery = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	lockOrderQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`
	selectOrderByIDQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
	`
	selectOrderByCodeQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE code = $1
	`
	updateOrderStateQuery = `
		UPDATE orders
		SET status = $1, total_paid = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5
	`
	insertPaymentQuery = `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	selectPaymentsByOrderQuery = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at, id
	`
	selectRecentPaymentsQuery = `
		SELECT ` + paymentColumns + `
		FROM payments
		ORDER BY created_at DESC
		LIMIT $1
	`
	sumApprovedQuery = `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE order_id = $1 AND status = 'APPROVED'
	`
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresRepository struct {
	pool *pgxpool.Pool
	reads
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool, reads: reads{q: pool}}
}

func (r *postgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", db.Classify(err))
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("repository: panic recovered inside transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", db.Classify(commitErr))
		}
	}()

	return fn(&postgresTx{reads: reads{q: tx}})
}

// reads holds the queries shared by the pool and a transaction.
type reads struct {
	q querier
}

func (r reads) OrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, selectOrderByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, db.Classify(err))
	}
	return o, nil
}

func (r reads) OrderByCode(ctx context.Context, code string) (*Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, selectOrderByCodeQuery, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by code %s: %w", code, db.Classify(err))
	}
	return o, nil
}

// listOrdersQuery builds the filtered listing. The code filter is a literal,
// case-insensitive substring match.
func listOrdersQuery(f OrderFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Code != "" {
		args = append(args, db.ContainsPattern(f.Code))
		where = append(where, fmt.Sprintf("code ILIKE $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, f.Limit)

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	return query, args
}

func (r reads) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	query, args := listOrdersQuery(f)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", db.Classify(err))
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders: %w", db.Classify(err))
	}

	return orders, nil
}

func (r reads) PaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	return r.queryPayments(ctx, selectPaymentsByOrderQuery, orderID)
}

func (r reads) RecentPayments(ctx context.Context, limit int) ([]Payment, error) {
	return r.queryPayments(ctx, selectRecentPaymentsQuery, limit)
}

func (r reads) queryPayments(ctx context.Context, query string, args ...any) ([]Payment, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query payments: %w", db.Classify(err))
	}
	defer rows.Close()

	payments := make([]Payment, 0)
	for rows.Next() {
		var (
			p      Payment
			method string
			status string
		)
		err := rows.Scan(
			&p.ID,
			&p.OrderID,
			&p.Amount,
			&p.Currency,
			&method,
			&status,
			&p.TransactionReference,
			&p.IdempotencyKey,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan payment: %w", err)
		}
		p.Method = PaymentMethod(method)
		p.Status = PaymentStatus(status)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating payments: %w", db.Classify(err))
	}

	return payments, nil
}

type postgresTx struct {
	reads
}

func (t *postgresTx) LockOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, lockOrderQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", id, db.Classify(err))
	}
	return o, nil
}

func (t *postgresTx) InsertOrder(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("repository: failed to encode order items: %w", err)
	}

	_, err = t.q.Exec(ctx, insertOrderQuery,
		o.ID,
		o.Code,
		o.CustomerID,
		o.ChannelCode,
		o.Currency,
		items,
		o.Total,
		nullableDecimal(o.TotalPaid),
		string(o.Status),
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		err = db.Classify(err)
		if errors.Is(err, db.ErrUniqueViolation) {
			return fmt.Errorf("repository: order code %s already exists: %w", o.Code, ErrConflict)
		}
		if errors.Is(err, db.ErrValueOutOfRange) {
			return invalidWrap("total", err)
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertPayment(ctx context.Context, p *Payment) error {
	_, err := t.q.Exec(ctx, insertPaymentQuery,
		p.ID,
		p.OrderID,
		p.Amount,
		p.Currency,
		string(p.Method),
		string(p.Status),
		p.TransactionReference,
		p.IdempotencyKey,
		p.CreatedAt,
	)
	if err != nil {
		err = db.Classify(err)
		if errors.Is(err, db.ErrUniqueViolation) {
			return fmt.Errorf("repository: idempotency key already used on order %s: %w", p.OrderID, ErrDuplicatePayment)
		}
		if errors.Is(err, db.ErrValueOutOfRange) {
			return invalidWrap("amount", err)
		}
		return fmt.Errorf("repository: failed to insert payment: %w", err)
	}
	return nil
}

func (t *postgresTx) Payments(ctx context.Context, orderID uuid.UUID) ([]Payment, error) {
	return t.PaymentsByOrder(ctx, orderID)
}

func (t *postgresTx) SumApproved(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := t.q.QueryRow(ctx, sumApprovedQuery, orderID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("repository: failed to sum approved payments for order %s: %w", orderID, db.Classify(err))
	}
	return sum, nil
}

func (t *postgresTx) UpdateOrderState(ctx context.Context, o *Order, expectedVersion int64) error {
	cmdTag, err := t.q.Exec(ctx, updateOrderStateQuery,
		string(o.Status),
		nullableDecimal(o.TotalPaid),
		o.UpdatedAt,
		o.ID,
		expectedVersion,
	)
	if err != nil {
		err = db.Classify(err)
		if errors.Is(err, db.ErrValueOutOfRange) {
			return invalidWrap("amount", err)
		}
		return fmt.Errorf("repository: failed to update order %s: %w", o.ID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("order_id", o.ID).Int64("expected_version", expectedVersion).Msg("repository: order version moved, update skipped")
		return fmt.Errorf("repository: order %s is no longer at version %d: %w", o.ID, expectedVersion, ErrConflict)
	}

	o.Version = expectedVersion + 1
	return nil
}

func (t *postgresTx) AppendEvents(ctx context.Context, events ...audit.Event) error {
	return audit.Append(ctx, t.q, events...)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o         Order
		items     []byte
		totalPaid decimal.NullDecimal
		status    string
	)
	err := row.Scan(
		&o.ID,
		&o.Code,
		&o.CustomerID,
		&o.ChannelCode,
		&o.Currency,
		&items,
		&o.Total,
		&totalPaid,
		&status,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("malformed items of order %s: %w", o.ID, err)
	}
	if totalPaid.Valid {
		paid := totalPaid.Decimal
		o.TotalPaid = &paid
	}
	o.Status = OrderStatus(status)

	return &o, nil
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
