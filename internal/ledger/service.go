package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/audit"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/catalog"
)

type ProductCatalog interface {
	Product(ctx context.Context, id uuid.UUID) (catalog.Product, error)
}

type CustomerDirectory interface {
	Customer(ctx context.Context, id uuid.UUID) (catalog.Customer, error)
}

// Recorder receives ledger outcomes for metrics.
type Recorder interface {
	OrderCreated(channel string)
	PaymentRegistered(status PaymentStatus)
	DuplicatePaymentRejected()
	OrderPaid()
	StatusChanged(from, to OrderStatus)
}

type nopRecorder struct{}

func (nopRecorder) OrderCreated(string) {}
func (nopRecorder) PaymentRegistered(PaymentStatus) {}
func (nopRecorder) DuplicatePaymentRejected() {}
func (nopRecorder) OrderPaid() {}
func (nopRecorder) StatusChanged(OrderStatus, OrderStatus) {}

type Service interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error)
	RegisterPayment(ctx context.Context, orderRef string, in PaymentInput) (*PaymentResult, error)
	// UpdateOrderStatus applies a manual transition. A nil expectedVersion
	// skips the staleness check.
	UpdateOrderStatus(ctx context.Context, orderRef string, newStatus OrderStatus, expectedVersion *int64) (*Order, error)
	GetOrder(ctx context.Context, orderRef string) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	ListPayments(ctx context.Context, orderRef string) ([]Payment, error)
	ListRecentPayments(ctx context.Context, limit int) ([]Payment, error)
}

type service struct {
	repo      Repository
	products  ProductCatalog
	customers CustomerDirectory
	metrics   Recorder
	now       func() time.Time
	newCode   func(time.Time) (string, error)
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(s *service) { s.metrics = r }
}

func WithCodeGenerator(gen func(time.Time) (string, error)) Option {
	return func(s *service) { s.newCode = gen }
}

func NewService(repo Repository, products ProductCatalog, customers CustomerDirectory, opts ...Option) Service {
	s := &service{
		repo:      repo,
		products:  products,
		customers: customers,
		metrics:   nopRecorder{},
		now:       time.Now,
		newCode:   NewOrderCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOrderCode builds ORD-<UTC second>-<4 hex>. The random suffix narrows
// but does not remove the chance of two orders sharing a code; the unique
// index on orders.code catches the rest.
func NewOrderCode(at time.Time) (string, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("failed to generate order code suffix: %w", err)
	}
	return "ORD-" + at.UTC().Format("20060102150405") + "-" + hex.EncodeToString(u[:2]), nil
}

func (s *service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.CustomerID == uuid.Nil {
		log.Warn().Msg("service: attempt to create order without customer")
		return nil, invalid("customer_id", "is required")
	}

	channel := strings.ToUpper(strings.TrimSpace(in.ChannelCode))
	if !catalog.ChannelType(channel).Valid() {
		return nil, invalid("channel_code", fmt.Sprintf("%q is not a known channel", in.ChannelCode))
	}

	if len(in.Items) == 0 {
		log.Warn().Stringer("customer_id", in.CustomerID).Msg("service: attempt to create order with no items")
		return nil, invalid("items", "must contain at least one line item")
	}

	for i, item := range in.Items {
		if item.ProductID == uuid.Nil {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if item.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
	}

	if _, err := s.customers.Customer(ctx, in.CustomerID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			log.Warn().Stringer("customer_id", in.CustomerID).Msg("service: order references unknown customer")
			return nil, invalidWrap("customer_id", err)
		}
		return nil, fmt.Errorf("service: failed to resolve customer %s: %w", in.CustomerID, err)
	}

	items := make([]LineItem, 0, len(in.Items))
	var productCurrency string
	for i, item := range in.Items {
		p, err := s.products.Product(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				log.Warn().Stringer("product_id", item.ProductID).Msg("service: order references unknown product")
				return nil, invalidWrap(fmt.Sprintf("items[%d].product_id", i), err)
			}
			return nil, fmt.Errorf("service: failed to resolve product %s: %w", item.ProductID, err)
		}
		if p.UnitPrice.IsNegative() {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", i), "product has a negative price")
		}
		if productCurrency == "" {
			productCurrency = p.Currency
		}

		subtotal := LineSubtotal(p.UnitPrice, item.Quantity)
		if !withinMoneyLimit(subtotal) {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "line subtotal exceeds the maximum amount of "+MaxMoney.String())
		}

		items = append(items, LineItem{
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			Quantity:  item.Quantity,
			UnitPrice: p.UnitPrice,
			Subtotal:  subtotal,
		})
	}

	total := OrderTotal(items)
	if !withinMoneyLimit(total) {
		return nil, invalid("items", "order total exceeds the maximum amount of "+MaxMoney.String())
	}

	currency := normalizeCurrency(in.Currency)
	if currency == "" {
		currency = normalizeCurrency(productCurrency)
	}
	if !validCurrency(currency) {
		return nil, invalid("currency", "must be a 3-letter code")
	}

	now := s.now().UTC()
	code, err := s.newCode(now)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order id: %w", err)
	}

	order := &Order{
		ID:          id,
		Code:        code,
		CustomerID:  in.CustomerID,
		ChannelCode: channel,
		Currency:    currency,
		Items:       items,
		Total:       total,
		Status:      StatusCreated,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := audit.NewEvent(audit.EventOrderCreated, audit.EntityOrder, order.Code, now, orderCreatedPayload{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		ChannelCode: order.ChannelCode,
		Currency:    order.Currency,
		Total:       order.Total,
		Items:       len(order.Items),
	})
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}

	err = s.repo.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.AppendEvents(ctx, created)
	})
	if err != nil {
		log.Error().Err(err).Str("code", order.Code).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	s.metrics.OrderCreated(order.ChannelCode)
	log.Info().
		Stringer("order_id", order.ID).
		Str("code", order.Code).
		Stringer("customer_id", order.CustomerID).
		Str("total", order.Total.StringFixed(moneyPlaces)).
		Msg("service: order created")

	return order, nil
}

func (s *service) RegisterPayment(ctx context.Context, orderRef string, in PaymentInput) (*PaymentResult, error) {
	if !in.Method.Valid() {
		return nil, invalid("method", fmt.Sprintf("%q is not a supported payment method", in.Method))
	}
	if !in.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("%q is not a payment status", in.Status))
	}
	if in.Amount != nil {
		if !in.Amount.IsPositive() {
			return nil, invalid("amount", "must be greater than zero")
		}
		if !in.Amount.Equal(RoundMoney(*in.Amount)) {
			return nil, invalid("amount", "must have at most 2 decimal places")
		}
		if !withinMoneyLimit(*in.Amount) {
			return nil, invalid("amount", "must be less than "+MaxMoney.String())
		}
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 128 {
		return nil, invalid("idempotency_key", "must be at most 128 characters")
	}

	ref, err := s.resolve(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	var (
		result     PaymentResult
		markedPaid bool
	)
	err = s.repo.InTx(ctx, func(tx Tx) error {
		order, err := tx.LockOrder(ctx, ref.ID)
		if err != nil {
			return err
		}

		amount := order.Outstanding()
		if in.Amount != nil {
			amount = *in.Amount
		} else if !amount.IsPositive() {
			return invalid("amount", "order has no outstanding balance, an explicit amount is required")
		}

		currency := normalizeCurrency(in.Currency)
		if currency == "" {
			currency = order.Currency
		}
		if !validCurrency(currency) {
			return invalid("currency", "must be a 3-letter code")
		}

		existing, err := tx.Payments(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := checkDuplicate(existing, key, in.Status, amount); err != nil {
			return err
		}

		now := s.now().UTC()
		payment := Payment{
			OrderID:              order.ID,
			Amount:               amount,
			Currency:             currency,
			Method:               in.Method,
			Status:               in.Status,
			TransactionReference: TransactionReference(order.Code),
			CreatedAt:            now,
		}
		if payment.ID, err = uuid.NewV4(); err != nil {
			return fmt.Errorf("failed to generate payment id: %w", err)
		}
		if key != "" {
			payment.IdempotencyKey = &key
		}

		if err := tx.InsertPayment(ctx, &payment); err != nil {
			return err
		}

		registered, err := audit.NewEvent(audit.EventPaymentRegistered, audit.EntityPayment, order.Code, now, paymentPayload{
			PaymentID: payment.ID,
			OrderID:   order.ID,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
			Method:    payment.Method,
			Status:    payment.Status,
		})
		if err != nil {
			return err
		}
		events := []audit.Event{registered}

		if payment.Status == PaymentApproved {
			totalPaid, err := tx.SumApproved(ctx, order.ID)
			if err != nil {
				return err
			}
			if !withinMoneyLimit(totalPaid) {
				return invalid("amount", "total paid would exceed the maximum amount of "+MaxMoney.String())
			}

			previous := order.Version
			order.TotalPaid = &totalPaid
			order.UpdatedAt = now
			if shouldMarkPaid(order.Status, totalPaid, order.Total) {
				order.Status = StatusPaid
				markedPaid = true
				paid, err := audit.NewEvent(audit.EventOrderPaid, audit.EntityOrder, order.Code, now, orderPaidPayload{
					OrderID:   order.ID,
					Total:     order.Total,
					TotalPaid: totalPaid,
				})
				if err != nil {
					return err
				}
				events = append(events, paid)
			}

			if err := tx.UpdateOrderState(ctx, order, previous); err != nil {
				return err
			}
		}

		if err := tx.AppendEvents(ctx, events...); err != nil {
			return err
		}

		result = PaymentResult{Payment: payment, Order: *order}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicatePayment):
			s.metrics.DuplicatePaymentRejected()
			log.Warn().Err(err).Stringer("order_id", ref.ID).Msg("service: duplicate payment rejected")
			return nil, err
		case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", ref.ID).Msg("service: failed to register payment")
		return nil, fmt.Errorf("service: failed to register payment: %w", err)
	}

	s.metrics.PaymentRegistered(result.Payment.Status)
	if markedPaid {
		s.metrics.OrderPaid()
	}

	log.Info().
		Stringer("order_id", result.Order.ID).
		Stringer("payment_id", result.Payment.ID).
		Stringer("payment_status", result.Payment.Status).
		Str("amount", result.Payment.Amount.StringFixed(moneyPlaces)).
		Stringer("order_status", result.Order.Status).
		Msg("service: payment registered")

	return &result, nil
}

// checkDuplicate rejects a repeated idempotency key, and an approved payment
// whose amount equals an already approved one.
func checkDuplicate(existing []Payment, key string, status PaymentStatus, amount decimal.Decimal) error {
	for _, p := range existing {
		if key != "" && p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			return fmt.Errorf("%w: idempotency key %q already used by payment %s", ErrDuplicatePayment, key, p.ID)
		}
	}
	if status != PaymentApproved {
		return nil
	}
	for _, p := range existing {
		if p.Status == PaymentApproved && p.Amount.Equal(amount) {
			return fmt.Errorf("%w: approved payment %s already has amount %s", ErrDuplicatePayment, p.ID, amount.StringFixed(moneyPlaces))
		}
	}
	return nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, orderRef string, newStatus OrderStatus, expectedVersion *int64) (*Order, error) {
	if !newStatus.Valid() {
		return nil, invalid("status", fmt.Sprintf("%q is not an order status", newStatus))
	}

	ref, err := s.resolve(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	var (
		updated *Order
		from    OrderStatus
	)
	err = s.repo.InTx(ctx, func(tx Tx) error {
		order, err := tx.LockOrder(ctx, ref.ID)
		if err != nil {
			return err
		}
		from = order.Status

		if expectedVersion != nil && *expectedVersion != order.Version {
			return fmt.Errorf("order %s is at version %d, not %d: %w", order.Code, order.Version, *expectedVersion, ErrConflict)
		}

		if order.Status == newStatus {
			updated = order
			return nil
		}

		if !CanTransition(order.Status, newStatus) {
			log.Warn().
				Stringer("order_id", order.ID).
				Stringer("current_status", order.Status).
				Stringer("new_status", newStatus).
				Msg("service: invalid status transition attempt")
			return &ValidationError{
				Field:  "status",
				Reason: fmt.Sprintf("cannot move order from %s to %s", order.Status, newStatus),
				Err:    ErrInvalidTransition,
			}
		}

		now := s.now().UTC()
		previous := order.Version
		order.Status = newStatus
		order.UpdatedAt = now
		if err := tx.UpdateOrderState(ctx, order, previous); err != nil {
			return err
		}

		changed, err := audit.NewEvent(audit.EventOrderStatusChanged, audit.EntityOrder, order.Code, now, statusChangedPayload{
			OrderID: order.ID,
			From:    from,
			To:      newStatus,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, changed); err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", ref.ID).Stringer("new_status", newStatus).Msg("service: failed to update order status")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	if from != updated.Status {
		s.metrics.StatusChanged(from, updated.Status)
		log.Info().Stringer("order_id", updated.ID).Stringer("old_status", from).Stringer("new_status", updated.Status).Msg("service: order status updated")
	}

	return updated, nil
}

func (s *service) GetOrder(ctx context.Context, orderRef string) (*Order, error) {
	return s.resolve(ctx, orderRef)
}

func (s *service) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("status", fmt.Sprintf("%q is not an order status", f.Status))
	}
	f.Code = strings.TrimSpace(f.Code)
	if f.Limit <= 0 {
		f.Limit = DefaultOrderLimit
	}
	if f.Limit > MaxOrderLimit {
		f.Limit = MaxOrderLimit
	}

	orders, err := s.repo.ListOrders(ctx, f)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListPayments(ctx context.Context, orderRef string) ([]Payment, error) {
	order, err := s.resolve(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	payments, err := s.repo.PaymentsByOrder(ctx, order.ID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", order.ID).Msg("service: failed to list payments")
		return nil, fmt.Errorf("service: failed to list payments: %w", err)
	}
	return payments, nil
}

func (s *service) ListRecentPayments(ctx context.Context, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = DefaultPaymentLimit
	}
	if limit > MaxOrderLimit {
		limit = MaxOrderLimit
	}

	payments, err := s.repo.RecentPayments(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list recent payments")
		return nil, fmt.Errorf("service: failed to list recent payments: %w", err)
	}
	return payments, nil
}

// resolve accepts either an order id or an order code.
func (s *service) resolve(ctx context.Context, ref string) (*Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, invalid("order", "reference is required")
	}

	var (
		order *Order
		err   error
	)
	if id, parseErr := uuid.FromString(ref); parseErr == nil {
		order, err = s.repo.OrderByID(ctx, id)
	} else {
		order, err = s.repo.OrderByCode(ctx, ref)
	}
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Str("order_ref", ref).Msg("service: order not found")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_ref", ref).Msg("service: failed to fetch order")
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	return order, nil
}

type orderCreatedPayload struct {
	OrderID     uuid.UUID       `json:"order_id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	ChannelCode string          `json:"channel_code"`
	Currency    string          `json:"currency"`
	Total       decimal.Decimal `json:"total"`
	Items       int             `json:"items"`
}

type paymentPayload struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	OrderID   uuid.UUID       `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    PaymentMethod   `json:"method"`
	Status    PaymentStatus   `json:"status"`
}

type orderPaidPayload struct {
	OrderID   uuid.UUID       `json:"order_id"`
	Total     decimal.Decimal `json:"total"`
	TotalPaid decimal.Decimal `json:"total_paid"`
}

type statusChangedPayload struct {
	OrderID uuid.UUID   `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}
