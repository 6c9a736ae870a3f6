package ledger

import (
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusCreated        OrderStatus = "CREATED"
	StatusPaid           OrderStatus = "PAID"
	StatusPreparing      OrderStatus = "PREPARING"
	StatusInTransit      OrderStatus = "IN_TRANSIT"
	StatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
	StatusReturned       OrderStatus = "RETURNED"
)

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentApproved PaymentStatus = "APPROVED"
	PaymentRejected PaymentStatus = "REJECTED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentRejected, PaymentRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "CARD"
	MethodYape         PaymentMethod = "YAPE"
	MethodPlin         PaymentMethod = "PLIN"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCash         PaymentMethod = "CASH"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodYape, MethodPlin, MethodBankTransfer, MethodCash:
		return true
	}
	return false
}

// LineItem is a product priced at order creation time. It never changes
// after the order is persisted.
type LineItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	SKU       string          `json:"sku,omitempty"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Order struct {
	ID          uuid.UUID        `json:"id"`
	Code        string           `json:"code"`
	CustomerID  uuid.UUID        `json:"customer_id"`
	ChannelCode string           `json:"channel_code"`
	Currency    string           `json:"currency"`
	Items       []LineItem       `json:"items"`
	Total       decimal.Decimal  `json:"total"`
	TotalPaid   *decimal.Decimal `json:"total_paid,omitempty"`
	Status      OrderStatus      `json:"status"`
	Version     int64            `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Outstanding is what remains to be paid, never below zero.
func (o *Order) Outstanding() decimal.Decimal {
	paid := decimal.Zero
	if o.TotalPaid != nil {
		paid = *o.TotalPaid
	}
	rest := o.Total.Sub(paid)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

type Payment struct {
	ID                   uuid.UUID       `json:"id"`
	OrderID              uuid.UUID       `json:"order_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Method               PaymentMethod   `json:"method"`
	Status               PaymentStatus   `json:"status"`
	TransactionReference string          `json:"transaction_reference"`
	IdempotencyKey       *string         `json:"idempotency_key,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type LineItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type CreateOrderInput struct {
	CustomerID  uuid.UUID
	ChannelCode string
	// Currency defaults to the currency of the first product when empty.
	Currency string
	Items    []LineItemInput
}

type PaymentInput struct {
	// Amount defaults to the outstanding balance when nil.
	Amount *decimal.Decimal
	// Currency defaults to the order currency when empty.
	Currency       string
	Method         PaymentMethod
	Status         PaymentStatus
	IdempotencyKey string
}

// PaymentResult is a registered payment together with the order state it
// produced.
type PaymentResult struct {
	Payment Payment `json:"payment"`
	Order   Order   `json:"order"`
}

type OrderFilter struct {
	// Code matches as a case-insensitive substring.
	Code   string
	Status OrderStatus
	Limit  int
}

const (
	DefaultOrderLimit   = 100
	MaxOrderLimit       = 500
	DefaultPaymentLimit = 50
)

const moneyPlaces = 2

// MaxMoney is the exclusive upper bound of a stored amount, set by the
// NUMERIC(14,2) columns.
var MaxMoney = decimal.New(1, 12)

func withinMoneyLimit(d decimal.Decimal) bool {
	return d.Abs().LessThan(MaxMoney)
}

// RoundMoney rounds half away from zero to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// LineSubtotal is round(unit price * quantity, 2).
func LineSubtotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// OrderTotal is the rounded sum of already rounded line subtotals.
func OrderTotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal)
	}
	return RoundMoney(sum)
}

// TransactionReference is derived from the order code only, so retries of
// the same order share it.
func TransactionReference(orderCode string) string {
	return "TRX-" + orderCode
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
