package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/ledger"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type LineItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type CreateOrderRequest struct {
	CustomerID  string            `json:"customer_id" validate:"required,uuid"`
	ChannelCode string            `json:"channel_code" validate:"required"`
	Currency    string            `json:"currency,omitempty" validate:"omitempty,len=3"`
	Items       []LineItemRequest `json:"items" validate:"required,min=1,dive"`
}

type RegisterPaymentRequest struct {
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Currency string           `json:"currency,omitempty" validate:"omitempty,len=3"`
	Method   string           `json:"method" validate:"required,oneof=CARD YAPE PLIN BANK_TRANSFER CASH"`
	Status   string           `json:"status" validate:"required,oneof=PENDING APPROVED REJECTED REFUNDED"`
}

type UpdateStatusRequest struct {
	Status          string `json:"status" validate:"required"`
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,gt=0"`
}

type OrderHandler struct {
	service  ledger.Service
	validate *validator.Validate
}

func NewOrderHandler(service ledger.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{ref}", h.handleGetOrder)
	router.Patch("/orders/{ref}/status", h.handleUpdateStatus)
	router.Post("/orders/{ref}/payments", h.handleRegisterPayment)
	router.Get("/orders/{ref}/payments", h.handleListOrderPayments)
	router.Get("/payments", h.handleListRecentPayments)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	input := ledger.CreateOrderInput{
		CustomerID:  uuid.FromStringOrNil(requestPayload.CustomerID),
		ChannelCode: requestPayload.ChannelCode,
		Currency:    requestPayload.Currency,
		Items:       make([]ledger.LineItemInput, 0, len(requestPayload.Items)),
	}
	for _, item := range requestPayload.Items {
		input.Items = append(input.Items, ledger.LineItemInput{
			ProductID: uuid.FromStringOrNil(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		respondWithServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	orders, err := h.service.ListOrders(r.Context(), ledger.OrderFilter{
		Code:   query.Get("code"),
		Status: ledger.OrderStatus(strings.ToUpper(query.Get("status"))),
		Limit:  limit,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var requestPayload UpdateStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	ref := chi.URLParam(r, "ref")
	newStatus := ledger.OrderStatus(strings.ToUpper(strings.TrimSpace(requestPayload.Status)))

	order, err := h.service.UpdateOrderStatus(r.Context(), ref, newStatus, requestPayload.ExpectedVersion)
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) handleRegisterPayment(w http.ResponseWriter, r *http.Request) {
	var requestPayload RegisterPaymentRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	ref := chi.URLParam(r, "ref")
	result, err := h.service.RegisterPayment(r.Context(), ref, ledger.PaymentInput{
		Amount:         requestPayload.Amount,
		Currency:       requestPayload.Currency,
		Method:         ledger.PaymentMethod(requestPayload.Method),
		Status:         ledger.PaymentStatus(requestPayload.Status),
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to register payment")
		return
	}

	log.Debug().Str("order_ref", ref).Stringer("payment_id", result.Payment.ID).Msg("Payment registered via HTTP")
	respondWithJSON(w, http.StatusCreated, result)
}

func (h *OrderHandler) handleListOrderPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		respondWithServiceError(w, err, "Failed to list payments")
		return
	}

	respondWithJSON(w, http.StatusOK, payments)
}

func (h *OrderHandler) handleListRecentPayments(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	payments, err := h.service.ListRecentPayments(r.Context(), limit)
	if err != nil {
		respondWithServiceError(w, err, "Failed to list payments")
		return
	}

	respondWithJSON(w, http.StatusOK, payments)
}

// parseLimit reads the optional limit query parameter. Zero means the
// service default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
		return 0, false
	}
	return limit, true
}
