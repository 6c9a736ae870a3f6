package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/catalog"
)

type CatalogReader interface {
	ActiveProducts(ctx context.Context) ([]catalog.Product, error)
	Channels(ctx context.Context) ([]catalog.Channel, error)
	Invalidate()
}

type CustomerSearcher interface {
	SearchCustomers(ctx context.Context, q string) ([]catalog.Customer, error)
}

type CustomerResponse struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Document    string    `json:"document"`
	Email       *string   `json:"email,omitempty"`
}

type CatalogHandler struct {
	catalog   CatalogReader
	customers CustomerSearcher
}

func NewCatalogHandler(reader CatalogReader, customers CustomerSearcher) *CatalogHandler {
	return &CatalogHandler{catalog: reader, customers: customers}
}

func (h *CatalogHandler) RegisterRoutes(router chi.Router) {
	router.Get("/products", h.handleListProducts)
	router.Get("/customers", h.handleSearchCustomers)
	router.Get("/channels", h.handleListChannels)
	router.Post("/admin/cache/invalidate", h.handleInvalidate)
}

func (h *CatalogHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ActiveProducts(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "Failed to list products")
		return
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *CatalogHandler) handleSearchCustomers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter q is required")
		return
	}

	customers, err := h.customers.SearchCustomers(r.Context(), q)
	if err != nil {
		respondWithServiceError(w, err, "Failed to search customers")
		return
	}

	response := make([]CustomerResponse, 0, len(customers))
	for _, c := range customers {
		response = append(response, CustomerResponse{
			ID:          c.ID,
			DisplayName: c.DisplayName(),
			Document:    c.Document(),
			Email:       c.Email,
		})
	}
	respondWithJSON(w, http.StatusOK, response)
}

func (h *CatalogHandler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.catalog.Channels(r.Context())
	if err != nil {
		respondWithServiceError(w, err, "Failed to list channels")
		return
	}
	respondWithJSON(w, http.StatusOK, channels)
}

func (h *CatalogHandler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	h.catalog.Invalidate()
	log.Info().Str("remote_addr", r.RemoteAddr).Msg("Catalog cache invalidated via admin endpoint")
	w.WriteHeader(http.StatusNoContent)
}
