package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/db"
)

const (
	selectProductByIDQuery = `
		SELECT id, sku, name, price, currency, status, created_at
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
	`
	selectActiveProductsQuery = `
		SELECT id, sku, name, price, currency, status, created_at
		FROM products
		WHERE deleted_at IS NULL
		ORDER BY name
	`
	selectCustomerByIDQuery = `
		SELECT id, doc_type, doc_number, first_name, last_name, email, created_at
		FROM customers
		WHERE id = $1 AND deleted_at IS NULL
	`
	searchCustomersQuery = `
		SELECT id, doc_type, doc_number, first_name, last_name, email, created_at
		FROM customers
		WHERE deleted_at IS NULL
		  AND (first_name ILIKE $1 OR last_name ILIKE $1 OR doc_number ILIKE $1 OR email ILIKE $1)
		ORDER BY last_name, first_name
		LIMIT $2
	`
	selectChannelsQuery = `
		SELECT code, name, type
		FROM channels
		ORDER BY code
	`
)

// SearchLimit caps customer search results.
const SearchLimit = 50

// Repository reads catalog data. Writes to these tables belong to the
// master-data screens and are not exposed here.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ProductByID(ctx context.Context, id uuid.UUID) (Product, error) {
	var p Product
	err := r.db.GetContext(ctx, &p, selectProductByIDQuery, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("repository: failed to select product %s: %w", id, db.Classify(err))
	}
	return p, nil
}

// ActiveProducts returns non-deleted products sorted by name.
func (r *Repository) ActiveProducts(ctx context.Context) ([]Product, error) {
	products := make([]Product, 0)
	if err := r.db.SelectContext(ctx, &products, selectActiveProductsQuery); err != nil {
		return nil, fmt.Errorf("repository: failed to list products: %w", db.Classify(err))
	}
	return products, nil
}

func (r *Repository) CustomerByID(ctx context.Context, id uuid.UUID) (Customer, error) {
	var c Customer
	err := r.db.GetContext(ctx, &c, selectCustomerByIDQuery, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, fmt.Errorf("repository: failed to select customer %s: %w", id, db.Classify(err))
	}
	return c, nil
}

// SearchCustomers matches q as a case-insensitive substring of the names,
// document number or email.
func (r *Repository) SearchCustomers(ctx context.Context, q string) ([]Customer, error) {
	pattern := db.ContainsPattern(strings.TrimSpace(q))

	customers := make([]Customer, 0)
	if err := r.db.SelectContext(ctx, &customers, searchCustomersQuery, pattern, SearchLimit); err != nil {
		return nil, fmt.Errorf("repository: failed to search customers: %w", db.Classify(err))
	}
	return customers, nil
}

func (r *Repository) Channels(ctx context.Context) ([]Channel, error) {
	channels := make([]Channel, 0)
	if err := r.db.SelectContext(ctx, &channels, selectChannelsQuery); err != nil {
		return nil, fmt.Errorf("repository: failed to list channels: %w", db.Classify(err))
	}
	return channels, nil
}
