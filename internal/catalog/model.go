package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrProductNotFound  = fmt.Errorf("product %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)
)

type ProductStatus string

const (
	ProductActive       ProductStatus = "ACTIVE"
	ProductInactive     ProductStatus = "INACTIVE"
	ProductDiscontinued ProductStatus = "DISCONTINUED"
)

type Product struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	SKU       string          `json:"sku" db:"sku"`
	Name      string          `json:"name" db:"name"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"price"`
	Currency  string          `json:"currency" db:"currency"`
	Status    ProductStatus   `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type Customer struct {
	ID        uuid.UUID `json:"id" db:"id"`
	DocType   string    `json:"doc_type" db:"doc_type"`
	DocNumber string    `json:"doc_number" db:"doc_number"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     *string   `json:"email,omitempty" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DisplayName renders "Last, First".
func (c Customer) DisplayName() string {
	return c.LastName + ", " + c.FirstName
}

// Document renders the identity document as TYPE-NUMBER.
func (c Customer) Document() string {
	return c.DocType + "-" + c.DocNumber
}

type ChannelType string

const (
	ChannelStore    ChannelType = "STORE"
	ChannelWeb      ChannelType = "WEB"
	ChannelApp      ChannelType = "APP"
	ChannelDelivery ChannelType = "DELIVERY"
	ChannelPickup   ChannelType = "PICKUP"
)

// ChannelTypes is the fixed channel enumeration.
var ChannelTypes = []ChannelType{ChannelStore, ChannelWeb, ChannelApp, ChannelDelivery, ChannelPickup}

func (t ChannelType) Valid() bool {
	for _, c := range ChannelTypes {
		if t == c {
			return true
		}
	}
	return false
}

type Channel struct {
	Code string      `json:"code" db:"code"`
	Name string      `json:"name" db:"name"`
	Type ChannelType `json:"type" db:"type"`
}
