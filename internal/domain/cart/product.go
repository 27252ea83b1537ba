package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog data copied into a cart line when it is added. It is
// not refreshed when the catalog changes.
type Product struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Price     decimal.Decimal     `json:"price"`
	SalePrice decimal.NullDecimal `json:"sale_price"`
	Image     string              `json:"image,omitempty"`
	Stock     int                 `json:"stock"`
}

// EffectivePrice is the sale price when one is set and positive, else the list price
func (p Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.Valid && p.SalePrice.Decimal.IsPositive() {
		return p.SalePrice.Decimal
	}
	return p.Price
}

// LineItem is one row of the local cart. ID is the product id; there is no
// separate line id on the device.
type LineItem struct {
	ID       string    `json:"id"`
	Product  Product   `json:"product"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}

// Subtotal is quantity times the effective price
func (l LineItem) Subtotal() decimal.Decimal {
	return l.Product.EffectivePrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}
