package storefront

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/kesimarket-storefront/internal/domain/cart"
	"github.com/shopspring/decimal"
)

// ID is a backend identifier. The API sends ids as JSON numbers on some
// endpoints and as strings on others; both decode to the same ID.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type RemoteProduct struct {
	ID        ID                  `json:"id"`
	Name      string              `json:"name"`
	Price     decimal.Decimal     `json:"price"`
	SalePrice decimal.NullDecimal `json:"salePrice"`
	Image     string              `json:"image"`
	Stock     int                 `json:"stock"`
}

// Snapshot converts the server's product into the copy kept on a cart line
func (p RemoteProduct) Snapshot() cart.Product {
	return cart.Product{
		ID:        p.ID.String(),
		Name:      p.Name,
		Price:     p.Price,
		SalePrice: p.SalePrice,
		Image:     p.Image,
		Stock:     p.Stock,
	}
}

// RemoteCartItem is a server-owned cart line. ID is the server's line id,
// distinct from Product.ID.
type RemoteCartItem struct {
	ID        ID            `json:"id"`
	Product   RemoteProduct `json:"product"`
	Quantity  int           `json:"quantity"`
	CreatedAt time.Time     `json:"createdAt"`
}

// LineItem converts the server line into a local cart line
func (i RemoteCartItem) LineItem() cart.LineItem {
	return cart.LineItem{
		ID:       i.Product.ID.String(),
		Product:  i.Product.Snapshot(),
		Quantity: i.Quantity,
		AddedAt:  i.CreatedAt,
	}
}

type RemoteCart struct {
	Items []RemoteCartItem `json:"items"`
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}
