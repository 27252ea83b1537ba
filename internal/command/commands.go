package command

import (
	"github.com/shopspring/decimal"
)

// Cart Commands
type AddItem struct {
	ProductID string              `json:"product_id"`
	Name      string              `json:"name"`
	Price     decimal.Decimal     `json:"price"`
	SalePrice decimal.NullDecimal `json:"sale_price"`
	Quantity  int                 `json:"quantity"`
}

type UpdateQuantity struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type RemoveItem struct {
	ProductID string `json:"product_id"`
}

type ClearCart struct{}

// Session Commands
type Login struct {
	Token string `json:"token"`
}

type Logout struct{}

type Refresh struct{}

// Query Commands
type Show struct{}

type Help struct{}
