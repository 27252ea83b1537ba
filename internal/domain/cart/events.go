package cart

import "time"

const (
	EventItemAdded       = "ItemAddedToCart"
	EventQuantityUpdated = "CartItemQuantityUpdated"
	EventItemRemoved     = "ItemRemovedFromCart"
	EventCartCleared     = "CartCleared"
	EventCartHydrated    = "CartHydrated"
)

type ItemAddedToCart struct {
	CartID   string    `json:"cart_id"`
	Product  Product   `json:"product"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}

type CartItemQuantityUpdated struct {
	CartID    string    `json:"cart_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ItemRemovedFromCart struct {
	CartID    string    `json:"cart_id"`
	ProductID string    `json:"product_id"`
	RemovedAt time.Time `json:"removed_at"`
}

type CartCleared struct {
	CartID    string    `json:"cart_id"`
	ClearedAt time.Time `json:"cleared_at"`
}

// CartHydrated replaces every line with the server's cart after login
type CartHydrated struct {
	CartID     string     `json:"cart_id"`
	Items      []LineItem `json:"items"`
	HydratedAt time.Time  `json:"hydrated_at"`
}
