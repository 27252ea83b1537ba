package cartsync

import (
	"context"

	"github.com/example/kesimarket-storefront/internal/domain/cart"
	"github.com/example/kesimarket-storefront/internal/infrastructure/storefront"
	"github.com/shopspring/decimal"
)

// Gateway is the backend cart API
type Gateway interface {
	FetchCart(ctx context.Context) (*storefront.RemoteCart, error)
	AddToCart(ctx context.Context, productID string, quantity int) (*storefront.RemoteCartItem, error)
	UpdateCartItem(ctx context.Context, itemID string, quantity int) (*storefront.RemoteCartItem, error)
	RemoveFromCart(ctx context.Context, itemID string) error
}

// LocalStore is the device cart the coordinator mutates
type LocalStore interface {
	Get(productID string) (cart.LineItem, bool)
	AddItem(p cart.Product, quantity int)
	UpdateQuantity(productID string, quantity int)
	RemoveItem(productID string)
	Clear()
	Replace(items []cart.LineItem)
	Items() []cart.LineItem
	TotalItems() int
	TotalPrice() decimal.Decimal
}

// indexRemote maps product id to server line id. The first line wins when the
// server returns the same product twice.
func indexRemote(remote *storefront.RemoteCart) map[string]string {
	index := make(map[string]string, len(remote.Items))
	for _, item := range remote.Items {
		pid := item.Product.ID.String()
		if _, ok := index[pid]; !ok {
			index[pid] = item.ID.String()
		}
	}
	return index
}

// hydrationLines converts the server cart into local lines ordered by numeric product id
func hydrationLines(remote *storefront.RemoteCart) []cart.LineItem {
	lines := make([]cart.LineItem, 0, len(remote.Items))
	for _, item := range remote.Items {
		lines = append(lines, item.LineItem())
	}
	cart.SortByNumericID(lines)
	return lines
}
