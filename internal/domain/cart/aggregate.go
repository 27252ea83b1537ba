package cart

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/example/kesimarket-storefront/internal/infrastructure/store"
)

const AggregateType = "Cart"

var ErrInvalidQuantity = errors.New("quantity must be positive")

// Cart is the journaled state of one device cart
type Cart struct {
	ID      string              `json:"id"`
	Items   map[string]LineItem `json:"items"` // productID -> line
	Version int                 `json:"version"`
}

func newCart(id string) *Cart {
	return &Cart{ID: id, Items: make(map[string]LineItem)}
}

func (c *Cart) GetID() string   { return c.ID }
func (c *Cart) GetVersion() int { return c.Version }

// ApplyEvent replays one journaled event
func (c *Cart) ApplyEvent(event store.Event) error {
	if c.Items == nil {
		c.Items = make(map[string]LineItem)
	}

	switch event.EventType {
	case EventItemAdded:
		var data ItemAddedToCart
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.addItem(data.Product, data.Quantity, data.AddedAt)
	case EventQuantityUpdated:
		var data CartItemQuantityUpdated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.updateQuantity(data.ProductID, data.Quantity)
	case EventItemRemoved:
		var data ItemRemovedFromCart
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		delete(c.Items, data.ProductID)
	case EventCartCleared:
		c.Items = make(map[string]LineItem)
	case EventCartHydrated:
		var data CartHydrated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.replace(data.Items)
	}
	if event.AggregateID != "" {
		c.ID = event.AggregateID
	}
	c.Version = event.Version
	return nil
}

func (c *Cart) addItem(p Product, quantity int, addedAt time.Time) {
	if existing, ok := c.Items[p.ID]; ok {
		existing.Quantity += quantity
		c.Items[p.ID] = existing
		return
	}
	c.Items[p.ID] = LineItem{
		ID:       p.ID,
		Product:  p,
		Quantity: quantity,
		AddedAt:  addedAt,
	}
}

// updateQuantity reports whether a line for productID existed
func (c *Cart) updateQuantity(productID string, quantity int) bool {
	existing, ok := c.Items[productID]
	if !ok {
		return false
	}
	existing.Quantity = quantity
	c.Items[productID] = existing
	return true
}

func (c *Cart) replace(items []LineItem) {
	c.Items = make(map[string]LineItem, len(items))
	for _, item := range items {
		if existing, ok := c.Items[item.ID]; ok {
			existing.Quantity += item.Quantity
			c.Items[item.ID] = existing
			continue
		}
		c.Items[item.ID] = item
	}
}

func (c *Cart) clone() *Cart {
	out := &Cart{ID: c.ID, Version: c.Version, Items: make(map[string]LineItem, len(c.Items))}
	for k, v := range c.Items {
		out.Items[k] = v
	}
	return out
}

// sortedItems returns the lines ordered by numeric product id
func (c *Cart) sortedItems() []LineItem {
	items := make([]LineItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, item)
	}
	SortByNumericID(items)
	return items
}
