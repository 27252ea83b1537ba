package cartsync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/example/kesimarket-storefront/internal/infrastructure/storefront"
	"github.com/shopspring/decimal"
)

// fakeGateway is an in-memory backend cart that records every call
type fakeGateway struct {
	mu     sync.Mutex
	lines  []storefront.RemoteCartItem
	nextID int
	calls  []string

	fetchErr  error
	addErr    error
	updateErr error
	removeErr error

	// When set, AddToCart signals addStarted and then waits for addRelease
	// or for its context to end. Set through blockAdds.
	addStarted chan struct{}
	addRelease chan struct{}
	// Same for FetchCart.
	fetchStarted chan struct{}
	fetchRelease chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{nextID: 500}
}

func remoteProduct(id string, price int64) storefront.RemoteProduct {
	return storefront.RemoteProduct{
		ID:    storefront.ID(id),
		Name:  "Server " + id,
		Price: decimal.NewFromInt(price),
		Stock: 20,
	}
}

// seed puts a line on the server without recording a call
func (g *fakeGateway) seed(productID string, quantity int) storefront.ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := storefront.ID(strconv.Itoa(g.nextID))
	g.lines = append(g.lines, storefront.RemoteCartItem{
		ID:        id,
		Product:   remoteProduct(productID, 1000),
		Quantity:  quantity,
		CreatedAt: time.Now(),
	})
	return id
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lines = nil
	g.calls = nil
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// mutations returns the recorded calls other than fetches
func (g *fakeGateway) mutations() []string {
	var out []string
	for _, c := range g.callLog() {
		if c != "fetch" {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakeGateway) serverQuantities() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.lines))
	for _, l := range g.lines {
		out[l.Product.ID.String()] += l.Quantity
	}
	return out
}

func (g *fakeGateway) setErr(target *error, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	*target = err
}

// blockAdds makes the next AddToCart calls wait until release is closed
func (g *fakeGateway) blockAdds() (started <-chan struct{}, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addStarted = make(chan struct{}, 1)
	g.addRelease = make(chan struct{})
	return g.addStarted, g.addRelease
}

func (g *fakeGateway) blockFetches() (started <-chan struct{}, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchStarted = make(chan struct{}, 1)
	g.fetchRelease = make(chan struct{})
	return g.fetchStarted, g.fetchRelease
}

func (g *fakeGateway) unblock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addStarted, g.addRelease = nil, nil
	g.fetchStarted, g.fetchRelease = nil, nil
}

func (g *fakeGateway) FetchCart(ctx context.Context) (*storefront.RemoteCart, error) {
	g.record("fetch")

	g.mu.Lock()
	started, release := g.fetchStarted, g.fetchRelease
	g.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return &storefront.RemoteCart{Items: append([]storefront.RemoteCartItem(nil), g.lines...)}, nil
}

func (g *fakeGateway) AddToCart(ctx context.Context, productID string, quantity int) (*storefront.RemoteCartItem, error) {
	g.record(fmt.Sprintf("add:%s:%d", productID, quantity))

	g.mu.Lock()
	started, release := g.addStarted, g.addRelease
	g.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.addErr != nil {
		return nil, g.addErr
	}
	for i, l := range g.lines {
		if l.Product.ID.String() == productID {
			g.lines[i].Quantity += quantity
			item := g.lines[i]
			return &item, nil
		}
	}
	g.nextID++
	item := storefront.RemoteCartItem{
		ID:        storefront.ID(strconv.Itoa(g.nextID)),
		Product:   remoteProduct(productID, 1000),
		Quantity:  quantity,
		CreatedAt: time.Now(),
	}
	g.lines = append(g.lines, item)
	return &item, nil
}

func (g *fakeGateway) UpdateCartItem(ctx context.Context, itemID string, quantity int) (*storefront.RemoteCartItem, error) {
	g.record(fmt.Sprintf("update:%s:%d", itemID, quantity))
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	for i, l := range g.lines {
		if l.ID.String() == itemID {
			g.lines[i].Quantity = quantity
			item := g.lines[i]
			return &item, nil
		}
	}
	return nil, &storefront.APIError{Status: 404, Message: "cart item not found"}
}

func (g *fakeGateway) RemoveFromCart(ctx context.Context, itemID string) error {
	g.record("remove:" + itemID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removeErr != nil {
		return g.removeErr
	}
	for i, l := range g.lines {
		if l.ID.String() == itemID {
			g.lines = append(g.lines[:i], g.lines[i+1:]...)
			return nil
		}
	}
	return nil
}
