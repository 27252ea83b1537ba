package cartsync

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/kesimarket-storefront/internal/auth"
	"github.com/example/kesimarket-storefront/internal/domain/cart"
	"github.com/example/kesimarket-storefront/internal/infrastructure/storefront"
	"github.com/shopspring/decimal"
)

const DefaultRemoteTimeout = 10 * time.Second

type Config struct {
	// Upper bound for every backend call. A hung request releases the guard
	// once it expires.
	RemoteTimeout time.Duration
	// Reconcile products whose backend sync failed after the next successful
	// refetch and on RunOutbox ticks.
	OutboxEnabled bool
}

type mutation int

const (
	mutationAdd mutation = iota
	mutationUpdate
	mutationRemove
)

func (m mutation) String() string {
	switch m {
	case mutationAdd:
		return "add"
	case mutationUpdate:
		return "update"
	case mutationRemove:
		return "remove"
	}
	return "unknown"
}

// Coordinator is the only sanctioned mutator of the device cart. It applies
// every change locally first and then mirrors it to the backend when the
// session is authenticated. Backend failures are logged and never roll back
// the local cart.
//
// At most one operation runs at a time. The guard is idle (0) or holds the
// token of the running operation; a call that finds it held is dropped.
type Coordinator struct {
	store   LocalStore
	gateway Gateway
	cfg     Config
	now     func() time.Time

	guard     atomic.Uint64
	nextToken atomic.Uint64
	inflight  atomic.Int32

	mu             sync.Mutex
	session        auth.State
	hasInitialized bool
	generation     uint64
	remote         *storefront.RemoteCart
	remoteIndex    map[string]string // productID -> server line id
	mutationErrs   [3]error
	dirty          map[string]struct{}
}

func NewCoordinator(store LocalStore, gateway Gateway, cfg Config) *Coordinator {
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultRemoteTimeout
	}
	return &Coordinator{
		store:       store,
		gateway:     gateway,
		cfg:         cfg,
		now:         time.Now,
		remoteIndex: make(map[string]string),
		dirty:       make(map[string]struct{}),
	}
}

func (c *Coordinator) acquire(op, productID string) (uint64, bool) {
	token := c.nextToken.Add(1)
	if !c.guard.CompareAndSwap(0, token) {
		log.Printf("[CartSync] Dropped %s for product %s: another cart operation is in flight", op, productID)
		return 0, false
	}
	return token, true
}

// release is a no-op when a logout already reset the guard
func (c *Coordinator) release(token uint64) {
	c.guard.CompareAndSwap(token, 0)
}

func (c *Coordinator) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Active(c.now())
}

// AddItem adds quantity of p to the cart; quantity below 1 counts as 1. A
// product already in the cart becomes a quantity update. It returns false when
// the call was dropped because another operation was in flight, or when the
// merged quantity would overflow.
func (c *Coordinator) AddItem(ctx context.Context, p cart.Product, quantity int) bool {
	if quantity < 1 {
		quantity = 1
	}
	token, ok := c.acquire("add", p.ID)
	if !ok {
		return false
	}
	defer c.release(token)

	if existing, ok := c.store.Get(p.ID); ok {
		if quantity > math.MaxInt-existing.Quantity {
			log.Printf("[CartSync] Rejected add for product %s: %v (have %d, adding %d)", p.ID, cart.ErrInvalidQuantity, existing.Quantity, quantity)
			return false
		}
		c.updateQuantity(ctx, p.ID, existing.Quantity+quantity)
		return true
	}

	c.store.AddItem(p, quantity)
	if !c.active() {
		return true
	}

	c.runRemote(ctx, mutationAdd, p.ID, func(ctx context.Context) error {
		_, err := c.gateway.AddToCart(ctx, p.ID, quantity)
		return err
	})
	return true
}

// UpdateQuantity sets the quantity of a line. Quantities below 1 are rejected
// without touching the cart; use RemoveItem to drop a line.
func (c *Coordinator) UpdateQuantity(ctx context.Context, productID string, quantity int) bool {
	if quantity < 1 {
		log.Printf("[CartSync] Rejected update for product %s: %v (got %d)", productID, cart.ErrInvalidQuantity, quantity)
		return false
	}
	token, ok := c.acquire("update", productID)
	if !ok {
		return false
	}
	defer c.release(token)

	c.updateQuantity(ctx, productID, quantity)
	return true
}

func (c *Coordinator) updateQuantity(ctx context.Context, productID string, quantity int) {
	c.store.UpdateQuantity(productID, quantity)
	if !c.active() {
		return
	}

	lineID, ok := c.remoteLineID(productID)
	if !ok {
		// Not on the server yet, or the server cart has not been fetched
		c.markDirty(productID)
		return
	}

	c.runRemote(ctx, mutationUpdate, productID, func(ctx context.Context) error {
		_, err := c.gateway.UpdateCartItem(ctx, lineID, quantity)
		return err
	})
}

// RemoveItem drops the line for productID; absent lines are a no-op locally
func (c *Coordinator) RemoveItem(ctx context.Context, productID string) bool {
	token, ok := c.acquire("remove", productID)
	if !ok {
		return false
	}
	defer c.release(token)

	c.store.RemoveItem(productID)
	if !c.active() {
		return true
	}

	lineID, ok := c.remoteLineID(productID)
	if !ok {
		c.markDirty(productID)
		return true
	}

	c.runRemote(ctx, mutationRemove, productID, func(ctx context.Context) error {
		return c.gateway.RemoveFromCart(ctx, lineID)
	})
	return true
}

// ClearCart empties the device cart. The server cart is left alone.
func (c *Coordinator) ClearCart() {
	c.store.Clear()
}

func (c *Coordinator) runRemote(ctx context.Context, m mutation, productID string, call func(context.Context) error) {
	if err := c.callRemote(ctx, m, productID, call); err != nil {
		c.markDirty(productID)
		return
	}

	if err := c.refresh(ctx, true); err != nil {
		log.Printf("[CartSync] Failed to refetch cart after %s: %v", m, err)
	}
}

// callRemote runs one backend mutation under the remote timeout, counting it
// as in flight and recording its outcome for Error.
func (c *Coordinator) callRemote(ctx context.Context, m mutation, productID string, call func(context.Context) error) error {
	c.inflight.Add(1)
	rctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	err := call(rctx)
	cancel()
	c.inflight.Add(-1)

	c.mu.Lock()
	c.mutationErrs[m] = err
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("[CartSync] Backend %s for product %s timed out after %s", m, productID, c.cfg.RemoteTimeout)
		} else {
			log.Printf("[CartSync] Failed to %s product %s on backend: %v", m, productID, err)
		}
	}
	return err
}

func (c *Coordinator) remoteLineID(productID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.remoteIndex[productID]
	return id, ok
}

// Items returns the device cart sorted by numeric product id
func (c *Coordinator) Items() []cart.LineItem {
	return c.store.Items()
}

func (c *Coordinator) TotalItems() int {
	return c.store.TotalItems()
}

func (c *Coordinator) TotalPrice() decimal.Decimal {
	return c.store.TotalPrice()
}

// IsLoading reports whether a backend add, update or remove is in flight
func (c *Coordinator) IsLoading() bool {
	return c.inflight.Load() > 0
}

// Error returns the last error of the add, update or remove mutation, checked
// in that order. A mutation's error is cleared by its next success.
func (c *Coordinator) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, err := range c.mutationErrs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Syncing reports whether an operation currently holds the guard
func (c *Coordinator) Syncing() bool {
	return c.guard.Load() != 0
}
