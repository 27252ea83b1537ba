package cartsync

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/example/kesimarket-storefront/internal/domain/cart"
	"github.com/example/kesimarket-storefront/internal/infrastructure/storefront"
)

func (c *Coordinator) markDirty(productID string) {
	if !c.cfg.OutboxEnabled {
		return
	}
	c.mu.Lock()
	c.dirty[productID] = struct{}{}
	c.mu.Unlock()
}

// PendingSync lists products whose server line is not known to match the
// device cart, ordered by numeric id.
func (c *Coordinator) PendingSync() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, cart.CompareIDs)
	return ids
}

// flushOutbox pushes the device state of every dirty product to the server,
// using the last fetched server cart to decide between add, update and
// remove. The caller holds the guard.
func (c *Coordinator) flushOutbox(ctx context.Context) {
	ids := c.PendingSync()
	if len(ids) == 0 {
		return
	}

	c.mu.Lock()
	remoteByProduct := make(map[string]storefront.RemoteCartItem)
	if c.remote != nil {
		for _, item := range c.remote.Items {
			pid := item.Product.ID.String()
			if _, ok := remoteByProduct[pid]; !ok {
				remoteByProduct[pid] = item
			}
		}
	}
	c.mu.Unlock()

	changed := false
	for _, id := range ids {
		local, hasLocal := c.store.Get(id)
		remote, hasRemote := remoteByProduct[id]

		var err error
		switch {
		case hasLocal && !hasRemote:
			err = c.callRemote(ctx, mutationAdd, id, func(ctx context.Context) error {
				_, err := c.gateway.AddToCart(ctx, id, local.Quantity)
				return err
			})
			changed = true
		case !hasLocal && hasRemote:
			err = c.callRemote(ctx, mutationRemove, id, func(ctx context.Context) error {
				return c.gateway.RemoveFromCart(ctx, remote.ID.String())
			})
			changed = true
		case hasLocal && hasRemote && local.Quantity != remote.Quantity:
			err = c.callRemote(ctx, mutationUpdate, id, func(ctx context.Context) error {
				_, err := c.gateway.UpdateCartItem(ctx, remote.ID.String(), local.Quantity)
				return err
			})
			changed = true
		}

		if err != nil {
			log.Printf("[CartSync] Outbox replay for product %s failed, will retry", id)
			continue
		}
		c.mu.Lock()
		delete(c.dirty, id)
		c.mu.Unlock()
	}

	if changed {
		if err := c.refresh(ctx, false); err != nil {
			log.Printf("[CartSync] Failed to refetch cart after outbox replay: %v", err)
		}
	}
}

// RunOutbox retries dirty products every interval until ctx is done. Ticks
// that find another operation in flight, a signed-out session or nothing
// pending are skipped.
func (c *Coordinator) RunOutbox(ctx context.Context, interval time.Duration) {
	if !c.cfg.OutboxEnabled {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.replayOutbox(ctx)
		}
	}
}

func (c *Coordinator) replayOutbox(ctx context.Context) {
	if !c.active() || len(c.PendingSync()) == 0 {
		return
	}
	token := c.nextToken.Add(1)
	if !c.guard.CompareAndSwap(0, token) {
		return
	}
	defer c.release(token)

	if err := c.refresh(ctx, true); err != nil {
		log.Printf("[CartSync] Outbox tick could not reach backend: %v", err)
	}
}
