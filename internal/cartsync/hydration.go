package cartsync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/example/kesimarket-storefront/internal/auth"
)

var ErrNotAuthenticated = errors.New("cartsync: session is not authenticated")

// Bind makes the coordinator follow session transitions, starting with the
// current state.
func (c *Coordinator) Bind(ctx context.Context, session *auth.Session) (unbind func()) {
	unbind = session.Subscribe(func(st auth.State) {
		c.OnSessionChange(ctx, st)
	})
	c.OnSessionChange(ctx, session.State())
	return unbind
}

// OnSessionChange applies an authentication transition.
//
// Signed out: the hydration flag and the operation guard are reset so the
// next login hydrates again. The device cart is kept for guest browsing.
//
// Signed in with a usable token: the server cart is fetched, and the first
// time data arrives in the session it replaces the device cart.
func (c *Coordinator) OnSessionChange(ctx context.Context, st auth.State) {
	c.mu.Lock()
	c.session = st
	if !st.Authenticated {
		wasInitialized := c.hasInitialized
		c.hasInitialized = false
		c.generation++
		c.remote = nil
		c.remoteIndex = make(map[string]string)
		c.dirty = make(map[string]struct{})
		c.mu.Unlock()

		c.guard.Store(0)
		if wasInitialized {
			log.Println("[CartSync] Signed out, hydration will run on next login")
		}
		return
	}
	active := st.Active(c.now())
	c.mu.Unlock()

	if !active {
		log.Println("[CartSync] Session token unusable, staying local")
		return
	}
	if err := c.refresh(ctx, false); err != nil {
		log.Printf("[CartSync] Failed to fetch cart after login: %v", err)
	}
}

// Refresh refetches the server cart and rebuilds the product-to-line index. If
// the session has not hydrated yet, it hydrates.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.active() {
		return ErrNotAuthenticated
	}
	return c.refresh(ctx, false)
}

func (c *Coordinator) refresh(ctx context.Context, flush bool) error {
	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	remote, err := c.gateway.FetchCart(rctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to fetch cart: %w", err)
	}

	c.mu.Lock()
	if generation != c.generation || !c.session.Active(c.now()) {
		// Signed out while the request was in flight
		c.mu.Unlock()
		return nil
	}
	c.remote = remote
	c.remoteIndex = indexRemote(remote)
	hydrate := !c.hasInitialized
	if hydrate {
		c.hasInitialized = true
		c.dirty = make(map[string]struct{})
	}
	c.mu.Unlock()

	if hydrate {
		lines := hydrationLines(remote)
		c.store.Replace(lines)
		log.Printf("[CartSync] Hydrated device cart from server: %d lines", len(lines))
		return nil
	}
	if flush {
		c.flushOutbox(ctx)
	}
	return nil
}

// Hydrated reports whether the current session already replaced the device
// cart with the server's.
func (c *Coordinator) Hydrated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasInitialized
}
