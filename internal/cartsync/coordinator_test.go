package cartsync

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/kesimarket-storefront/internal/auth"
	"github.com/example/kesimarket-storefront/internal/domain/cart"
	"github.com/example/kesimarket-storefront/internal/infrastructure/storefront"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signedIn = auth.State{Authenticated: true, AccessToken: "opaque-session-token"}

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *cart.Store, *fakeGateway) {
	t.Helper()
	store := cart.NewStore("device-cart", nil)
	t.Cleanup(store.Close)
	gateway := newFakeGateway()
	return NewCoordinator(store, gateway, cfg), store, gateway
}

func product(id string, price int64) cart.Product {
	return cart.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(price), Stock: 10}
}

func quantities(items []cart.LineItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ID] = it.Quantity
	}
	return out
}

func ids(items []cart.LineItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

// ============================================
// Anonymous Session Tests
// ============================================

func TestCoordinator_Anonymous_StaysLocal(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()

	assert.True(t, c.AddItem(ctx, product("7", 1500), 2))
	assert.True(t, c.UpdateQuantity(ctx, "7", 4))
	assert.True(t, c.AddItem(ctx, product("3", 500), 1))
	assert.True(t, c.RemoveItem(ctx, "3"))

	assert.Equal(t, map[string]int{"7": 4}, quantities(store.Items()))
	assert.Empty(t, gateway.callLog())
	assert.NoError(t, c.Error())
	assert.False(t, c.Hydrated())
}

func TestCoordinator_AddItem_NoDuplicateLines(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{})
	ctx := context.Background()

	c.AddItem(ctx, product("7", 1500), 2)
	c.AddItem(ctx, product("7", 1500), 3)

	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestCoordinator_AddItem_QuantityBelowOneDefaultsToOne(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{})

	c.AddItem(context.Background(), product("7", 1500), 0)

	line, ok := store.Get("7")
	require.True(t, ok)
	assert.Equal(t, 1, line.Quantity)
}

func TestCoordinator_AddItem_RejectsQuantityOverflow(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.OnSessionChange(ctx, signedIn)
	require.True(t, c.AddItem(ctx, product("1", 100), 1))

	assert.False(t, c.AddItem(ctx, product("1", 100), math.MaxInt))

	line, ok := store.Get("1")
	require.True(t, ok)
	assert.Equal(t, 1, line.Quantity)
	assert.Equal(t, []string{"add:1:1"}, gateway.mutations())
	assert.True(t, decimal.NewFromInt(100).Equal(c.TotalPrice()))
	assert.False(t, c.Syncing())

	// The largest quantity that still fits is accepted
	assert.True(t, c.AddItem(ctx, product("1", 100), math.MaxInt-1))
	line, _ = store.Get("1")
	assert.Equal(t, math.MaxInt, line.Quantity)
}

func TestCoordinator_RemoveItem_Idempotent(t *testing.T) {
	c, store, _ := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.AddItem(ctx, product("7", 1500), 1)

	assert.True(t, c.RemoveItem(ctx, "7"))
	assert.True(t, c.RemoveItem(ctx, "7"))
	assert.True(t, c.RemoveItem(ctx, "never-added"))

	assert.Zero(t, store.Len())
}

func TestCoordinator_Items_SortedByNumericID(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"10", "2", "1"} {
		c.AddItem(ctx, product(id, 100), 1)
	}

	assert.Equal(t, []string{"1", "2", "10"}, ids(c.Items()))
}

func TestCoordinator_Totals_UseEffectivePrice(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Config{})
	ctx := context.Background()

	onSale := product("1", 1000)
	onSale.SalePrice = decimal.NewNullDecimal(decimal.NewFromInt(800))
	c.AddItem(ctx, onSale, 2)
	c.AddItem(ctx, product("2", 500), 1)

	assert.Equal(t, 3, c.TotalItems())
	assert.True(t, decimal.NewFromInt(2100).Equal(c.TotalPrice()), "got %s", c.TotalPrice())
}

func TestCoordinator_UpdateQuantity_RejectsBelowOne(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.OnSessionChange(ctx, signedIn)
	c.AddItem(ctx, product("7", 1500), 2)
	calls := len(gateway.callLog())

	assert.False(t, c.UpdateQuantity(ctx, "7", 0))
	assert.False(t, c.UpdateQuantity(ctx, "7", -3))

	line, ok := store.Get("7")
	require.True(t, ok)
	assert.Equal(t, 2, line.Quantity)
	assert.Len(t, gateway.callLog(), calls)
}

func TestCoordinator_ClearCart_LocalOnly(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	gateway.seed("1", 2)
	c.OnSessionChange(ctx, signedIn)
	require.Equal(t, 1, store.Len())

	c.ClearCart()

	assert.Zero(t, store.Len())
	assert.Empty(t, gateway.mutations())
	assert.Equal(t, map[string]int{"1": 2}, gateway.serverQuantities())
}

// ============================================
// Hydration Tests
// ============================================

func TestCoordinator_Login_HydratesFromServer(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()

	// Guest line that the server does not know about
	c.AddItem(ctx, product("99", 100), 1)
	gateway.seed("2", 1)
	gateway.seed("1", 2)

	c.OnSessionChange(ctx, signedIn)

	assert.True(t, c.Hydrated())
	assert.Equal(t, []string{"1", "2"}, ids(store.Items()))
	assert.Equal(t, map[string]int{"1": 2, "2": 1}, quantities(store.Items()))
	assert.Empty(t, gateway.mutations())
}

func TestCoordinator_Hydration_RunsOncePerSession(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	gateway.seed("1", 2)
	c.OnSessionChange(ctx, signedIn)

	// Server changes behind our back; later refetches must not overwrite the device cart
	gateway.seed("3", 4)
	require.NoError(t, c.Refresh(ctx))
	c.OnSessionChange(ctx, signedIn)

	assert.Equal(t, map[string]int{"1": 2}, quantities(store.Items()))
}

func TestCoordinator_LogoutThenLogin_HydratesAgain(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	gateway.seed("1", 2)
	c.OnSessionChange(ctx, signedIn)

	c.OnSessionChange(ctx, auth.State{})

	assert.False(t, c.Hydrated())
	assert.Equal(t, map[string]int{"1": 2}, quantities(store.Items()), "logout keeps the device cart")

	gateway.reset()
	gateway.seed("5", 3)
	c.OnSessionChange(ctx, signedIn)

	assert.True(t, c.Hydrated())
	assert.Equal(t, map[string]int{"5": 3}, quantities(store.Items()))
}

func TestCoordinator_Login_FetchFailureLeavesCartUntouched(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.AddItem(ctx, product("99", 100), 1)
	gateway.setErr(&gateway.fetchErr, errors.New("backend down"))

	c.OnSessionChange(ctx, signedIn)

	assert.False(t, c.Hydrated())
	assert.Equal(t, map[string]int{"99": 1}, quantities(store.Items()))

	gateway.setErr(&gateway.fetchErr, nil)
	gateway.seed("1", 1)
	require.NoError(t, c.Refresh(ctx))

	assert.True(t, c.Hydrated())
	assert.Equal(t, map[string]int{"1": 1}, quantities(store.Items()))
}

func TestCoordinator_Login_ExpiredTokenStaysLocal(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("server-secret"))
	require.NoError(t, err)

	c.OnSessionChange(ctx, auth.State{Authenticated: true, AccessToken: token})
	c.AddItem(ctx, product("7", 1500), 1)

	assert.Empty(t, gateway.callLog())
	assert.False(t, c.Hydrated())
	assert.Equal(t, 1, store.Len())
	assert.ErrorIs(t, c.Refresh(ctx), ErrNotAuthenticated)
}

func TestCoordinator_Logout_DiscardsFetchInFlight(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.AddItem(ctx, product("99", 100), 1)
	gateway.seed("1", 2)
	started, release := gateway.blockFetches()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.OnSessionChange(ctx, signedIn)
	}()
	<-started
	c.OnSessionChange(ctx, auth.State{})
	close(release)
	<-done

	assert.False(t, c.Hydrated())
	assert.Equal(t, map[string]int{"99": 1}, quantities(store.Items()))
}

func TestCoordinator_Bind_FollowsSession(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	gateway.seed("4", 1)
	session := auth.NewSession()

	unbind := c.Bind(ctx, session)
	defer unbind()
	assert.False(t, c.Hydrated())

	require.NoError(t, session.Login("opaque-session-token"))
	assert.True(t, c.Hydrated())
	assert.Equal(t, map[string]int{"4": 1}, quantities(store.Items()))

	session.Logout()
	assert.False(t, c.Hydrated())
}

// ============================================
// Remote Mirroring Tests
// ============================================

func TestCoordinator_AddItem_MirrorsAndRefetches(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.OnSessionChange(ctx, signedIn)

	require.True(t, c.AddItem(ctx, product("7", 1500), 2))

	assert.Equal(t, []string{"fetch", "add:7:2", "fetch"}, gateway.callLog())
	assert.Equal(t, map[string]int{"7": 2}, gateway.serverQuantities())
	assert.Equal(t, map[string]int{"7": 2}, quantities(store.Items()))
	assert.NoError(t, c.Error())
}

func TestCoordinator_AddExisting_BecomesRemoteUpdate(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	lineID := gateway.seed("7", 2)
	c.OnSessionChange(ctx, signedIn)

	c.AddItem(ctx, product("7", 1500), 3)

	assert.Equal(t, []string{"update:" + lineID.String() + ":5"}, gateway.mutations())
	assert.Equal(t, map[string]int{"7": 5}, quantities(store.Items()))
	assert.Equal(t, map[string]int{"7": 5}, gateway.serverQuantities())
}

func TestCoordinator_UpdateAndRemove_UseServerLineID(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	first := gateway.seed("1", 1)
	second := gateway.seed("2", 1)
	c.OnSessionChange(ctx, signedIn)

	require.True(t, c.UpdateQuantity(ctx, "1", 6))
	require.True(t, c.RemoveItem(ctx, "2"))

	assert.Equal(t, []string{
		"update:" + first.String() + ":6",
		"remove:" + second.String(),
	}, gateway.mutations())
	assert.Equal(t, map[string]int{"1": 6}, quantities(store.Items()))
	assert.Equal(t, map[string]int{"1": 6}, gateway.serverQuantities())
}

func TestCoordinator_Unmapped_UpdateStaysLocal(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.OnSessionChange(ctx, signedIn)

	gateway.setErr(&gateway.addErr, errors.New("stock service unavailable"))
	c.AddItem(ctx, product("7", 1500), 1)
	gateway.setErr(&gateway.addErr, nil)

	require.True(t, c.UpdateQuantity(ctx, "7", 3))
	require.True(t, c.RemoveItem(ctx, "7"))

	assert.Equal(t, []string{"add:7:1"}, gateway.mutations())
	assert.Zero(t, store.Len())
	assert.Empty(t, c.PendingSync(), "outbox is disabled")
}

func TestCoordinator_RemoteFailure_NoRollback(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.OnSessionChange(ctx, signedIn)
	gateway.setErr(&gateway.addErr, &storefront.APIError{Status: 500, Message: "internal error"})

	assert.True(t, c.AddItem(ctx, product("7", 1500), 2))

	line, ok := store.Get("7")
	require.True(t, ok)
	assert.Equal(t, 2, line.Quantity)
	var apiErr *storefront.APIError
	require.ErrorAs(t, c.Error(), &apiErr)
	assert.Equal(t, 500, apiErr.Status)

	// The next successful add clears the add error
	gateway.setErr(&gateway.addErr, nil)
	c.AddItem(ctx, product("8", 100), 1)
	assert.NoError(t, c.Error())
}

func TestCoordinator_Error_ReportsAddBeforeUpdate(t *testing.T) {
	c, _, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	gateway.seed("1", 1)
	c.OnSessionChange(ctx, signedIn)

	errUpdate := errors.New("update failed")
	errAdd := errors.New("add failed")

	gateway.setErr(&gateway.updateErr, errUpdate)
	c.UpdateQuantity(ctx, "1", 2)
	assert.ErrorIs(t, c.Error(), errUpdate)

	gateway.setErr(&gateway.addErr, errAdd)
	c.AddItem(ctx, product("5", 100), 1)
	assert.ErrorIs(t, c.Error(), errAdd)

	gateway.setErr(&gateway.addErr, nil)
	c.AddItem(ctx, product("6", 100), 1)
	assert.ErrorIs(t, c.Error(), errUpdate)
}

// ============================================
// Concurrency Guard Tests
// ============================================

func TestCoordinator_DropsCallsWhileInFlight(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.OnSessionChange(ctx, signedIn)
	started, release := gateway.blockAdds()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, c.AddItem(ctx, product("1", 100), 1))
	}()
	<-started

	assert.True(t, c.Syncing())
	assert.True(t, c.IsLoading())
	assert.False(t, c.AddItem(ctx, product("2", 100), 1))
	assert.False(t, c.UpdateQuantity(ctx, "1", 5))
	assert.False(t, c.RemoveItem(ctx, "1"))

	close(release)
	wg.Wait()

	assert.False(t, c.Syncing())
	assert.False(t, c.IsLoading())
	assert.Equal(t, map[string]int{"1": 1}, quantities(store.Items()))
	assert.Equal(t, []string{"add:1:1"}, gateway.mutations())

	gateway.unblock()
	assert.True(t, c.AddItem(ctx, product("2", 100), 1))
}

func TestCoordinator_Timeout_ReleasesGuard(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{RemoteTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	c.OnSessionChange(ctx, signedIn)
	gateway.blockAdds()

	assert.True(t, c.AddItem(ctx, product("1", 100), 1))

	assert.False(t, c.Syncing())
	assert.ErrorIs(t, c.Error(), context.DeadlineExceeded)
	_, ok := store.Get("1")
	assert.True(t, ok)

	gateway.unblock()
	assert.True(t, c.AddItem(ctx, product("2", 100), 1))
	assert.NoError(t, c.Error())
}

func TestCoordinator_Logout_ResetsGuard(t *testing.T) {
	c, store, gateway := newTestCoordinator(t, Config{})
	ctx := context.Background()
	c.OnSessionChange(ctx, signedIn)
	started, release := gateway.blockAdds()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.AddItem(ctx, product("1", 100), 1)
	}()
	<-started

	c.OnSessionChange(ctx, auth.State{})
	assert.False(t, c.Syncing())
	assert.True(t, c.AddItem(ctx, product("2", 100), 1), "guest add after logout is accepted")

	close(release)
	<-done

	assert.False(t, c.Syncing())
	assert.False(t, c.Hydrated())
	assert.Equal(t, map[string]int{"1": 1, "2": 1}, quantities(store.Items()))
}
