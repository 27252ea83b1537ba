package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/kesimarket-storefront/internal/domain/cart"
	"github.com/shopspring/decimal"
)

var ErrDropped = errors.New("another cart operation is in flight, try again")

// Coordinator is the cart synchronization surface the CLI drives
type Coordinator interface {
	AddItem(ctx context.Context, p cart.Product, quantity int) bool
	UpdateQuantity(ctx context.Context, productID string, quantity int) bool
	RemoveItem(ctx context.Context, productID string) bool
	ClearCart()
	Refresh(ctx context.Context) error
	Items() []cart.LineItem
	TotalItems() int
	TotalPrice() decimal.Decimal
	IsLoading() bool
	Error() error
	PendingSync() []string
	Hydrated() bool
}

type Session interface {
	Login(token string) error
	Logout()
	Active() bool
}

type Handler struct {
	coordinator Coordinator
	session     Session
}

func NewHandler(coordinator Coordinator, session Session) *Handler {
	return &Handler{
		coordinator: coordinator,
		session:     session,
	}
}

// CartView is a point-in-time read of the cart and its sync status
type CartView struct {
	Items         []cart.LineItem
	TotalItems    int
	TotalPrice    decimal.Decimal
	Authenticated bool
	Hydrated      bool
	Pending       []string
	LastError     error
}

// AddItem adds a product snapshot to the cart
func (h *Handler) AddItem(ctx context.Context, cmd AddItem) error {
	p := cart.Product{
		ID:        cmd.ProductID,
		Name:      cmd.Name,
		Price:     cmd.Price,
		SalePrice: cmd.SalePrice,
	}
	if !h.coordinator.AddItem(ctx, p, cmd.Quantity) {
		return ErrDropped
	}
	return nil
}

func (h *Handler) UpdateQuantity(ctx context.Context, cmd UpdateQuantity) error {
	if cmd.Quantity < 1 {
		return cart.ErrInvalidQuantity
	}
	if !h.coordinator.UpdateQuantity(ctx, cmd.ProductID, cmd.Quantity) {
		return ErrDropped
	}
	return nil
}

func (h *Handler) RemoveItem(ctx context.Context, cmd RemoveItem) error {
	if !h.coordinator.RemoveItem(ctx, cmd.ProductID) {
		return ErrDropped
	}
	return nil
}

func (h *Handler) ClearCart(ctx context.Context, cmd ClearCart) error {
	h.coordinator.ClearCart()
	return nil
}

// Login authenticates the session; the coordinator hydrates through its
// session subscription.
func (h *Handler) Login(ctx context.Context, cmd Login) error {
	return h.session.Login(cmd.Token)
}

func (h *Handler) Logout(ctx context.Context, cmd Logout) error {
	h.session.Logout()
	return nil
}

func (h *Handler) Refresh(ctx context.Context, cmd Refresh) error {
	return h.coordinator.Refresh(ctx)
}

func (h *Handler) Show(ctx context.Context, cmd Show) CartView {
	return CartView{
		Items:         h.coordinator.Items(),
		TotalItems:    h.coordinator.TotalItems(),
		TotalPrice:    h.coordinator.TotalPrice(),
		Authenticated: h.session.Active(),
		Hydrated:      h.coordinator.Hydrated(),
		Pending:       h.coordinator.PendingSync(),
		LastError:     h.coordinator.Error(),
	}
}

// Execute runs a parsed command and returns the text to print
func (h *Handler) Execute(ctx context.Context, cmd any) (string, error) {
	var err error
	switch c := cmd.(type) {
	case AddItem:
		err = h.AddItem(ctx, c)
	case UpdateQuantity:
		err = h.UpdateQuantity(ctx, c)
	case RemoveItem:
		err = h.RemoveItem(ctx, c)
	case ClearCart:
		err = h.ClearCart(ctx, c)
	case Login:
		err = h.Login(ctx, c)
	case Logout:
		err = h.Logout(ctx, c)
	case Refresh:
		err = h.Refresh(ctx, c)
	case Show:
		return Render(h.Show(ctx, c)), nil
	case Help:
		return strings.Join(Usage(), "\n") + "\n", nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	if err != nil {
		return "", err
	}
	return Render(h.Show(ctx, Show{})), nil
}

// Render formats a cart view for the terminal. Amounts are in FCFA.
func Render(v CartView) string {
	var b strings.Builder
	status := "guest"
	if v.Authenticated {
		status = "signed in"
		if !v.Hydrated {
			status += ", not synced yet"
		}
	}
	fmt.Fprintf(&b, "Cart (%s)\n", status)
	if len(v.Items) == 0 {
		b.WriteString("  (empty)\n")
	}
	for _, item := range v.Items {
		price := item.Product.EffectivePrice()
		fmt.Fprintf(&b, "  %-6s %-24s %3d x %s = %s\n", item.ID, item.Product.Name, item.Quantity, price.String(), item.Subtotal().String())
	}
	fmt.Fprintf(&b, "  %d items, total %s FCFA\n", v.TotalItems, v.TotalPrice.String())
	if len(v.Pending) > 0 {
		fmt.Fprintf(&b, "  pending sync: %s\n", strings.Join(v.Pending, ", "))
	}
	if v.LastError != nil {
		fmt.Fprintf(&b, "  last sync error: %v\n", v.LastError)
	}
	return b.String()
}
