package cart

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/example/kesimarket-storefront/internal/domain/aggregate"
	"github.com/example/kesimarket-storefront/internal/infrastructure/store"
	"github.com/shopspring/decimal"
)

const (
	journalBacklogWarn = 256
	journalTimeout     = 5 * time.Second
)

type journalEntry struct {
	eventType string
	data      any
	state     *Cart
}

// Store is the device-local cart. Every mutation is applied synchronously and
// is visible to readers before the call returns. Persistence to the journal
// happens afterwards, in mutation order, on a background goroutine; a slow
// journal never blocks mutations or reads.
type Store struct {
	mu          sync.RWMutex
	cart        *Cart
	subscribers map[int]func([]LineItem)
	nextSubID   int
	notifyQueue [][]LineItem
	notifying   bool

	journal store.EventStoreInterface
	jmu     sync.Mutex
	jcond   *sync.Cond
	pending []journalEntry
	jclosed bool
	warned  bool
	done    chan struct{}
	now     func() time.Time
}

// NewStore creates an empty cart. journal may be nil for a memory-only cart.
func NewStore(cartID string, journal store.EventStoreInterface) *Store {
	return newStore(newCart(cartID), journal)
}

// Restore rebuilds the device cart from its journal
func Restore(ctx context.Context, journal store.EventStoreInterface, cartID string) (*Store, error) {
	c, found, err := aggregate.LoadAggregate(ctx, journal, cartID, func() *Cart { return newCart(cartID) })
	if err != nil {
		return nil, err
	}
	if found {
		log.Printf("[Cart] Restored cart %s at version %d with %d lines", cartID, c.Version, len(c.Items))
	}
	return newStore(c, journal), nil
}

func newStore(c *Cart, journal store.EventStoreInterface) *Store {
	s := &Store{
		cart:        c,
		subscribers: make(map[int]func([]LineItem)),
		journal:     journal,
		now:         time.Now,
	}
	s.jcond = sync.NewCond(&s.jmu)
	if journal != nil {
		s.done = make(chan struct{})
		go s.runJournal()
	}
	return s
}

// ID returns the device cart id
func (s *Store) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.ID
}

// AddItem inserts a line or increments the quantity of the existing one
func (s *Store) AddItem(p Product, quantity int) {
	s.mutate(func(c *Cart, now time.Time) (string, any) {
		c.addItem(p, quantity, now)
		return EventItemAdded, ItemAddedToCart{CartID: c.ID, Product: p, Quantity: quantity, AddedAt: now}
	})
}

// UpdateQuantity sets the quantity of an existing line. It does not reject
// zero or negative values.
func (s *Store) UpdateQuantity(productID string, quantity int) {
	s.mutate(func(c *Cart, now time.Time) (string, any) {
		if !c.updateQuantity(productID, quantity) {
			return "", nil
		}
		return EventQuantityUpdated, CartItemQuantityUpdated{CartID: c.ID, ProductID: productID, Quantity: quantity, UpdatedAt: now}
	})
}

// RemoveItem deletes the line; absent lines are a no-op
func (s *Store) RemoveItem(productID string) {
	s.mutate(func(c *Cart, now time.Time) (string, any) {
		if _, ok := c.Items[productID]; !ok {
			return "", nil
		}
		delete(c.Items, productID)
		return EventItemRemoved, ItemRemovedFromCart{CartID: c.ID, ProductID: productID, RemovedAt: now}
	})
}

func (s *Store) Clear() {
	s.mutate(func(c *Cart, now time.Time) (string, any) {
		c.Items = make(map[string]LineItem)
		return EventCartCleared, CartCleared{CartID: c.ID, ClearedAt: now}
	})
}

// Replace swaps every line at once. Lines sharing an id are merged.
func (s *Store) Replace(items []LineItem) {
	s.mutate(func(c *Cart, now time.Time) (string, any) {
		c.replace(items)
		return EventCartHydrated, CartHydrated{CartID: c.ID, Items: c.sortedItems(), HydratedAt: now}
	})
}

// mutate applies fn under the write lock. fn returns an empty event type when
// nothing changed, in which case neither the journal nor subscribers are told.
func (s *Store) mutate(fn func(c *Cart, now time.Time) (string, any)) {
	s.mu.Lock()
	eventType, data := fn(s.cart, s.now())
	if eventType == "" {
		s.mu.Unlock()
		return
	}
	if s.journal != nil {
		s.enqueue(journalEntry{eventType: eventType, data: data, state: s.cart.clone()})
	}
	s.notifyQueue = append(s.notifyQueue, s.cart.sortedItems())
	s.deliverLocked()
}

// deliverLocked hands queued snapshots to subscribers in mutation order. It is
// called with s.mu held and returns with it released. Only one goroutine
// delivers at a time; a mutation that finds delivery running leaves its
// snapshot to that goroutine.
func (s *Store) deliverLocked() {
	if s.notifying {
		s.mu.Unlock()
		return
	}
	s.notifying = true
	for len(s.notifyQueue) > 0 {
		batch := s.notifyQueue
		s.notifyQueue = nil
		subs := make([]func([]LineItem), 0, len(s.subscribers))
		for _, sub := range s.subscribers {
			subs = append(subs, sub)
		}
		s.mu.Unlock()

		for _, items := range batch {
			for _, notify := range subs {
				notify(items)
			}
		}
		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

// enqueue appends to the unbounded journal backlog. It never waits on the
// journal itself.
func (s *Store) enqueue(entry journalEntry) {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	if s.jclosed {
		return
	}
	s.pending = append(s.pending, entry)
	if len(s.pending) >= journalBacklogWarn && !s.warned {
		s.warned = true
		log.Printf("[Cart] Journal backlog for cart %s reached %d entries, journal is slow or unreachable", entry.state.ID, len(s.pending))
	}
	s.jcond.Signal()
}

func (s *Store) runJournal() {
	defer close(s.done)
	for {
		s.jmu.Lock()
		for len(s.pending) == 0 && !s.jclosed {
			s.jcond.Wait()
		}
		batch := s.pending
		s.pending = nil
		s.warned = false
		s.jmu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, entry := range batch {
			s.write(entry)
		}
	}
}

func (s *Store) write(entry journalEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	event, err := s.journal.Append(ctx, entry.state.ID, AggregateType, entry.eventType, entry.data)
	if err != nil {
		log.Printf("[Cart] Failed to journal %s for cart %s: %v", entry.eventType, entry.state.ID, err)
	}
	if event != nil {
		entry.state.Version = event.Version
		if err := aggregate.MaybeCreateSnapshot(ctx, s.journal, entry.state, AggregateType); err != nil {
			log.Printf("[Cart] Failed to create snapshot for cart %s: %v", entry.state.ID, err)
		}
	}
}

// Close stops accepting journal writes and waits for pending ones to finish.
// The in-memory cart stays usable.
func (s *Store) Close() {
	s.jmu.Lock()
	if s.jclosed {
		s.jmu.Unlock()
		return
	}
	s.jclosed = true
	s.jcond.Signal()
	s.jmu.Unlock()

	if s.done != nil {
		<-s.done
	}
}

// Subscribe registers fn to receive the sorted lines after every change.
// Notifications arrive in mutation order. fn may mutate the store; that change
// is delivered after fn returns.
func (s *Store) Subscribe(fn func([]LineItem)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// Get returns the line for productID
func (s *Store) Get(productID string) (LineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.cart.Items[productID]
	return item, ok
}

// Items returns the lines sorted by numeric product id. The order is
// recomputed on every call.
func (s *Store) Items() []LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.sortedItems()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cart.Items)
}

func (s *Store) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, item := range s.cart.Items {
		total += item.Quantity
	}
	return total
}

// TotalPrice sums quantity times effective price over every line
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, item := range s.cart.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}
