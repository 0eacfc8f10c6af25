package cart

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tshirt-shop/storefront/internal/domain"
)

// Observer receives a snapshot of the cart after every mutation.
type Observer func(items []domain.CartItem)

// Store is the in-memory cart of a single shopper session. Items keep
// insertion order and at most one line exists per product id.
type Store struct {
	mu        sync.Mutex
	items     []domain.CartItem
	observers map[int]Observer
	nextObs   int
}

// NewStore returns an empty cart.
func NewStore() *Store {
	return &Store{observers: make(map[int]Observer)}
}

// Add merges item into the cart. When a line with the same id exists its
// quantity grows by quantity, otherwise item is appended. A quantity below 1
// counts as 1. The resulting line is returned.
func (s *Store) Add(item domain.CartItem, quantity int) domain.CartItem {
	if quantity < 1 {
		quantity = 1
	}

	s.mu.Lock()
	var result domain.CartItem
	merged := false
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i].Quantity += quantity
			result = s.items[i]
			merged = true
			break
		}
	}
	if !merged {
		item.Quantity = quantity
		s.items = append(s.items, item)
		result = item
	}
	snapshot, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
	return result
}

// Remove drops the line with the given id. Absent ids are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	kept := s.items[:0]
	removed := false
	for _, item := range s.items {
		if item.ID == id {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	if !removed {
		s.mu.Unlock()
		return
	}
	snapshot, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	snapshot, observers := s.snapshotLocked()
	s.mu.Unlock()

	notify(observers, snapshot)
}

// Count returns the sum of quantities over all lines.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// Items returns a copy of the cart lines in insertion order.
func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// Subtotal returns the sum of line totals.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	subtotal := decimal.Zero
	for _, item := range s.items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal
}

// Subscribe registers fn to be called after each mutation, outside the store
// lock. The returned function removes the registration.
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotLocked() ([]domain.CartItem, []Observer) {
	if len(s.observers) == 0 {
		return nil, nil
	}
	observers := make([]Observer, 0, len(s.observers))
	for i := 0; i < s.nextObs; i++ {
		if fn, ok := s.observers[i]; ok {
			observers = append(observers, fn)
		}
	}
	return cloneItems(s.items), observers
}

func notify(observers []Observer, snapshot []domain.CartItem) {
	for _, fn := range observers {
		fn(cloneItems(snapshot))
	}
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}

type storeKey struct{}

// WithStore attaches the session cart to ctx.
func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeKey{}, s)
}

// FromContext returns the cart attached by WithStore. Calling it on a context
// without a cart is a programming error and panics.
func FromContext(ctx context.Context) *Store {
	if ctx != nil {
		if s, ok := ctx.Value(storeKey{}).(*Store); ok && s != nil {
			return s
		}
	}
	panic("cart: FromContext called outside a cart-scoped context")
}
