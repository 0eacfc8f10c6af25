package cart

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tshirt-shop/storefront/internal/domain"
)

func tee() domain.CartItem {
	return domain.CartItem{
		ID:    "ts1",
		Name:  "Classic Black Tee",
		Price: decimal.RequireFromString("29.99"),
		Image: "/images/black_tee.jpg",
	}
}

func beanie() domain.CartItem {
	return domain.CartItem{
		ID:    "ts3",
		Name:  "Black Beanie",
		Price: decimal.RequireFromString("24.99"),
		Image: "/images/black_beanie.jpg",
	}
}

func TestAddMergesById(t *testing.T) {
	s := NewStore()

	first := s.Add(tee(), 1)
	require.Equal(t, 1, first.Quantity)

	merged := s.Add(tee(), 2)
	require.Equal(t, 3, merged.Quantity)
	require.Equal(t, "Classic Black Tee", merged.Name)

	items := s.Items()
	require.Len(t, items, 1)
	require.Equal(t, 3, items[0].Quantity)
}

func TestAddDefaultsQuantityToOne(t *testing.T) {
	s := NewStore()
	item := tee()
	item.Quantity = 7

	got := s.Add(item, 0)

	require.Equal(t, 1, got.Quantity)
	require.Equal(t, 1, s.Count())
}

func TestAddKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	s.Add(beanie(), 1)
	s.Add(tee(), 1)
	s.Add(beanie(), 1)

	items := s.Items()
	require.Len(t, items, 2)
	require.Equal(t, "ts3", items[0].ID)
	require.Equal(t, "ts1", items[1].ID)
}

func TestRemoveAbsentIdIsNoop(t *testing.T) {
	s := NewStore()
	s.Add(tee(), 2)

	calls := 0
	s.Subscribe(func([]domain.CartItem) { calls++ })

	s.Remove("missing")

	require.Equal(t, 2, s.Count())
	require.Zero(t, calls)
}

func TestRemoveDropsLine(t *testing.T) {
	s := NewStore()
	s.Add(tee(), 2)
	s.Add(beanie(), 1)

	s.Remove("ts1")

	items := s.Items()
	require.Len(t, items, 1)
	require.Equal(t, "ts3", items[0].ID)
}

func TestClearAlwaysEmpties(t *testing.T) {
	s := NewStore()
	s.Clear()
	require.Empty(t, s.Items())

	s.Add(tee(), 4)
	s.Add(beanie(), 1)
	s.Clear()

	require.Empty(t, s.Items())
	require.Zero(t, s.Count())
}

func TestCountSumsQuantities(t *testing.T) {
	s := NewStore()
	require.Zero(t, s.Count())

	s.Add(tee(), 2)
	s.Add(beanie(), 3)

	require.Equal(t, 5, s.Count())
}

func TestSubtotal(t *testing.T) {
	s := NewStore()
	s.Add(tee(), 2)
	s.Add(beanie(), 1)

	require.Equal(t, "84.97", s.Subtotal().String())
}

func TestItemsReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Add(tee(), 1)

	items := s.Items()
	items[0].Quantity = 99

	require.Equal(t, 1, s.Count())
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	s := NewStore()
	var seen [][]domain.CartItem
	unsubscribe := s.Subscribe(func(items []domain.CartItem) {
		seen = append(seen, items)
	})

	s.Add(tee(), 1)
	s.Add(tee(), 1)
	s.Clear()
	unsubscribe()
	s.Add(beanie(), 1)

	require.Len(t, seen, 3)
	require.Equal(t, 1, seen[0][0].Quantity)
	require.Equal(t, 2, seen[1][0].Quantity)
	require.Empty(t, seen[2])
}

func TestObserverMayReadStore(t *testing.T) {
	s := NewStore()
	var counts []int
	s.Subscribe(func([]domain.CartItem) {
		counts = append(counts, s.Count())
	})

	s.Add(tee(), 2)

	require.Equal(t, []int{2}, counts)
}

func TestFromContext(t *testing.T) {
	s := NewStore()
	ctx := WithStore(context.Background(), s)

	require.Same(t, s, FromContext(ctx))
}

func TestFromContextPanicsWithoutStore(t *testing.T) {
	require.Panics(t, func() {
		FromContext(context.Background())
	})
}
