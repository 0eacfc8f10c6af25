package domain

import (
	"github.com/shopspring/decimal"
)

// CurrencyUSD is the only currency the storefront charges in.
const CurrencyUSD = "usd"

// Product is a purchasable catalog entry.
type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	Image           string
	Description     string
	DescriptionHTML string
}

// CartItem is a single line of the shopping cart. A cart holds at most one
// CartItem per ID; Quantity accumulates across additions.
type CartItem struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Image    string
	Quantity int
}

// LineTotal returns Price multiplied by Quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartItemFromProduct converts a catalog product into a cart line with the given quantity.
func CartItemFromProduct(p Product, quantity int) CartItem {
	return CartItem{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Image:    p.Image,
		Quantity: quantity,
	}
}

// OrderSummary captures the displayed totals on the checkout page. Shipping is
// displayed to the shopper but is not part of the charged amount.
type OrderSummary struct {
	Items    []CartItem
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// NewOrderSummary sums line totals and adds the shipping fee.
func NewOrderSummary(items []CartItem, shipping decimal.Decimal) OrderSummary {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	copied := make([]CartItem, len(items))
	copy(copied, items)
	return OrderSummary{
		Items:    copied,
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    subtotal.Add(shipping),
	}
}
