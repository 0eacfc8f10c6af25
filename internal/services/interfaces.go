package services

import "context"

// CheckoutService turns a client cart into a payment intent.
type CheckoutService interface {
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntent, error)
}

// CheckoutItem is one cart line as submitted by the client. Nil fields mean
// the value was missing or not a JSON number.
type CheckoutItem struct {
	Price    *float64
	Quantity *float64
}

// CreatePaymentIntentCommand carries the checkout request.
type CreatePaymentIntentCommand struct {
	Items          []CheckoutItem
	CustomerEmail  string
	IdempotencyKey string
}

// PaymentIntent is returned to the client; ClientSecret is never empty on success.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
}
