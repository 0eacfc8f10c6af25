package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tshirt-shop/storefront/internal/domain"
	"github.com/tshirt-shop/storefront/internal/payments"
	"github.com/tshirt-shop/storefront/internal/platform/observability"
)

const checkoutMeterName = "github.com/tshirt-shop/storefront/internal/services"

var (
	// ErrCheckoutInvalidItems indicates items was missing, not a list, or empty.
	ErrCheckoutInvalidItems = errors.New("checkout: invalid items data")
	// ErrCheckoutInvalidItem indicates an item without a positive price or quantity.
	ErrCheckoutInvalidItem = errors.New("checkout: invalid item data")
	// ErrCheckoutNotConfigured indicates the payment processor has no credentials.
	ErrCheckoutNotConfigured = errors.New("checkout: payment processor not configured")
	// ErrCheckoutProcessor indicates the processor rejected intent creation.
	ErrCheckoutProcessor = errors.New("checkout: payment processor error")
	// ErrCheckoutFailed covers every other failure while creating the intent.
	ErrCheckoutFailed = errors.New("checkout: failed to create payment intent")
)

var hundred = decimal.NewFromInt(100)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
// A nil Processor is allowed: requests then fail with ErrCheckoutNotConfigured.
type CheckoutServiceDeps struct {
	Processor      payments.IntentCreator
	Currency       string
	Logger         func(ctx context.Context, event string, fields map[string]any)
	Meter          metric.Meter
	IdempotencyKey func() string
}

type checkoutService struct {
	processor payments.IntentCreator
	currency  string
	logger    func(ctx context.Context, event string, fields map[string]any)
	newKey    func() string

	created metric.Int64Counter
	failed  metric.Int64Counter
	amounts metric.Int64Histogram
}

// NewCheckoutService constructs the checkout service.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.CurrencyUSD
	}
	if currency != domain.CurrencyUSD {
		return nil, fmt.Errorf("checkout service: unsupported currency %q", deps.Currency)
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newKey := deps.IdempotencyKey
	if newKey == nil {
		newKey = func() string { return "checkout-" + ulid.Make().String() }
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(checkoutMeterName)
	}

	svc := &checkoutService{
		processor: deps.Processor,
		currency:  currency,
		logger:    logger,
		newKey:    newKey,
	}

	var err error
	if svc.created, err = meter.Int64Counter("checkout.intents.created",
		metric.WithDescription("Payment intents created")); err != nil {
		return nil, fmt.Errorf("checkout service: register metric: %w", err)
	}
	if svc.failed, err = meter.Int64Counter("checkout.intents.failed",
		metric.WithDescription("Payment intent requests that failed, by reason")); err != nil {
		return nil, fmt.Errorf("checkout service: register metric: %w", err)
	}
	if svc.amounts, err = meter.Int64Histogram("checkout.intent.amount",
		metric.WithUnit("{cent}"),
		metric.WithDescription("Charged amount of created payment intents in minor units")); err != nil {
		return nil, fmt.Errorf("checkout service: register metric: %w", err)
	}
	return svc, nil
}

// CreatePaymentIntent validates the items, computes the charge and asks the
// processor for a payment intent.
func (s *checkoutService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntent, error) {
	if s.processor == nil {
		s.fail(ctx, "not_configured", map[string]any{"error": "payment processor credentials missing"})
		return PaymentIntent{}, ErrCheckoutNotConfigured
	}

	amount, err := OrderAmount(cmd.Items)
	if err != nil {
		s.fail(ctx, "invalid_request", map[string]any{"error": err.Error(), "items": len(cmd.Items)})
		return PaymentIntent{}, err
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = s.newKey()
	}
	email := strings.TrimSpace(cmd.CustomerEmail)

	intent, err := s.processor.CreatePaymentIntent(ctx, payments.IntentRequest{
		Amount:         amount,
		Currency:       s.currency,
		ReceiptEmail:   email,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"item_count": strconv.Itoa(len(cmd.Items)),
		},
	})
	if err != nil {
		fields := map[string]any{"error": err.Error(), "amount": amount}
		if perr, ok := payments.AsProcessorError(err); ok {
			fields["processorType"] = perr.Type
			fields["processorCode"] = perr.Code
			s.fail(ctx, "processor", fields)
			return PaymentIntent{}, fmt.Errorf("%w: %w", ErrCheckoutProcessor, err)
		}
		if errors.Is(err, payments.ErrNotConfigured) {
			s.fail(ctx, "not_configured", fields)
			return PaymentIntent{}, ErrCheckoutNotConfigured
		}
		s.fail(ctx, "unexpected", fields)
		return PaymentIntent{}, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}
	if strings.TrimSpace(intent.ClientSecret) == "" {
		s.fail(ctx, "empty_client_secret", map[string]any{"error": "processor returned no client secret", "paymentIntent": intent.ID})
		return PaymentIntent{}, fmt.Errorf("%w: empty client secret", ErrCheckoutFailed)
	}

	s.created.Add(ctx, 1)
	s.amounts.Record(ctx, amount)
	s.logger(ctx, "checkout.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        amount,
		"currency":      s.currency,
		"customerEmail": observability.MaskEmail(email),
	})

	return PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       amount,
		Currency:     s.currency,
	}, nil
}

func (s *checkoutService) fail(ctx context.Context, reason string, fields map[string]any) {
	s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	fields["reason"] = reason
	s.logger(ctx, "checkout.intent.failed", fields)
}

// OrderAmount returns the charge in minor units. Each unit price is rounded to
// whole cents (half away from zero, on the shortest decimal form of the
// price) before it is multiplied by the quantity, and the line amounts are
// then summed. The order matters: 19.999x1 + 5.005x2 is 2000 + 1002 = 3002.
func OrderAmount(items []CheckoutItem) (int64, error) {
	if len(items) == 0 {
		return 0, ErrCheckoutInvalidItems
	}

	total := decimal.Zero
	for _, item := range items {
		if !validPositive(item.Price) || !validPositive(item.Quantity) {
			return 0, ErrCheckoutInvalidItem
		}
		if *item.Quantity != math.Trunc(*item.Quantity) {
			return 0, ErrCheckoutInvalidItem
		}
		unit := decimal.NewFromFloat(*item.Price).Mul(hundred).Round(0)
		total = total.Add(unit.Mul(decimal.NewFromFloat(*item.Quantity)))
	}

	if total.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, ErrCheckoutInvalidItem
	}
	return total.IntPart(), nil
}

func validPositive(v *float64) bool {
	if v == nil {
		return false
	}
	return !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v > 0
}
