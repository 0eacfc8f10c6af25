package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// cardTokenPrefix marks a one-time card token as opposed to a saved payment method id.
const cardTokenPrefix = "tok_"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
}

// StripeClients lets tests replace the SDK resource clients.
type StripeClients struct {
	Intents stripePaymentIntentAPI
}

// StripeProviderConfig configures the server-side StripeProvider.
type StripeProviderConfig struct {
	SecretKey string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *StripeClients
}

// StripeProvider creates payment intents using the Stripe secret key.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	logger  StripeLogger
}

// NewStripeProvider constructs a StripeProvider. A blank secret key yields
// ErrNotConfigured.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	intents, err := stripeIntents(cfg.SecretKey, cfg.Backends, cfg.Clients)
	if err != nil {
		return nil, err
	}
	return &StripeProvider{intents: intents, logger: stripeLogger(cfg.Logger)}, nil
}

// CreatePaymentIntent creates a payment intent with automatic payment methods
// enabled and the receipt sent to req.ReceiptEmail.
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil || p.intents == nil {
		return Intent{}, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if email := strings.TrimSpace(req.ReceiptEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", classifyStripeError(err))
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     string(intent.Currency),
		Status:       IntentStatus(intent.Status),
	}, nil
}

// StripeConfirmerConfig configures a StripeConfirmer.
type StripeConfirmerConfig struct {
	PublishableKey string
	Backends       *stripe.Backends
	Logger         StripeLogger
	Clients        *StripeClients
}

// StripeConfirmer confirms payment intents the way a browser would: with the
// publishable key and the intent's client secret.
type StripeConfirmer struct {
	intents stripePaymentIntentAPI
	logger  StripeLogger
}

// NewStripeConfirmer constructs a StripeConfirmer. A blank publishable key
// yields ErrNotConfigured.
func NewStripeConfirmer(cfg StripeConfirmerConfig) (*StripeConfirmer, error) {
	intents, err := stripeIntents(cfg.PublishableKey, cfg.Backends, cfg.Clients)
	if err != nil {
		return nil, err
	}
	return &StripeConfirmer{intents: intents, logger: stripeLogger(cfg.Logger)}, nil
}

// ConfirmPayment confirms the intent identified by req.ClientSecret with the
// captured payment method.
func (c *StripeConfirmer) ConfirmPayment(ctx context.Context, req ConfirmRequest) (Confirmation, error) {
	if c == nil || c.intents == nil {
		return Confirmation{}, ErrNotConfigured
	}
	intentID, err := IntentIDFromClientSecret(req.ClientSecret)
	if err != nil {
		return Confirmation{}, err
	}

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	params.AddExtra("client_secret", strings.TrimSpace(req.ClientSecret))
	method := strings.TrimSpace(req.PaymentMethod)
	email := strings.TrimSpace(req.BillingEmail)
	if strings.HasPrefix(method, cardTokenPrefix) {
		// A card token becomes a new payment method, so the email lands on its billing details.
		params.PaymentMethodData = &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		}
		if email != "" {
			params.PaymentMethodData.BillingDetails = &stripe.PaymentIntentPaymentMethodDataBillingDetailsParams{
				Email: stripe.String(email),
			}
		}
		params.AddExtra("payment_method_data[card][token]", method)
	} else {
		// Stripe refuses billing details for an existing payment method.
		params.PaymentMethod = stripe.String(method)
		if email != "" {
			params.ReceiptEmail = stripe.String(email)
		}
	}

	intent, err := c.intents.Confirm(intentID, params)
	if err != nil {
		return Confirmation{}, fmt.Errorf("stripe: confirm payment intent: %w", classifyStripeError(err))
	}

	c.logger(ctx, "payments.stripe.intent.confirmed", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})
	return Confirmation{IntentID: intent.ID, Status: IntentStatus(intent.Status)}, nil
}

func stripeIntents(key string, backends *stripe.Backends, clients *StripeClients) (stripePaymentIntentAPI, error) {
	if clients != nil {
		if clients.Intents == nil {
			return nil, errors.New("stripe: incomplete client configuration")
		}
		return clients.Intents, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNotConfigured
	}
	return client.New(key, backends).PaymentIntents, nil
}

func stripeLogger(logger StripeLogger) StripeLogger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	return &ProcessorError{
		Message:     stripeErr.Msg,
		Type:        string(stripeErr.Type),
		Code:        string(stripeErr.Code),
		DeclineCode: string(stripeErr.DeclineCode),
		Err:         err,
	}
}
