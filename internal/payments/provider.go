package payments

import (
	"context"
	"errors"
	"strings"
)

// IntentStatus mirrors the processor's payment intent status values.
type IntentStatus string

const (
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	StatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	StatusRequiresAction        IntentStatus = "requires_action"
	StatusProcessing            IntentStatus = "processing"
	StatusRequiresCapture       IntentStatus = "requires_capture"
	StatusCanceled              IntentStatus = "canceled"
	// StatusSucceeded is the only status treated as a completed charge.
	StatusSucceeded IntentStatus = "succeeded"
)

var (
	// ErrNotConfigured indicates the processor credentials are missing.
	ErrNotConfigured = errors.New("payments: processor not configured")
	// ErrInvalidClientSecret indicates a client secret that does not identify an intent.
	ErrInvalidClientSecret = errors.New("payments: invalid client secret")
)

// IntentRequest describes a payment intent to create server side.
type IntentRequest struct {
	Amount         int64
	Currency       string
	ReceiptEmail   string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the processor's record of an intended charge.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       IntentStatus
}

// ConfirmRequest confirms an intent from the shopper's side using the
// client secret and a captured payment method.
type ConfirmRequest struct {
	ClientSecret  string
	PaymentMethod string
	BillingEmail  string
}

// Confirmation is the processor's answer to a confirm call.
type Confirmation struct {
	IntentID string
	Status   IntentStatus
}

// IntentCreator creates payment intents with the server-only secret key.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// Confirmer confirms payment intents with the publishable key.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, req ConfirmRequest) (Confirmation, error)
}

// ProcessorError carries a failure reported by the payment processor itself,
// as opposed to transport or programming errors.
type ProcessorError struct {
	Message     string
	Type        string
	Code        string
	DeclineCode string
	Err         error
}

// Error implements the error interface.
func (e *ProcessorError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return "payments: processor error: " + e.Message
	}
	return "payments: processor error"
}

// Unwrap exposes the underlying SDK error.
func (e *ProcessorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsProcessorError reports whether err wraps a ProcessorError.
func AsProcessorError(err error) (*ProcessorError, bool) {
	var perr *ProcessorError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IntentIDFromClientSecret extracts the intent id from a client secret of the
// form "<intent id>_secret_<token>".
func IntentIDFromClientSecret(secret string) (string, error) {
	secret = strings.TrimSpace(secret)
	id, _, ok := strings.Cut(secret, "_secret_")
	if !ok || id == "" {
		return "", ErrInvalidClientSecret
	}
	return id, nil
}
