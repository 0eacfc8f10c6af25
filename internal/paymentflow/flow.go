package paymentflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tshirt-shop/storefront/internal/domain"
	"github.com/tshirt-shop/storefront/internal/payments"
)

// State is a step of the payment session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateSubmitting    State = "submitting"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
)

// Shopper facing messages.
const (
	MsgNotLoaded     = "Payment system not fully loaded. Please refresh and try again."
	MsgCardRequired  = "Card information is required"
	MsgPaymentError  = "An error occurred with your payment"
	MsgUnexpected    = "An unexpected error occurred. Please try again."
	MsgInitFailed    = "Failed to initialize payment. Please try again."
	MsgNotConfigured = "Payment system is not properly configured. Please try again later."
	msgStatusPrefix  = "Payment status: "
)

var (
	// ErrNotReady rejects a submission before a client secret and confirmer exist.
	ErrNotReady = errors.New("paymentflow: payment not ready")
	// ErrCardRequired rejects a submission without captured card input.
	ErrCardRequired = errors.New("paymentflow: card input required")
	// ErrSubmissionInFlight rejects work while a confirmation is outstanding.
	ErrSubmissionInFlight = errors.New("paymentflow: submission in flight")
	// ErrCompleted rejects work after the payment succeeded.
	ErrCompleted = errors.New("paymentflow: payment already completed")
	// ErrPaymentFailed is returned when the processor declined or did not finish the charge.
	ErrPaymentFailed = errors.New("paymentflow: payment failed")
	// ErrStale is returned with a failed submission when the cart or email
	// changed while it was in flight. The client secret has been dropped and
	// the caller must Initialize again.
	ErrStale = errors.New("paymentflow: payment details changed during submission")
)

// IntentRequester asks the checkout endpoint for a client secret.
type IntentRequester interface {
	RequestClientSecret(ctx context.Context, items []domain.CartItem, customerEmail string) (string, error)
}

// ConfirmerSource hands out the processor confirmation toolkit.
// *payments.ConfirmerHandle satisfies it.
type ConfirmerSource interface {
	Confirmer() (payments.Confirmer, error)
}

// UserMessager is implemented by errors that carry a shopper displayable message.
type UserMessager interface {
	UserMessage() string
}

// CardInput is the captured card, already tokenised into a payment method id.
type CardInput struct {
	PaymentMethod string
}

// Session is a snapshot of the payment session.
type Session struct {
	State        State
	Total        decimal.Decimal
	ClientSecret string
	Message      string
	AttemptID    string
}

// Config wires a Flow.
type Config struct {
	Requester  IntentRequester
	Confirmers ConfirmerSource
	Logger     *zap.Logger
	// OnSuccess is invoked exactly once, after the flow reaches StateSucceeded.
	OnSuccess func(payments.Confirmation)
}

// Flow runs the two step handshake: obtain a client secret for the current
// cart, then confirm it with the shopper's card.
type Flow struct {
	requester  IntentRequester
	confirmers ConfirmerSource
	logger     *zap.Logger
	onSuccess  func(payments.Confirmation)

	mu         sync.Mutex
	state      State
	total      decimal.Decimal
	secret     string
	message    string
	attemptID  string
	generation uint64
	signaled   bool
	// stale marks the in-flight submission's secret as superseded.
	stale bool
}

// New constructs a Flow in StateUninitialized.
func New(cfg Config) (*Flow, error) {
	if cfg.Requester == nil {
		return nil, errors.New("paymentflow: intent requester is required")
	}
	if cfg.Confirmers == nil {
		return nil, errors.New("paymentflow: confirmer source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onSuccess := cfg.OnSuccess
	if onSuccess == nil {
		onSuccess = func(payments.Confirmation) {}
	}
	return &Flow{
		requester:  cfg.Requester,
		confirmers: cfg.Confirmers,
		logger:     logger,
		onSuccess:  onSuccess,
		state:      StateUninitialized,
		total:      decimal.Zero,
	}, nil
}

// Session returns the current snapshot.
func (f *Flow) Session() Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Session{
		State:        f.state,
		Total:        f.total,
		ClientSecret: f.secret,
		Message:      f.message,
		AttemptID:    f.attemptID,
	}
}

// Invalidate drops the current client secret so it can never be submitted
// again. A pending initialization result is discarded when it arrives. While
// a submission is in flight the secret is dropped once it fails.
func (f *Flow) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateSubmitting:
		f.stale = true
		return
	case StateSucceeded:
		return
	}
	f.generation++
	f.secret = ""
	f.state = StateUninitialized
}

// Initialize requests a client secret for items. An empty cart resets the
// flow. Results of an initialization superseded by a later Initialize or
// Invalidate call are discarded.
func (f *Flow) Initialize(ctx context.Context, items []domain.CartItem, customerEmail string) error {
	total := domain.NewOrderSummary(items, decimal.Zero).Subtotal

	f.mu.Lock()
	switch f.state {
	case StateSubmitting:
		f.stale = true
		f.mu.Unlock()
		return ErrSubmissionInFlight
	case StateSucceeded:
		f.mu.Unlock()
		return ErrCompleted
	}
	f.stale = false
	f.generation++
	gen := f.generation
	f.secret = ""
	f.message = ""
	f.total = total
	if len(items) == 0 {
		f.state = StateUninitialized
		f.attemptID = ""
		f.mu.Unlock()
		return nil
	}
	f.state = StateInitializing
	f.attemptID = ulid.Make().String()
	attempt := f.attemptID
	f.mu.Unlock()

	logger := f.logger.With(zap.String("attempt_id", attempt))
	logger.Debug("payment initialization started", zap.Int("items", len(items)))

	secret, err := f.requester.RequestClientSecret(ctx, items, customerEmail)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation {
		logger.Debug("discarding stale payment initialization")
		return nil
	}
	secret = strings.TrimSpace(secret)
	if err != nil || secret == "" {
		f.state = StateFailed
		f.message = initFailureMessage(err)
		logger.Warn("payment initialization failed", zap.Error(err))
		if err == nil {
			err = errors.New("paymentflow: empty client secret")
		}
		return err
	}

	f.secret = secret
	f.state = StateReady
	if _, cerr := f.confirmers.Confirmer(); cerr != nil {
		f.state = StateFailed
		f.message = MsgNotConfigured
		logger.Error("payment confirmer unavailable", zap.Error(cerr))
		if !errors.Is(cerr, payments.ErrNotConfigured) {
			cerr = fmt.Errorf("%w: %w", payments.ErrNotConfigured, cerr)
		}
		return cerr
	}
	logger.Debug("payment ready")
	return nil
}

// Submit confirms the current client secret with card. Rejections that never
// reach the processor leave the state untouched and only set the message.
func (f *Flow) Submit(ctx context.Context, card CardInput, billingEmail string) (payments.Confirmation, error) {
	f.mu.Lock()
	switch f.state {
	case StateSubmitting:
		f.mu.Unlock()
		return payments.Confirmation{}, ErrSubmissionInFlight
	case StateSucceeded:
		f.mu.Unlock()
		return payments.Confirmation{}, ErrCompleted
	}

	confirmer, cerr := f.confirmers.Confirmer()
	if cerr != nil || confirmer == nil || f.secret == "" || (f.state != StateReady && f.state != StateFailed) {
		f.message = MsgNotLoaded
		f.mu.Unlock()
		return payments.Confirmation{}, ErrNotReady
	}
	paymentMethod := strings.TrimSpace(card.PaymentMethod)
	if paymentMethod == "" {
		f.message = MsgCardRequired
		f.mu.Unlock()
		return payments.Confirmation{}, ErrCardRequired
	}

	f.state = StateSubmitting
	f.stale = false
	f.message = ""
	secret := f.secret
	logger := f.logger.With(zap.String("attempt_id", f.attemptID))
	f.mu.Unlock()

	result, err := confirmer.ConfirmPayment(ctx, payments.ConfirmRequest{
		ClientSecret:  secret,
		PaymentMethod: paymentMethod,
		BillingEmail:  strings.TrimSpace(billingEmail),
	})

	f.mu.Lock()
	if err != nil {
		f.state = StateFailed
		if perr, ok := payments.AsProcessorError(err); ok {
			f.message = MsgPaymentError
			if msg := strings.TrimSpace(perr.Message); msg != "" {
				f.message = msg
			}
			logger.Info("payment declined by processor", zap.String("code", perr.Code), zap.String("decline_code", perr.DeclineCode))
		} else {
			f.message = MsgUnexpected
			logger.Error("payment confirmation error", zap.Error(err))
		}
		err = f.dropStaleLocked(logger, err)
		f.mu.Unlock()
		return payments.Confirmation{}, err
	}

	if result.Status != payments.StatusSucceeded {
		f.state = StateFailed
		f.message = msgStatusPrefix + string(result.Status)
		logger.Info("payment not completed", zap.String("status", string(result.Status)))
		err = f.dropStaleLocked(logger, ErrPaymentFailed)
		f.mu.Unlock()
		return result, err
	}

	if f.stale {
		logger.Warn("payment succeeded after the cart or email changed", zap.String("payment_intent", result.IntentID))
	}
	f.state = StateSucceeded
	f.stale = false
	f.secret = ""
	signal := !f.signaled
	f.signaled = true
	f.mu.Unlock()

	logger.Info("payment succeeded", zap.String("payment_intent", result.IntentID))
	if signal {
		f.onSuccess(result)
	}
	return result, nil
}

// dropStaleLocked discards a secret superseded during the failed submission
// so it can never be confirmed again.
func (f *Flow) dropStaleLocked(logger *zap.Logger, err error) error {
	if !f.stale {
		return err
	}
	f.stale = false
	f.generation++
	f.secret = ""
	f.state = StateUninitialized
	logger.Info("dropping client secret superseded during submission")
	return fmt.Errorf("%w: %w", ErrStale, err)
}

func initFailureMessage(err error) string {
	var um UserMessager
	if errors.As(err, &um) {
		if msg := strings.TrimSpace(um.UserMessage()); msg != "" {
			return msg
		}
	}
	return MsgInitFailed
}
