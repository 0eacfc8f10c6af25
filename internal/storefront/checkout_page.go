package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tshirt-shop/storefront/internal/cart"
	"github.com/tshirt-shop/storefront/internal/domain"
	"github.com/tshirt-shop/storefront/internal/paymentflow"
	"github.com/tshirt-shop/storefront/internal/payments"
)

// Step is the section of the checkout page the shopper is on.
type Step string

const (
	StepEmpty     Step = "empty"
	StepShipping  Step = "shipping"
	StepPayment   Step = "payment"
	StepConfirmed Step = "confirmed"
)

const (
	HeadingCheckout  = "Checkout"
	HeadingEmpty     = "Your cart is empty"
	HeadingConfirmed = "Thank You For Your Order!"

	LabelProceed      = "Proceed to Payment"
	LabelInitializing = "Initializing..."
	LabelProcessing   = "Processing..."
	labelPayPrefix    = "Pay "
)

var (
	// ErrCartEmpty rejects moving to payment without items.
	ErrCartEmpty = errors.New("storefront: cart is empty")
	// ErrOrderConfirmed rejects page actions after a successful payment.
	ErrOrderConfirmed = errors.New("storefront: order already confirmed")
	// ErrPaymentStepInactive rejects Pay before ProceedToPayment.
	ErrPaymentStepInactive = errors.New("storefront: payment step not active")
)

// ShippingInfo is the shipping form. All fields are required.
type ShippingInfo struct {
	Name    string
	Email   string
	Address string
}

// ShippingError lists the shipping form fields that failed validation.
type ShippingError struct {
	Fields []string
}

func (e *ShippingError) Error() string {
	return fmt.Sprintf("storefront: invalid shipping fields [%s]", strings.Join(e.Fields, ", "))
}

// Validate checks that every field is present and the email is parseable.
func (s ShippingInfo) Validate() error {
	var invalid []string
	if strings.TrimSpace(s.Name) == "" {
		invalid = append(invalid, "name")
	}
	email := strings.TrimSpace(s.Email)
	if email == "" {
		invalid = append(invalid, "email")
	} else if _, err := mail.ParseAddress(email); err != nil {
		invalid = append(invalid, "email")
	}
	if strings.TrimSpace(s.Address) == "" {
		invalid = append(invalid, "address")
	}
	if len(invalid) > 0 {
		return &ShippingError{Fields: invalid}
	}
	return nil
}

// LineView is one displayed order line.
type LineView struct {
	ID        string
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

// PageView is everything the checkout page renders.
type PageView struct {
	Step           Step
	Heading        string
	Lines          []LineView
	Subtotal       string
	Shipping       string
	Total          string
	ButtonLabel    string
	ButtonDisabled bool
	Message        string
	PaymentIntent  string
}

// PageConfig wires a CheckoutPage. Cart falls back to the store carried on
// the context passed to NewCheckoutPage.
type PageConfig struct {
	Cart        *cart.Store
	Requester   paymentflow.IntentRequester
	Confirmers  paymentflow.ConfirmerSource
	ShippingFee decimal.Decimal
	Currency    string
	Logger      *zap.Logger
}

// CheckoutPage ties the cart, the shipping form and the payment flow together.
type CheckoutPage struct {
	cart        *cart.Store
	flow        *paymentflow.Flow
	shippingFee decimal.Decimal
	currency    string
	logger      *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	mu           sync.Mutex
	shipping     ShippingInfo
	paymentStep  bool
	confirmation *payments.Confirmation
}

// NewCheckoutPage constructs the page and subscribes it to cart changes.
// Close releases the subscription.
func NewCheckoutPage(ctx context.Context, cfg PageConfig) (*CheckoutPage, error) {
	store := cfg.Cart
	if store == nil {
		store = cart.FromContext(ctx)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	currency := strings.TrimSpace(cfg.Currency)
	if currency == "" {
		currency = domain.CurrencyUSD
	}

	pageCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &CheckoutPage{
		cart:        store,
		shippingFee: cfg.ShippingFee,
		currency:    currency,
		logger:      logger.Named("checkout_page"),
		ctx:         pageCtx,
		cancel:      cancel,
	}

	flow, err := paymentflow.New(paymentflow.Config{
		Requester:  cfg.Requester,
		Confirmers: cfg.Confirmers,
		Logger:     p.logger,
		OnSuccess:  p.handlePaymentSuccess,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	p.flow = flow
	p.unsubscribe = store.Subscribe(p.handleCartChange)
	return p, nil
}

// Close stops reacting to cart changes and waits for pending initializations.
func (p *CheckoutPage) Close() {
	p.unsubscribe()
	p.cancel()
	p.wg.Wait()
}

// Wait blocks until background re-initializations triggered by cart or
// email changes have finished.
func (p *CheckoutPage) Wait() {
	p.wg.Wait()
}

// Session exposes the payment flow snapshot.
func (p *CheckoutPage) Session() paymentflow.Session {
	return p.flow.Session()
}

// Summary returns the order totals for the current cart.
func (p *CheckoutPage) Summary() domain.OrderSummary {
	return domain.NewOrderSummary(p.cart.Items(), p.shippingFee)
}

// SetShipping updates the shipping form. Changing the email while the
// payment step is active requests a fresh client secret.
func (p *CheckoutPage) SetShipping(info ShippingInfo) {
	info = ShippingInfo{
		Name:    strings.TrimSpace(info.Name),
		Email:   strings.TrimSpace(info.Email),
		Address: strings.TrimSpace(info.Address),
	}

	p.mu.Lock()
	emailChanged := p.shipping.Email != info.Email
	p.shipping = info
	reinit := p.paymentStep && p.confirmation == nil && emailChanged
	p.mu.Unlock()

	if reinit {
		p.flow.Invalidate()
		p.reinitialize(p.cart.Items(), info.Email)
	}
}

// ProceedToPayment validates the shipping form and starts the payment flow.
func (p *CheckoutPage) ProceedToPayment(ctx context.Context) error {
	p.mu.Lock()
	if p.confirmation != nil {
		p.mu.Unlock()
		return ErrOrderConfirmed
	}
	shipping := p.shipping
	p.mu.Unlock()

	items := p.cart.Items()
	if len(items) == 0 {
		return ErrCartEmpty
	}
	if err := shipping.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.paymentStep = true
	p.mu.Unlock()

	return p.flow.Initialize(ctx, items, shipping.Email)
}

// Pay submits card with the shipping email as billing email. When the cart
// or email changed while the confirmation was in flight and it failed, a new
// client secret is requested for the current cart.
func (p *CheckoutPage) Pay(ctx context.Context, card paymentflow.CardInput) (payments.Confirmation, error) {
	p.mu.Lock()
	if p.confirmation != nil {
		p.mu.Unlock()
		return payments.Confirmation{}, ErrOrderConfirmed
	}
	if !p.paymentStep {
		p.mu.Unlock()
		return payments.Confirmation{}, ErrPaymentStepInactive
	}
	p.mu.Unlock()

	confirmation, err := p.flow.Submit(ctx, card, p.currentEmail())
	if errors.Is(err, paymentflow.ErrStale) {
		p.reinitialize(p.cart.Items(), p.currentEmail())
	}
	return confirmation, err
}

func (p *CheckoutPage) currentEmail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shipping.Email
}

// Remove drops a line from the cart.
func (p *CheckoutPage) Remove(id string) {
	p.cart.Remove(id)
}

// View renders the page state.
func (p *CheckoutPage) View() PageView {
	p.mu.Lock()
	confirmation := p.confirmation
	paymentStep := p.paymentStep
	p.mu.Unlock()

	if confirmation != nil {
		return PageView{
			Step:          StepConfirmed,
			Heading:       HeadingConfirmed,
			PaymentIntent: confirmation.IntentID,
		}
	}

	summary := p.Summary()
	if len(summary.Items) == 0 {
		return PageView{Step: StepEmpty, Heading: HeadingEmpty}
	}

	view := PageView{
		Step:     StepShipping,
		Heading:  HeadingCheckout,
		Lines:    make([]LineView, 0, len(summary.Items)),
		Subtotal: domain.FormatMoney(summary.Subtotal, p.currency),
		Shipping: domain.FormatMoney(summary.Shipping, p.currency),
		Total:    domain.FormatMoney(summary.Total, p.currency),
	}
	for _, item := range summary.Items {
		view.Lines = append(view.Lines, LineView{
			ID:        item.ID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: domain.FormatMoney(item.Price, p.currency),
			LineTotal: domain.FormatMoney(item.LineTotal(), p.currency),
		})
	}

	if !paymentStep {
		view.ButtonLabel = LabelProceed
		return view
	}

	session := p.flow.Session()
	view.Step = StepPayment
	view.Message = session.Message
	view.ButtonLabel, view.ButtonDisabled = p.payButton(session)
	return view
}

func (p *CheckoutPage) payButton(session paymentflow.Session) (string, bool) {
	switch session.State {
	case paymentflow.StateUninitialized, paymentflow.StateInitializing:
		return LabelInitializing, true
	case paymentflow.StateSubmitting:
		return LabelProcessing, true
	}
	label := labelPayPrefix + domain.FormatMoney(session.Total, p.currency)
	return label, session.ClientSecret == ""
}

func (p *CheckoutPage) handleCartChange(items []domain.CartItem) {
	p.mu.Lock()
	active := p.paymentStep && p.confirmation == nil
	email := p.shipping.Email
	p.mu.Unlock()
	if !active {
		return
	}
	p.flow.Invalidate()
	p.reinitialize(items, email)
}

func (p *CheckoutPage) reinitialize(items []domain.CartItem, email string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.flow.Initialize(p.ctx, items, email)
		switch {
		case err == nil:
		case errors.Is(err, paymentflow.ErrSubmissionInFlight), errors.Is(err, paymentflow.ErrCompleted):
			p.logger.Debug("skipping payment re-initialization", zap.Error(err))
		default:
			p.logger.Warn("payment re-initialization failed", zap.Error(err))
		}
	}()
}

func (p *CheckoutPage) handlePaymentSuccess(confirmation payments.Confirmation) {
	p.mu.Lock()
	p.confirmation = &confirmation
	p.mu.Unlock()

	p.logger.Info("order confirmed", zap.String("payment_intent", confirmation.IntentID))
	p.cart.Clear()
}
