package paymentflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tshirt-shop/storefront/internal/domain"
	"github.com/tshirt-shop/storefront/internal/payments"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeRequester struct {
	mu      sync.Mutex
	secrets []string
	err     error
	calls   int
	emails  []string
	block   chan struct{}
}

func (f *fakeRequester) RequestClientSecret(_ context.Context, _ []domain.CartItem, email string) (string, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.emails = append(f.emails, email)
	block := f.block
	f.mu.Unlock()

	if block != nil && idx == 0 {
		<-block
	}
	if f.err != nil {
		return "", f.err
	}
	if idx < len(f.secrets) {
		return f.secrets[idx], nil
	}
	return "", nil
}

type fakeConfirmer struct {
	mu       sync.Mutex
	requests []payments.ConfirmRequest
	results  []confirmResult
}

type confirmResult struct {
	confirmation payments.Confirmation
	err          error
}

func (f *fakeConfirmer) ConfirmPayment(_ context.Context, req payments.ConfirmRequest) (payments.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)
	if idx < len(f.results) {
		return f.results[idx].confirmation, f.results[idx].err
	}
	return payments.Confirmation{}, errors.New("unexpected call")
}

func (f *fakeConfirmer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type apiError struct{ msg string }

func (e apiError) Error() string       { return "checkout api: " + e.msg }
func (e apiError) UserMessage() string { return e.msg }

func teeItems() []domain.CartItem {
	return []domain.CartItem{{
		ID:       "ts1",
		Name:     "Classic Black Tee",
		Price:    decimal.RequireFromString("29.99"),
		Quantity: 1,
	}}
}

func newFlow(t *testing.T, requester IntentRequester, confirmer payments.Confirmer, onSuccess func(payments.Confirmation)) *Flow {
	t.Helper()
	handle := payments.NewConfirmerHandle(func() (payments.Confirmer, error) {
		if confirmer == nil {
			return nil, payments.ErrNotConfigured
		}
		return confirmer, nil
	})
	flow, err := New(Config{
		Requester:  requester,
		Confirmers: handle,
		Logger:     zaptest.NewLogger(t),
		OnSuccess:  onSuccess,
	})
	require.NoError(t, err)
	return flow
}

func readyFlow(t *testing.T, confirmer *fakeConfirmer, onSuccess func(payments.Confirmation)) *Flow {
	t.Helper()
	flow := newFlow(t, &fakeRequester{secrets: []string{"pi_1_secret_a"}}, confirmer, onSuccess)
	require.NoError(t, flow.Initialize(context.Background(), teeItems(), "shopper@example.com"))
	require.Equal(t, StateReady, flow.Session().State)
	return flow
}

func TestInitializeReachesReady(t *testing.T) {
	requester := &fakeRequester{secrets: []string{"pi_1_secret_a"}}
	flow := newFlow(t, requester, &fakeConfirmer{}, nil)
	require.Equal(t, StateUninitialized, flow.Session().State)

	require.NoError(t, flow.Initialize(context.Background(), teeItems(), "shopper@example.com"))

	session := flow.Session()
	require.Equal(t, StateReady, session.State)
	require.Equal(t, "pi_1_secret_a", session.ClientSecret)
	require.Equal(t, "29.99", session.Total.String())
	require.NotEmpty(t, session.AttemptID)
	require.Equal(t, []string{"shopper@example.com"}, requester.emails)
}

func TestInitializeWithEmptyCartResets(t *testing.T) {
	requester := &fakeRequester{secrets: []string{"pi_1_secret_a"}}
	flow := newFlow(t, requester, &fakeConfirmer{}, nil)
	require.NoError(t, flow.Initialize(context.Background(), teeItems(), "a@b.c"))

	require.NoError(t, flow.Initialize(context.Background(), nil, "a@b.c"))

	session := flow.Session()
	require.Equal(t, StateUninitialized, session.State)
	require.Empty(t, session.ClientSecret)
	require.True(t, session.Total.IsZero())
	require.Equal(t, 1, requester.calls)
}

func TestInitializeFailureUsesServerMessage(t *testing.T) {
	flow := newFlow(t, &fakeRequester{err: apiError{msg: "Invalid item data"}}, &fakeConfirmer{}, nil)

	err := flow.Initialize(context.Background(), teeItems(), "a@b.c")
	require.Error(t, err)

	session := flow.Session()
	require.Equal(t, StateFailed, session.State)
	require.Equal(t, "Invalid item data", session.Message)
}

func TestInitializeFailureFallbackMessage(t *testing.T) {
	flow := newFlow(t, &fakeRequester{err: errors.New("connection refused")}, &fakeConfirmer{}, nil)

	require.Error(t, flow.Initialize(context.Background(), teeItems(), "a@b.c"))
	require.Equal(t, MsgInitFailed, flow.Session().Message)
}

func TestInitializeEmptySecretFails(t *testing.T) {
	flow := newFlow(t, &fakeRequester{secrets: []string{""}}, &fakeConfirmer{}, nil)

	require.Error(t, flow.Initialize(context.Background(), teeItems(), "a@b.c"))

	session := flow.Session()
	require.Equal(t, StateFailed, session.State)
	require.Equal(t, MsgInitFailed, session.Message)
}

func TestInitializeWithoutConfirmerReportsConfiguration(t *testing.T) {
	flow := newFlow(t, &fakeRequester{secrets: []string{"pi_1_secret_a"}}, nil, nil)

	err := flow.Initialize(context.Background(), teeItems(), "a@b.c")
	require.ErrorIs(t, err, payments.ErrNotConfigured)

	session := flow.Session()
	require.Equal(t, StateFailed, session.State)
	require.Equal(t, MsgNotConfigured, session.Message)

	_, err = flow.Submit(context.Background(), CardInput{PaymentMethod: "pm_card_visa"}, "a@b.c")
	require.ErrorIs(t, err, ErrNotReady)
	require.Equal(t, MsgNotLoaded, flow.Session().Message)
}

func TestSubmitSucceededSignalsOnce(t *testing.T) {
	confirmer := &fakeConfirmer{results: []confirmResult{
		{confirmation: payments.Confirmation{IntentID: "pi_1", Status: payments.StatusSucceeded}},
	}}
	signals := 0
	flow := readyFlow(t, confirmer, func(payments.Confirmation) { signals++ })

	result, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm_card_visa"}, "billing@example.com")
	require.NoError(t, err)
	require.Equal(t, "pi_1", result.IntentID)
	require.Equal(t, StateSucceeded, flow.Session().State)
	require.Equal(t, 1, signals)

	_, err = flow.Submit(context.Background(), CardInput{PaymentMethod: "pm_card_visa"}, "billing@example.com")
	require.ErrorIs(t, err, ErrCompleted)
	require.Equal(t, 1, signals)
	require.Equal(t, 1, confirmer.calls())

	req := confirmer.requests[0]
	require.Equal(t, "pi_1_secret_a", req.ClientSecret)
	require.Equal(t, "pm_card_visa", req.PaymentMethod)
	require.Equal(t, "billing@example.com", req.BillingEmail)
}

func TestSubmitOtherStatusFailsWithStatus(t *testing.T) {
	confirmer := &fakeConfirmer{results: []confirmResult{
		{confirmation: payments.Confirmation{IntentID: "pi_1", Status: payments.StatusRequiresAction}},
	}}
	signals := 0
	flow := readyFlow(t, confirmer, func(payments.Confirmation) { signals++ })

	_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm_card_threeDSecure2Required"}, "a@b.c")
	require.ErrorIs(t, err, ErrPaymentFailed)

	session := flow.Session()
	require.Equal(t, StateFailed, session.State)
	require.Contains(t, session.Message, "requires_action")
	require.Zero(t, signals)
}

func TestSubmitProcessorErrorIsResubmittable(t *testing.T) {
	confirmer := &fakeConfirmer{results: []confirmResult{
		{err: &payments.ProcessorError{Message: "Your card was declined.", Code: "card_declined"}},
		{confirmation: payments.Confirmation{IntentID: "pi_1", Status: payments.StatusSucceeded}},
	}}
	requester := &fakeRequester{secrets: []string{"pi_1_secret_a"}}
	signals := 0
	flow := newFlow(t, requester, confirmer, func(payments.Confirmation) { signals++ })
	require.NoError(t, flow.Initialize(context.Background(), teeItems(), "a@b.c"))

	_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm_card_chargeDeclined"}, "a@b.c")
	require.Error(t, err)
	session := flow.Session()
	require.Equal(t, StateFailed, session.State)
	require.Equal(t, "Your card was declined.", session.Message)
	require.Equal(t, "pi_1_secret_a", session.ClientSecret)

	_, err = flow.Submit(context.Background(), CardInput{PaymentMethod: "pm_card_visa"}, "a@b.c")
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, flow.Session().State)
	require.Equal(t, 1, signals)
	require.Equal(t, 1, requester.calls, "resubmission must reuse the client secret")
	require.Equal(t, "pi_1_secret_a", confirmer.requests[1].ClientSecret)
}

func TestSubmitProcessorErrorWithoutMessageUsesFallback(t *testing.T) {
	confirmer := &fakeConfirmer{results: []confirmResult{{err: &payments.ProcessorError{}}}}
	flow := readyFlow(t, confirmer, nil)

	_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
	require.Error(t, err)
	require.Equal(t, MsgPaymentError, flow.Session().Message)
}

func TestSubmitUnexpectedError(t *testing.T) {
	confirmer := &fakeConfirmer{results: []confirmResult{{err: errors.New("tls handshake timeout")}}}
	flow := readyFlow(t, confirmer, nil)

	_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
	require.Error(t, err)
	require.Equal(t, StateFailed, flow.Session().State)
	require.Equal(t, MsgUnexpected, flow.Session().Message)
}

func TestSubmitRejectionsDoNotCallProcessor(t *testing.T) {
	t.Run("no client secret", func(t *testing.T) {
		confirmer := &fakeConfirmer{}
		flow := newFlow(t, &fakeRequester{}, confirmer, nil)

		_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
		require.ErrorIs(t, err, ErrNotReady)
		require.Equal(t, MsgNotLoaded, flow.Session().Message)
		require.Equal(t, StateUninitialized, flow.Session().State)
		require.Zero(t, confirmer.calls())
	})

	t.Run("no card", func(t *testing.T) {
		confirmer := &fakeConfirmer{}
		flow := readyFlow(t, confirmer, nil)

		_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "  "}, "a@b.c")
		require.ErrorIs(t, err, ErrCardRequired)
		require.Equal(t, MsgCardRequired, flow.Session().Message)
		require.Equal(t, StateReady, flow.Session().State)
		require.Zero(t, confirmer.calls())
	})
}

func TestSubmitBlocksDoubleSubmission(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	confirmer := &blockingConfirmer{
		entered:      entered,
		release:      release,
		confirmation: payments.Confirmation{IntentID: "pi_1", Status: payments.StatusSucceeded},
	}
	flow := newFlow(t, &fakeRequester{secrets: []string{"pi_1_secret_a"}}, confirmer, nil)
	require.NoError(t, flow.Initialize(context.Background(), teeItems(), "a@b.c"))

	done := make(chan error, 1)
	go func() {
		_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
		done <- err
	}()
	<-entered

	require.Equal(t, StateSubmitting, flow.Session().State)
	_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
	require.ErrorIs(t, err, ErrSubmissionInFlight)
	require.ErrorIs(t, flow.Initialize(context.Background(), teeItems(), "a@b.c"), ErrSubmissionInFlight)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, 1, confirmer.calls)
}

type blockingConfirmer struct {
	entered      chan struct{}
	release      chan struct{}
	confirmation payments.Confirmation
	err          error
	calls        int
	secrets      []string
}

func (b *blockingConfirmer) ConfirmPayment(_ context.Context, req payments.ConfirmRequest) (payments.Confirmation, error) {
	b.calls++
	b.secrets = append(b.secrets, req.ClientSecret)
	if b.calls == 1 {
		close(b.entered)
		<-b.release
		return b.confirmation, b.err
	}
	id, err := payments.IntentIDFromClientSecret(req.ClientSecret)
	if err != nil {
		return payments.Confirmation{}, err
	}
	return payments.Confirmation{IntentID: id, Status: payments.StatusSucceeded}, nil
}

func TestCartChangeDuringSubmissionDropsSecretOnFailure(t *testing.T) {
	cases := []struct {
		name         string
		confirmation payments.Confirmation
		err          error
		message      string
	}{
		{
			name:    "declined",
			err:     &payments.ProcessorError{Message: "Your card was declined.", Code: "card_declined"},
			message: "Your card was declined.",
		},
		{
			name:         "requires action",
			confirmation: payments.Confirmation{IntentID: "pi_1", Status: payments.StatusRequiresAction},
			message:      "Payment status: requires_action",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			release := make(chan struct{})
			entered := make(chan struct{})
			confirmer := &blockingConfirmer{entered: entered, release: release, confirmation: tc.confirmation, err: tc.err}
			requester := &fakeRequester{secrets: []string{"pi_1_secret_a", "pi_2_secret_b"}}
			signals := 0
			flow := newFlow(t, requester, confirmer, func(payments.Confirmation) { signals++ })
			require.NoError(t, flow.Initialize(context.Background(), teeItems(), "a@b.c"))

			done := make(chan error, 1)
			go func() {
				_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
				done <- err
			}()
			<-entered

			bigger := teeItems()
			bigger[0].Quantity = 4
			flow.Invalidate()
			require.ErrorIs(t, flow.Initialize(context.Background(), bigger, "a@b.c"), ErrSubmissionInFlight)

			close(release)
			err := <-done
			require.ErrorIs(t, err, ErrStale)

			session := flow.Session()
			require.Equal(t, StateUninitialized, session.State)
			require.Empty(t, session.ClientSecret)
			require.Equal(t, tc.message, session.Message)

			_, err = flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
			require.ErrorIs(t, err, ErrNotReady)
			require.Equal(t, 1, confirmer.calls, "superseded secret must not be confirmed again")

			require.NoError(t, flow.Initialize(context.Background(), bigger, "a@b.c"))
			session = flow.Session()
			require.Equal(t, StateReady, session.State)
			require.Equal(t, "pi_2_secret_b", session.ClientSecret)
			require.Equal(t, "119.96", session.Total.String())

			_, err = flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
			require.NoError(t, err)
			require.Equal(t, []string{"pi_1_secret_a", "pi_2_secret_b"}, confirmer.secrets)
			require.Equal(t, 1, signals)
		})
	}
}

func TestFailedSubmissionWithoutChangesKeepsSecret(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	confirmer := &blockingConfirmer{
		entered: entered,
		release: release,
		err:     &payments.ProcessorError{Message: "Your card was declined."},
	}
	flow := newFlow(t, &fakeRequester{secrets: []string{"pi_1_secret_a"}}, confirmer, nil)
	require.NoError(t, flow.Initialize(context.Background(), teeItems(), "a@b.c"))

	done := make(chan error, 1)
	go func() {
		_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
		done <- err
	}()
	<-entered
	close(release)

	err := <-done
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrStale)
	require.Equal(t, StateFailed, flow.Session().State)
	require.Equal(t, "pi_1_secret_a", flow.Session().ClientSecret)
}

func TestReinitializeDiscardsStaleSecret(t *testing.T) {
	block := make(chan struct{})
	requester := &fakeRequester{secrets: []string{"pi_old_secret_a", "pi_new_secret_b"}, block: block}
	flow := newFlow(t, requester, &fakeConfirmer{}, nil)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- flow.Initialize(context.Background(), teeItems(), "a@b.c")
	}()
	require.Eventually(t, func() bool {
		requester.mu.Lock()
		defer requester.mu.Unlock()
		return requester.calls == 1
	}, timeout, tick)

	items := teeItems()
	items[0].Quantity = 2
	require.NoError(t, flow.Initialize(context.Background(), items, "a@b.c"))
	require.Equal(t, "pi_new_secret_b", flow.Session().ClientSecret)

	close(block)
	require.NoError(t, <-firstDone)

	session := flow.Session()
	require.Equal(t, StateReady, session.State)
	require.Equal(t, "pi_new_secret_b", session.ClientSecret)
	require.Equal(t, "59.98", session.Total.String())
}

func TestInvalidateDropsSecret(t *testing.T) {
	confirmer := &fakeConfirmer{}
	flow := readyFlow(t, confirmer, nil)

	flow.Invalidate()

	session := flow.Session()
	require.Equal(t, StateUninitialized, session.State)
	require.Empty(t, session.ClientSecret)

	_, err := flow.Submit(context.Background(), CardInput{PaymentMethod: "pm"}, "a@b.c")
	require.ErrorIs(t, err, ErrNotReady)
	require.Zero(t, confirmer.calls())
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Config{Confirmers: payments.NewConfirmerHandle(nil)})
	require.Error(t, err)
	_, err = New(Config{Requester: &fakeRequester{}})
	require.Error(t, err)
}
