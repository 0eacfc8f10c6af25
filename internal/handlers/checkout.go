package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tshirt-shop/storefront/internal/payments"
	"github.com/tshirt-shop/storefront/internal/platform/httpx"
	"github.com/tshirt-shop/storefront/internal/services"
)

const (
	maxCheckoutRequestBody = 64 * 1024
	idempotencyKeyHeader   = "Idempotency-Key"

	msgInvalidRequest   = "Invalid request data"
	msgInvalidItems     = "Invalid items data"
	msgInvalidItem      = "Invalid item data"
	msgNotConfigured    = "Stripe is not configured properly. Please check server logs."
	msgProcessorPrefix  = "Stripe error: "
	msgPaymentServerErr = "Server error processing payment"
)

// CheckoutHandlers exposes the payment intent endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout", h.createPaymentIntent)
}

type checkoutRequest struct {
	Items         json.RawMessage `json:"items"`
	CustomerEmail string          `json:"customerEmail"`
}

type checkoutResponse struct {
	ClientSecret string `json:"clientSecret"`
}

func (h *CheckoutHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_configured", msgNotConfigured, http.StatusInternalServerError))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", msgInvalidRequest, status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", msgInvalidRequest, http.StatusBadRequest))
		return
	}

	intent, err := h.checkout.CreatePaymentIntent(ctx, services.CreatePaymentIntentCommand{
		Items:          parseCheckoutItems(req.Items),
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	if strings.TrimSpace(intent.ClientSecret) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", msgPaymentServerErr, http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutResponse{ClientSecret: intent.ClientSecret})
}

// parseCheckoutItems keeps only what the amount computation needs. A value
// that is not a list yields nil; an element that is not an object, or whose
// price or quantity is not a JSON number, yields nil fields.
func parseCheckoutItems(raw json.RawMessage) []services.CheckoutItem {
	if len(raw) == 0 {
		return nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil || elements == nil {
		return nil
	}

	items := make([]services.CheckoutItem, 0, len(elements))
	for _, element := range elements {
		var fields map[string]any
		if err := json.Unmarshal(element, &fields); err != nil {
			items = append(items, services.CheckoutItem{})
			continue
		}
		items = append(items, services.CheckoutItem{
			Price:    numberField(fields, "price"),
			Quantity: numberField(fields, "quantity"),
		})
	}
	return items
}

func numberField(fields map[string]any, key string) *float64 {
	value, ok := fields[key].(float64)
	if !ok {
		return nil
	}
	return &value
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidItems):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_items", msgInvalidItems, http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidItem):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_item", msgInvalidItem, http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_configured", msgNotConfigured, http.StatusInternalServerError))
	case errors.Is(err, services.ErrCheckoutProcessor):
		message := "payment processor rejected the request"
		if perr, ok := payments.AsProcessorError(err); ok && strings.TrimSpace(perr.Message) != "" {
			message = perr.Message
		}
		httpx.WriteError(ctx, w, httpx.NewError("processor_error", msgProcessorPrefix+message, http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", msgPaymentServerErr, http.StatusInternalServerError))
	}
}
