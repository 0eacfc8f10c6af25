package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/tshirt-shop/storefront/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 4 * 1024
)

// ErrMissingClientSecret is returned when the checkout endpoint answers 200 without a secret.
var ErrMissingClientSecret = errors.New("storefront: checkout response missing client secret")

// APIError is a non 2xx answer from the storefront API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("storefront: api status %d", e.Status)
	}
	return fmt.Sprintf("storefront: api status %d: %s", e.Status, e.Message)
}

// UserMessage returns the server supplied displayable message.
func (e *APIError) UserMessage() string {
	return e.Message
}

// ClientConfig mirrors GET /config.
type ClientConfig struct {
	PublishableKey string
	Currency       string
}

// Client issues checkout calls against the storefront API.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client. The default client has
// no timeout so slow intent creation is bounded only by the caller's context.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient constructs an API client rooted at baseURL (for example
// "http://localhost:8080/api").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type checkoutItemPayload struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Image    string  `json:"image,omitempty"`
}

type checkoutPayload struct {
	Items         []checkoutItemPayload `json:"items"`
	CustomerEmail string                `json:"customerEmail"`
}

type checkoutResponsePayload struct {
	ClientSecret string `json:"clientSecret"`
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type configPayload struct {
	PublishableKey string `json:"publishableKey"`
	Currency       string `json:"currency"`
}

// RequestClientSecret posts the cart to /checkout and returns the client secret.
func (c *Client) RequestClientSecret(ctx context.Context, items []domain.CartItem, customerEmail string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", errors.New("storefront: api base url not configured")
	}

	body := checkoutPayload{
		Items:         make([]checkoutItemPayload, 0, len(items)),
		CustomerEmail: strings.TrimSpace(customerEmail),
	}
	for _, item := range items {
		body.Items = append(body.Items, checkoutItemPayload{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price.InexactFloat64(),
			Quantity: item.Quantity,
			Image:    item.Image,
		})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint, err := url.JoinPath(c.baseURL, "checkout")
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(idempotencyHeader, "checkout-"+ulid.Make().String())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", decodeAPIError(resp)
	}

	var out checkoutResponsePayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("storefront: decode checkout response: %w", err)
	}
	secret := strings.TrimSpace(out.ClientSecret)
	if secret == "" {
		return "", ErrMissingClientSecret
	}
	return secret, nil
}

// FetchConfig reads the public client configuration.
func (c *Client) FetchConfig(ctx context.Context) (ClientConfig, error) {
	if c == nil || c.baseURL == "" {
		return ClientConfig{}, errors.New("storefront: api base url not configured")
	}
	endpoint, err := url.JoinPath(c.baseURL, "config")
	if err != nil {
		return ClientConfig{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ClientConfig{}, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ClientConfig{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return ClientConfig{}, decodeAPIError(resp)
	}

	var out configPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ClientConfig{}, fmt.Errorf("storefront: decode config: %w", err)
	}
	return ClientConfig{
		PublishableKey: strings.TrimSpace(out.PublishableKey),
		Currency:       defaultString(out.Currency, domain.CurrencyUSD),
	}, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload errorPayload
	if err := json.Unmarshal(raw, &payload); err == nil {
		apiErr.Message = strings.TrimSpace(payload.Error)
		apiErr.Code = strings.TrimSpace(payload.Code)
	}
	return apiErr
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}
