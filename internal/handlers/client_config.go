package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ClientConfigHandlers publishes the settings a browser needs to start a
// payment. Only the publishable key is exposed; the secret key stays server side.
type ClientConfigHandlers struct {
	publishableKey string
	currency       string
}

// NewClientConfigHandlers constructs the client configuration endpoint.
func NewClientConfigHandlers(publishableKey, currency string) *ClientConfigHandlers {
	return &ClientConfigHandlers{
		publishableKey: strings.TrimSpace(publishableKey),
		currency:       strings.ToLower(strings.TrimSpace(currency)),
	}
}

// Routes registers the config endpoint under the provided router.
func (h *ClientConfigHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/config", h.getConfig)
}

type clientConfigResponse struct {
	PublishableKey string `json:"publishableKey"`
	Currency       string `json:"currency"`
}

func (h *ClientConfigHandlers) getConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, clientConfigResponse{
		PublishableKey: h.publishableKey,
		Currency:       h.currency,
	})
}
