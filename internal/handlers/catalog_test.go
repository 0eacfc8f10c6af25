package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tshirt-shop/storefront/internal/catalog"
)

func catalogRouter(t *testing.T) chi.Router {
	t.Helper()
	src, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	router := chi.NewRouter()
	NewCatalogHandlers(src).Routes(router)
	return router
}

func TestCatalogHandlersList(t *testing.T) {
	router := catalogRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/catalog", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Products) != 3 {
		t.Fatalf("expected 3 products, got %d", len(body.Products))
	}
	first := body.Products[0]
	if first.ID != "ts1" || first.Price != 29.99 || first.Image != "/images/black_tee.jpg" {
		t.Fatalf("unexpected first product %+v", first)
	}
	if first.DescriptionHTML == "" {
		t.Fatalf("expected rendered description")
	}
}

func TestCatalogHandlersGet(t *testing.T) {
	router := catalogRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/catalog/ts2", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Name != "Forest Green Tee" || body.Price != 34.99 {
		t.Fatalf("unexpected product %+v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/catalog/unknown", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCatalogHandlersWithoutSource(t *testing.T) {
	router := chi.NewRouter()
	NewCatalogHandlers(nil).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/catalog", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
