package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tshirt-shop/storefront/internal/catalog"
	"github.com/tshirt-shop/storefront/internal/domain"
	"github.com/tshirt-shop/storefront/internal/platform/httpx"
)

// ProductSource is the read side of the catalog used by the handlers.
type ProductSource interface {
	Products() []domain.Product
	Product(id string) (domain.Product, error)
}

// CatalogHandlers serves the product listing.
type CatalogHandlers struct {
	products ProductSource
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(products ProductSource) *CatalogHandlers {
	return &CatalogHandlers{products: products}
}

// Routes registers catalog endpoints under the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/catalog", h.listProducts)
	r.Get("/catalog/{productID}", h.getProduct)
}

type productResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	Image           string  `json:"image"`
	Description     string  `json:"description"`
	DescriptionHTML string  `json:"descriptionHtml,omitempty"`
}

type productListResponse struct {
	Products []productResponse `json:"products"`
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("catalog_unavailable", "catalog unavailable", http.StatusServiceUnavailable))
		return
	}
	products := h.products.Products()
	resp := productListResponse{Products: make([]productResponse, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, toProductResponse(p))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog unavailable", http.StatusServiceUnavailable))
		return
	}
	product, err := h.products.Product(chi.URLParam(r, "productID"))
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load product", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, toProductResponse(product))
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:              p.ID,
		Name:            p.Name,
		Price:           p.Price.InexactFloat64(),
		Image:           p.Image,
		Description:     p.Description,
		DescriptionHTML: p.DescriptionHTML,
	}
}
