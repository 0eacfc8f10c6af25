package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/tshirt-shop/storefront/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	// ErrProductNotFound is returned when a product id is not in the catalog.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrInvalidCatalog indicates the catalog document could not be used.
	ErrInvalidCatalog = errors.New("catalog: invalid catalog")
)

type document struct {
	Products []productEntry `yaml:"products"`
}

type productEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Price       string `yaml:"price"`
	Image       string `yaml:"image"`
	Description string `yaml:"description"`
}

// Source is a read-only, ordered list of purchasable products.
type Source struct {
	products []domain.Product
	byID     map[string]int
}

// Default returns the catalog embedded in the binary.
func Default() (*Source, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog from path, or the embedded catalog when path is empty.
func Load(path string) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Source from a YAML document. Descriptions are treated as
// markdown and rendered to sanitized HTML.
func Parse(data []byte) (*Source, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	renderer := newDescriptionRenderer()
	src := &Source{
		products: make([]domain.Product, 0, len(doc.Products)),
		byID:     make(map[string]int, len(doc.Products)),
	}
	for i, entry := range doc.Products {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: product %d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := src.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate product id %q", ErrInvalidCatalog, id)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(entry.Price))
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("%w: product %q has invalid price %q", ErrInvalidCatalog, id, entry.Price)
		}
		html, err := renderer.render(entry.Description)
		if err != nil {
			return nil, fmt.Errorf("%w: product %q description: %v", ErrInvalidCatalog, id, err)
		}

		src.byID[id] = len(src.products)
		src.products = append(src.products, domain.Product{
			ID:              id,
			Name:            strings.TrimSpace(entry.Name),
			Price:           price,
			Image:           strings.TrimSpace(entry.Image),
			Description:     strings.TrimSpace(entry.Description),
			DescriptionHTML: html,
		})
	}
	return src, nil
}

// Products returns the catalog in document order.
func (s *Source) Products() []domain.Product {
	out := make([]domain.Product, len(s.products))
	copy(out, s.products)
	return out
}

// Product looks up a product by id.
func (s *Source) Product(id string) (domain.Product, error) {
	idx, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return s.products[idx], nil
}

type descriptionRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newDescriptionRenderer() descriptionRenderer {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	return descriptionRenderer{
		md:     goldmark.New(),
		policy: policy,
	}
}

func (r descriptionRenderer) render(markdown string) (string, error) {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(r.policy.SanitizeBytes(buf.Bytes()))), nil
}
