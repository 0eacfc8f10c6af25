package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestDefaultCatalog(t *testing.T) {
	src, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	products := src.Products()
	if len(products) != 3 {
		t.Fatalf("expected 3 products, got %d", len(products))
	}
	want := []struct {
		id, name, price, image string
	}{
		{"ts1", "Classic Black Tee", "29.99", "/images/black_tee.jpg"},
		{"ts2", "Forest Green Tee", "34.99", "/images/green_tee.jpg"},
		{"ts3", "Black Beanie", "24.99", "/images/black_beanie.jpg"},
	}
	for i, w := range want {
		p := products[i]
		if p.ID != w.id || p.Name != w.name || p.Price.String() != w.price || p.Image != w.image {
			t.Errorf("product %d mismatch: %+v", i, p)
		}
	}
	if products[0].Description != "Premium cotton classic fit black t-shirt" {
		t.Errorf("unexpected description %q", products[0].Description)
	}
	if products[0].DescriptionHTML != "<p>Premium cotton classic fit black t-shirt</p>" {
		t.Errorf("unexpected description html %q", products[0].DescriptionHTML)
	}
}

func TestProductLookup(t *testing.T) {
	src, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	p, err := src.Product("ts3")
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if p.Name != "Black Beanie" {
		t.Fatalf("unexpected product %+v", p)
	}

	if _, err := src.Product("nope"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestParseSanitizesDescriptions(t *testing.T) {
	doc := `
products:
  - id: hoodie
    name: Hoodie
    price: "49.50"
    image: /images/hoodie.jpg
    description: |
      **Heavyweight** fleece. [Size guide](https://example.com/sizes)

      <script>alert("x")</script><img src="x" onerror="alert(1)">
`
	src, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, err := src.Product("hoodie")
	if err != nil {
		t.Fatalf("Product: %v", err)
	}

	html, err := goquery.NewDocumentFromReader(strings.NewReader(p.DescriptionHTML))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	if got := html.Find("strong").Text(); got != "Heavyweight" {
		t.Errorf("expected bold text, got %q", got)
	}
	link := html.Find("a")
	if href, _ := link.Attr("href"); href != "https://example.com/sizes" {
		t.Errorf("unexpected link href %q", href)
	}
	if rel, _ := link.Attr("rel"); !strings.Contains(rel, "nofollow") {
		t.Errorf("expected nofollow link, got rel=%q", rel)
	}
	if html.Find("script").Length() != 0 {
		t.Errorf("script element must be stripped: %s", p.DescriptionHTML)
	}
	if strings.Contains(p.DescriptionHTML, "onerror") {
		t.Errorf("event handler attribute must be stripped: %s", p.DescriptionHTML)
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"missing id":    "products:\n  - name: x\n    price: \"1\"\n",
		"bad price":     "products:\n  - id: a\n    price: \"abc\"\n",
		"negative":      "products:\n  - id: a\n    price: \"-1\"\n",
		"duplicate id":  "products:\n  - id: a\n    price: \"1\"\n  - id: a\n    price: \"2\"\n",
		"not yaml list": "products: 5\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidCatalog) {
				t.Fatalf("expected ErrInvalidCatalog, got %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := "products:\n  - id: cap\n    name: Cap\n    price: \"15\"\n    image: /images/cap.jpg\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	src, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	products := src.Products()
	if len(products) != 1 || products[0].ID != "cap" {
		t.Fatalf("unexpected products %+v", products)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	def, err := Load("")
	if err != nil || len(def.Products()) != 3 {
		t.Fatalf("expected embedded catalog for empty path, err=%v", err)
	}
}
