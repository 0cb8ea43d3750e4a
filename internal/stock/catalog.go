package stock

import (
	"sort"
	"strings"
)

// DefaultProducts is the product catalog used when none is configured.
var DefaultProducts = []string{"milk", "curd", "paneer", "butter", "ghee", "buttermilk"}

// Catalog is the fixed set of products a company may keep stock records for.
type Catalog struct {
	products map[string]struct{}
}

// NewCatalog builds a catalog from names. Empty input falls back to DefaultProducts.
func NewCatalog(names []string) Catalog {
	c := Catalog{products: make(map[string]struct{})}
	for _, name := range names {
		if n := normalizeProduct(name); n != "" {
			c.products[n] = struct{}{}
		}
	}
	if len(c.products) == 0 {
		for _, name := range DefaultProducts {
			c.products[name] = struct{}{}
		}
	}
	return c
}

// Contains reports whether product is in the catalog.
func (c Catalog) Contains(product string) bool {
	_, ok := c.products[normalizeProduct(product)]
	return ok
}

// Products lists catalog entries in sorted order.
func (c Catalog) Products() []string {
	out := make([]string, 0, len(c.products))
	for name := range c.products {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeProduct(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
