package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ariefcatur/go-resto-orders/internal/orders"
)

//go:embed menu.json
var defaultMenu []byte

// loadMenu reads the catalog for the in-memory store from path, or the
// built-in menu when path is empty.
func loadMenu(path string) ([]orders.Product, error) {
	raw := defaultMenu
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read menu: %w", err)
		}
		raw = b
	}
	var ps []orders.Product
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, fmt.Errorf("decode menu: %w", err)
	}
	for _, p := range ps {
		if p.ID == "" || p.Price.IsNegative() || p.Stock < 0 {
			return nil, fmt.Errorf("menu: invalid product %q", p.ID)
		}
	}
	return ps, nil
}
