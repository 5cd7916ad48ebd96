package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ariefcatur/go-resto-orders/internal/broadcast"
	"github.com/ariefcatur/go-resto-orders/internal/orders"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, broadcast.Event) {}

func TestLoadMenu_DefaultCatalogTakesOrders(t *testing.T) {
	menu, err := loadMenu("")
	if err != nil {
		t.Fatal(err)
	}
	if len(menu) == 0 {
		t.Fatal("built-in menu is empty")
	}

	store := orders.NewMemoryStore(menu...)
	c := orders.NewCoordinator(store, orders.StaticSettings{Enabled: true}, nopPublisher{})
	_, err = c.Submit(context.Background(), orders.ReservationRequest{
		Kind:          orders.KindPickup,
		Customer:      orders.Customer{Name: "Ana", Email: "ana@example.com", Phone: "+62 811 000"},
		FulfillmentAt: time.Now().Add(time.Hour),
		Items:         []orders.ItemInput{{ProductID: menu[0].ID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("order against the built-in menu failed: %v", err)
	}
}

func TestLoadMenu_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.json")
	if err := os.WriteFile(path, []byte(`[{"id":"x","name":"X","price":"1.00","stock":2,"available":true}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	menu, err := loadMenu(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(menu) != 1 || menu[0].ID != "x" || menu[0].Stock != 2 {
		t.Errorf("menu = %+v", menu)
	}
}

func TestLoadMenu_Rejects(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"bad json":       `{`,
		"negative stock": `[{"id":"x","name":"X","price":"1.00","stock":-1}]`,
		"missing id":     `[{"name":"X","price":"1.00","stock":1}]`,
	} {
		path := filepath.Join(dir, "menu.json")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := loadMenu(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	if _, err := loadMenu(filepath.Join(dir, "nope.json")); err == nil {
		t.Error("missing file should fail")
	}
}
