package cart

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewViewSortsItems(t *testing.T) {
	view := NewView("cart-1", Summary{Items: map[string]int{"pear": 1, "apple": 2, "fig": 3}})
	want := []string{"apple", "fig", "pear"}
	if len(view.Items) != len(want) {
		t.Fatalf("items = %v, want %d", view.Items, len(want))
	}
	for i, id := range want {
		if view.Items[i].ItemID != id {
			t.Fatalf("items[%d] = %q, want %q", i, view.Items[i].ItemID, id)
		}
	}
	if view.CheckedOut || view.CheckoutDate != nil {
		t.Fatalf("view = %+v, want open cart", view)
	}
}

func TestViewJSONShape(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	view := NewView("cart-1", Summary{Items: map[string]int{"a": 2}, CheckoutDate: &at})
	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"cart-1","items":[{"itemId":"a","quantity":2}],"checkedOut":true,"checkoutDate":"2026-01-02T03:04:05Z"}`
	if string(data) != want {
		t.Fatalf("json = %s, want %s", data, want)
	}

	empty, err := json.Marshal(NewView("cart-2", Summary{}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"id":"cart-2","items":[],"checkedOut":false,"checkoutDate":null}`; string(empty) != want {
		t.Fatalf("json = %s, want %s", empty, want)
	}
}
