package cart

import (
	"sort"
	"time"
)

// View is the client and topic representation of a cart.
type View struct {
	ID           string     `json:"id"`
	Items        []ViewItem `json:"items"`
	CheckedOut   bool       `json:"checkedOut"`
	CheckoutDate *time.Time `json:"checkoutDate"`
}

// ViewItem is one line of a View.
type ViewItem struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// NewView renders summary with items sorted by id.
func NewView(cartID string, summary Summary) View {
	items := make([]ViewItem, 0, len(summary.Items))
	for id, quantity := range summary.Items {
		items = append(items, ViewItem{ItemID: id, Quantity: quantity})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	view := View{ID: cartID, Items: items, CheckedOut: summary.CheckedOut()}
	if summary.CheckoutDate != nil {
		at := summary.CheckoutDate.UTC()
		view.CheckoutDate = &at
	}
	return view
}
