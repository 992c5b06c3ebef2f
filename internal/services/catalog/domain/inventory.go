// Package domain holds the catalog stock counters.
//
// Counters are updated without deduplication: a cart delivered twice by the
// topic decrements stock twice.
package domain

import (
	"sync"
	"sync/atomic"

	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
)

// Inventory maps product id to stock level. The zero value is ready to use.
type Inventory struct {
	levels sync.Map // string -> *atomic.Int64
}

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{}
}

func (inv *Inventory) counter(productID string) *atomic.Int64 {
	if c, ok := inv.levels.Load(productID); ok {
		return c.(*atomic.Int64)
	}
	c, _ := inv.levels.LoadOrStore(productID, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// Get returns the stock level of productID; unknown products are at zero.
func (inv *Inventory) Get(productID string) int64 {
	return inv.counter(productID).Load()
}

// Add changes stock by quantity and returns the new level.
func (inv *Inventory) Add(productID string, quantity int64) int64 {
	return inv.counter(productID).Add(quantity)
}

// ApplyCart decrements stock by every item of a checked-out cart.
func (inv *Inventory) ApplyCart(view cart.View) {
	for _, item := range view.Items {
		inv.Add(item.ItemID, -int64(item.Quantity))
	}
}
