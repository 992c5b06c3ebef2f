package cart

import (
	"time"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
)

// Rejection reasons returned to clients.
const (
	ReasonQuantityNotPositive = "Quantity must be greater than zero"
	ReasonCheckedOut          = "Cart is already checked out"
	ReasonItemNotInCart       = "Item not in cart"
	ReasonEmptyCart           = "Cannot checkout an empty cart"
	ReasonUnknownCommand      = "Unknown cart command"
)

var (
	rejectQuantity = Rejection{Code: apperrors.CodeQuantityNotPositive, Message: ReasonQuantityNotPositive}
	rejectFrozen   = Rejection{Code: apperrors.CodeCartCheckedOut, Message: ReasonCheckedOut}
	rejectAbsent   = Rejection{Code: apperrors.CodeItemNotInCart, Message: ReasonItemNotInCart}
	rejectEmpty    = Rejection{Code: apperrors.CodeCartEmpty, Message: ReasonEmptyCart}
)

// Decide returns the decision for cmd against state. At most one event is
// emitted. When several rules fail, a non-positive quantity wins over a
// checked-out cart, which wins over a missing item or an empty cart.
//
// Event times come from now, normalized to UTC milliseconds so the folded
// state matches a replay of the stored log.
func Decide(state State, cartID string, cmd Command, now func() time.Time) Decision {
	if now == nil {
		now = time.Now
	}
	at := func() time.Time { return now().UTC().Truncate(time.Millisecond) }

	switch c := cmd.(type) {
	case Get:
		return Decision{}
	case AddItem:
		if c.Quantity <= 0 {
			return Reject(rejectQuantity)
		}
		if state.CheckedOut() {
			return Reject(rejectFrozen)
		}
		return Accept(ItemAdded{CartID: cartID, ItemID: c.ItemID, Quantity: c.Quantity, Time: at()})
	case RemoveItem:
		if state.CheckedOut() {
			return Reject(rejectFrozen)
		}
		if _, ok := state.Items[c.ItemID]; !ok {
			return Decision{}
		}
		return Accept(ItemRemoved{CartID: cartID, ItemID: c.ItemID, Time: at()})
	case AdjustItemQuantity:
		if c.Quantity <= 0 {
			return Reject(rejectQuantity)
		}
		if state.CheckedOut() {
			return Reject(rejectFrozen)
		}
		if _, ok := state.Items[c.ItemID]; !ok {
			return Reject(rejectAbsent)
		}
		return Accept(ItemQuantityAdjusted{CartID: cartID, ItemID: c.ItemID, Quantity: c.Quantity, Time: at()})
	case Checkout:
		if state.CheckedOut() {
			return Reject(rejectFrozen)
		}
		if len(state.Items) == 0 {
			return Reject(rejectEmpty)
		}
		return Accept(CheckedOut{CartID: cartID, Time: at()})
	default:
		return Reject(Rejection{Code: apperrors.CodeUnknownCommand, Message: ReasonUnknownCommand})
	}
}
