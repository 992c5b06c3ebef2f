package cart

import (
	"maps"
	"time"
)

// State is the in-memory view of one cart, rebuilt from its event log.
type State struct {
	// Items maps item id to a strictly positive quantity.
	Items map[string]int
	// CheckedOutAt is set once by CheckedOut and never cleared.
	CheckedOutAt *time.Time
}

// CheckedOut reports whether the cart is frozen.
func (s State) CheckedOut() bool {
	return s.CheckedOutAt != nil
}

// Summary returns a caller-owned snapshot of the state.
func (s State) Summary() Summary {
	summary := Summary{Items: make(map[string]int, len(s.Items))}
	maps.Copy(summary.Items, s.Items)
	if s.CheckedOutAt != nil {
		at := *s.CheckedOutAt
		summary.CheckoutDate = &at
	}
	return summary
}

func (s State) clone() State {
	next := State{Items: make(map[string]int, len(s.Items)+1)}
	maps.Copy(next.Items, s.Items)
	if s.CheckedOutAt != nil {
		at := *s.CheckedOutAt
		next.CheckedOutAt = &at
	}
	return next
}

// Summary is the client view of a cart.
type Summary struct {
	Items        map[string]int
	CheckoutDate *time.Time
}

// CheckedOut reports whether the summarized cart is frozen.
func (s Summary) CheckedOut() bool {
	return s.CheckoutDate != nil
}
