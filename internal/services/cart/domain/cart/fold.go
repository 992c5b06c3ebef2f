package cart

import "github.com/louisbranch/cartstream/internal/services/cart/domain/event"

// Fold applies evt to state and returns the next state. The input state is
// not modified. Events for a checked-out cart other than the first
// CheckedOut never change items.
func Fold(state State, evt Event) State {
	next := state.clone()
	switch e := evt.(type) {
	case ItemAdded:
		if next.CheckedOut() || e.Quantity <= 0 {
			return next
		}
		next.Items[e.ItemID] = e.Quantity
	case ItemRemoved:
		if next.CheckedOut() {
			return next
		}
		delete(next.Items, e.ItemID)
	case ItemQuantityAdjusted:
		if next.CheckedOut() || e.Quantity <= 0 {
			return next
		}
		next.Items[e.ItemID] = e.Quantity
	case CheckedOut:
		if next.CheckedOut() {
			return next
		}
		at := e.Time
		next.CheckedOutAt = &at
	}
	return next
}

// FoldStored decodes a stored envelope and folds it into state.
func FoldStored(state State, stored event.Event) (State, error) {
	evt, err := Decode(stored)
	if err != nil {
		return state, err
	}
	return Fold(state, evt), nil
}

// Replay left-folds events onto the empty state.
func Replay(events []Event) State {
	state := State{Items: map[string]int{}}
	for _, evt := range events {
		state = Fold(state, evt)
	}
	return state
}
