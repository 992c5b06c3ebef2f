package cart

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
)

// Stored event types.
const (
	EventTypeItemAdded            event.Type = "cart.item_added"
	EventTypeItemRemoved          event.Type = "cart.item_removed"
	EventTypeItemQuantityAdjusted event.Type = "cart.item_quantity_adjusted"
	EventTypeCheckedOut           event.Type = "cart.checked_out"
)

// Event is a fact recorded in a cart log. The set is closed.
type Event interface {
	// Type returns the stored event type.
	Type() event.Type
	// OccurredAt returns the event time.
	OccurredAt() time.Time
	isEvent()
}

// ItemAdded records an item set to Quantity.
type ItemAdded struct {
	CartID   string    `json:"cartId"`
	ItemID   string    `json:"itemId"`
	Quantity int       `json:"quantity"`
	Time     time.Time `json:"time"`
}

// ItemRemoved records an item dropped from the cart.
type ItemRemoved struct {
	CartID string    `json:"cartId"`
	ItemID string    `json:"itemId"`
	Time   time.Time `json:"time"`
}

// ItemQuantityAdjusted records a new quantity for an item in the cart.
type ItemQuantityAdjusted struct {
	CartID   string    `json:"cartId"`
	ItemID   string    `json:"itemId"`
	Quantity int       `json:"quantity"`
	Time     time.Time `json:"time"`
}

// CheckedOut records the cart being frozen at Time.
type CheckedOut struct {
	CartID string    `json:"cartId"`
	Time   time.Time `json:"time"`
}

func (ItemAdded) Type() event.Type            { return EventTypeItemAdded }
func (ItemRemoved) Type() event.Type          { return EventTypeItemRemoved }
func (ItemQuantityAdjusted) Type() event.Type { return EventTypeItemQuantityAdjusted }
func (CheckedOut) Type() event.Type           { return EventTypeCheckedOut }

func (e ItemAdded) OccurredAt() time.Time            { return e.Time }
func (e ItemRemoved) OccurredAt() time.Time          { return e.Time }
func (e ItemQuantityAdjusted) OccurredAt() time.Time { return e.Time }
func (e CheckedOut) OccurredAt() time.Time           { return e.Time }

func (ItemAdded) isEvent()            {}
func (ItemRemoved) isEvent()          {}
func (ItemQuantityAdjusted) isEvent() {}
func (CheckedOut) isEvent()           {}

// Encode renders a domain event into a stored envelope. The store assigns
// Offset; Seq and Tag are the caller's.
func Encode(cartID string, seq uint64, tag int, evt Event) (event.Event, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("encode %s: %w", evt.Type(), err)
	}
	return event.Event{
		CartID:      cartID,
		Seq:         seq,
		Tag:         tag,
		Type:        evt.Type(),
		Timestamp:   evt.OccurredAt(),
		PayloadJSON: payload,
	}, nil
}

// Decode restores the domain event carried by a stored envelope.
func Decode(stored event.Event) (Event, error) {
	var (
		evt Event
		err error
	)
	switch stored.Type {
	case EventTypeItemAdded:
		var payload ItemAdded
		err = json.Unmarshal(stored.PayloadJSON, &payload)
		evt = payload
	case EventTypeItemRemoved:
		var payload ItemRemoved
		err = json.Unmarshal(stored.PayloadJSON, &payload)
		evt = payload
	case EventTypeItemQuantityAdjusted:
		var payload ItemQuantityAdjusted
		err = json.Unmarshal(stored.PayloadJSON, &payload)
		evt = payload
	case EventTypeCheckedOut:
		var payload CheckedOut
		err = json.Unmarshal(stored.PayloadJSON, &payload)
		evt = payload
	default:
		return nil, fmt.Errorf("decode: unknown event type %q", stored.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", stored.Type, err)
	}
	return evt, nil
}
