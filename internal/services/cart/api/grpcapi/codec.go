package grpcapi

import (
	"fmt"
	"time"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
)

// Command type tags on the wire.
const (
	commandGet                = "get"
	commandAddItem            = "addItem"
	commandRemoveItem         = "removeItem"
	commandAdjustItemQuantity = "adjustItemQuantity"
	commandCheckout           = "checkout"
)

type askRequest struct {
	CartID  string          `json:"cartId"`
	Command commandEnvelope `json:"command"`
}

type commandEnvelope struct {
	Type     string `json:"type"`
	ItemID   string `json:"itemId,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

type confirmationEnvelope struct {
	Accepted     bool           `json:"accepted"`
	Items        map[string]int `json:"items,omitempty"`
	CheckoutDate *time.Time     `json:"checkoutDate,omitempty"`
	Code         string         `json:"code,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

func encodeCommand(cmd cart.Command) (commandEnvelope, error) {
	switch c := cmd.(type) {
	case cart.Get:
		return commandEnvelope{Type: commandGet}, nil
	case cart.AddItem:
		return commandEnvelope{Type: commandAddItem, ItemID: c.ItemID, Quantity: c.Quantity}, nil
	case cart.RemoveItem:
		return commandEnvelope{Type: commandRemoveItem, ItemID: c.ItemID}, nil
	case cart.AdjustItemQuantity:
		return commandEnvelope{Type: commandAdjustItemQuantity, ItemID: c.ItemID, Quantity: c.Quantity}, nil
	case cart.Checkout:
		return commandEnvelope{Type: commandCheckout}, nil
	default:
		return commandEnvelope{}, apperrors.New(apperrors.CodeUnknownCommand, fmt.Sprintf("Unsupported command %T", cmd))
	}
}

func (e commandEnvelope) decode() (cart.Command, error) {
	switch e.Type {
	case commandGet:
		return cart.Get{}, nil
	case commandAddItem:
		return cart.AddItem{ItemID: e.ItemID, Quantity: e.Quantity}, nil
	case commandRemoveItem:
		return cart.RemoveItem{ItemID: e.ItemID}, nil
	case commandAdjustItemQuantity:
		return cart.AdjustItemQuantity{ItemID: e.ItemID, Quantity: e.Quantity}, nil
	case commandCheckout:
		return cart.Checkout{}, nil
	default:
		return nil, apperrors.New(apperrors.CodeUnknownCommand, fmt.Sprintf("Unsupported command type %q", e.Type))
	}
}

func encodeConfirmation(conf cart.Confirmation) (confirmationEnvelope, error) {
	switch c := conf.(type) {
	case cart.Accepted:
		return confirmationEnvelope{
			Accepted:     true,
			Items:        c.Summary.Items,
			CheckoutDate: c.Summary.CheckoutDate,
		}, nil
	case cart.Rejected:
		return confirmationEnvelope{Code: string(c.Code), Reason: c.Reason}, nil
	default:
		return confirmationEnvelope{}, fmt.Errorf("unexpected confirmation %T", conf)
	}
}

func (e confirmationEnvelope) decode() cart.Confirmation {
	if !e.Accepted {
		return cart.Rejected{Code: apperrors.Code(e.Code), Reason: e.Reason}
	}
	items := e.Items
	if items == nil {
		items = map[string]int{}
	}
	return cart.Accepted{Summary: cart.Summary{Items: items, CheckoutDate: e.CheckoutDate}}
}
