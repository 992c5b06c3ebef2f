package cart

// Command is a request addressed to one cart. The set is closed.
type Command interface {
	isCommand()
}

// Get reads the current summary.
type Get struct{}

// AddItem sets the quantity of an item, adding it when absent.
type AddItem struct {
	ItemID   string
	Quantity int
}

// RemoveItem drops an item from the cart.
type RemoveItem struct {
	ItemID string
}

// AdjustItemQuantity changes the quantity of an item already in the cart.
type AdjustItemQuantity struct {
	ItemID   string
	Quantity int
}

// Checkout freezes the cart.
type Checkout struct{}

func (Get) isCommand()                {}
func (AddItem) isCommand()            {}
func (RemoveItem) isCommand()         {}
func (AdjustItemQuantity) isCommand() {}
func (Checkout) isCommand()           {}
