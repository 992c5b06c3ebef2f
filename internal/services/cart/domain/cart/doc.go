// Package cart holds the shopping-cart state machine: the commands a cart
// accepts, the events it records, and the pure decide and fold functions
// that connect them.
//
// A cart is Open until its first CheckedOut event and frozen for writes
// afterwards. Every accepted change is exactly one event, and the state a
// caller observes is always the fold of the stored events.
package cart
