package publisher

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"

	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
)

// Asker dispatches a command to a live cart.
type Asker interface {
	Ask(ctx context.Context, cartID string, cmd cart.Command) (cart.Confirmation, error)
}

// RouterLookup resolves summaries with a live Get through the router, which
// forwards to whichever node owns the cart.
type RouterLookup struct {
	Router Asker
}

// Summary implements Lookup.
func (l RouterLookup) Summary(ctx context.Context, cartID string) (cart.Summary, error) {
	conf, err := l.Router.Ask(ctx, cartID, cart.Get{})
	if err != nil {
		return cart.Summary{}, err
	}
	switch c := conf.(type) {
	case cart.Accepted:
		return c.Summary, nil
	case cart.Rejected:
		return cart.Summary{}, backoff.Permanent(c.Err())
	default:
		return cart.Summary{}, backoff.Permanent(fmt.Errorf("unexpected confirmation %T", conf))
	}
}
