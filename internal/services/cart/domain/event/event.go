package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/cartstream/internal/platform/shard"
)

// Type identifies an event payload shape.
type Type string

// Event is a persisted cart fact.
type Event struct {
	// CartID is the owning cart log.
	CartID string
	// Seq is the 1-based position within the cart log.
	Seq uint64
	// Offset is the position in the global commit order, assigned on append.
	Offset uint64
	// Tag partitions the global stream; see TagFor.
	Tag int
	// Type names the payload shape in PayloadJSON.
	Type Type
	// Timestamp is UTC with millisecond precision.
	Timestamp   time.Time
	PayloadJSON []byte
}

// ErrCartIDRequired is returned when an envelope has no cart id.
var ErrCartIDRequired = errors.New("cart id is required")

// TagFor returns the tag for cartID in a stream split into tags partitions.
// The mapping is fixed for the lifetime of a log.
func TagFor(cartID string, tags int) int {
	return shard.Of(cartID, tags)
}

// TagName renders a tag as a stable consumer and lease identifier.
func TagName(tag int) string {
	return fmt.Sprintf("carts-%d", tag)
}

// Validate checks the fields a caller must set before append.
func (e Event) Validate() error {
	if strings.TrimSpace(e.CartID) == "" {
		return ErrCartIDRequired
	}
	if e.Seq == 0 {
		return fmt.Errorf("event %s for %s: seq must be positive", e.Type, e.CartID)
	}
	if e.Type == "" {
		return fmt.Errorf("event for %s: type is required", e.CartID)
	}
	if e.Tag < 0 {
		return fmt.Errorf("event %s for %s: tag must not be negative", e.Type, e.CartID)
	}
	return nil
}
