package cart

import apperrors "github.com/louisbranch/cartstream/internal/platform/errors"

// Decision is the pure outcome of deciding a command.
type Decision struct {
	Events     []Event
	Rejections []Rejection
}

// Rejection captures why a command was declined.
type Rejection struct {
	Code    apperrors.Code
	Message string
}

// Accept returns a decision that emits the provided events.
func Accept(events ...Event) Decision {
	return Decision{Events: append([]Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// Rejected reports whether the decision declined the command.
func (d Decision) Rejected() bool {
	return len(d.Rejections) > 0
}
