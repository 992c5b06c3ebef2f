package cart

import apperrors "github.com/louisbranch/cartstream/internal/platform/errors"

// Confirmation is the reply to a cart command. The set is closed.
type Confirmation interface {
	isConfirmation()
}

// Accepted carries the summary after the command took effect.
type Accepted struct {
	Summary Summary
}

// Rejected carries the reason a command was declined. State is unchanged.
type Rejected struct {
	Code   apperrors.Code
	Reason string
}

func (Accepted) isConfirmation() {}
func (Rejected) isConfirmation() {}

// Err returns the rejection as a domain error.
func (r Rejected) Err() error {
	return apperrors.New(r.Code, r.Reason)
}

// Confirm builds the reply for a decision given the state after folding
// its events.
func Confirm(decision Decision, after State) Confirmation {
	if decision.Rejected() {
		rejection := decision.Rejections[0]
		return Rejected{Code: rejection.Code, Reason: rejection.Message}
	}
	return Accepted{Summary: after.Summary()}
}
