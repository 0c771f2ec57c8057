package wizard

import (
	"errors"

	"cashback/internal/services"
	"cashback/internal/validation"
)

// UserMessage turns a transition error into the short inline message shown
// next to the control that failed.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, ErrBusy):
		return "Please wait, your previous request is still being processed."
	case errors.Is(err, ErrWrongStep):
		return "This step is not available right now. Please refresh the page."
	case errors.Is(err, services.ErrOutOfStock):
		return "Sorry, this item just ran out here. Please choose another item, outlet or zone."
	case errors.Is(err, services.ErrDuplicateParticipation):
		return "This mobile number or UPI ID has already been used for this offer."
	case errors.Is(err, services.ErrNoPendingSelection):
		return "Your selection is no longer active. We have refreshed your progress, please continue from here."
	case errors.Is(err, services.ErrNoOutletAvailable):
		return "No outlets are available in this zone right now. Please pick another zone."
	case errors.Is(err, services.ErrNotFound):
		return "We could not find that. Please refresh and try again."
	case errors.Is(err, services.ErrValidation):
		return "Please check your details and try again."
	default:
		return "Something went wrong. Please check your connection and try again."
	}
}
