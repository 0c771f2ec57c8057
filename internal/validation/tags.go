package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Register installs the campaign tags on a validator so request structs can
// use `binding:"phone"`, `binding:"upi"` and `binding:"personname"`.
func Register(v *validator.Validate) error {
	tags := map[string]validator.Func{
		"phone": func(fl validator.FieldLevel) bool {
			return IsPhone(fl.Field().String(), false)
		},
		"upi": func(fl validator.FieldLevel) bool {
			_, err := UPI(fl.Field().String())
			return err == nil
		},
		"personname": func(fl validator.FieldLevel) bool {
			_, err := Name(fl.Field().String())
			return err == nil
		},
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

// FromValidator converts validator/v10 errors to a field Error so binding
// failures read the same as the predicate failures.
func FromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fail(field, fmt.Sprintf("%s is required", field))
	case "phone":
		return fail(field, "Please enter a valid 10-digit mobile number")
	case "upi":
		return fail(field, "Please enter a valid UPI ID (e.g. name@bank)")
	case "personname":
		return fail(field, "Name must be 2-50 letters and spaces only")
	case "email":
		return fail(field, "Please enter a valid email address")
	default:
		return fail(field, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
}
