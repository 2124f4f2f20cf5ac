package loop

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validationError(op string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, op, err)
	}
	reasons := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		reasons = append(reasons, fmt.Sprintf("field=%s rule=%s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, op, strings.Join(reasons, ", "))
}
