package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report JSON names so messages match what the backend would say
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validate checks req and converts failures into an *Error for op.
func (c *Client) validate(op string, req interface{}) error {
	err := c.validator.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &Error{Op: op, Message: "Invalid request.", Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return &Error{
		Op:      op,
		Message: strings.Join(msgs, " "),
		Err:     fmt.Errorf("%w: %v", ErrInvalidRequest, err),
	}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address.", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s.", field, fe.Param())
	case "ne":
		return fmt.Sprintf("%s must not be %s.", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid.", field)
}
