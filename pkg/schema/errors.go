package schema

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrDuplicateDescription is returned when a pattern is described twice.
var ErrDuplicateDescription = errors.New("pattern already described")

// FieldError is one attribute that does not match its description.
type FieldError struct {
	Attribute string
	Reason    string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("attribute %q: %s", e.Attribute, e.Reason)
}

// FieldErrors unpacks every FieldError combined into err.
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	for _, e := range multierr.Errors(err) {
		var fe *FieldError
		if errors.As(e, &fe) {
			out = append(out, fe)
		}
	}
	return out
}
