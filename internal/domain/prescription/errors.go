package prescription

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a prescription does not exist or is not
// owned by the requesting user. The two cases are deliberately not
// distinguished to avoid leaking record existence across users.
var ErrNotFound = errors.New("prescription not found")

// ErrAlreadyComplete is returned when a dose is marked taken on a
// prescription whose counter already reached its total.
var ErrAlreadyComplete = errors.New("prescription already complete")

// MissingFieldsError reports which required creation fields were absent.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// IsMissingFields reports whether err is a MissingFieldsError and returns it.
func IsMissingFields(err error) (*MissingFieldsError, bool) {
	var mfe *MissingFieldsError
	if errors.As(err, &mfe) {
		return mfe, true
	}
	return nil, false
}
