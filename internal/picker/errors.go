package picker

import "errors"

// ErrEmptyList is returned when a selection is requested from an empty
// candidate list.
var ErrEmptyList = errors.New("no urls to choose from")
