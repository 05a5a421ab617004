package domain

import "errors"

// ErrNotFound reports that no entity exists for a given id. It is recoverable:
// the caller decides whether a missing entity is a null field or a hard error.
var ErrNotFound = errors.New("not found")
