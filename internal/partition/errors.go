package partition

import "errors"

// ErrInvalidSpec indicates a malformed "<threshold>:<name>" expression.
var ErrInvalidSpec = errors.New("wrong partition specification")
