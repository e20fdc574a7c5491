package split

import "errors"

// ErrDuplicateAssignment indicates a group key was pinned more than once.
var ErrDuplicateAssignment = errors.New("duplicate set assignment")

// ErrUnknownSet indicates a set name other than train, dev or test.
var ErrUnknownSet = errors.New("unknown set")
