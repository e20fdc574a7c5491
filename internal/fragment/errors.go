package fragment

import "errors"

// ErrFileNotFound indicates a required input file does not exist.
var ErrFileNotFound = errors.New("file not found")

// ErrMissingReference indicates a catalog entry points to a missing file.
var ErrMissingReference = errors.New("missing referenced file")
