package export

import "errors"

// ErrOutputExists indicates a list's output path exists and overwriting was not forced.
var ErrOutputExists = errors.New("output already exists")

// ErrExtraction indicates a fragment's audio could not be extracted.
var ErrExtraction = errors.New("audio extraction failed")

// ErrUnknownList indicates a fragment assigned to a list that was never built.
var ErrUnknownList = errors.New("unknown output list")

// ErrDatabase indicates a sample database could not be written.
var ErrDatabase = errors.New("sample database write failed")
