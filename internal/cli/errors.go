package cli

import "errors"

// CLI-specific sentinel errors.
// These are validation/usage errors that don't belong to domain packages.

var (
	// ErrInvalidTarget indicates a missing, conflicting or unusable export target.
	ErrInvalidTarget = errors.New("invalid export target")

	// ErrMissingInput indicates an incomplete input selection.
	ErrMissingInput = errors.New("missing input")

	// ErrInvalidOption indicates a flag value that cannot be used.
	ErrInvalidOption = errors.New("invalid option")
)
