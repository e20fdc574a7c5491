package expr

import "errors"

// ErrInvalidExpression indicates an expression that does not parse.
var ErrInvalidExpression = errors.New("invalid expression")

// ErrEvaluation indicates an expression raised an error for a fragment.
var ErrEvaluation = errors.New("expression evaluation failed")

// ErrAllFiltered indicates the filter expression dropped every fragment.
var ErrAllFiltered = errors.New("filter left no samples to export")

// ErrNotNumeric indicates the quality expression did not yield a number.
var ErrNotNumeric = errors.New("quality expression did not yield a number")
