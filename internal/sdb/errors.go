package sdb

import "errors"

// ErrFinalized indicates a write after Finalize.
var ErrFinalized = errors.New("sample database already finalized")

// ErrCorrupt indicates a sample database file that cannot be read back.
var ErrCorrupt = errors.New("corrupt sample database")
