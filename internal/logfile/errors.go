package logfile

import "errors"

// Error kinds shared by every layer of the engine. Callers add context with
// fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	ErrCorruptHeader  = errors.New("corrupt header")
	ErrCorruptIndex   = errors.New("corrupt index")
	ErrFileNotFound   = errors.New("file not found")
	ErrOutOfRange     = errors.New("ordinal out of range")
	ErrInvalidCounter = errors.New("invalid counter")
	ErrClosed         = errors.New("file is closed")
	ErrIO             = errors.New("i/o error")
	ErrConfig         = errors.New("invalid configuration")
	ErrFileRetired    = errors.New("file retired")
)
